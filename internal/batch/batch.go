// Package batch accumulates serialized messages into a transmission unit
// bounded by a maximum byte size.
package batch

import "errors"

var (
	// ErrOversizedMessage is returned when a single message alone is larger
	// than the maximum batch size. It can never be sent.
	ErrOversizedMessage = errors.New("batch: message exceeds maximum batch size")
	// ErrBatchFull is returned when the message fits on its own but not in
	// this batch. Flush and retry in a new batch.
	ErrBatchFull = errors.New("batch: batch is full")
)

type Item struct {
	ID   string
	Body []byte
}

type Builder struct {
	maxBytes int
}

func NewBuilder(maxBytes int) *Builder {
	return &Builder{maxBytes: maxBytes}
}

func (b *Builder) MaxBytes() int { return b.maxBytes }

// Create returns an empty batch bounded by the builder's limit.
func (b *Builder) Create() *Batch {
	return &Batch{maxBytes: b.maxBytes}
}

// Batch is not safe for concurrent use. It is filled by one goroutine, sent
// once and discarded.
type Batch struct {
	maxBytes     int
	size         int
	items        []Item
	partitionKey string
}

// TryAdd appends body to the batch or leaves the batch untouched and
// returns ErrOversizedMessage or ErrBatchFull. The batch keeps a reference
// to body; callers must not reuse it.
func (b *Batch) TryAdd(id string, body []byte) error {
	n := len(body)
	if n > b.maxBytes {
		return ErrOversizedMessage
	}
	if len(b.items) > 0 && b.size+n > b.maxBytes {
		return ErrBatchFull
	}
	b.items = append(b.items, Item{ID: id, Body: body})
	b.size += n
	return nil
}

func (b *Batch) Len() int      { return len(b.items) }
func (b *Batch) Size() int     { return b.size }
func (b *Batch) MaxBytes() int { return b.maxBytes }
func (b *Batch) Empty() bool   { return len(b.items) == 0 }

// Items returns the batch contents in insertion order.
func (b *Batch) Items() []Item { return b.items }

// IDs returns the message ids in insertion order.
func (b *Batch) IDs() []string {
	ids := make([]string, len(b.items))
	for i, it := range b.items {
		ids[i] = it.ID
	}
	return ids
}

// PartitionKey routes every message of the batch to the same partition.
// Empty means the transport picks one.
func (b *Batch) PartitionKey() string { return b.partitionKey }

func (b *Batch) WithPartitionKey(key string) *Batch {
	b.partitionKey = key
	return b
}
