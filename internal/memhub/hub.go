// Package memhub is an in-process partitioned append-only stream. It backs
// the "memory" source and sink drivers used by tests, demos and single-node
// runs.
package memhub

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/btree"

	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/stream"
)

type record struct {
	offset int64
	at     time.Time
	body   []byte
}

func byOffset(a, b record) bool { return a.offset < b.offset }

type partitionLog struct {
	mu      sync.Mutex
	records *btree.BTreeG[record]
	next    int64
	notify  chan struct{} // closed and replaced on every append
	readErr []error
}

func newPartitionLog() *partitionLog {
	return &partitionLog{records: btree.NewG(16, byOffset), notify: make(chan struct{})}
}

type Hub struct {
	partitions int
	now        func() time.Time

	mu         sync.Mutex
	streams    map[string][]*partitionLog
	publishErr []error
	rr         atomic.Uint64
}

func New(partitions int) *Hub {
	if partitions <= 0 {
		partitions = 1
	}
	return &Hub{partitions: partitions, now: time.Now, streams: map[string][]*partitionLog{}}
}

var (
	defaultOnce sync.Once
	defaultHub  *Hub
)

// Default is the process-wide hub shared by the registered drivers, so a
// producer and a consumer in the same process see the same stream. The
// partition count of the first caller wins.
func Default(partitions int) *Hub {
	defaultOnce.Do(func() { defaultHub = New(partitions) })
	return defaultHub
}

func (h *Hub) stream(id string) []*partitionLog {
	h.mu.Lock()
	defer h.mu.Unlock()
	logs, ok := h.streams[id]
	if !ok {
		logs = make([]*partitionLog, h.partitions)
		for i := range logs {
			logs[i] = newPartitionLog()
		}
		h.streams[id] = logs
	}
	return logs
}

func (h *Hub) partition(streamID, partitionID string) (*partitionLog, error) {
	logs := h.stream(streamID)
	i, err := strconv.Atoi(partitionID)
	if err != nil || i < 0 || i >= len(logs) {
		return nil, fmt.Errorf("%w: stream %s has no partition %q", stream.ErrConfiguration, streamID, partitionID)
	}
	return logs[i], nil
}

// Partitions returns the partition ids of streamID in order.
func (h *Hub) Partitions(streamID string) []string {
	logs := h.stream(streamID)
	out := make([]string, len(logs))
	for i := range logs {
		out[i] = strconv.Itoa(i)
	}
	return out
}

// Route picks the partition for key: xxhash modulo the partition count, or
// round robin for an empty key.
func (h *Hub) Route(key string) int {
	if key == "" {
		return int(h.rr.Add(1)-1) % h.partitions
	}
	return int(xxhash.Sum64String(key) % uint64(h.partitions))
}

// Append writes bodies to one partition under a single lock so a batch is
// contiguous. Returns the offset of the first body.
func (h *Hub) Append(streamID, partitionID string, bodies ...[]byte) (int64, error) {
	pl, err := h.partition(streamID, partitionID)
	if err != nil {
		return 0, err
	}
	now := h.now()
	pl.mu.Lock()
	first := pl.next
	for _, b := range bodies {
		pl.records.ReplaceOrInsert(record{offset: pl.next, at: now, body: b})
		pl.next++
	}
	close(pl.notify)
	pl.notify = make(chan struct{})
	pl.mu.Unlock()
	return first, nil
}

// Publish routes a batch by key and appends it atomically. Injected
// failures are returned before anything is written.
func (h *Hub) Publish(streamID, key string, bodies [][]byte) error {
	h.mu.Lock()
	if len(h.publishErr) > 0 {
		err := h.publishErr[0]
		h.publishErr = h.publishErr[1:]
		h.mu.Unlock()
		return err
	}
	h.mu.Unlock()
	_, err := h.Append(streamID, strconv.Itoa(h.Route(key)), bodies...)
	return err
}

// FailPublish queues errors returned by the next Publish calls.
func (h *Hub) FailPublish(errs ...error) {
	h.mu.Lock()
	h.publishErr = append(h.publishErr, errs...)
	h.mu.Unlock()
}

// FailRead queues errors returned by the next reads of a partition.
func (h *Hub) FailRead(streamID, partitionID string, errs ...error) error {
	pl, err := h.partition(streamID, partitionID)
	if err != nil {
		return err
	}
	pl.mu.Lock()
	pl.readErr = append(pl.readErr, errs...)
	close(pl.notify)
	pl.notify = make(chan struct{})
	pl.mu.Unlock()
	return nil
}

// Trim drops records below offset, simulating retention.
func (h *Hub) Trim(streamID, partitionID string, before int64) error {
	pl, err := h.partition(streamID, partitionID)
	if err != nil {
		return err
	}
	pl.mu.Lock()
	defer pl.mu.Unlock()
	for {
		first, ok := pl.records.Min()
		if !ok || first.offset >= before {
			return nil
		}
		pl.records.DeleteMin()
	}
}

// Bounds returns the lowest retained offset and the next offset to be
// written.
func (h *Hub) Bounds(streamID, partitionID string) (low, next int64, err error) {
	pl, err := h.partition(streamID, partitionID)
	if err != nil {
		return 0, 0, err
	}
	pl.mu.Lock()
	defer pl.mu.Unlock()
	low = pl.next
	if first, ok := pl.records.Min(); ok {
		low = first.offset
	}
	return low, pl.next, nil
}

// read returns the first record at or after from, blocking until one is
// appended or ctx is done.
func (pl *partitionLog) read(ctx context.Context, from int64) (record, error) {
	for {
		pl.mu.Lock()
		if len(pl.readErr) > 0 {
			err := pl.readErr[0]
			pl.readErr = pl.readErr[1:]
			pl.mu.Unlock()
			return record{}, err
		}
		var (
			got   record
			found bool
		)
		pl.records.AscendGreaterOrEqual(record{offset: from}, func(r record) bool {
			got, found = r, true
			return false
		})
		wait := pl.notify
		pl.mu.Unlock()
		if found {
			return got, nil
		}
		select {
		case <-ctx.Done():
			return record{}, ctx.Err()
		case <-wait:
		}
	}
}
