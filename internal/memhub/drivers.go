package memhub

import (
	"context"
	"errors"

	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/batch"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/config"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/stream"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/sink"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/source"
)

// Source adapts a Hub to source.Adapter.
type Source struct{ hub *Hub }

func NewSource(h *Hub) *Source { return &Source{hub: h} }

func (s *Source) Configure(_ context.Context, t config.Transport) error {
	if s.hub == nil {
		s.hub = Default(t.Memory.Partitions)
	}
	return nil
}

func (s *Source) Partitions(_ context.Context, streamID string) ([]string, error) {
	return s.hub.Partitions(streamID), nil
}

func (s *Source) Open(_ context.Context, streamID, partitionID string, pos stream.Position) (source.Cursor, error) {
	pl, err := s.hub.partition(streamID, partitionID)
	if err != nil {
		return nil, err
	}
	low, next, err := s.hub.Bounds(streamID, partitionID)
	if err != nil {
		return nil, err
	}
	from := next
	switch pos.Kind {
	case stream.Earliest:
		from = low
	case stream.AtOffset:
		from = max(pos.Offset, low)
	}
	return &cursor{pl: pl, partition: partitionID, next: from}, nil
}

func (s *Source) Close() error { return nil }

type cursor struct {
	pl        *partitionLog
	partition string
	next      int64
	closed    bool
}

func (c *cursor) Next(ctx context.Context) (stream.Event, error) {
	if c.closed {
		return stream.Event{}, errors.New("memhub: cursor closed")
	}
	r, err := c.pl.read(ctx, c.next)
	if err != nil {
		return stream.Event{}, err
	}
	c.next = r.offset + 1
	return stream.Event{PartitionID: c.partition, Offset: r.offset, EnqueuedAt: r.at, Body: r.body}, nil
}

func (c *cursor) Close() error {
	c.closed = true
	return nil
}

// Sink adapts a Hub to sink.Adapter. A batch lands contiguously in the
// partition chosen by its key.
type Sink struct{ hub *Hub }

func NewSink(h *Hub) *Sink { return &Sink{hub: h} }

func (s *Sink) Configure(_ context.Context, t config.Transport) error {
	if s.hub == nil {
		s.hub = Default(t.Memory.Partitions)
	}
	return nil
}

func (s *Sink) Publish(ctx context.Context, streamID string, b *batch.Batch) error {
	if err := ctx.Err(); err != nil {
		return stream.Transient(err)
	}
	items := b.Items()
	bodies := make([][]byte, len(items))
	for i, it := range items {
		bodies[i] = it.Body
	}
	return s.hub.Publish(streamID, b.PartitionKey(), bodies)
}

func (s *Sink) Close() error { return nil }

func init() {
	source.Register("memory", func() source.Adapter { return &Source{} })
	sink.Register("memory", func() sink.Adapter { return &Sink{} })
}
