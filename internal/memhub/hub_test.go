package memhub

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/batch"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/stream"
)

func ctxT(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestHub_RouteIsStablePerKey(t *testing.T) {
	h := New(4)
	for i := 0; i < 50; i++ {
		k := fmt.Sprintf("device-%d", i)
		if h.Route(k) != h.Route(k) {
			t.Fatalf("route for %s not stable", k)
		}
	}
	seen := map[int]bool{}
	for i := 0; i < 8; i++ {
		seen[h.Route("")] = true
	}
	if len(seen) != 4 {
		t.Fatalf("empty key should round robin over all partitions, saw %v", seen)
	}
}

func TestSource_PositionsAndOrder(t *testing.T) {
	h := New(2)
	for i := 0; i < 5; i++ {
		if _, err := h.Append("s", "1", []byte(fmt.Sprint(i))); err != nil {
			t.Fatal(err)
		}
	}
	src := NewSource(h)
	ctx := ctxT(t)

	cur, _ := src.Open(ctx, "s", "1", stream.EarliestPosition())
	for want := int64(0); want < 5; want++ {
		ev, err := cur.Next(ctx)
		if err != nil || ev.Offset != want {
			t.Fatalf("earliest: got %+v err=%v want offset %d", ev, err, want)
		}
	}

	cur, _ = src.Open(ctx, "s", "1", stream.OffsetPosition(3))
	if ev, _ := cur.Next(ctx); ev.Offset != 3 || string(ev.Body) != "3" {
		t.Fatalf("offset position: %+v", ev)
	}

	cur, _ = src.Open(ctx, "s", "1", stream.LatestPosition())
	go func() {
		time.Sleep(10 * time.Millisecond)
		_, _ = h.Append("s", "1", []byte("late"))
	}()
	ev, err := cur.Next(ctx)
	if err != nil || string(ev.Body) != "late" || ev.Offset != 5 {
		t.Fatalf("latest should only see new events: %+v err=%v", ev, err)
	}
}

func TestSource_TrimmedOffsetStartsAtLow(t *testing.T) {
	h := New(1)
	_, _ = h.Append("s", "0", []byte("a"), []byte("b"), []byte("c"))
	if err := h.Trim("s", "0", 2); err != nil {
		t.Fatal(err)
	}
	cur, _ := NewSource(h).Open(context.Background(), "s", "0", stream.OffsetPosition(1))
	ev, err := cur.Next(ctxT(t))
	if err != nil || ev.Offset != 2 {
		t.Fatalf("want offset 2, got %+v err=%v", ev, err)
	}
}

func TestSource_InjectedReadError(t *testing.T) {
	h := New(1)
	boom := stream.Transient(errors.New("throttled"))
	_ = h.FailRead("s", "0", boom)
	cur, _ := NewSource(h).Open(context.Background(), "s", "0", stream.EarliestPosition())
	if _, err := cur.Next(ctxT(t)); !errors.Is(err, stream.ErrTransient) {
		t.Fatalf("want injected error, got %v", err)
	}
}

func TestSink_BatchIsContiguous(t *testing.T) {
	h := New(3)
	snk := NewSink(h)
	b := batch.NewBuilder(1024).Create().WithPartitionKey("k")
	for i := 0; i < 3; i++ {
		if err := b.TryAdd(fmt.Sprint(i), []byte(fmt.Sprint(i))); err != nil {
			t.Fatal(err)
		}
	}
	if err := snk.Publish(context.Background(), "s", b); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	p := fmt.Sprint(h.Route("k"))
	low, next, _ := h.Bounds("s", p)
	if low != 0 || next != 3 {
		t.Fatalf("want 3 records in partition %s, got [%d,%d)", p, low, next)
	}

	h.FailPublish(stream.Transient(errors.New("busy")))
	if err := snk.Publish(context.Background(), "s", b); !errors.Is(err, stream.ErrTransient) {
		t.Fatalf("want injected failure, got %v", err)
	}
	if _, next, _ := h.Bounds("s", p); next != 3 {
		t.Fatal("failed publish must not write")
	}
}

func TestSource_UnknownPartition(t *testing.T) {
	_, err := NewSource(New(2)).Open(context.Background(), "s", "9", stream.LatestPosition())
	if !errors.Is(err, stream.ErrConfiguration) {
		t.Fatalf("want ErrConfiguration, got %v", err)
	}
}
