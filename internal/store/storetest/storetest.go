// Package storetest is a conformance suite run against every checkpoint
// and lease backend.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/checkpoint"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/lease"
)

type Backend interface {
	checkpoint.Store
	lease.Store
}

// Harness builds a fresh backend per subtest. Advance moves the backend's
// clock; when nil the suite sleeps instead.
type Harness struct {
	New     func(t *testing.T) Backend
	Advance func(d time.Duration)
	TTL     time.Duration
}

func (h Harness) wait(d time.Duration) {
	if h.Advance != nil {
		h.Advance(d)
		return
	}
	time.Sleep(d)
}

func Run(t *testing.T, h Harness) {
	if h.TTL == 0 {
		h.TTL = 500 * time.Millisecond
	}
	t.Run("CheckpointMonotonic", func(t *testing.T) { checkpointMonotonic(t, h) })
	t.Run("CheckpointKeysIndependent", func(t *testing.T) { checkpointKeys(t, h) })
	t.Run("LeaseExclusive", func(t *testing.T) { leaseExclusive(t, h) })
	t.Run("LeaseRelease", func(t *testing.T) { leaseRelease(t, h) })
	t.Run("Membership", func(t *testing.T) { membership(t, h) })
	t.Run("ConcurrentPut", func(t *testing.T) { concurrentPut(t, h) })
	t.Run("ConcurrentAcquire", func(t *testing.T) { concurrentAcquire(t, h) })
}

var scope = lease.Scope{Stream: "orders", Group: "$Default"}

func checkpointMonotonic(t *testing.T, h Harness) {
	s := h.New(t)
	ctx := context.Background()
	k := checkpoint.Key{Stream: "orders", Group: "$Default", Partition: "0"}

	if _, found, err := s.Get(ctx, k); err != nil || found {
		t.Fatalf("empty store: found=%v err=%v", found, err)
	}
	for _, step := range []struct {
		put, want int64
	}{{5, 5}, {3, 5}, {5, 5}, {9, 9}, {0, 9}} {
		if err := s.Put(ctx, k, step.put); err != nil {
			t.Fatalf("Put(%d): %v", step.put, err)
		}
		got, found, err := s.Get(ctx, k)
		if err != nil || !found || got != step.want {
			t.Fatalf("after Put(%d): got %d found=%v err=%v, want %d", step.put, got, found, err, step.want)
		}
	}
}

func checkpointKeys(t *testing.T, h Harness) {
	s := h.New(t)
	ctx := context.Background()
	a := checkpoint.Key{Stream: "orders", Group: "g1", Partition: "0"}
	b := checkpoint.Key{Stream: "orders", Group: "g2", Partition: "0"}
	c := checkpoint.Key{Stream: "orders", Group: "g1", Partition: "1"}
	if err := s.Put(ctx, a, 10); err != nil {
		t.Fatal(err)
	}
	for _, k := range []checkpoint.Key{b, c} {
		if _, found, _ := s.Get(ctx, k); found {
			t.Fatalf("%s should be unset", k)
		}
	}
}

func leaseExclusive(t *testing.T, h Harness) {
	s := h.New(t)
	ctx := context.Background()

	l, err := s.Acquire(ctx, scope, "0", "a", h.TTL)
	if err != nil || l.Owner != "a" {
		t.Fatalf("first acquire: %+v %v", l, err)
	}
	if _, err := s.Acquire(ctx, scope, "0", "b", h.TTL); !errors.Is(err, lease.ErrLeaseHeld) {
		t.Fatalf("second owner should be refused, got %v", err)
	}
	if _, err := s.Acquire(ctx, scope, "0", "a", h.TTL); err != nil {
		t.Fatalf("renew by owner: %v", err)
	}
	if _, err := s.Acquire(ctx, scope, "1", "b", h.TTL); err != nil {
		t.Fatalf("other partition: %v", err)
	}

	h.wait(h.TTL + h.TTL/2)
	if _, err := s.Acquire(ctx, scope, "0", "b", h.TTL); err != nil {
		t.Fatalf("expired lease should be claimable: %v", err)
	}
	if _, err := s.Acquire(ctx, scope, "0", "a", h.TTL); !errors.Is(err, lease.ErrLeaseHeld) {
		t.Fatalf("previous owner must not renew a taken lease, got %v", err)
	}
}

func leaseRelease(t *testing.T, h Harness) {
	s := h.New(t)
	ctx := context.Background()
	if _, err := s.Acquire(ctx, scope, "3", "a", time.Minute); err != nil {
		t.Fatal(err)
	}
	if err := s.Release(ctx, scope, "3", "b"); err != nil {
		t.Fatalf("release by non-owner: %v", err)
	}
	if _, err := s.Acquire(ctx, scope, "3", "b", time.Minute); !errors.Is(err, lease.ErrLeaseHeld) {
		t.Fatalf("non-owner release must not free the lease, got %v", err)
	}
	if err := s.Release(ctx, scope, "3", "a"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Acquire(ctx, scope, "3", "b", time.Minute); err != nil {
		t.Fatalf("released lease should be claimable: %v", err)
	}
	ls, err := s.Leases(ctx, scope)
	if err != nil {
		t.Fatal(err)
	}
	var found bool
	for _, l := range ls {
		if l.Partition == "3" {
			found = l.Owner == "b"
		}
	}
	if !found {
		t.Fatalf("Leases should report b on partition 3: %+v", ls)
	}
}

func membership(t *testing.T, h Harness) {
	s := h.New(t)
	ctx := context.Background()
	for _, id := range []string{"b", "a", "c"} {
		if err := s.Heartbeat(ctx, scope, id, h.TTL); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Leave(ctx, scope, "c"); err != nil {
		t.Fatal(err)
	}
	got, err := s.Members(ctx, scope)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("want [a b], got %v", got)
	}
	other, _ := s.Members(ctx, lease.Scope{Stream: "orders", Group: "other"})
	if len(other) != 0 {
		t.Fatalf("scopes must not share members: %v", other)
	}

	h.wait(h.TTL / 2)
	_ = s.Heartbeat(ctx, scope, "a", h.TTL)
	h.wait(h.TTL/2 + h.TTL/4)
	got, _ = s.Members(ctx, scope)
	if len(got) != 1 || got[0] != "a" {
		t.Fatalf("only the refreshed member should remain, got %v", got)
	}
}

func concurrentPut(t *testing.T, h Harness) {
	s := h.New(t)
	ctx := context.Background()
	k := checkpoint.Key{Stream: "orders", Group: "$Default", Partition: "7"}

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				// interleave high and low offsets across workers
				off := int64((i*8 + w*37) % 200)
				if err := s.Put(ctx, k, off); err != nil {
					t.Errorf("Put(%d): %v", off, err)
					return
				}
			}
		}(w)
	}
	wg.Wait()
	got, _, err := s.Get(ctx, k)
	if err != nil {
		t.Fatal(err)
	}
	var max int64
	for w := 0; w < 8; w++ {
		for i := 0; i < 25; i++ {
			if off := int64((i*8 + w*37) % 200); off > max {
				max = off
			}
		}
	}
	if got != max {
		t.Fatalf("want max offset %d, got %d", max, got)
	}
}

func concurrentAcquire(t *testing.T, h Harness) {
	s := h.New(t)
	ctx := context.Background()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(owner string) {
			defer wg.Done()
			_, err := s.Acquire(ctx, scope, "5", owner, time.Minute)
			switch {
			case err == nil:
				wins.Add(1)
			case !errors.Is(err, lease.ErrLeaseHeld):
				t.Errorf("%s: %v", owner, err)
			}
		}(fmt.Sprintf("owner-%d", i))
	}
	wg.Wait()
	if n := wins.Load(); n != 1 {
		t.Fatalf("want exactly one owner, got %d", n)
	}
}
