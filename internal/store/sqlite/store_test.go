package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/checkpoint"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/store/storetest"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestConformance(t *testing.T) {
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	storetest.Run(t, storetest.Harness{
		New: func(t *testing.T) storetest.Backend {
			s, err := Open(filepath.Join(t.TempDir(), "cp.db"), WithClock(clk.Now))
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
		Advance: clk.Advance,
		TTL:     10 * time.Second,
	})
}

func TestCheckpointSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cp.db")
	k := checkpoint.Key{Stream: "orders", Group: "$Default", Partition: "2"}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Put(context.Background(), k, 41); err != nil {
		t.Fatalf("Put: %v", err)
	}
	_ = s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	off, found, err := s.Get(context.Background(), k)
	if err != nil || !found || off != 41 {
		t.Fatalf("got %d found=%v err=%v", off, found, err)
	}
}
