package reader

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/checkpoint"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/config"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/memhub"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/store/memory"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/stream"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/source"
)

var key = checkpoint.Key{Stream: "orders", Group: "$Default", Partition: "0"}

func testConfig() Config {
	return Config{
		Key:               key,
		DefaultPosition:   stream.EarliestPosition(),
		CheckpointTimeout: time.Second,
		HandlerRetries:    0,
		ReadRetries:       2,
		ReadBackoff:       time.Millisecond,
	}
}

func fill(t *testing.T, h *memhub.Hub, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if _, err := h.Append(key.Stream, key.Partition, []byte{byte(i)}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type recorder struct {
	mu      sync.Mutex
	offsets []int64
}

func (r *recorder) add(off int64) {
	r.mu.Lock()
	r.offsets = append(r.offsets, off)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.offsets...)
}

func (r *recorder) handler(ctx context.Context, ev stream.Event) error {
	r.add(ev.Offset)
	return nil
}

func start(t *testing.T, r *Reader) <-chan error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	errc := make(chan error, 1)
	go func() { errc <- r.Run(ctx) }()
	return errc
}

func stop(t *testing.T, r *Reader, errc <-chan error) error {
	t.Helper()
	r.Stop()
	select {
	case err := <-errc:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("reader did not stop")
		return nil
	}
}

func checkpointOf(t *testing.T, s checkpoint.Store) int64 {
	t.Helper()
	off, found, err := s.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("get checkpoint: %v", err)
	}
	if !found {
		return -1
	}
	return off
}

func TestReader_ResumesAfterCheckpoint(t *testing.T) {
	hub := memhub.New(1)
	fill(t, hub, 10)
	st := memory.New()
	if err := st.Put(context.Background(), key, 4); err != nil {
		t.Fatal(err)
	}
	var rec recorder
	r := New(testConfig(), memhub.NewSource(hub), st, rec.handler, nil)
	errc := start(t, r)

	eventually(t, "offsets 5..9", func() bool { return len(rec.snapshot()) == 5 })
	if got := rec.snapshot(); got[0] != 5 || got[4] != 9 {
		t.Fatalf("got offsets %v, want 5..9", got)
	}
	if r.StartPosition() != stream.OffsetPosition(5) {
		t.Fatalf("start position %v", r.StartPosition())
	}
	eventually(t, "checkpoint 9", func() bool { return checkpointOf(t, st) == 9 })
	if err := stop(t, r, errc); err != nil {
		t.Fatalf("run: %v", err)
	}
	if r.State() != Stopped {
		t.Fatalf("state %v", r.State())
	}
}

func TestReader_NoCheckpointUsesDefaultPosition(t *testing.T) {
	hub := memhub.New(1)
	fill(t, hub, 3)
	cfg := testConfig()
	cfg.DefaultPosition = stream.LatestPosition()
	var rec recorder
	r := New(cfg, memhub.NewSource(hub), memory.New(), rec.handler, nil)
	errc := start(t, r)

	eventually(t, "running", func() bool { return r.State() == Running })
	fill(t, hub, 1)
	eventually(t, "new event", func() bool { return len(rec.snapshot()) == 1 })
	if got := rec.snapshot(); got[0] != 3 {
		t.Fatalf("latest should skip existing events, got %v", got)
	}
	_ = stop(t, r, errc)
}

func TestReader_FailedEventIsSkippedNotCheckpointed(t *testing.T) {
	hub := memhub.New(1)
	fill(t, hub, 9)
	st := memory.New()
	if err := st.Put(context.Background(), key, 5); err != nil {
		t.Fatal(err)
	}

	var (
		mu       sync.Mutex
		reported []error
		seenAt8  int64 = -2
	)
	h := func(ctx context.Context, ev stream.Event) error {
		switch ev.Offset {
		case 7:
			return Permanent(errors.New("bad payload"))
		case 8:
			off, _, _ := st.Get(ctx, key)
			mu.Lock()
			seenAt8 = off
			mu.Unlock()
		}
		return nil
	}
	report := func(err error) {
		mu.Lock()
		reported = append(reported, err)
		mu.Unlock()
	}
	r := New(testConfig(), memhub.NewSource(hub), st, h, report)
	errc := start(t, r)

	eventually(t, "checkpoint 8", func() bool { return checkpointOf(t, st) == 8 })
	_ = stop(t, r, errc)

	mu.Lock()
	defer mu.Unlock()
	if seenAt8 != 6 {
		t.Fatalf("checkpoint while handling 8 = %d, want 6", seenAt8)
	}
	if len(reported) != 1 || !errors.Is(reported[0], ErrHandler) {
		t.Fatalf("reported %v", reported)
	}
}

func TestReader_RetriesHandlerBeforeGivingUp(t *testing.T) {
	hub := memhub.New(1)
	fill(t, hub, 1)
	st := memory.New()
	cfg := testConfig()
	cfg.HandlerRetries = 2
	var calls atomic.Int32
	h := func(ctx context.Context, ev stream.Event) error {
		if calls.Add(1) < 3 {
			return errors.New("downstream busy")
		}
		return nil
	}
	r := New(cfg, memhub.NewSource(hub), st, h, nil)
	errc := start(t, r)

	eventually(t, "checkpoint 0", func() bool { return checkpointOf(t, st) == 0 })
	_ = stop(t, r, errc)
	if calls.Load() != 3 {
		t.Fatalf("handler called %d times, want 3", calls.Load())
	}
}

func TestReader_PermanentErrorIsNotRetried(t *testing.T) {
	hub := memhub.New(1)
	fill(t, hub, 1)
	cfg := testConfig()
	cfg.HandlerRetries = 3
	var calls atomic.Int32
	failed := make(chan error, 1)
	h := func(ctx context.Context, ev stream.Event) error {
		calls.Add(1)
		return Permanent(errors.New("poison"))
	}
	r := New(cfg, memhub.NewSource(hub), memory.New(), h, func(err error) { failed <- err })
	errc := start(t, r)

	select {
	case <-failed:
	case <-time.After(3 * time.Second):
		t.Fatal("handler failure not reported")
	}
	_ = stop(t, r, errc)
	if calls.Load() != 1 {
		t.Fatalf("handler called %d times, want 1", calls.Load())
	}
}

type flakyStore struct {
	*memory.Store
	fail atomic.Bool
}

func (s *flakyStore) Put(ctx context.Context, k checkpoint.Key, off int64) error {
	if s.fail.Load() {
		return errors.New("storage unavailable")
	}
	return s.Store.Put(ctx, k, off)
}

func TestReader_CheckpointFailureRedeliversAfterRestart(t *testing.T) {
	hub := memhub.New(1)
	fill(t, hub, 5)
	st := &flakyStore{Store: memory.New()}
	if err := st.Put(context.Background(), key, 2); err != nil {
		t.Fatal(err)
	}
	st.fail.Store(true)

	var (
		rec      recorder
		failures atomic.Int32
	)
	report := func(err error) {
		if errors.Is(err, checkpoint.ErrWriteFailed) {
			failures.Add(1)
		}
	}
	r := New(testConfig(), memhub.NewSource(hub), st, rec.handler, report)
	errc := start(t, r)
	eventually(t, "two checkpoint failures", func() bool { return failures.Load() == 2 })
	if err := stop(t, r, errc); err != nil {
		t.Fatalf("checkpoint failures must not stop the reader: %v", err)
	}

	st.fail.Store(false)
	var again recorder
	r2 := New(testConfig(), memhub.NewSource(hub), st, again.handler, nil)
	errc2 := start(t, r2)
	eventually(t, "redelivery", func() bool { return len(again.snapshot()) == 2 })
	_ = stop(t, r2, errc2)
	if got := again.snapshot(); got[0] != 3 || got[1] != 4 {
		t.Fatalf("redelivered %v, want [3 4]", got)
	}
}

func TestReader_StopDrainsInFlightHandler(t *testing.T) {
	hub := memhub.New(1)
	fill(t, hub, 2)
	st := memory.New()
	entered := make(chan struct{})
	release := make(chan struct{})
	var rec recorder
	h := func(ctx context.Context, ev stream.Event) error {
		rec.add(ev.Offset)
		if ev.Offset == 0 {
			close(entered)
			<-release
		}
		return nil
	}
	r := New(testConfig(), memhub.NewSource(hub), st, h, nil)
	errc := start(t, r)

	<-entered
	r.Stop()
	if r.State() != Draining {
		t.Fatalf("state %v, want draining", r.State())
	}
	close(release)
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("reader did not drain")
	}
	if checkpointOf(t, st) != 0 {
		t.Fatal("in-flight event should be checkpointed before stopping")
	}
	if got := rec.snapshot(); len(got) != 1 {
		t.Fatalf("no event should be pulled after stop, got %v", got)
	}
}

func TestReader_TransientReadErrorIsRetried(t *testing.T) {
	hub := memhub.New(1)
	fill(t, hub, 1)
	if err := hub.FailRead(key.Stream, key.Partition, stream.Transient(errors.New("leader moved"))); err != nil {
		t.Fatal(err)
	}
	var rec recorder
	r := New(testConfig(), memhub.NewSource(hub), memory.New(), rec.handler, nil)
	errc := start(t, r)
	eventually(t, "event after retry", func() bool { return len(rec.snapshot()) == 1 })
	if err := stop(t, r, errc); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestReader_PermanentReadErrorFaults(t *testing.T) {
	hub := memhub.New(1)
	if err := hub.FailRead(key.Stream, key.Partition, stream.Unauthorized(errors.New("denied"))); err != nil {
		t.Fatal(err)
	}
	var rec recorder
	r := New(testConfig(), memhub.NewSource(hub), memory.New(), rec.handler, nil)
	errc := start(t, r)
	select {
	case err := <-errc:
		if !errors.Is(err, ErrFaulted) || !stream.IsFatal(err) {
			t.Fatalf("want fatal fault, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("reader did not fault")
	}
}

// scripted replays a fixed offset sequence, then blocks.
type scripted struct{ offsets []int64 }

func (s *scripted) Configure(context.Context, config.Transport) error { return nil }
func (s *scripted) Partitions(context.Context, string) ([]string, error) {
	return []string{key.Partition}, nil
}
func (s *scripted) Open(_ context.Context, _, p string, _ stream.Position) (source.Cursor, error) {
	return &scriptedCursor{partition: p, offsets: s.offsets}, nil
}
func (s *scripted) Close() error { return nil }

type scriptedCursor struct {
	partition string
	offsets   []int64
}

func (c *scriptedCursor) Next(ctx context.Context) (stream.Event, error) {
	if len(c.offsets) == 0 {
		<-ctx.Done()
		return stream.Event{}, ctx.Err()
	}
	off := c.offsets[0]
	c.offsets = c.offsets[1:]
	return stream.Event{PartitionID: c.partition, Offset: off}, nil
}

func (c *scriptedCursor) Close() error { return nil }

func TestReader_DropsRedeliveredOffsets(t *testing.T) {
	var rec recorder
	r := New(testConfig(), &scripted{offsets: []int64{1, 2, 2, 1, 3}}, memory.New(), rec.handler, nil)
	errc := start(t, r)
	eventually(t, "three events", func() bool { return len(rec.snapshot()) == 3 })
	_ = stop(t, r, errc)
	got := rec.snapshot()
	for i := 1; i < len(got); i++ {
		if got[i] <= got[i-1] {
			t.Fatalf("offsets not strictly increasing: %v", got)
		}
	}
}
