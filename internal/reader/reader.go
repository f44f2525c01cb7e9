// Package reader pulls one partition in order, runs the handler for each
// event and checkpoints the offset after the handler succeeded.
package reader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/go-resiliency/retrier"

	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/checkpoint"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/logging"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/stream"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/telemetry"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/source"
)

var (
	// ErrHandler wraps a handler failure that survived the local retry
	// budget. The event is not checkpointed; the reader moves on.
	ErrHandler = errors.New("handler error")
	// ErrFaulted is returned by Run when the partition cannot be read.
	ErrFaulted = errors.New("partition reader faulted")
)

type State int32

const (
	Idle State = iota
	Starting
	Running
	Draining
	Stopped
	Faulted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Draining:
		return "draining"
	case Stopped:
		return "stopped"
	case Faulted:
		return "faulted"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Handler processes one event. Returning nil marks the event done and
// lets the reader checkpoint it.
type Handler func(ctx context.Context, ev stream.Event) error

type permanentError struct{ err error }

func (p permanentError) Error() string { return p.err.Error() }
func (p permanentError) Unwrap() error { return p.err }

// Permanent marks a handler error as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err}
}

func isPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

type Config struct {
	Key               checkpoint.Key
	DefaultPosition   stream.Position
	CheckpointTimeout time.Duration
	HandlerRetries    int // attempts after the first
	HandlerBackoff    time.Duration
	ReadRetries       int
	ReadBackoff       time.Duration
}

type Reader struct {
	cfg    Config
	src    source.Adapter
	store  checkpoint.Store
	handle Handler
	report func(error)

	state    atomic.Int32
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}

	start   stream.Position
	last    int64
	hasLast bool
}

// New builds a reader in Idle. report receives contained per-event errors;
// it may be nil.
func New(cfg Config, src source.Adapter, store checkpoint.Store, h Handler, report func(error)) *Reader {
	if report == nil {
		report = func(error) {}
	}
	if cfg.CheckpointTimeout <= 0 {
		cfg.CheckpointTimeout = 5 * time.Second
	}
	return &Reader{
		cfg:    cfg,
		src:    src,
		store:  store,
		handle: h,
		report: report,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (r *Reader) State() State { return State(r.state.Load()) }

func (r *Reader) setState(s State) {
	r.state.Store(int32(s))
	logging.L().Debug("reader state", "partition", r.cfg.Key.Partition, "state", s.String())
}

// Done is closed when Run returns.
func (r *Reader) Done() <-chan struct{} { return r.done }

// StartPosition is where the current run began reading.
func (r *Reader) StartPosition() stream.Position { return r.start }

// Stop asks the reader to drain: no further events are pulled, the
// in-flight handler and its checkpoint complete, then Run returns nil.
func (r *Reader) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.state.CompareAndSwap(int32(Running), int32(Draining))
}

func (r *Reader) stopping() bool {
	select {
	case <-r.stopCh:
		return true
	default:
		return false
	}
}

// Run reads until Stop, ctx cancellation or a fault. Cancelling ctx aborts
// the in-flight handler; Stop lets it finish.
func (r *Reader) Run(ctx context.Context) error {
	defer close(r.done)
	r.setState(Starting)
	p := r.cfg.Key.Partition

	pos, err := r.startPosition(ctx)
	if err != nil {
		return r.fault(fmt.Errorf("read checkpoint: %w", err))
	}
	r.start = pos
	cur, err := r.src.Open(ctx, r.cfg.Key.Stream, p, pos)
	if err != nil {
		return r.fault(fmt.Errorf("open partition: %w", err))
	}
	defer cur.Close()

	if !r.state.CompareAndSwap(int32(Starting), int32(Running)) || r.stopping() {
		r.setState(Stopped)
		return nil
	}
	logging.L().Info("partition reader running", "partition", p, "start", pos.String())

	readCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-r.stopCh:
			cancel()
		case <-readCtx.Done():
		}
	}()

	for {
		ev, err := r.next(readCtx, cur)
		if err != nil {
			if r.stopping() || ctx.Err() != nil {
				r.setState(Stopped)
				return ctx.Err()
			}
			return r.fault(err)
		}
		if r.hasLast && ev.Offset <= r.last {
			continue
		}
		r.last, r.hasLast = ev.Offset, true
		r.process(ctx, ev)
		if ctx.Err() != nil {
			r.setState(Stopped)
			return ctx.Err()
		}
		if r.stopping() {
			r.setState(Stopped)
			logging.L().Info("partition reader drained", "partition", p, "last_offset", r.last)
			return nil
		}
	}
}

func (r *Reader) fault(err error) error {
	r.setState(Faulted)
	logging.L().Error("partition reader faulted", "partition", r.cfg.Key.Partition, "err", err)
	r.setState(Stopped)
	return fmt.Errorf("%w: partition %s: %w", ErrFaulted, r.cfg.Key.Partition, err)
}

func (r *Reader) startPosition(ctx context.Context) (stream.Position, error) {
	cctx, cancel := context.WithTimeout(ctx, r.cfg.CheckpointTimeout)
	defer cancel()
	off, found, err := r.store.Get(cctx, r.cfg.Key)
	if err != nil {
		return stream.Position{}, err
	}
	if !found {
		return r.cfg.DefaultPosition, nil
	}
	return stream.OffsetPosition(off + 1), nil
}

type classifier func(error) retrier.Action

func (c classifier) Classify(err error) retrier.Action { return c(err) }

func (r *Reader) next(ctx context.Context, cur source.Cursor) (stream.Event, error) {
	var ev stream.Event
	retry := retrier.New(retrier.ExponentialBackoff(r.cfg.ReadRetries, r.cfg.ReadBackoff), classifier(func(err error) retrier.Action {
		switch {
		case err == nil:
			return retrier.Succeed
		case stream.IsRetryable(err) && ctx.Err() == nil:
			logging.L().Warn("transient read error", "partition", r.cfg.Key.Partition, "err", err)
			return retrier.Retry
		}
		return retrier.Fail
	}))
	err := retry.RunCtx(ctx, func(ctx context.Context) (err error) {
		ev, err = cur.Next(ctx)
		return err
	})
	return ev, err
}

func (r *Reader) process(ctx context.Context, ev stream.Event) {
	p := r.cfg.Key.Partition
	begin := time.Now()
	retry := retrier.New(retrier.ExponentialBackoff(r.cfg.HandlerRetries, r.cfg.HandlerBackoff), classifier(func(err error) retrier.Action {
		switch {
		case err == nil:
			return retrier.Succeed
		case isPermanent(err) || ctx.Err() != nil:
			return retrier.Fail
		}
		return retrier.Retry
	}))
	err := retry.RunCtx(ctx, func(ctx context.Context) error { return r.handle(ctx, ev) })
	telemetry.HandlerLatency.WithLabelValues(p).Observe(time.Since(begin).Seconds())
	if err != nil {
		telemetry.HandlerErrors.WithLabelValues(p).Inc()
		r.report(fmt.Errorf("%w: partition %s offset %d: %w", ErrHandler, p, ev.Offset, err))
		return
	}
	telemetry.EventsProcessed.WithLabelValues(p).Inc()

	cctx, cancel := context.WithTimeout(ctx, r.cfg.CheckpointTimeout)
	defer cancel()
	if err := r.store.Put(cctx, r.cfg.Key, ev.Offset); err != nil {
		telemetry.CheckpointFailures.WithLabelValues(p).Inc()
		r.report(checkpoint.Failed(r.cfg.Key, err))
		return
	}
	telemetry.CheckpointOffset.WithLabelValues(p).Set(float64(ev.Offset))
}
