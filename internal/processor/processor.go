// Package processor runs one partition reader per leased partition and keeps
// the lease set balanced across the instances of a consumer group.
package processor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/checkpoint"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/config"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/lease"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/logging"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/reader"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/stream"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/telemetry"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/source"
)

// ErrShutdownTimeout is returned by Stop when readers did not drain in time
// and were force-cancelled.
var ErrShutdownTimeout = errors.New("shutdown timeout")

const defaultErrorBuffer = 64

type Config struct {
	StreamID           string
	ConsumerGroup      string
	InstanceID         string
	StartPosition      stream.Position
	LeaseDuration      time.Duration
	LeaseRenewInterval time.Duration
	CheckpointTimeout  time.Duration
	ShutdownTimeout    time.Duration
	RestartBackoff     time.Duration
	HandlerRetry       config.Retry
	ReadRetry          config.Retry
	ErrorBuffer        int
}

// FromConfig maps the loaded configuration onto processor settings. An
// empty instance id becomes hostname-uuid.
func FromConfig(c config.Config) (Config, error) {
	if err := c.ValidateConsumer(); err != nil {
		return Config{}, err
	}
	pos, _ := stream.ParsePosition(c.StartPosition)
	id := c.InstanceID
	if id == "" {
		host, _ := os.Hostname()
		id = strings.Trim(host+"-"+uuid.NewString(), "-")
	}
	return Config{
		StreamID:           c.StreamID,
		ConsumerGroup:      c.ConsumerGroup,
		InstanceID:         id,
		StartPosition:      pos,
		LeaseDuration:      c.LeaseDuration,
		LeaseRenewInterval: c.LeaseRenewInterval,
		CheckpointTimeout:  c.CheckpointTimeout,
		ShutdownTimeout:    c.ShutdownTimeout,
		RestartBackoff:     c.RestartBackoff,
		HandlerRetry:       c.HandlerRetry,
		ReadRetry:          c.ReadRetry,
	}, nil
}

func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.StreamID) == "" {
		errs = append(errs, errors.New("stream id is required"))
	}
	if strings.TrimSpace(c.ConsumerGroup) == "" {
		errs = append(errs, errors.New("consumer group is required"))
	}
	if c.InstanceID == "" {
		errs = append(errs, errors.New("instance id is required"))
	}
	if c.LeaseDuration <= 0 || c.LeaseRenewInterval <= 0 || c.LeaseRenewInterval >= c.LeaseDuration {
		errs = append(errs, fmt.Errorf("lease renew interval %v must be positive and shorter than duration %v", c.LeaseRenewInterval, c.LeaseDuration))
	}
	if c.CheckpointTimeout <= 0 || c.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("checkpoint and shutdown timeouts must be positive"))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", stream.ErrConfiguration, errors.Join(errs...))
}

// partitionRun supervises the reader of one partition across restarts.
type partitionRun struct {
	cancel context.CancelFunc
	stopCh chan struct{}
	once   sync.Once
	done   chan struct{}

	mu     sync.Mutex
	reader *reader.Reader
}

func (pr *partitionRun) stop() {
	pr.once.Do(func() { close(pr.stopCh) })
	pr.mu.Lock()
	if pr.reader != nil {
		pr.reader.Stop()
	}
	pr.mu.Unlock()
}

func (pr *partitionRun) state() reader.State {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	if pr.reader == nil {
		return reader.Idle
	}
	return pr.reader.State()
}

func (pr *partitionRun) setReader(r *reader.Reader) bool {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	select {
	case <-pr.stopCh:
		return false
	default:
	}
	pr.reader = r
	return true
}

type Processor struct {
	cfg     Config
	src     source.Adapter
	cps     checkpoint.Store
	leases  lease.Store
	handler reader.Handler
	coord   *lease.Coordinator

	errMu     sync.Mutex
	errs      chan error
	errClosed bool

	mu       sync.Mutex
	runs     map[string]*partitionRun
	draining map[*partitionRun]string
	runCtx   context.Context
	hardCut context.CancelFunc

	coordCancel context.CancelFunc
	coordDone   chan struct{}

	started  atomic.Bool
	stopping atomic.Bool
	fatal    atomic.Pointer[error]

	stopOnce sync.Once
	stopErr  error
}

func New(cfg Config, src source.Adapter, cps checkpoint.Store, leases lease.Store, h reader.Handler) (*Processor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if src == nil || cps == nil || leases == nil || h == nil {
		return nil, fmt.Errorf("%w: source, stores and handler are required", stream.ErrConfiguration)
	}
	if cfg.ErrorBuffer <= 0 {
		cfg.ErrorBuffer = defaultErrorBuffer
	}
	p := &Processor{
		cfg:     cfg,
		src:     src,
		cps:     cps,
		leases:  leases,
		handler: h,
		errs:    make(chan error, cfg.ErrorBuffer),
		runs:    map[string]*partitionRun{},
	}
	p.draining = map[*partitionRun]string{}
	scope := lease.Scope{Stream: cfg.StreamID, Group: cfg.ConsumerGroup}
	p.coord = lease.NewCoordinator(leases, scope, cfg.InstanceID,
		lease.Options{Duration: cfg.LeaseDuration, RenewInterval: cfg.LeaseRenewInterval},
		func(ctx context.Context) ([]string, error) { return src.Partitions(ctx, cfg.StreamID) },
		p)
	return p, nil
}

// Start checks the stream is readable and begins balancing. Cancelling ctx
// triggers Stop with the configured shutdown timeout.
func (p *Processor) Start(ctx context.Context) error {
	if !p.started.CompareAndSwap(false, true) {
		return errors.New("processor already started")
	}
	if _, err := p.src.Partitions(ctx, p.cfg.StreamID); err != nil {
		p.started.Store(false)
		if stream.IsFatal(err) {
			p.setFatal(err)
		}
		return fmt.Errorf("list partitions of %s: %w", p.cfg.StreamID, err)
	}

	p.mu.Lock()
	p.runCtx, p.hardCut = context.WithCancel(context.Background())
	p.mu.Unlock()

	coordCtx, cancel := context.WithCancel(context.Background())
	p.coordCancel = cancel
	p.coordDone = make(chan struct{})
	go func() {
		defer close(p.coordDone)
		p.coord.Run(coordCtx)
	}()
	go func() {
		select {
		case <-ctx.Done():
			_ = p.Stop(context.Background())
		case <-coordCtx.Done():
		}
	}()
	logging.L().Info("processor started", "stream", p.cfg.StreamID, "group", p.cfg.ConsumerGroup, "instance", p.cfg.InstanceID)
	return nil
}

// Claimed implements lease.Listener.
func (p *Processor) Claimed(partition string) {
	if p.stopping.Load() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.runs[partition]; ok {
		return
	}
	ctx, cancel := context.WithCancel(p.runCtx)
	pr := &partitionRun{cancel: cancel, stopCh: make(chan struct{}), done: make(chan struct{})}
	p.runs[partition] = pr
	go p.supervise(ctx, partition, pr)
}

// Revoked implements lease.Listener. The reader is asked to drain; it is
// force-cancelled after ShutdownTimeout. The returned channel is closed
// once it has stopped.
func (p *Processor) Revoked(partition string) <-chan struct{} {
	return p.retire(partition, p.stopping.Load())
}

// Lost implements lease.Listener. The reader is cancelled at once.
func (p *Processor) Lost(partition string) {
	p.retire(partition, true)
}

func (p *Processor) retire(partition string, cut bool) <-chan struct{} {
	stopped := make(chan struct{})
	p.mu.Lock()
	pr, ok := p.runs[partition]
	if ok {
		delete(p.runs, partition)
		p.draining[pr] = partition
	}
	p.mu.Unlock()
	if !ok {
		close(stopped)
		return stopped
	}
	pr.stop()
	if cut {
		pr.cancel()
	}
	go func() {
		defer close(stopped)
		t := time.NewTimer(p.cfg.ShutdownTimeout)
		defer t.Stop()
		select {
		case <-pr.done:
		case <-t.C:
			logging.L().Warn("reader did not drain, cancelling", "partition", partition)
			pr.cancel()
			<-pr.done
		}
		pr.cancel()
		p.mu.Lock()
		delete(p.draining, pr)
		p.mu.Unlock()
	}()
	return stopped
}

func (p *Processor) supervise(ctx context.Context, partition string, pr *partitionRun) {
	defer close(pr.done)
	cfg := reader.Config{
		Key:               checkpoint.Key{Stream: p.cfg.StreamID, Group: p.cfg.ConsumerGroup, Partition: partition},
		DefaultPosition:   p.cfg.StartPosition,
		CheckpointTimeout: p.cfg.CheckpointTimeout,
		HandlerRetries:    max(p.cfg.HandlerRetry.Attempts-1, 0),
		HandlerBackoff:    p.cfg.HandlerRetry.Backoff,
		ReadRetries:       max(p.cfg.ReadRetry.Attempts-1, 0),
		ReadBackoff:       p.cfg.ReadRetry.Backoff,
	}
	for {
		r := reader.New(cfg, p.src, p.cps, p.handler, p.report)
		if !pr.setReader(r) {
			return
		}
		err := r.Run(ctx)
		if err == nil || ctx.Err() != nil {
			return
		}
		p.report(err)
		if stream.IsFatal(err) {
			p.setFatal(err)
			return
		}
		select {
		case <-pr.stopCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(p.cfg.RestartBackoff):
		}
		telemetry.ReaderRestarts.WithLabelValues(partition).Inc()
		logging.L().Info("restarting partition reader", "partition", partition)
	}
}

func (p *Processor) setFatal(err error) {
	if p.fatal.CompareAndSwap(nil, &err) {
		logging.L().Error("processor failed", "err", err)
	}
}

// Err returns the error that made the processor unhealthy, if any.
func (p *Processor) Err() error {
	if e := p.fatal.Load(); e != nil {
		return *e
	}
	return nil
}

// report queues err for Errors, dropping the oldest entry when full.
func (p *Processor) report(err error) {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	if p.errClosed {
		return
	}
	for {
		select {
		case p.errs <- err:
			return
		default:
		}
		select {
		case <-p.errs:
		default:
		}
	}
}

// Errors delivers contained per-event and per-partition errors. The channel
// is closed after Stop.
func (p *Processor) Errors() <-chan error { return p.errs }

// Alive is false once a fatal error occurred.
func (p *Processor) Alive() bool { return p.fatal.Load() == nil }

// Ready is true while the processor is running and healthy, has completed
// a balance pass and supervises at least one partition reader.
func (p *Processor) Ready() bool {
	if !p.started.Load() || p.stopping.Load() || !p.Alive() || !p.coord.Balanced() {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.runs) > 0
}

func (p *Processor) Owned() []string { return p.coord.Owned() }

// ReaderStates reports the current reader state per supervised partition,
// including readers that are still draining after a revoke.
func (p *Processor) ReaderStates() map[string]reader.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]reader.State, len(p.runs)+len(p.draining))
	for pr, id := range p.draining {
		out[id] = pr.state()
	}
	for id, pr := range p.runs {
		out[id] = pr.state()
	}
	return out
}

// Stop stops balancing, drains every reader, then releases the leases. It
// is safe to call more than once.
func (p *Processor) Stop(ctx context.Context) error {
	p.stopOnce.Do(func() { p.stopErr = p.stop(ctx) })
	return p.stopErr
}

func (p *Processor) stop(ctx context.Context) error {
	p.stopping.Store(true)
	if !p.started.Load() {
		p.closeErrors()
		return nil
	}
	p.coordCancel()
	<-p.coordDone

	p.mu.Lock()
	runs := make([]*partitionRun, 0, len(p.runs)+len(p.draining))
	for _, pr := range p.runs {
		runs = append(runs, pr)
	}
	for pr := range p.draining {
		runs = append(runs, pr)
	}
	p.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		for _, pr := range runs {
			wg.Add(1)
			go func() {
				defer wg.Done()
				pr.stop()
				<-pr.done
			}()
		}
		wg.Wait()
		close(drained)
	}()

	dctx, cancel := context.WithTimeout(ctx, p.cfg.ShutdownTimeout)
	defer cancel()
	var err error
	select {
	case <-drained:
	case <-dctx.Done():
		logging.L().Warn("shutdown timeout, cancelling readers", "timeout", p.cfg.ShutdownTimeout)
		p.hardCut()
		err = ErrShutdownTimeout
		select {
		case <-drained:
		case <-time.After(p.cfg.LeaseRenewInterval):
		}
	}

	rctx, rcancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.LeaseRenewInterval)
	defer rcancel()
	p.coord.ReleaseAll(rctx)
	p.hardCut()
	p.closeErrors()
	logging.L().Info("processor stopped", "instance", p.cfg.InstanceID)
	return err
}

func (p *Processor) closeErrors() {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	if !p.errClosed {
		p.errClosed = true
		close(p.errs)
	}
}
