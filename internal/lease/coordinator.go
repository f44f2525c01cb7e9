package lease

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/logging"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/stream"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/telemetry"
)

// Listener is told about ownership changes. Revoked asks the partition's
// reader to stop and returns a channel closed once it has; the coordinator
// keeps renewing the lease until then and releases it afterwards. Lost is
// called when the lease could not be renewed and may already belong to a
// peer, so the reader must be cut without draining.
type Listener interface {
	Claimed(partition string)
	Revoked(partition string) <-chan struct{}
	Lost(partition string)
}

// PartitionLister returns the current partition ids of the stream.
type PartitionLister func(ctx context.Context) ([]string, error)

type Options struct {
	Duration      time.Duration
	RenewInterval time.Duration
	Clock         func() time.Time
}

// Coordinator runs the ownership loop for one instance: heartbeat, renew,
// shed surplus, claim up to the fair share.
type Coordinator struct {
	store Store
	scope Scope
	owner string
	opts  Options
	list  PartitionLister
	l     Listener

	mu       sync.Mutex
	owned    map[string]struct{}
	draining map[string]<-chan struct{}
	snapshot atomic.Pointer[[]string]
	balanced atomic.Bool
}

func NewCoordinator(store Store, scope Scope, owner string, opts Options, list PartitionLister, l Listener) *Coordinator {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	c := &Coordinator{
		store:    store,
		scope:    scope,
		owner:    owner,
		opts:     opts,
		list:     list,
		l:        l,
		owned:    map[string]struct{}{},
		draining: map[string]<-chan struct{}{},
	}
	c.snapshot.Store(&[]string{})
	return c
}

// Run balances immediately and then every RenewInterval until ctx is done.
// Pass errors are logged; only ctx ends the loop.
func (c *Coordinator) Run(ctx context.Context) {
	t := time.NewTicker(c.opts.RenewInterval)
	defer t.Stop()
	for {
		if err := c.Balance(ctx); err != nil && ctx.Err() == nil {
			logging.L().Warn("lease balance", "owner", c.owner, "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// Balanced reports whether at least one full pass has completed.
func (c *Coordinator) Balanced() bool { return c.balanced.Load() }

// Owned returns the partitions currently leased and not being shed, sorted.
// It never waits for a balance pass.
func (c *Coordinator) Owned() []string {
	return append([]string(nil), *c.snapshot.Load()...)
}

func (c *Coordinator) ownedLocked() []string {
	out := make([]string, 0, len(c.owned))
	for p := range c.owned {
		out = append(out, p)
	}
	stream.SortPartitions(out)
	return out
}

func (c *Coordinator) publishLocked() {
	owned := c.ownedLocked()
	c.snapshot.Store(&owned)
	telemetry.OwnedPartitions.Set(float64(len(owned)))
}

// Balance runs one ownership pass. It never waits for a reader to drain.
func (c *Coordinator) Balance(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.publishLocked()

	hbErr := c.call(ctx, func(ctx context.Context) error {
		return c.store.Heartbeat(ctx, c.scope, c.owner, c.opts.Duration)
	})

	c.renewLocked(ctx)
	c.settleLocked(ctx)
	if hbErr != nil {
		return fmt.Errorf("heartbeat: %w", hbErr)
	}

	var partitions []string
	if err := c.call(ctx, func(ctx context.Context) (err error) {
		partitions, err = c.list(ctx)
		return err
	}); err != nil {
		return fmt.Errorf("list partitions: %w", err)
	}
	exists := make(map[string]struct{}, len(partitions))
	for _, p := range partitions {
		exists[p] = struct{}{}
	}
	for _, p := range c.ownedLocked() {
		if _, ok := exists[p]; !ok {
			c.shedLocked(p)
		}
	}

	var members []string
	if err := c.call(ctx, func(ctx context.Context) (err error) {
		members, err = c.store.Members(ctx, c.scope)
		return err
	}); err != nil {
		return fmt.Errorf("members: %w", err)
	}
	quota := Quota(len(partitions), members, c.owner)

	if surplus := len(c.owned) - quota; surplus > 0 {
		owned := c.ownedLocked()
		for _, p := range owned[len(owned)-surplus:] {
			c.shedLocked(p)
		}
	}
	c.settleLocked(ctx)

	if len(c.owned) < quota {
		if err := c.claimLocked(ctx, partitions, quota); err != nil {
			return err
		}
	}
	c.balanced.Store(true)
	return nil
}

// renewLocked extends the owned leases and those still draining.
func (c *Coordinator) renewLocked(ctx context.Context) {
	renew := func(p string) error {
		return c.call(ctx, func(ctx context.Context) error {
			_, err := c.store.Acquire(ctx, c.scope, p, c.owner, c.opts.Duration)
			return err
		})
	}
	for _, p := range c.ownedLocked() {
		err := renew(p)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		delete(c.owned, p)
		c.lostLocked(p, err)
	}
	for p := range c.draining {
		err := renew(p)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		delete(c.draining, p)
		c.lostLocked(p, err)
	}
}

func (c *Coordinator) lostLocked(p string, err error) {
	telemetry.LeasesLost.Inc()
	logging.L().Warn("partition lease lost", "partition", p, "owner", c.owner,
		"err", fmt.Errorf("%w: %w", ErrLeaseLost, err))
	c.l.Lost(p)
}

// shedLocked asks the reader to stop. The lease is kept, and renewed, until
// settleLocked sees the reader has drained.
func (c *Coordinator) shedLocked(p string) {
	delete(c.owned, p)
	c.draining[p] = c.l.Revoked(p)
}

// settleLocked releases the leases of partitions whose readers have stopped.
func (c *Coordinator) settleLocked(ctx context.Context) {
	for p, done := range c.draining {
		select {
		case <-done:
		default:
			continue
		}
		delete(c.draining, p)
		c.release(ctx, p)
	}
}

func (c *Coordinator) release(ctx context.Context, p string) {
	if err := c.call(ctx, func(ctx context.Context) error {
		return c.store.Release(ctx, c.scope, p, c.owner)
	}); err != nil {
		logging.L().Warn("release lease", "partition", p, "err", err)
		return
	}
	logging.L().Info("partition released", "partition", p, "owner", c.owner)
}

func (c *Coordinator) claimLocked(ctx context.Context, partitions []string, quota int) error {
	var current []Lease
	if err := c.call(ctx, func(ctx context.Context) (err error) {
		current, err = c.store.Leases(ctx, c.scope)
		return err
	}); err != nil {
		return fmt.Errorf("list leases: %w", err)
	}
	now := c.opts.Clock()
	taken := make(map[string]bool, len(current))
	for _, l := range current {
		if l.Active(now) && l.Owner != c.owner {
			taken[l.Partition] = true
		}
	}

	candidates := append([]string(nil), partitions...)
	stream.SortPartitions(candidates)
	for _, p := range candidates {
		if len(c.owned) >= quota {
			break
		}
		if _, mine := c.owned[p]; mine || taken[p] {
			continue
		}
		if _, busy := c.draining[p]; busy {
			continue
		}
		err := c.call(ctx, func(ctx context.Context) error {
			_, err := c.store.Acquire(ctx, c.scope, p, c.owner, c.opts.Duration)
			return err
		})
		if errors.Is(err, ErrLeaseHeld) {
			continue
		}
		if err != nil {
			return fmt.Errorf("acquire %s: %w", p, err)
		}
		c.owned[p] = struct{}{}
		logging.L().Info("partition claimed", "partition", p, "owner", c.owner)
		c.l.Claimed(p)
	}
	return nil
}

// ReleaseAll sheds every owned partition, waits for the readers until ctx is
// done, and leaves the membership. Used on shutdown so peers can pick the
// partitions up before the leases expire. Partitions whose readers are still
// running when ctx ends keep their lease until it expires.
func (c *Coordinator) ReleaseAll(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.publishLocked()
	for _, p := range c.ownedLocked() {
		c.shedLocked(p)
	}
	for p, done := range c.draining {
		select {
		case <-done:
		case <-ctx.Done():
			logging.L().Warn("lease kept until expiry", "partition", p, "owner", c.owner)
			continue
		}
		delete(c.draining, p)
		c.release(ctx, p)
	}
	if err := c.store.Leave(ctx, c.scope, c.owner); err != nil {
		logging.L().Warn("leave membership", "owner", c.owner, "err", err)
	}
}

// call bounds a single store round trip by the renew interval.
func (c *Coordinator) call(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.RenewInterval)
	defer cancel()
	return fn(ctx)
}
