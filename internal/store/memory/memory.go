// Package memory is an in-process checkpoint and lease store. State lives
// as long as the Store value; it is meant for tests and single-node runs.
//
// Every checkpoint and lease record carries its own lock, so partitions
// never contend with each other.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/checkpoint"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/lease"
)

type leaseKey struct {
	scope     lease.Scope
	partition string
}

type memberKey struct {
	scope lease.Scope
	owner string
}

type offsetCell struct {
	mu     sync.Mutex
	offset int64
	set    bool
}

type leaseCell struct {
	mu sync.Mutex
	l  lease.Lease
}

type Store struct {
	now func() time.Time

	checkpoints sync.Map // checkpoint.Key -> *offsetCell
	leases      sync.Map // leaseKey -> *leaseCell

	memberMu sync.Mutex
	members  map[memberKey]time.Time
}

type Option func(*Store)

// WithClock replaces time.Now for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(opts ...Option) *Store {
	s := &Store{
		now:     time.Now,
		members: map[memberKey]time.Time{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) offsetCell(key checkpoint.Key) *offsetCell {
	c, _ := s.checkpoints.LoadOrStore(key, &offsetCell{})
	return c.(*offsetCell)
}

func (s *Store) leaseCell(k leaseKey) *leaseCell {
	c, _ := s.leases.LoadOrStore(k, &leaseCell{})
	return c.(*leaseCell)
}

func (s *Store) Get(ctx context.Context, key checkpoint.Key) (int64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	v, ok := s.checkpoints.Load(key)
	if !ok {
		return 0, false, nil
	}
	c := v.(*offsetCell)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offset, c.set, nil
}

func (s *Store) Put(ctx context.Context, key checkpoint.Key, offset int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c := s.offsetCell(key)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.set && c.offset >= offset {
		return nil
	}
	c.offset, c.set = offset, true
	return nil
}

func (s *Store) Acquire(ctx context.Context, scope lease.Scope, partition, owner string, ttl time.Duration) (lease.Lease, error) {
	if err := ctx.Err(); err != nil {
		return lease.Lease{}, err
	}
	c := s.leaseCell(leaseKey{scope, partition})
	c.mu.Lock()
	defer c.mu.Unlock()
	now := s.now()
	if c.l.Owner != owner && c.l.Active(now) {
		return c.l, lease.ErrLeaseHeld
	}
	c.l = lease.Lease{Partition: partition, Owner: owner, ExpiresAt: now.Add(ttl)}
	return c.l, nil
}

func (s *Store) Release(ctx context.Context, scope lease.Scope, partition, owner string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v, ok := s.leases.Load(leaseKey{scope, partition})
	if !ok {
		return nil
	}
	c := v.(*leaseCell)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.l.Owner == owner {
		c.l = lease.Lease{Partition: partition}
	}
	return nil
}

// Leases returns the recorded leases of scope, released ones excluded.
func (s *Store) Leases(ctx context.Context, scope lease.Scope) ([]lease.Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []lease.Lease
	s.leases.Range(func(k, v any) bool {
		if k.(leaseKey).scope != scope {
			return true
		}
		c := v.(*leaseCell)
		c.mu.Lock()
		l := c.l
		c.mu.Unlock()
		if l.Owner != "" {
			out = append(out, l)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Partition < out[j].Partition })
	return out, nil
}

func (s *Store) Heartbeat(ctx context.Context, scope lease.Scope, owner string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.memberMu.Lock()
	defer s.memberMu.Unlock()
	s.members[memberKey{scope, owner}] = s.now().Add(ttl)
	return nil
}

func (s *Store) Members(ctx context.Context, scope lease.Scope) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.memberMu.Lock()
	defer s.memberMu.Unlock()
	now := s.now()
	var out []string
	for k, exp := range s.members {
		if k.scope != scope {
			continue
		}
		if !now.Before(exp) {
			delete(s.members, k)
			continue
		}
		out = append(out, k.owner)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) Leave(ctx context.Context, scope lease.Scope, owner string) error {
	s.memberMu.Lock()
	defer s.memberMu.Unlock()
	delete(s.members, memberKey{scope, owner})
	return nil
}

func (s *Store) Close() error { return nil }
