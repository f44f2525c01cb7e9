// Package lease implements time-bounded exclusive partition ownership and
// the membership heartbeat used to split partitions fairly between
// processor instances.
package lease

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrLeaseHeld is returned by Acquire when another live owner holds
	// the partition.
	ErrLeaseHeld = errors.New("lease held by another owner")
	// ErrLeaseLost is reported when a renewal fails and ownership must be
	// assumed gone.
	ErrLeaseLost = errors.New("lease lost")
)

// Scope groups leases and members of one consumer group on one stream.
type Scope struct {
	Stream string
	Group  string
}

type Lease struct {
	Partition string
	Owner     string
	ExpiresAt time.Time
}

// Active reports whether the lease still excludes other owners at now.
func (l Lease) Active(now time.Time) bool {
	return l.Owner != "" && now.Before(l.ExpiresAt)
}

// Store is the lease and membership backend. Acquire both claims a free
// or expired partition and renews a lease the caller already owns.
type Store interface {
	Acquire(ctx context.Context, scope Scope, partition, owner string, ttl time.Duration) (Lease, error)
	Release(ctx context.Context, scope Scope, partition, owner string) error
	Leases(ctx context.Context, scope Scope) ([]Lease, error)

	Heartbeat(ctx context.Context, scope Scope, owner string, ttl time.Duration) error
	// Members returns live member ids sorted ascending.
	Members(ctx context.Context, scope Scope) ([]string, error)
	Leave(ctx context.Context, scope Scope, owner string) error
}

// Quota is the number of partitions member should own: n/m each, with the
// first n%m members in sorted order taking one extra.
func Quota(partitions int, members []string, member string) int {
	m := len(members)
	if m == 0 {
		return partitions
	}
	idx := -1
	for i, id := range members {
		if id == member {
			idx = i
			break
		}
	}
	if idx < 0 {
		// not yet visible to others; claim as if joining last
		m++
		idx = m - 1
	}
	q := partitions / m
	if idx < partitions%m {
		q++
	}
	return q
}
