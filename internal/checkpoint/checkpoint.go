// Package checkpoint defines durable per-partition progress records.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
)

// ErrWriteFailed wraps any failure to persist a checkpoint. The reader
// keeps running; the offset is simply redelivered after a restart.
var ErrWriteFailed = errors.New("checkpoint write failure")

// Key identifies one checkpoint record.
type Key struct {
	Stream    string
	Group     string
	Partition string
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Stream, k.Group, k.Partition)
}

// Store persists the last fully processed offset per key.
//
// Put must be monotonic: writing an offset that is not greater than the
// stored one leaves the record unchanged and returns nil.
type Store interface {
	Get(ctx context.Context, key Key) (offset int64, found bool, err error)
	Put(ctx context.Context, key Key, offset int64) error
}

// Failed wraps err as a checkpoint write failure for partition.
func Failed(key Key, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrWriteFailed, key, err)
}
