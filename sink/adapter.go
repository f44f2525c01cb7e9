// Package sink defines how batches are published to a stream. Drivers
// register themselves by name from init().
package sink

import (
	"context"
	"fmt"
	"sort"

	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/batch"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/config"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/stream"
)

// Adapter is the common behaviour every sink exposes. Publish sends the
// whole batch to a single partition and returns an error classified with
// the stream error taxonomy when any message was not accepted. A failed
// batch may still have been partly written; callers resend it whole, so
// delivery is at-least-once and consumers see duplicates by message id.
type Adapter interface {
	Configure(ctx context.Context, t config.Transport) error
	Publish(ctx context.Context, streamID string, b *batch.Batch) error
	Close() error // idempotent
}

/*──────── registry ───────*/

type factory = func() Adapter

var reg = map[string]factory{}

func Register(name string, f factory) { reg[name] = f }

func NewAdapter(name string) (Adapter, error) {
	if f, ok := reg[name]; ok {
		return f(), nil
	}
	return nil, fmt.Errorf("%w: unknown sink %q", stream.ErrConfiguration, name)
}

func Drivers() []string {
	out := make([]string, 0, len(reg))
	for n := range reg {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
