// Package source defines how partitions of a stream are listed and read.
// Drivers register themselves by name from init().
package source

import (
	"context"
	"fmt"
	"sort"

	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/config"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/stream"
)

// Cursor yields events of one partition in offset order. Next blocks until
// an event arrives, ctx is done or the transport fails. Errors are
// classified with the stream error taxonomy.
type Cursor interface {
	Next(ctx context.Context) (stream.Event, error)
	Close() error
}

type Adapter interface {
	Configure(ctx context.Context, t config.Transport) error
	Partitions(ctx context.Context, streamID string) ([]string, error)
	Open(ctx context.Context, streamID, partitionID string, pos stream.Position) (Cursor, error)
	Close() error
}

/*──────── registry ───────*/

// Factory builds an Adapter (sarama, franz, memory, …).
type Factory func() Adapter

var registry = map[string]Factory{}

// Register is called from each driver's init().
func Register(name string, f Factory) {
	registry[name] = f
}

func NewAdapter(name string) (Adapter, error) {
	if f, ok := registry[name]; ok {
		return f(), nil
	}
	return nil, fmt.Errorf("%w: unsupported source driver %q", stream.ErrConfiguration, name)
}

// Drivers lists registered driver names.
func Drivers() []string {
	out := make([]string, 0, len(registry))
	for n := range registry {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
