// Package store opens the configured checkpoint and lease backend.
package store

import (
	"context"
	"fmt"

	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/checkpoint"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/config"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/lease"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/logging"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/store/memory"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/store/postgres"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/store/redis"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/store/sqlite"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/stream"
)

// Backend serves both checkpoints and leases from one connection.
type Backend interface {
	checkpoint.Store
	lease.Store
	Close() error
}

func Open(ctx context.Context, cfg config.Store) (Backend, error) {
	var (
		b   Backend
		err error
	)
	switch cfg.Driver {
	case "memory":
		b = memory.New()
	case "sqlite":
		b, err = sqlite.Open(cfg.Path)
	case "postgres":
		b, err = postgres.Open(ctx, cfg.DSN)
	case "redis":
		b, err = redis.Open(ctx, redis.Config{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB, Prefix: cfg.KeyPrefix})
	default:
		return nil, fmt.Errorf("%w: unsupported store driver %q", stream.ErrConfiguration, cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Driver, err)
	}
	logging.L().Info("checkpoint store ready", "driver", cfg.Driver)
	return b, nil
}
