// Package postgres keeps checkpoints, leases and members in PostgreSQL.
// Expiry is decided by the database clock so instances with skewed clocks
// still agree on lease ownership.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/checkpoint"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/lease"
)

const schema = `
CREATE TABLE IF NOT EXISTS eventhub_checkpoints (
	stream TEXT NOT NULL,
	consumer_group TEXT NOT NULL,
	partition_id TEXT NOT NULL,
	checkpoint_offset BIGINT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (stream, consumer_group, partition_id)
);

CREATE TABLE IF NOT EXISTS eventhub_leases (
	stream TEXT NOT NULL,
	consumer_group TEXT NOT NULL,
	partition_id TEXT NOT NULL,
	owner TEXT NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (stream, consumer_group, partition_id)
);

CREATE TABLE IF NOT EXISTS eventhub_members (
	stream TEXT NOT NULL,
	consumer_group TEXT NOT NULL,
	owner TEXT NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (stream, consumer_group, owner)
);
`

type Store struct {
	pool *pgxpool.Pool
}

// Open connects, pings and migrates.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := &Store{pool: pool}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func New(pool *pgxpool.Pool) *Store { return &Store{pool: pool} }

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Get(ctx context.Context, key checkpoint.Key) (int64, bool, error) {
	const query = `
		SELECT checkpoint_offset FROM eventhub_checkpoints
		WHERE stream = $1 AND consumer_group = $2 AND partition_id = $3
	`
	var off int64
	err := s.pool.QueryRow(ctx, query, key.Stream, key.Group, key.Partition).Scan(&off)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get checkpoint %s: %w", key, err)
	}
	return off, true, nil
}

func (s *Store) Put(ctx context.Context, key checkpoint.Key, offset int64) error {
	const query = `
		INSERT INTO eventhub_checkpoints (stream, consumer_group, partition_id, checkpoint_offset, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (stream, consumer_group, partition_id) DO UPDATE
		SET checkpoint_offset = EXCLUDED.checkpoint_offset, updated_at = NOW()
		WHERE eventhub_checkpoints.checkpoint_offset < EXCLUDED.checkpoint_offset
	`
	if _, err := s.pool.Exec(ctx, query, key.Stream, key.Group, key.Partition, offset); err != nil {
		return fmt.Errorf("put checkpoint %s: %w", key, err)
	}
	return nil
}

func (s *Store) Acquire(ctx context.Context, scope lease.Scope, partition, owner string, ttl time.Duration) (lease.Lease, error) {
	const query = `
		INSERT INTO eventhub_leases (stream, consumer_group, partition_id, owner, expires_at)
		VALUES ($1, $2, $3, $4, NOW() + $5::float8 * INTERVAL '1 millisecond')
		ON CONFLICT (stream, consumer_group, partition_id) DO UPDATE
		SET owner = EXCLUDED.owner, expires_at = EXCLUDED.expires_at
		WHERE eventhub_leases.owner = EXCLUDED.owner OR eventhub_leases.expires_at <= NOW()
		RETURNING expires_at
	`
	l := lease.Lease{Partition: partition, Owner: owner}
	err := s.pool.QueryRow(ctx, query, scope.Stream, scope.Group, partition, owner, float64(ttl.Milliseconds())).Scan(&l.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return lease.Lease{}, lease.ErrLeaseHeld
	}
	if err != nil {
		return lease.Lease{}, fmt.Errorf("acquire lease %s: %w", partition, err)
	}
	return l, nil
}

func (s *Store) Release(ctx context.Context, scope lease.Scope, partition, owner string) error {
	const query = `
		DELETE FROM eventhub_leases
		WHERE stream = $1 AND consumer_group = $2 AND partition_id = $3 AND owner = $4
	`
	if _, err := s.pool.Exec(ctx, query, scope.Stream, scope.Group, partition, owner); err != nil {
		return fmt.Errorf("release lease %s: %w", partition, err)
	}
	return nil
}

func (s *Store) Leases(ctx context.Context, scope lease.Scope) ([]lease.Lease, error) {
	const query = `
		SELECT partition_id, owner, expires_at FROM eventhub_leases
		WHERE stream = $1 AND consumer_group = $2
		ORDER BY partition_id
	`
	rows, err := s.pool.Query(ctx, query, scope.Stream, scope.Group)
	if err != nil {
		return nil, fmt.Errorf("list leases: %w", err)
	}
	defer rows.Close()

	var out []lease.Lease
	for rows.Next() {
		var l lease.Lease
		if err := rows.Scan(&l.Partition, &l.Owner, &l.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan lease: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Store) Heartbeat(ctx context.Context, scope lease.Scope, owner string, ttl time.Duration) error {
	const query = `
		INSERT INTO eventhub_members (stream, consumer_group, owner, expires_at)
		VALUES ($1, $2, $3, NOW() + $4::float8 * INTERVAL '1 millisecond')
		ON CONFLICT (stream, consumer_group, owner) DO UPDATE SET expires_at = EXCLUDED.expires_at
	`
	if _, err := s.pool.Exec(ctx, query, scope.Stream, scope.Group, owner, float64(ttl.Milliseconds())); err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	return nil
}

func (s *Store) Members(ctx context.Context, scope lease.Scope) ([]string, error) {
	const query = `
		SELECT owner FROM eventhub_members
		WHERE stream = $1 AND consumer_group = $2 AND expires_at > NOW()
		ORDER BY owner
	`
	rows, err := s.pool.Query(ctx, query, scope.Stream, scope.Group)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Store) Leave(ctx context.Context, scope lease.Scope, owner string) error {
	const query = `
		DELETE FROM eventhub_members WHERE stream = $1 AND consumer_group = $2 AND owner = $3
	`
	_, err := s.pool.Exec(ctx, query, scope.Stream, scope.Group, owner)
	return err
}
