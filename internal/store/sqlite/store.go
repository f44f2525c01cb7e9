// Package sqlite stores checkpoints, leases and members in a single SQLite
// file. Suitable for one host running several processor instances.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/checkpoint"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/lease"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	stream TEXT NOT NULL,
	grp TEXT NOT NULL,
	partition_id TEXT NOT NULL,
	cp_offset INTEGER NOT NULL,
	updated_at_utc_ns INTEGER NOT NULL,
	PRIMARY KEY (stream, grp, partition_id)
);

CREATE TABLE IF NOT EXISTS partition_leases (
	stream TEXT NOT NULL,
	grp TEXT NOT NULL,
	partition_id TEXT NOT NULL,
	owner TEXT NOT NULL,
	expires_at_utc_ns INTEGER NOT NULL,
	PRIMARY KEY (stream, grp, partition_id)
);

CREATE TABLE IF NOT EXISTS members (
	stream TEXT NOT NULL,
	grp TEXT NOT NULL,
	owner TEXT NOT NULL,
	expires_at_utc_ns INTEGER NOT NULL,
	PRIMARY KEY (stream, grp, owner)
);
`

type Store struct {
	db  *sql.DB
	now func() time.Time
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open creates the file (and parent dirs) if needed and applies the schema.
func Open(path string, opts ...Option) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir store dir: %w", err)
		}
	}
	db, err := openSQLite(path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	s := &Store{db: db, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

func openSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one writer; WAL lets readers in other processes continue
	db.SetMaxOpenConns(1)
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return db, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Get(ctx context.Context, key checkpoint.Key) (int64, bool, error) {
	var off int64
	err := s.db.QueryRowContext(ctx, `
SELECT cp_offset FROM checkpoints WHERE stream=? AND grp=? AND partition_id=?`,
		key.Stream, key.Group, key.Partition).Scan(&off)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get checkpoint %s: %w", key, err)
	}
	return off, true, nil
}

func (s *Store) Put(ctx context.Context, key checkpoint.Key, offset int64) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO checkpoints (stream, grp, partition_id, cp_offset, updated_at_utc_ns)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (stream, grp, partition_id) DO UPDATE
SET cp_offset=excluded.cp_offset, updated_at_utc_ns=excluded.updated_at_utc_ns
WHERE excluded.cp_offset > checkpoints.cp_offset`,
		key.Stream, key.Group, key.Partition, offset, s.now().UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("put checkpoint %s: %w", key, err)
	}
	return nil
}

func (s *Store) Acquire(ctx context.Context, scope lease.Scope, partition, owner string, ttl time.Duration) (lease.Lease, error) {
	now := s.now().UTC()
	exp := now.Add(ttl)
	res, err := s.db.ExecContext(ctx, `
INSERT INTO partition_leases (stream, grp, partition_id, owner, expires_at_utc_ns)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (stream, grp, partition_id) DO UPDATE
SET owner=excluded.owner, expires_at_utc_ns=excluded.expires_at_utc_ns
WHERE partition_leases.owner=excluded.owner OR partition_leases.expires_at_utc_ns <= ?`,
		scope.Stream, scope.Group, partition, owner, exp.UnixNano(), now.UnixNano())
	if err != nil {
		return lease.Lease{}, fmt.Errorf("acquire lease %s: %w", partition, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return lease.Lease{}, err
	}
	if n == 0 {
		return lease.Lease{}, lease.ErrLeaseHeld
	}
	return lease.Lease{Partition: partition, Owner: owner, ExpiresAt: exp}, nil
}

func (s *Store) Release(ctx context.Context, scope lease.Scope, partition, owner string) error {
	_, err := s.db.ExecContext(ctx, `
DELETE FROM partition_leases WHERE stream=? AND grp=? AND partition_id=? AND owner=?`,
		scope.Stream, scope.Group, partition, owner)
	if err != nil {
		return fmt.Errorf("release lease %s: %w", partition, err)
	}
	return nil
}

func (s *Store) Leases(ctx context.Context, scope lease.Scope) ([]lease.Lease, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT partition_id, owner, expires_at_utc_ns FROM partition_leases
WHERE stream=? AND grp=? ORDER BY partition_id`, scope.Stream, scope.Group)
	if err != nil {
		return nil, fmt.Errorf("list leases: %w", err)
	}
	defer rows.Close()
	var out []lease.Lease
	for rows.Next() {
		var l lease.Lease
		var ns int64
		if err := rows.Scan(&l.Partition, &l.Owner, &ns); err != nil {
			return nil, err
		}
		l.ExpiresAt = time.Unix(0, ns).UTC()
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Store) Heartbeat(ctx context.Context, scope lease.Scope, owner string, ttl time.Duration) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO members (stream, grp, owner, expires_at_utc_ns) VALUES (?, ?, ?, ?)
ON CONFLICT (stream, grp, owner) DO UPDATE SET expires_at_utc_ns=excluded.expires_at_utc_ns`,
		scope.Stream, scope.Group, owner, s.now().UTC().Add(ttl).UnixNano())
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	return nil
}

func (s *Store) Members(ctx context.Context, scope lease.Scope) ([]string, error) {
	now := s.now().UTC().UnixNano()
	if _, err := s.db.ExecContext(ctx, `
DELETE FROM members WHERE stream=? AND grp=? AND expires_at_utc_ns <= ?`,
		scope.Stream, scope.Group, now); err != nil {
		return nil, fmt.Errorf("expire members: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT owner FROM members WHERE stream=? AND grp=? ORDER BY owner`, scope.Stream, scope.Group)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Store) Leave(ctx context.Context, scope lease.Scope, owner string) error {
	_, err := s.db.ExecContext(ctx, `
DELETE FROM members WHERE stream=? AND grp=? AND owner=?`, scope.Stream, scope.Group, owner)
	return err
}
