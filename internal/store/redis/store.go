// Package redis keeps checkpoints, leases and members in Redis. Lease
// expiry uses key TTLs; conditional writes run as Lua scripts so each
// check-and-set is atomic on the server.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/checkpoint"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/lease"
)

type Config struct {
	Addr     string
	Password string // optional
	DB       int    // optional
	Prefix   string
}

var (
	// Offsets compare as Lua numbers (doubles); exact up to 2^53.
	putCheckpoint = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur == false or tonumber(cur) < tonumber(ARGV[1]) then
	redis.call('SET', KEYS[1], ARGV[1])
	return 1
end
return 0`)

	acquireLease = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur == false or cur == ARGV[1] then
	redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
	return 1
end
return 0`)

	releaseLease = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0`)

	heartbeat = redis.NewScript(`
local t = redis.call('TIME')
local now = tonumber(t[1]) * 1000 + math.floor(tonumber(t[2]) / 1000)
redis.call('ZADD', KEYS[1], now + tonumber(ARGV[2]), ARGV[1])
return 1`)

	liveMembers = redis.NewScript(`
local t = redis.call('TIME')
local now = tonumber(t[1]) * 1000 + math.floor(tonumber(t[2]) / 1000)
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', now)
return redis.call('ZRANGEBYSCORE', KEYS[1], '(' .. now, '+inf')`)
)

type Store struct {
	client *redis.Client
	prefix string
}

func NewClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return client, nil
}

func Open(ctx context.Context, cfg Config) (*Store, error) {
	client, err := NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return New(client, cfg.Prefix), nil
}

func New(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = "eventhub"
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) Close() error { return s.client.Close() }

func (s *Store) checkpointKey(k checkpoint.Key) string {
	return strings.Join([]string{s.prefix, "cp", k.Stream, k.Group, k.Partition}, ":")
}

func (s *Store) leasePrefix(sc lease.Scope) string {
	return strings.Join([]string{s.prefix, "lease", sc.Stream, sc.Group}, ":") + ":"
}

func (s *Store) membersKey(sc lease.Scope) string {
	return strings.Join([]string{s.prefix, "members", sc.Stream, sc.Group}, ":")
}

func (s *Store) Get(ctx context.Context, key checkpoint.Key) (int64, bool, error) {
	off, err := s.client.Get(ctx, s.checkpointKey(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get checkpoint %s: %w", key, err)
	}
	return off, true, nil
}

func (s *Store) Put(ctx context.Context, key checkpoint.Key, offset int64) error {
	if err := putCheckpoint.Run(ctx, s.client, []string{s.checkpointKey(key)}, offset).Err(); err != nil {
		return fmt.Errorf("put checkpoint %s: %w", key, err)
	}
	return nil
}

func (s *Store) Acquire(ctx context.Context, scope lease.Scope, partition, owner string, ttl time.Duration) (lease.Lease, error) {
	now := time.Now()
	ok, err := acquireLease.Run(ctx, s.client, []string{s.leasePrefix(scope) + partition}, owner, ttl.Milliseconds()).Int()
	if err != nil {
		return lease.Lease{}, fmt.Errorf("acquire lease %s: %w", partition, err)
	}
	if ok == 0 {
		return lease.Lease{}, lease.ErrLeaseHeld
	}
	return lease.Lease{Partition: partition, Owner: owner, ExpiresAt: now.Add(ttl)}, nil
}

func (s *Store) Release(ctx context.Context, scope lease.Scope, partition, owner string) error {
	if err := releaseLease.Run(ctx, s.client, []string{s.leasePrefix(scope) + partition}, owner).Err(); err != nil {
		return fmt.Errorf("release lease %s: %w", partition, err)
	}
	return nil
}

func (s *Store) Leases(ctx context.Context, scope lease.Scope) ([]lease.Lease, error) {
	prefix := s.leasePrefix(scope)
	var keys []string
	iter := s.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan leases: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	gets := make([]*redis.StringCmd, len(keys))
	ttls := make([]*redis.DurationCmd, len(keys))
	for i, k := range keys {
		gets[i] = pipe.Get(ctx, k)
		ttls[i] = pipe.PTTL(ctx, k)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("read leases: %w", err)
	}

	now := time.Now()
	out := make([]lease.Lease, 0, len(keys))
	for i, k := range keys {
		owner, err := gets[i].Result()
		if err != nil {
			continue // expired between SCAN and GET
		}
		out = append(out, lease.Lease{
			Partition: strings.TrimPrefix(k, prefix),
			Owner:     owner,
			ExpiresAt: now.Add(ttls[i].Val()),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Partition < out[j].Partition })
	return out, nil
}

func (s *Store) Heartbeat(ctx context.Context, scope lease.Scope, owner string, ttl time.Duration) error {
	if err := heartbeat.Run(ctx, s.client, []string{s.membersKey(scope)}, owner, strconv.FormatInt(ttl.Milliseconds(), 10)).Err(); err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	return nil
}

func (s *Store) Members(ctx context.Context, scope lease.Scope) ([]string, error) {
	ids, err := liveMembers.Run(ctx, s.client, []string{s.membersKey(scope)}).StringSlice()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("list members: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) Leave(ctx context.Context, scope lease.Scope, owner string) error {
	return s.client.ZRem(ctx, s.membersKey(scope), owner).Err()
}
