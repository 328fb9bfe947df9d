// Package remote implements a Store backed by a Redis-compatible server,
// using go-redis as the opaque remote client described in §4.1 ("Remote
// backend"). Multi-step algorithm logic runs through server-side Lua
// scripts registered by each algorithm package (§4.2's "single server-side
// script" indivisibility), not through this package's plain Store methods,
// which exist for direct hset/get/peek-style calls that don't need
// cross-step atomicity.
package remote

import (
	"context"
	"strconv"

	goredis "github.com/redis/go-redis/v9"

	pkgerrors "github.com/chris-alexander-pop/throttled/pkg/errors"
	"github.com/chris-alexander-pop/throttled/pkg/store"
)

// Options configures the connection to the remote key/value server.
type Options struct {
	// Addr is the "host:port" of the server.
	Addr string

	// Password is the optional AUTH credential.
	Password string

	// DB selects the logical database index.
	DB int
}

// Store is the remote, Redis-backed Store backend.
type Store struct {
	client goredis.Cmdable
}

// New dials the server described by opts and verifies connectivity.
func New(opts Options) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, pkgerrors.Unavailable("failed to connect to remote store", err)
	}
	return &Store{client: client}, nil
}

// NewFromClient wraps an already-constructed client, useful for tests
// against a miniredis/testcontainers instance or a shared connection pool.
func NewFromClient(client goredis.Cmdable) *Store {
	return &Store{client: client}
}

// Client exposes the underlying command client so algorithm packages can
// register and run their own Lua scripts against it.
func (s *Store) Client() goredis.Cmdable { return s.client }

func (s *Store) Type() store.Type { return store.TypeRemote }

func wrapIOErr(err error) error {
	if err == nil || err == goredis.Nil {
		return nil
	}
	return pkgerrors.Unavailable("remote store I/O failure", err)
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, wrapIOErr(err)
	}
	return n > 0, nil
}

func (s *Store) TTL(ctx context.Context, key string) (int64, error) {
	d, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, wrapIOErr(err)
	}
	// go-redis reports the -2/-1 sentinels as raw durations, not seconds.
	switch d {
	case -2:
		return store.TTLAbsent, nil
	case -1:
		return store.TTLNoExpiry, nil
	}
	return int64(d.Seconds()), nil
}

func (s *Store) Expire(ctx context.Context, key string, ttlSeconds int64) error {
	if err := store.ValidateTimeout(ttlSeconds); err != nil {
		return err
	}
	return wrapIOErr(s.client.Expire(ctx, key, secondsToDuration(ttlSeconds)).Err())
}

func (s *Store) Set(ctx context.Context, key string, value float64, ttlSeconds int64) error {
	if err := store.ValidateTimeout(ttlSeconds); err != nil {
		return err
	}
	return wrapIOErr(s.client.Set(ctx, key, value, secondsToDuration(ttlSeconds)).Err())
}

func (s *Store) Get(ctx context.Context, key string) (float64, bool, error) {
	v, err := s.client.Get(ctx, key).Float64()
	if err == goredis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, wrapIOErr(err)
	}
	return v, true, nil
}

func (s *Store) HSet(ctx context.Context, key string, field string, value float64, mapping map[string]float64) error {
	if mapping == nil && field == "" {
		return pkgerrors.Data("hset requires at least one field/value pair", nil)
	}
	args := make(map[string]interface{}, len(mapping)+1)
	for k, v := range mapping {
		args[k] = v
	}
	if field != "" {
		args[field] = value
	}
	return wrapIOErr(s.client.HSet(ctx, key, args).Err())
}

func (s *Store) HGetAll(ctx context.Context, key string) (map[string]float64, error) {
	raw, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, wrapIOErr(err)
	}
	out := make(map[string]float64, len(raw))
	for k, v := range raw {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			out[k] = f
		}
	}
	return out, nil
}

func (s *Store) MakeAtomic(kind store.ActionKind) (store.AtomicAction, error) {
	return store.MakeAtomic(s, kind)
}

var _ store.Store = (*Store)(nil)
