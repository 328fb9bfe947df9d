// Package store defines the key/value + hash + TTL contract that every
// rate-limiting algorithm is written against (C1), and the atomic-action
// abstraction (C2) that lets a single algorithm implementation run
// correctly on either backend.
//
// Two backends implement Store: pkg/store/memory (a bounded LRU guarded by
// a mutex) and pkg/store/remote (a Redis-compatible client driven through
// server-side Lua scripts). Algorithm packages never branch on backend type
// themselves — they declare the AtomicAction kinds they need and the
// registry wires the matching implementation at construction time.
package store

import (
	"context"

	pkgerrors "github.com/chris-alexander-pop/throttled/pkg/errors"
)

// Type identifies a Store implementation. Stable, part of the public
// contract (reported in hook context).
type Type string

const (
	// TypeMemory identifies the in-process bounded-LRU backend.
	TypeMemory Type = "memory"

	// TypeRemote identifies a remote key/value server backend (Redis or
	// compatible).
	TypeRemote Type = "redis"
)

// TTLAbsent is returned by TTL for a key that does not exist.
const TTLAbsent = -2

// TTLNoExpiry is returned by TTL for a key that exists without an expiry.
const TTLNoExpiry = -1

// Store is the raw key/value + hash + TTL surface every algorithm is
// written against.
type Store interface {
	// Type reports this store's identifier, used by the registry to select
	// matching AtomicAction implementations.
	Type() Type

	// Exists reports whether key is present and not expired.
	Exists(ctx context.Context, key string) (bool, error)

	// TTL returns seconds remaining before key expires, TTLAbsent if the
	// key is absent, or TTLNoExpiry if present without an expiry.
	TTL(ctx context.Context, key string) (int64, error)

	// Expire sets key's expiry to now + ttlSeconds. ttlSeconds must be a
	// positive integer, else DataError.
	Expire(ctx context.Context, key string, ttlSeconds int64) error

	// Set upserts key with an expiry of ttlSeconds. ttlSeconds must be
	// positive, else DataError.
	Set(ctx context.Context, key string, value float64, ttlSeconds int64) error

	// Get returns key's numeric value, or ok=false if absent.
	Get(ctx context.Context, key string) (value float64, ok bool, err error)

	// HSet upserts one field and/or a batch of field/value pairs on the
	// hash at key. At least one of field/value or mapping must be
	// supplied, else DataError.
	HSet(ctx context.Context, key string, field string, value float64, mapping map[string]float64) error

	// HGetAll returns the full field map for key (empty if absent).
	HGetAll(ctx context.Context, key string) (map[string]float64, error)

	// MakeAtomic returns the AtomicAction implementation for kind bound to
	// this store instance, or SetUpError if this backend has no matching
	// implementation registered for kind.
	MakeAtomic(kind ActionKind) (AtomicAction, error)
}

// ActionKind names one atomic operation an algorithm needs performed
// indivisibly against a key (e.g. "token_bucket.limit", "gcra.peek").
// Algorithm packages define their own kinds and register implementations
// for each backend they support.
type ActionKind string

// AtomicAction executes one algorithm step as an indivisible read-modify-
// write. On the memory backend indivisibility comes from holding the
// store's mutex for the duration of Do; on the remote backend it comes
// from running a single server-side script.
type AtomicAction interface {
	// Kind reports the action this instance implements.
	Kind() ActionKind

	// Do executes the action against keys with the given positional args
	// and returns algorithm-specific results. The concrete algorithm
	// package documents the shape of args and the returned slice.
	Do(ctx context.Context, keys []string, args []float64) ([]float64, error)
}

// ValidateTimeout enforces the store-level timeout contract shared by Set
// and Expire: ttlSeconds must be a positive integer number of seconds.
func ValidateTimeout(ttlSeconds int64) error {
	if ttlSeconds <= 0 {
		return pkgerrors.Data("invalid timeout: must be a positive integer number of seconds", nil)
	}
	return nil
}
