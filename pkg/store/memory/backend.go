// Package memory implements an in-process Store backed by a bounded LRU.
//
// Grounded on original_source/throttled/store/memory.py's
// MemoryStoreBackend (an OrderedDict plus a parallel expiry map guarded
// by one reentrant lock):
// here the ordering and eviction bookkeeping is delegated to
// hashicorp/golang-lru/v2 and a plain sync.Mutex provides the coarse
// exclusion multi-step atomic actions need.
package memory

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/chris-alexander-pop/throttled/pkg/clock"
)

type entry struct {
	hasValue  bool
	value     float64
	fields    map[string]float64
	hasExpiry bool
	expiresAt float64 // unix seconds
}

// Backend is the raw, non-validating, non-self-locking storage primitive
// that atomic actions operate on directly. Callers must hold Lock for the
// duration of any multi-step sequence; Backend itself performs no
// synchronization so that a single atomic action's read-modify-write
// sequence is indivisible with respect to any other Backend access.
type Backend struct {
	mu    sync.Mutex
	cache *lru.Cache[string, *entry]
	clock clock.Clock
}

func newBackend(maxSize int, c clock.Clock) (*Backend, error) {
	cache, err := lru.New[string, *entry](maxSize)
	if err != nil {
		return nil, err
	}
	return &Backend{cache: cache, clock: c}, nil
}

// NewRawBackend constructs a Backend directly, for callers (such as
// pkg/asyncstore/asyncmemory) that supply their own synchronization
// instead of this type's built-in mutex.
func NewRawBackend(maxSize int, c clock.Clock) (*Backend, error) {
	return newBackend(maxSize, c)
}

// Lock acquires the backend-wide mutex. Every exported Store method and
// every memory-backed AtomicAction must call Lock for the duration of its
// operation.
func (b *Backend) Lock() { b.mu.Lock() }

// Unlock releases the backend-wide mutex.
func (b *Backend) Unlock() { b.mu.Unlock() }

func (b *Backend) lookup(key string) (*entry, bool) {
	e, ok := b.cache.Peek(key)
	if !ok {
		return nil, false
	}
	if e.hasExpiry && e.expiresAt <= b.clock.NowSeconds() {
		b.cache.Remove(key)
		return nil, false
	}
	return e, true
}

// Exists reports whether key is present and unexpired. Caller holds Lock.
func (b *Backend) Exists(key string) bool {
	_, ok := b.lookup(key)
	return ok
}

// TTL returns seconds remaining, -2 if absent, -1 if present without
// expiry. Caller holds Lock.
func (b *Backend) TTL(key string) int64 {
	e, ok := b.lookup(key)
	if !ok {
		return -2
	}
	if !e.hasExpiry {
		return -1
	}
	remaining := e.expiresAt - b.clock.NowSeconds()
	if remaining <= 0 {
		b.cache.Remove(key)
		return -2
	}
	return int64(remaining)
}

// Expire sets key's expiry to now+ttlSeconds, creating a bare entry if one
// does not already exist. Caller holds Lock.
func (b *Backend) Expire(key string, ttlSeconds int64) {
	e, ok := b.cache.Peek(key)
	if !ok {
		e = &entry{}
		b.evictIfFull(key)
		b.cache.Add(key, e)
	}
	e.hasExpiry = true
	e.expiresAt = b.clock.NowSeconds() + float64(ttlSeconds)
}

func (b *Backend) evictIfFull(newKey string) {
	// golang-lru evicts the LRU entry automatically on Add when full and
	// newKey is not already present; nothing to do here, kept as a named
	// step to mirror the original's explicit check_and_evict call site.
	_ = newKey
}

// Get returns key's scalar value. Caller holds Lock. Get promotes key to
// most-recently-used.
func (b *Backend) Get(key string) (float64, bool) {
	e, ok := b.lookup(key)
	if !ok || !e.hasValue {
		return 0, false
	}
	b.cache.Get(key) // promote to MRU
	return e.value, true
}

// Set upserts key's scalar value with expiry ttlSeconds. Caller holds Lock.
func (b *Backend) Set(key string, value float64, ttlSeconds int64) {
	e, ok := b.cache.Peek(key)
	if !ok {
		e = &entry{}
		b.cache.Add(key, e)
	}
	e.hasValue = true
	e.value = value
	e.hasExpiry = true
	e.expiresAt = b.clock.NowSeconds() + float64(ttlSeconds)
	b.cache.Get(key) // promote to MRU
}

// UpdateValue mutates an existing entry's scalar value in place, leaving
// its expiry untouched — used by counter algorithms that increment a
// key without resetting its TTL on every call. The key must already
// exist; if it does not, this is a no-op.
func (b *Backend) UpdateValue(key string, value float64) {
	e, ok := b.cache.Peek(key)
	if !ok {
		return
	}
	e.hasValue = true
	e.value = value
	b.cache.Get(key) // promote to MRU
}

// HGetAll returns a copy of key's field map (empty if absent). Caller
// holds Lock.
func (b *Backend) HGetAll(key string) map[string]float64 {
	e, ok := b.lookup(key)
	if !ok || e.fields == nil {
		return map[string]float64{}
	}
	out := make(map[string]float64, len(e.fields))
	for k, v := range e.fields {
		out[k] = v
	}
	return out
}

// HSet upserts field/value and/or mapping on key's hash, preserving any
// existing expiry. Caller holds Lock.
func (b *Backend) HSet(key string, field string, value float64, hasField bool, mapping map[string]float64) {
	e, ok := b.cache.Peek(key)
	if !ok {
		e = &entry{}
		b.cache.Add(key, e)
	}
	if e.fields == nil {
		e.fields = map[string]float64{}
	}
	if hasField {
		e.fields[field] = value
	}
	for k, v := range mapping {
		e.fields[k] = v
	}
	b.cache.Get(key) // promote to MRU
}

// Delete removes key unconditionally. Caller holds Lock. Returns whether a
// key was actually present.
func (b *Backend) Delete(key string) bool {
	return b.cache.Remove(key)
}

// Len reports the number of live (possibly expired-but-unswept) entries.
func (b *Backend) Len() int {
	return b.cache.Len()
}
