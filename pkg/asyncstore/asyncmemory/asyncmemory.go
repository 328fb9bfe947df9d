// Package asyncmemory is the cooperative-async twin of pkg/store/memory.
// Per §4.7, "the memory backend on the async surface uses a cooperative
// mutex (not a thread mutex)": this package reuses memory.Backend's raw,
// non-self-locking methods but serializes access with
// golang.org/x/sync/semaphore.NewWeighted(1) instead of a sync.Mutex, so a
// suspended caller yields the goroutine rather than blocking an OS thread
// while waiting for the backend to free up.
package asyncmemory

import (
	"context"

	"golang.org/x/sync/semaphore"

	"github.com/chris-alexander-pop/throttled/pkg/asyncstore"
	"github.com/chris-alexander-pop/throttled/pkg/clock"
	pkgerrors "github.com/chris-alexander-pop/throttled/pkg/errors"
	"github.com/chris-alexander-pop/throttled/pkg/store"
	"github.com/chris-alexander-pop/throttled/pkg/store/memory"
)

// DefaultMaxSize mirrors memory.DefaultMaxSize for the async surface.
const DefaultMaxSize = memory.DefaultMaxSize

// Backend pairs a memory.Backend with a weighted semaphore of size 1,
// used as a cooperative, context-cancellable mutex.
type Backend struct {
	sem *semaphore.Weighted
	raw *memory.Backend
}

func newBackend(maxSize int, c clock.Clock) (*Backend, error) {
	raw, err := memory.NewRawBackend(maxSize, c)
	if err != nil {
		return nil, err
	}
	return &Backend{sem: semaphore.NewWeighted(1), raw: raw}, nil
}

// Acquire cooperatively waits for exclusive access to the backend,
// returning ctx.Err() if ctx is cancelled first.
func (b *Backend) Acquire(ctx context.Context) error {
	return b.sem.Acquire(ctx, 1)
}

// Release gives up exclusive access, waking the next waiter if any.
func (b *Backend) Release() { b.sem.Release(1) }

// Raw exposes the underlying memory.Backend for async AtomicAction
// implementations, which must call Acquire/Release around their use of it
// instead of Backend.Lock/Unlock.
func (b *Backend) Raw() *memory.Backend { return b.raw }

// Store is the AsyncStore implementation backed by Backend.
type Store struct {
	backend *Backend
}

// New constructs an async memory Store. A non-positive maxSize is a
// construction fault (SetUpError).
func New(maxSize int, c clock.Clock) (*Store, error) {
	if maxSize <= 0 {
		return nil, pkgerrors.SetUp("async memory store max_size must be a positive integer", nil)
	}
	if c == nil {
		c = clock.NewSystem()
	}
	b, err := newBackend(maxSize, c)
	if err != nil {
		return nil, pkgerrors.SetUp("failed to construct async memory backend", err)
	}
	return &Store{backend: b}, nil
}

// Backend exposes the raw backend for algorithm packages' async
// memory-backed AtomicAction implementations.
func (s *Store) Backend() *Backend { return s.backend }

func (s *Store) Type() store.Type { return store.TypeMemory }

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	if err := s.backend.Acquire(ctx); err != nil {
		return false, err
	}
	defer s.backend.Release()
	return s.backend.raw.Exists(key), nil
}

func (s *Store) TTL(ctx context.Context, key string) (int64, error) {
	if err := s.backend.Acquire(ctx); err != nil {
		return 0, err
	}
	defer s.backend.Release()
	return s.backend.raw.TTL(key), nil
}

func (s *Store) Expire(ctx context.Context, key string, ttlSeconds int64) error {
	if err := store.ValidateTimeout(ttlSeconds); err != nil {
		return err
	}
	if err := s.backend.Acquire(ctx); err != nil {
		return err
	}
	defer s.backend.Release()
	s.backend.raw.Expire(key, ttlSeconds)
	return nil
}

func (s *Store) Set(ctx context.Context, key string, value float64, ttlSeconds int64) error {
	if err := store.ValidateTimeout(ttlSeconds); err != nil {
		return err
	}
	if err := s.backend.Acquire(ctx); err != nil {
		return err
	}
	defer s.backend.Release()
	s.backend.raw.Set(key, value, ttlSeconds)
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (float64, bool, error) {
	if err := s.backend.Acquire(ctx); err != nil {
		return 0, false, err
	}
	defer s.backend.Release()
	v, ok := s.backend.raw.Get(key)
	return v, ok, nil
}

func (s *Store) HSet(ctx context.Context, key string, field string, value float64, mapping map[string]float64) error {
	if mapping == nil && field == "" {
		return pkgerrors.Data("hset requires at least one field/value pair", nil)
	}
	if err := s.backend.Acquire(ctx); err != nil {
		return err
	}
	defer s.backend.Release()
	s.backend.raw.HSet(key, field, value, field != "", mapping)
	return nil
}

func (s *Store) HGetAll(ctx context.Context, key string) (map[string]float64, error) {
	if err := s.backend.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.backend.Release()
	return s.backend.raw.HGetAll(key), nil
}

func (s *Store) MakeAtomic(kind store.ActionKind) (asyncstore.AtomicAction, error) {
	return asyncstore.MakeAtomic(s, kind)
}

var _ asyncstore.AsyncStore = (*Store)(nil)
