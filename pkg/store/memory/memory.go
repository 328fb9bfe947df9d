package memory

import (
	"context"

	pkgerrors "github.com/chris-alexander-pop/throttled/pkg/errors"

	"github.com/chris-alexander-pop/throttled/pkg/clock"
	"github.com/chris-alexander-pop/throttled/pkg/store"
)

// DefaultMaxSize is the default LRU capacity when New is called without an
// explicit size.
const DefaultMaxSize = 1024

// Store is the in-process, bounded-LRU Store backend (§4.1's "memory
// backend"). It is safe for concurrent use by multiple goroutines.
type Store struct {
	backend *Backend
}

// New constructs a memory Store with the given maximum key count. A
// non-positive maxSize is a construction fault (SetUpError).
func New(maxSize int, c clock.Clock) (*Store, error) {
	if maxSize <= 0 {
		return nil, pkgerrors.SetUp("memory store max_size must be a positive integer", nil)
	}
	if c == nil {
		c = clock.NewSystem()
	}
	b, err := newBackend(maxSize, c)
	if err != nil {
		return nil, pkgerrors.SetUp("failed to construct memory backend", err)
	}
	return &Store{backend: b}, nil
}

// Backend exposes the raw backend for algorithm packages' memory-backed
// AtomicAction implementations.
func (s *Store) Backend() *Backend { return s.backend }

func (s *Store) Type() store.Type { return store.TypeMemory }

func (s *Store) Exists(_ context.Context, key string) (bool, error) {
	s.backend.Lock()
	defer s.backend.Unlock()
	return s.backend.Exists(key), nil
}

func (s *Store) TTL(_ context.Context, key string) (int64, error) {
	s.backend.Lock()
	defer s.backend.Unlock()
	return s.backend.TTL(key), nil
}

func (s *Store) Expire(_ context.Context, key string, ttlSeconds int64) error {
	if err := store.ValidateTimeout(ttlSeconds); err != nil {
		return err
	}
	s.backend.Lock()
	defer s.backend.Unlock()
	s.backend.Expire(key, ttlSeconds)
	return nil
}

func (s *Store) Set(_ context.Context, key string, value float64, ttlSeconds int64) error {
	if err := store.ValidateTimeout(ttlSeconds); err != nil {
		return err
	}
	s.backend.Lock()
	defer s.backend.Unlock()
	s.backend.Set(key, value, ttlSeconds)
	return nil
}

func (s *Store) Get(_ context.Context, key string) (float64, bool, error) {
	s.backend.Lock()
	defer s.backend.Unlock()
	v, ok := s.backend.Get(key)
	return v, ok, nil
}

func (s *Store) HSet(_ context.Context, key string, field string, value float64, mapping map[string]float64) error {
	if mapping == nil && field == "" {
		return pkgerrors.Data("hset requires at least one field/value pair", nil)
	}
	s.backend.Lock()
	defer s.backend.Unlock()
	s.backend.HSet(key, field, value, field != "", mapping)
	return nil
}

func (s *Store) HGetAll(_ context.Context, key string) (map[string]float64, error) {
	s.backend.Lock()
	defer s.backend.Unlock()
	return s.backend.HGetAll(key), nil
}

func (s *Store) MakeAtomic(kind store.ActionKind) (store.AtomicAction, error) {
	return store.MakeAtomic(s, kind)
}

var _ store.Store = (*Store)(nil)
