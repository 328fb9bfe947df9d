// Package asyncstore mirrors pkg/store's contract (C1/C2) for the
// cooperative-async surface (§4.7). It is a separate type hierarchy, not
// an adapter over pkg/store: a memory-backed AsyncStore must never be
// handed to a sync Limiter or vice versa.
package asyncstore

import (
	"context"
	"fmt"

	pkgerrors "github.com/chris-alexander-pop/throttled/pkg/errors"
	"github.com/chris-alexander-pop/throttled/pkg/store"
)

// AsyncStore is the ctx-suspending twin of store.Store. Every operation
// takes a context so a cooperative wait on a contended backend (the
// memory backend's semaphore, or the remote backend's network I/O) can be
// cancelled.
type AsyncStore interface {
	Type() store.Type
	Exists(ctx context.Context, key string) (bool, error)
	TTL(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttlSeconds int64) error
	Set(ctx context.Context, key string, value float64, ttlSeconds int64) error
	Get(ctx context.Context, key string) (value float64, ok bool, err error)
	HSet(ctx context.Context, key string, field string, value float64, mapping map[string]float64) error
	HGetAll(ctx context.Context, key string) (map[string]float64, error)
	MakeAtomic(kind store.ActionKind) (AtomicAction, error)
}

// AtomicAction is the async twin of store.AtomicAction: Do may suspend
// cooperatively (acquiring the memory backend's semaphore, or waiting on
// the remote backend's I/O) instead of blocking an OS thread.
type AtomicAction interface {
	Kind() store.ActionKind
	Do(ctx context.Context, keys []string, args []float64) ([]float64, error)
}

// ActionFactory builds an AtomicAction bound to store s, exactly as
// store.ActionFactory does for the sync surface.
type ActionFactory func(s AsyncStore) (AtomicAction, error)

var actionRegistry = map[store.Type]map[store.ActionKind]ActionFactory{}

// RegisterAction wires the async AtomicAction implementation an algorithm
// package provides for a given backend type and action kind.
func RegisterAction(storeType store.Type, kind store.ActionKind, factory ActionFactory) {
	m, ok := actionRegistry[storeType]
	if !ok {
		m = map[store.ActionKind]ActionFactory{}
		actionRegistry[storeType] = m
	}
	m[kind] = factory
}

// MakeAtomic looks up and constructs the AtomicAction registered for s's
// store type and kind.
func MakeAtomic(s AsyncStore, kind store.ActionKind) (AtomicAction, error) {
	m, ok := actionRegistry[s.Type()]
	if !ok {
		return nil, pkgerrors.SetUp(fmt.Sprintf("no async atomic actions registered for store type %q", s.Type()), nil)
	}
	factory, ok := m[kind]
	if !ok {
		return nil, pkgerrors.SetUp(fmt.Sprintf("async atomic action %q is not supported by store type %q", kind, s.Type()), nil)
	}
	return factory(s)
}
