// Package asynclimiter is the cooperative-async twin of pkg/limiter
// (§4.7): identical Quota/Decision/State value types, identical
// formulas, a context-suspending Limiter interface, and its own registry
// so async algorithm packages never need to import the sync registry (or
// vice versa) — keeping the two concurrency surfaces fully separate.
package asynclimiter

import (
	"context"
	"fmt"

	pkgerrors "github.com/chris-alexander-pop/throttled/pkg/errors"
	"github.com/chris-alexander-pop/throttled/pkg/limiter"

	"github.com/chris-alexander-pop/throttled/pkg/asyncstore"
)

// Limiter is the async twin of limiter.Limiter.
type Limiter interface {
	Limit(ctx context.Context, key string, cost int) (limiter.Decision, error)
	Peek(ctx context.Context, key string) (limiter.State, error)
}

// Constructor builds an async Limiter for the given quota and store.
type Constructor func(quota limiter.Quota, s asyncstore.AsyncStore) (Limiter, error)

var registry = map[limiter.AlgorithmID]Constructor{}

// Register wires an async Limiter constructor for id, called from an
// async algorithm package's init() function.
func Register(id limiter.AlgorithmID, ctor Constructor) {
	registry[id] = ctor
}

// New constructs the async Limiter registered for id, or SetUpError if id
// has no async implementation.
func New(id limiter.AlgorithmID, quota limiter.Quota, s asyncstore.AsyncStore) (Limiter, error) {
	ctor, ok := registry[id]
	if !ok {
		return nil, pkgerrors.SetUp(fmt.Sprintf("no async limiter registered for algorithm id %q", id), nil)
	}
	return ctor(quota, s)
}
