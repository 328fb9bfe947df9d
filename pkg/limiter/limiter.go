// Package limiter defines the value types shared by every algorithm
// (Quota, Decision, State — C7), the algorithm identifier space, and the
// registry/factory (C4) that maps an algorithm id to a constructor.
//
// Grounded on original_source/throttled/rate_limter/base.py (Quota,
// Rate, per_sec/min/hour/day, RateLimiterRegistry). Its metaclass-based
// auto-registration is replaced with explicit Register calls made from
// each algorithm subpackage's init() function.
package limiter

import (
	"context"
	"fmt"
	"time"

	pkgerrors "github.com/chris-alexander-pop/throttled/pkg/errors"
	"github.com/chris-alexander-pop/throttled/pkg/store"
)

// AlgorithmID is a stable, public identifier for a rate-limiting algorithm.
type AlgorithmID string

const (
	FixedWindow   AlgorithmID = "fixed_window"
	SlidingWindow AlgorithmID = "sliding_window"
	TokenBucket   AlgorithmID = "token_bucket"
	LeakingBucket AlgorithmID = "leaking_bucket"
	GCRA          AlgorithmID = "gcra"
)

// KeyPrefix is prepended to every limiter key. Changing it is a breaking
// change to the wire layout (§6).
const KeyPrefix = "throttled:v1:"

// Rate is the base throughput: limit requests admitted per period.
type Rate struct {
	Period time.Duration
	Limit  int
}

// Quota describes the allowed throughput for a key: a Rate plus an
// optional Burst (defaults to Limit when zero).
type Quota struct {
	Rate  Rate
	Burst int
}

// PeriodSeconds returns the quota's period in whole seconds.
func (q Quota) PeriodSeconds() int64 {
	return int64(q.Rate.Period.Seconds())
}

// EffectiveBurst returns Burst, defaulting to Rate.Limit when Burst is 0.
func (q Quota) EffectiveBurst() int {
	if q.Burst <= 0 {
		return q.Rate.Limit
	}
	return q.Burst
}

// PerSec builds a quota admitting limit requests/second, with burst
// defaulting to limit.
func PerSec(limit int, burst ...int) Quota {
	return build(time.Second, limit, burst...)
}

// PerMin builds a quota admitting limit requests/minute.
func PerMin(limit int, burst ...int) Quota {
	return build(time.Minute, limit, burst...)
}

// PerHour builds a quota admitting limit requests/hour.
func PerHour(limit int, burst ...int) Quota {
	return build(time.Hour, limit, burst...)
}

// PerDay builds a quota admitting limit requests/day.
func PerDay(limit int, burst ...int) Quota {
	return build(24*time.Hour, limit, burst...)
}

func build(period time.Duration, limit int, burst ...int) Quota {
	b := limit
	if len(burst) > 0 && burst[0] > 0 {
		b = burst[0]
	}
	return Quota{Rate: Rate{Period: period, Limit: limit}, Burst: b}
}

// Decision is the immutable result of one limit() call.
type Decision struct {
	Limited    bool
	Limit      int
	Remaining  int
	ResetAfter time.Duration
	RetryAfter time.Duration
}

// State is the result of a non-mutating peek() call; same shape as the
// State half of a Decision.
type State struct {
	Limit      int
	Remaining  int
	ResetAfter time.Duration
}

// Limiter is the per-algorithm policy interface (C3): it formats keys,
// drives one or more AtomicActions, and converts raw results into
// Decision/State values.
type Limiter interface {
	// Limit evaluates cost units against key, returning whether the
	// request is admitted.
	Limit(ctx context.Context, key string, cost int) (Decision, error)

	// Peek reports the current state for key without mutating it.
	Peek(ctx context.Context, key string) (State, error)
}

// Constructor builds a Limiter for the given quota and store.
type Constructor func(quota Quota, s store.Store) (Limiter, error)

var registry = map[AlgorithmID]Constructor{}

// Register wires a Limiter constructor for id. Called once per algorithm
// package from an init() function — explicit registration, not reflection.
func Register(id AlgorithmID, ctor Constructor) {
	registry[id] = ctor
}

// New constructs the Limiter registered for id, or SetUpError if id is
// unknown or construction fails (e.g. the store lacks a required
// AtomicAction implementation).
func New(id AlgorithmID, quota Quota, s store.Store) (Limiter, error) {
	ctor, ok := registry[id]
	if !ok {
		return nil, pkgerrors.SetUp(fmt.Sprintf("unknown algorithm id %q", id), nil)
	}
	lim, err := ctor(quota, s)
	if err != nil {
		return nil, err
	}
	return lim, nil
}

// FormatKey builds the wire key for algorithm id and caller key, per §6's
// layout: throttled:v1:<algorithm_id>:<caller_key>.
func FormatKey(id AlgorithmID, key string) string {
	return fmt.Sprintf("%s%s:%s", KeyPrefix, id, key)
}
