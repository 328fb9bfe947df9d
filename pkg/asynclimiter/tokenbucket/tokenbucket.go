// Package tokenbucket is the cooperative-async twin of
// pkg/limiter/tokenbucket. The refill/consume formula is identical —
// ported verbatim from the sync package per §4.7's "semantics are
// identical bit-for-bit" — only the backend access is cooperative
// (Backend.Acquire/Release over a semaphore) instead of a thread mutex.
package tokenbucket

import (
	"context"
	"math"
	"time"

	"github.com/chris-alexander-pop/throttled/pkg/asynclimiter"
	"github.com/chris-alexander-pop/throttled/pkg/asyncstore"
	"github.com/chris-alexander-pop/throttled/pkg/asyncstore/asyncmemory"
	"github.com/chris-alexander-pop/throttled/pkg/clock"
	"github.com/chris-alexander-pop/throttled/pkg/limiter"
	"github.com/chris-alexander-pop/throttled/pkg/store"
)

const kindLimit store.ActionKind = "token_bucket.limit"

func init() {
	asyncstore.RegisterAction(store.TypeMemory, kindLimit, func(s asyncstore.AsyncStore) (asyncstore.AtomicAction, error) {
		ms := s.(*asyncmemory.Store)
		return &memoryLimitAction{backend: ms.Backend()}, nil
	})
	asynclimiter.Register(limiter.TokenBucket, New)
}

type memoryLimitAction struct {
	backend *asyncmemory.Backend
}

func (a *memoryLimitAction) Kind() store.ActionKind { return kindLimit }

func (a *memoryLimitAction) Do(ctx context.Context, keys []string, args []float64) ([]float64, error) {
	key := keys[0]
	rate, capacity, cost, now := args[0], args[1], args[2], args[3]

	if err := a.backend.Acquire(ctx); err != nil {
		return nil, err
	}
	defer a.backend.Release()

	raw := a.backend.Raw()
	fields := raw.HGetAll(key)
	lastTokens := capacity
	if v, ok := fields["tokens"]; ok {
		lastTokens = v
	}
	lastRefreshed := now
	if v, ok := fields["last_refreshed"]; ok {
		lastRefreshed = v
	}

	elapsed := math.Max(0, now-lastRefreshed)
	tokens := math.Min(capacity, lastTokens+math.Floor(elapsed*rate))

	if cost > tokens {
		return []float64{1, tokens}, nil
	}

	tokens -= cost
	raw.HSet(key, "", 0, false, map[string]float64{"tokens": tokens, "last_refreshed": now})
	fillTime := capacity / rate
	raw.Expire(key, int64(math.Ceil(2*fillTime)))

	return []float64{0, tokens}, nil
}

// Limiter implements asynclimiter.Limiter for the token-bucket algorithm.
type Limiter struct {
	quota  limiter.Quota
	store  asyncstore.AsyncStore
	action asyncstore.AtomicAction
	clock  clock.Clock
}

// New constructs an async token-bucket Limiter against s.
func New(quota limiter.Quota, s asyncstore.AsyncStore) (asynclimiter.Limiter, error) {
	action, err := s.MakeAtomic(kindLimit)
	if err != nil {
		return nil, err
	}
	return &Limiter{quota: quota, store: s, action: action, clock: clock.NewSystem()}, nil
}

func (l *Limiter) rateAndCapacity() (rate float64, capacity float64) {
	rate = float64(l.quota.Rate.Limit) / float64(l.quota.PeriodSeconds())
	capacity = float64(l.quota.EffectiveBurst())
	return
}

func (l *Limiter) Limit(ctx context.Context, key string, cost int) (limiter.Decision, error) {
	formattedKey := limiter.FormatKey(limiter.TokenBucket, key)
	rate, capacity := l.rateAndCapacity()
	now := l.clock.NowSeconds()

	res, err := l.action.Do(ctx, []string{formattedKey}, []float64{rate, capacity, float64(cost), now})
	if err != nil {
		return limiter.Decision{}, err
	}
	limited, tokens := res[0] == 1, res[1]

	resetAfter := time.Duration(math.Ceil((capacity-tokens)/rate)) * time.Second

	d := limiter.Decision{
		Limited:    limited,
		Limit:      int(capacity),
		Remaining:  int(tokens),
		ResetAfter: resetAfter,
	}
	if limited {
		d.RetryAfter = time.Duration(math.Ceil((float64(cost)-tokens)/rate)) * time.Second
	}
	return d, nil
}

func (l *Limiter) Peek(ctx context.Context, key string) (limiter.State, error) {
	formattedKey := limiter.FormatKey(limiter.TokenBucket, key)
	rate, capacity := l.rateAndCapacity()
	now := l.clock.NowSeconds()

	fields, err := l.store.HGetAll(ctx, formattedKey)
	if err != nil {
		return limiter.State{}, err
	}
	lastTokens := capacity
	if v, ok := fields["tokens"]; ok {
		lastTokens = v
	}
	lastRefreshed := now
	if v, ok := fields["last_refreshed"]; ok {
		lastRefreshed = v
	}

	elapsed := math.Max(0, now-lastRefreshed)
	tokens := math.Min(capacity, lastTokens+math.Floor(elapsed*rate))
	resetAfter := time.Duration(math.Ceil((capacity-tokens)/rate)) * time.Second

	return limiter.State{Limit: int(capacity), Remaining: int(tokens), ResetAfter: resetAfter}, nil
}

var _ asynclimiter.Limiter = (*Limiter)(nil)
