// Package fixedwindow implements the fixed-window algorithm (§4.3.1).
//
// Grounded on original_source/throttled/rate_limter/fixed_window.py for the
// per-key formula (INCRBY cost, EXPIRE on first creation, limited iff
// current > limit) and on pkg/api/ratelimit/adapters/redis/redis.go for
// the goredis.NewScript registration style.
package fixedwindow

import (
	"context"
	"fmt"
	"math"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/chris-alexander-pop/throttled/pkg/clock"
	"github.com/chris-alexander-pop/throttled/pkg/limiter"
	"github.com/chris-alexander-pop/throttled/pkg/limiter/scriptutil"
	"github.com/chris-alexander-pop/throttled/pkg/store"
	"github.com/chris-alexander-pop/throttled/pkg/store/memory"
	"github.com/chris-alexander-pop/throttled/pkg/store/remote"
)

const kindLimit store.ActionKind = "fixed_window.limit"

func init() {
	store.RegisterAction(store.TypeMemory, kindLimit, func(s store.Store) (store.AtomicAction, error) {
		ms := s.(*memory.Store)
		return &memoryLimitAction{backend: ms.Backend()}, nil
	})
	store.RegisterAction(store.TypeRemote, kindLimit, func(s store.Store) (store.AtomicAction, error) {
		rs := s.(*remote.Store)
		return &remoteLimitAction{client: rs.Client(), script: limitScript}, nil
	})
	limiter.Register(limiter.FixedWindow, New)
}

// memoryLimitAction increments the per-period counter held in the memory
// backend, setting its TTL to the period length only on first creation.
type memoryLimitAction struct {
	backend *memory.Backend
}

func (a *memoryLimitAction) Kind() store.ActionKind { return kindLimit }

func (a *memoryLimitAction) Do(_ context.Context, keys []string, args []float64) ([]float64, error) {
	key := keys[0]
	period, limit, cost := int64(args[0]), args[1], args[2]

	a.backend.Lock()
	defer a.backend.Unlock()

	current, ok := a.backend.Get(key)
	if !ok {
		current = cost
		a.backend.Set(key, current, period)
	} else {
		current += cost
		a.backend.UpdateValue(key, current)
	}

	limited := 0.0
	if current > limit {
		limited = 1
	}
	return []float64{limited, current}, nil
}

var limitScript = goredis.NewScript(`
local period = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local current = redis.call('INCRBY', KEYS[1], cost)
if current == cost then
    redis.call('EXPIRE', KEYS[1], period)
end
local limited = 0
if current > limit then
    limited = 1
end
return {limited, current}
`)

type remoteLimitAction struct {
	client goredis.Cmdable
	script *goredis.Script
}

func (a *remoteLimitAction) Kind() store.ActionKind { return kindLimit }

func (a *remoteLimitAction) Do(ctx context.Context, keys []string, args []float64) ([]float64, error) {
	res, err := a.script.Run(ctx, a.client, keys, scriptutil.ToArgs(args...)...).Result()
	if err != nil {
		return nil, fmt.Errorf("fixed window script: %w", err)
	}
	return scriptutil.ToFloatSlice(res)
}

// Limiter implements limiter.Limiter for the fixed-window algorithm.
type Limiter struct {
	quota  limiter.Quota
	store  store.Store
	action store.AtomicAction
	clock  clock.Clock
}

// New constructs a fixed-window Limiter against s.
func New(quota limiter.Quota, s store.Store) (limiter.Limiter, error) {
	action, err := s.MakeAtomic(kindLimit)
	if err != nil {
		return nil, err
	}
	return &Limiter{quota: quota, store: s, action: action, clock: clock.NewSystem()}, nil
}

func (l *Limiter) periodKey(key string) (string, int64) {
	period := l.quota.PeriodSeconds()
	now := int64(l.clock.NowSeconds())
	index := now / period
	return fmt.Sprintf("%s:period:%d", limiter.FormatKey(limiter.FixedWindow, key), index), period
}

func (l *Limiter) resetAfter(period int64) time.Duration {
	now := l.clock.NowSeconds()
	elapsed := math.Mod(now, float64(period))
	return time.Duration((float64(period) - elapsed) * float64(time.Second))
}

func (l *Limiter) Limit(ctx context.Context, key string, cost int) (limiter.Decision, error) {
	formattedKey, period := l.periodKey(key)
	limitN := l.quota.Rate.Limit

	res, err := l.action.Do(ctx, []string{formattedKey}, []float64{float64(period), float64(limitN), float64(cost)})
	if err != nil {
		return limiter.Decision{}, err
	}
	limited, current := res[0] == 1, res[1]

	remaining := limitN - int(current)
	if remaining < 0 {
		remaining = 0
	}
	resetAfter := l.resetAfter(period)

	d := limiter.Decision{
		Limited:    limited,
		Limit:      limitN,
		Remaining:  remaining,
		ResetAfter: resetAfter,
	}
	if limited {
		d.RetryAfter = resetAfter
	}
	return d, nil
}

func (l *Limiter) Peek(ctx context.Context, key string) (limiter.State, error) {
	formattedKey, period := l.periodKey(key)
	limitN := l.quota.Rate.Limit

	current, ok, err := l.store.Get(ctx, formattedKey)
	if err != nil {
		return limiter.State{}, err
	}
	if !ok {
		current = 0
	}
	remaining := limitN - int(current)
	if remaining < 0 {
		remaining = 0
	}
	return limiter.State{Limit: limitN, Remaining: remaining, ResetAfter: l.resetAfter(period)}, nil
}

var _ limiter.Limiter = (*Limiter)(nil)
