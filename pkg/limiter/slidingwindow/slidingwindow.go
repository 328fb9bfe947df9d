// Package slidingwindow implements the sliding-window algorithm (§4.3.2):
// a weighted combination of the current and previous fixed-window
// counters that smooths the boundary-burst problem fixed windows have.
//
// Grounded on pkg/algorithms/ratelimit/slidingwindow's weighted-previous-
// window formula shape, reconciled against the exact §4.3.2 formula where
// the two differ.
package slidingwindow

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

const kindLimit store.ActionKind = "sliding_window.limit"

func init() {
	store.RegisterAction(store.TypeMemory, kindLimit, func(s store.Store) (store.AtomicAction, error) {
		ms := s.(*memory.Store)
		return &memoryLimitAction{backend: ms.Backend()}, nil
	})
	store.RegisterAction(store.TypeRemote, kindLimit, func(s store.Store) (store.AtomicAction, error) {
		rs := s.(*remote.Store)
		return &remoteLimitAction{client: rs.Client(), script: limitScript}, nil
	})
	limiter.Register(limiter.SlidingWindow, New)
}

// memoryLimitAction increments the current-period counter (creating it
// with a 3*period TTL on first use) and returns it alongside the previous
// period's counter, read without mutation.
type memoryLimitAction struct {
	backend *memory.Backend
}

func (a *memoryLimitAction) Kind() store.ActionKind { return kindLimit }

func (a *memoryLimitAction) Do(_ context.Context, keys []string, args []float64) ([]float64, error) {
	currentKey, previousKey := keys[0], keys[1]
	period, cost := int64(args[0]), args[1]

	a.backend.Lock()
	defer a.backend.Unlock()

	current, ok := a.backend.Get(currentKey)
	if !ok {
		current = cost
		a.backend.Set(currentKey, current, 3*period)
	} else {
		current += cost
		a.backend.UpdateValue(currentKey, current)
	}

	previous, ok := a.backend.Get(previousKey)
	if !ok {
		previous = 0
	}
	return []float64{current, previous}, nil
}

var limitScript = goredis.NewScript(`
local period = tonumber(ARGV[1])
local cost = tonumber(ARGV[2])
local current = redis.call('INCRBY', KEYS[1], cost)
if current == cost then
    redis.call('EXPIRE', KEYS[1], period * 3)
end
local previous = tonumber(redis.call('GET', KEYS[2]) or 0)
return {current, previous}
`)

type remoteLimitAction struct {
	client goredis.Cmdable
	script *goredis.Script
}

func (a *remoteLimitAction) Kind() store.ActionKind { return kindLimit }

func (a *remoteLimitAction) Do(ctx context.Context, keys []string, args []float64) ([]float64, error) {
	res, err := a.script.Run(ctx, a.client, keys, scriptutil.ToArgs(args...)...).Result()
	if err != nil {
		return nil, fmt.Errorf("sliding window script: %w", err)
	}
	return scriptutil.ToFloatSlice(res)
}

// Limiter implements limiter.Limiter for the sliding-window algorithm.
type Limiter struct {
	quota  limiter.Quota
	store  store.Store
	action store.AtomicAction
	clock  clock.Clock
}

// New constructs a sliding-window Limiter against s.
func New(quota limiter.Quota, s store.Store) (limiter.Limiter, error) {
	action, err := s.MakeAtomic(kindLimit)
	if err != nil {
		return nil, err
	}
	return &Limiter{quota: quota, store: s, action: action, clock: clock.NewSystem()}, nil
}

func (l *Limiter) keys(key string) (currentKey, previousKey string, period int64, fraction float64) {
	period = l.quota.PeriodSeconds()
	nowMs := l.clock.NowMillis()
	periodMs := period * 1000
	index := nowMs / periodMs
	fraction = float64(nowMs%periodMs) / float64(periodMs)

	base := limiter.FormatKey(limiter.SlidingWindow, key)
	currentKey = fmt.Sprintf("%s:period:%d", base, index)
	previousKey = fmt.Sprintf("%s:period:%d", base, index-1)
	return
}

func (l *Limiter) Limit(ctx context.Context, key string, cost int) (limiter.Decision, error) {
	currentKey, previousKey, period, p := l.keys(key)
	limitN := l.quota.Rate.Limit

	res, err := l.action.Do(ctx, []string{currentKey, previousKey}, []float64{float64(period), float64(cost)})
	if err != nil {
		return limiter.Decision{}, err
	}
	current, previous := res[0], res[1]

	used := math.Floor((1-p)*previous) + current
	limited := used > float64(limitN)
	remaining := limitN - int(used)
	if remaining < 0 {
		remaining = 0
	}
	resetAfter := time.Duration(period) * time.Second

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
	currentKey, previousKey, period, p := l.keys(key)
	limitN := l.quota.Rate.Limit

	current, _, err := l.store.Get(ctx, currentKey)
	if err != nil {
		return limiter.State{}, err
	}
	previous, _, err := l.store.Get(ctx, previousKey)
	if err != nil {
		return limiter.State{}, err
	}

	used := math.Floor((1-p)*previous) + current
	remaining := limitN - int(used)
	if remaining < 0 {
		remaining = 0
	}
	return limiter.State{Limit: limitN, Remaining: remaining, ResetAfter: time.Duration(period) * time.Second}, nil
}

var _ limiter.Limiter = (*Limiter)(nil)
