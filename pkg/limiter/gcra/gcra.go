// Package gcra implements the Generic Cell Rate Algorithm (§4.3.5),
// inspired by https://brandur.org/rate-limiting as both the original
// implementation and this one credit.
//
// Grounded on original_source/throttled/rate_limter/gcra.py, including its
// Redis epoch offset (jan_1_2025) used to keep the TIME-derived "now"
// small enough for Lua's number precision. The memory backend computes
// "now" from the process's monotonic clock (clock.Clock.MonotonicSeconds)
// while the remote backend computes it from the server's own TIME inside
// the script, so the two backends use different time sources.
package gcra

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

const (
	kindLimit store.ActionKind = "gcra.limit"
	kindPeek  store.ActionKind = "gcra.peek"
)

func init() {
	store.RegisterAction(store.TypeMemory, kindLimit, func(s store.Store) (store.AtomicAction, error) {
		ms := s.(*memory.Store)
		return &memoryLimitAction{backend: ms.Backend()}, nil
	})
	store.RegisterAction(store.TypeMemory, kindPeek, func(s store.Store) (store.AtomicAction, error) {
		ms := s.(*memory.Store)
		return &memoryPeekAction{backend: ms.Backend()}, nil
	})
	store.RegisterAction(store.TypeRemote, kindLimit, func(s store.Store) (store.AtomicAction, error) {
		rs := s.(*remote.Store)
		return &remoteLimitAction{kind: kindLimit, client: rs.Client(), script: limitScript}, nil
	})
	store.RegisterAction(store.TypeRemote, kindPeek, func(s store.Store) (store.AtomicAction, error) {
		rs := s.(*remote.Store)
		return &remoteLimitAction{kind: kindPeek, client: rs.Client(), script: peekScript}, nil
	})
	limiter.Register(limiter.GCRA, New)
}

type memoryLimitAction struct {
	backend *memory.Backend
}

func (a *memoryLimitAction) Kind() store.ActionKind { return kindLimit }

func (a *memoryLimitAction) Do(_ context.Context, keys []string, args []float64) ([]float64, error) {
	key := keys[0]
	emissionInterval, capacity, cost, now := args[0], args[1], args[2], args[3]

	a.backend.Lock()
	defer a.backend.Unlock()

	lastTAT, ok := a.backend.Get(key)
	if !ok {
		lastTAT = now
	}
	lastTAT = math.Max(now, lastTAT)

	fillTimeForCost := cost * emissionInterval
	fillTimeForCapacity := capacity * emissionInterval
	tat := lastTAT + fillTimeForCost
	allowAt := tat - fillTimeForCapacity
	elapsed := now - allowAt

	remaining := math.Floor(elapsed / emissionInterval)
	if remaining < 0 {
		resetAfter := math.Max(0, lastTAT-now)
		remaining = math.Min(capacity, cost+remaining)
		return []float64{1, remaining, resetAfter, -elapsed}, nil
	}

	resetAfter := tat - now
	a.backend.Set(key, tat, int64(math.Ceil(resetAfter)))
	return []float64{0, remaining, resetAfter, 0}, nil
}

type memoryPeekAction struct {
	backend *memory.Backend
}

func (a *memoryPeekAction) Kind() store.ActionKind { return kindPeek }

func (a *memoryPeekAction) Do(_ context.Context, keys []string, args []float64) ([]float64, error) {
	key := keys[0]
	emissionInterval, capacity, now := args[0], args[1], args[2]

	a.backend.Lock()
	defer a.backend.Unlock()

	tat, ok := a.backend.Get(key)
	if !ok {
		tat = now
	}

	fillTimeForCapacity := capacity * emissionInterval
	allowAt := math.Max(now, tat) - fillTimeForCapacity
	elapsed := now - allowAt

	resetAfter := math.Max(0, tat-now)
	remaining := math.Floor(elapsed / emissionInterval)
	if remaining < 1 {
		return []float64{1, 0, resetAfter, -elapsed}, nil
	}
	return []float64{0, remaining, resetAfter, 0}, nil
}

var limitScript = goredis.NewScript(`
local emission_interval = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])

local jan_1_2025 = 1735660800
local now = redis.call("TIME")
now = (now[1] - jan_1_2025) + (now[2] / 1000000)

local last_tat = redis.call("GET", KEYS[1])
if not last_tat then
    last_tat = now
else
    last_tat = tonumber(last_tat)
end
last_tat = math.max(now, last_tat)

local fill_time_for_cost = cost * emission_interval
local fill_time_for_capacity = capacity * emission_interval
local tat = last_tat + fill_time_for_cost
local allow_at = tat - fill_time_for_capacity
local time_elapsed = now - allow_at

local limited = 0
local retry_after = 0
local reset_after = tat - now
local remaining = math.floor(time_elapsed / emission_interval)
if remaining < 0 then
    limited = 1
    retry_after = time_elapsed * -1
    reset_after = math.max(0, last_tat - now)
    remaining = math.min(capacity, cost + remaining)
else
    redis.call("SET", KEYS[1], tat, "EX", math.ceil(reset_after))
end

return {limited, remaining, tostring(reset_after), tostring(retry_after)}
`)

var peekScript = goredis.NewScript(`
local emission_interval = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])

local jan_1_2025 = 1735660800
local now = redis.call("TIME")
now = (now[1] - jan_1_2025) + (now[2] / 1000000)

local tat = redis.call("GET", KEYS[1])
if not tat then
    tat = now
else
    tat = tonumber(tat)
end

local fill_time_for_capacity = capacity * emission_interval
local allow_at = math.max(tat, now) - fill_time_for_capacity
local time_elapsed = now - allow_at

local limited = 0
local retry_after = 0
local reset_after = math.max(0, tat - now)
local remaining = math.floor(time_elapsed / emission_interval)
if remaining < 1 then
    limited = 1
    remaining = 0
    retry_after = time_elapsed * -1
end

return {limited, remaining, tostring(reset_after), tostring(retry_after)}
`)

type remoteLimitAction struct {
	kind   store.ActionKind
	client goredis.Cmdable
	script *goredis.Script
}

func (a *remoteLimitAction) Kind() store.ActionKind { return a.kind }

func (a *remoteLimitAction) Do(ctx context.Context, keys []string, args []float64) ([]float64, error) {
	// The remote script computes "now" itself from the server's TIME
	// command; any trailing host-clock "now" argument used by the memory
	// variant is simply not read here.
	scriptArgs := args
	if len(scriptArgs) > 0 {
		scriptArgs = scriptArgs[:len(scriptArgs)-1]
	}
	res, err := a.script.Run(ctx, a.client, keys, scriptutil.ToArgs(scriptArgs...)...).Result()
	if err != nil {
		return nil, fmt.Errorf("gcra script: %w", err)
	}
	return scriptutil.ToFloatSlice(res)
}

// Limiter implements limiter.Limiter for GCRA.
type Limiter struct {
	quota       limiter.Quota
	limitAction store.AtomicAction
	peekAction  store.AtomicAction
	clock       clock.Clock
}

// New constructs a GCRA Limiter against s.
func New(quota limiter.Quota, s store.Store) (limiter.Limiter, error) {
	limitAction, err := s.MakeAtomic(kindLimit)
	if err != nil {
		return nil, err
	}
	peekAction, err := s.MakeAtomic(kindPeek)
	if err != nil {
		return nil, err
	}
	return &Limiter{quota: quota, limitAction: limitAction, peekAction: peekAction, clock: clock.NewSystem()}, nil
}

func (l *Limiter) emissionIntervalAndCapacity() (emissionInterval float64, capacity float64) {
	emissionInterval = float64(l.quota.PeriodSeconds()) / float64(l.quota.Rate.Limit)
	capacity = float64(l.quota.EffectiveBurst())
	return
}

func (l *Limiter) Limit(ctx context.Context, key string, cost int) (limiter.Decision, error) {
	formattedKey := limiter.FormatKey(limiter.GCRA, key)
	emissionInterval, capacity := l.emissionIntervalAndCapacity()
	now := l.clock.MonotonicSeconds()

	res, err := l.limitAction.Do(ctx, []string{formattedKey}, []float64{emissionInterval, capacity, float64(cost), now})
	if err != nil {
		return limiter.Decision{}, err
	}
	limited, remaining, resetAfter, retryAfter := res[0] == 1, res[1], res[2], res[3]

	return limiter.Decision{
		Limited:    limited,
		Limit:      int(capacity),
		Remaining:  int(remaining),
		ResetAfter: secondsDuration(resetAfter),
		RetryAfter: secondsDuration(retryAfter),
	}, nil
}

func (l *Limiter) Peek(ctx context.Context, key string) (limiter.State, error) {
	formattedKey := limiter.FormatKey(limiter.GCRA, key)
	emissionInterval, capacity := l.emissionIntervalAndCapacity()
	now := l.clock.MonotonicSeconds()

	res, err := l.peekAction.Do(ctx, []string{formattedKey}, []float64{emissionInterval, capacity, now})
	if err != nil {
		return limiter.State{}, err
	}
	_, remaining, resetAfter := res[0], res[1], res[2]

	return limiter.State{
		Limit:      int(capacity),
		Remaining:  int(remaining),
		ResetAfter: secondsDuration(resetAfter),
	}, nil
}

func secondsDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}

var _ limiter.Limiter = (*Limiter)(nil)
