// Package leakybucket implements the leaking-bucket algorithm (§4.3.4): a
// bucket of used capacity that drains at a constant rate; a request is
// admitted only if there is enough empty capacity left for its cost.
//
// Grounded on the same HSET field-layout convention as
// original_source/throttled/rate_limter/token_bucket.py (tokens,
// last_refreshed), adapted to leaking-bucket semantics where "tokens"
// tracks used rather than remaining capacity. retry_after uses the
// computed ceil((cost-(capacity-tokens))/rate) rather than a literal 1.
package leakybucket

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

const kindLimit store.ActionKind = "leaking_bucket.limit"

func init() {
	store.RegisterAction(store.TypeMemory, kindLimit, func(s store.Store) (store.AtomicAction, error) {
		ms := s.(*memory.Store)
		return &memoryLimitAction{backend: ms.Backend()}, nil
	})
	store.RegisterAction(store.TypeRemote, kindLimit, func(s store.Store) (store.AtomicAction, error) {
		rs := s.(*remote.Store)
		return &remoteLimitAction{client: rs.Client(), script: limitScript}, nil
	})
	limiter.Register(limiter.LeakingBucket, New)
}

type memoryLimitAction struct {
	backend *memory.Backend
}

func (a *memoryLimitAction) Kind() store.ActionKind { return kindLimit }

func (a *memoryLimitAction) Do(_ context.Context, keys []string, args []float64) ([]float64, error) {
	key := keys[0]
	rate, capacity, cost, now := args[0], args[1], args[2], args[3]

	a.backend.Lock()
	defer a.backend.Unlock()

	fields := a.backend.HGetAll(key)
	lastTokens := 0.0
	if v, ok := fields["tokens"]; ok {
		lastTokens = v
	}
	lastRefreshed := now
	if v, ok := fields["last_refreshed"]; ok {
		lastRefreshed = v
	}

	elapsed := math.Max(0, now-lastRefreshed)
	tokens := math.Max(0, lastTokens-math.Floor(elapsed*rate))

	if tokens+cost > capacity {
		return []float64{1, tokens}, nil
	}

	tokens += cost
	a.backend.HSet(key, "", 0, false, map[string]float64{"tokens": tokens, "last_refreshed": now})
	fillTime := capacity / rate
	a.backend.Expire(key, int64(math.Ceil(2*fillTime)))

	return []float64{0, tokens}, nil
}

var limitScript = goredis.NewScript(`
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local last_tokens = 0
local last_refreshed = now
local bucket = redis.call("HMGET", KEYS[1], "tokens", "last_refreshed")

if bucket[1] ~= false then
    last_tokens = tonumber(bucket[1])
    last_refreshed = tonumber(bucket[2])
end

local time_elapsed = math.max(0, now - last_refreshed)
local tokens = math.max(0, last_tokens - math.floor(time_elapsed * rate))

if tokens + cost > capacity then
    return {1, tokens}
end

tokens = tokens + cost
local fill_time = capacity / rate
redis.call("HSET", KEYS[1], "tokens", tokens, "last_refreshed", now)
redis.call("EXPIRE", KEYS[1], math.floor(2 * fill_time))

return {0, tokens}
`)

type remoteLimitAction struct {
	client goredis.Cmdable
	script *goredis.Script
}

func (a *remoteLimitAction) Kind() store.ActionKind { return kindLimit }

func (a *remoteLimitAction) Do(ctx context.Context, keys []string, args []float64) ([]float64, error) {
	res, err := a.script.Run(ctx, a.client, keys, scriptutil.ToArgs(args...)...).Result()
	if err != nil {
		return nil, fmt.Errorf("leaking bucket script: %w", err)
	}
	return scriptutil.ToFloatSlice(res)
}

// Limiter implements limiter.Limiter for the leaking-bucket algorithm.
type Limiter struct {
	quota  limiter.Quota
	store  store.Store
	action store.AtomicAction
	clock  clock.Clock
}

// New constructs a leaking-bucket Limiter against s.
func New(quota limiter.Quota, s store.Store) (limiter.Limiter, error) {
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
	formattedKey := limiter.FormatKey(limiter.LeakingBucket, key)
	rate, capacity := l.rateAndCapacity()
	now := l.clock.NowSeconds()

	res, err := l.action.Do(ctx, []string{formattedKey}, []float64{rate, capacity, float64(cost), now})
	if err != nil {
		return limiter.Decision{}, err
	}
	limited, tokens := res[0] == 1, res[1]

	d := limiter.Decision{
		Limited:    limited,
		Limit:      int(capacity),
		Remaining:  int(capacity - tokens),
		ResetAfter: time.Duration(math.Ceil(tokens/rate)) * time.Second,
	}
	if limited {
		d.RetryAfter = time.Duration(math.Ceil((float64(cost)-(capacity-tokens))/rate)) * time.Second
	}
	return d, nil
}

func (l *Limiter) Peek(ctx context.Context, key string) (limiter.State, error) {
	formattedKey := limiter.FormatKey(limiter.LeakingBucket, key)
	rate, capacity := l.rateAndCapacity()
	now := l.clock.NowSeconds()

	fields, err := l.store.HGetAll(ctx, formattedKey)
	if err != nil {
		return limiter.State{}, err
	}
	lastTokens := 0.0
	if v, ok := fields["tokens"]; ok {
		lastTokens = v
	}
	lastRefreshed := now
	if v, ok := fields["last_refreshed"]; ok {
		lastRefreshed = v
	}

	elapsed := math.Max(0, now-lastRefreshed)
	tokens := math.Max(0, lastTokens-math.Floor(elapsed*rate))

	return limiter.State{
		Limit:      int(capacity),
		Remaining:  int(capacity - tokens),
		ResetAfter: time.Duration(math.Ceil(tokens/rate)) * time.Second,
	}, nil
}

var _ limiter.Limiter = (*Limiter)(nil)
