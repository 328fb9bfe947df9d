// Package tokenbucket implements the token-bucket algorithm (§4.3.3).
//
// Grounded on original_source/throttled/rate_limter/token_bucket.py for
// the exact refill/consume formula and HSET field layout
// (tokens, last_refreshed), and on
// pkg/api/ratelimit/adapters/redis/redis.go for the Lua registration
// style.
package tokenbucket

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

const kindLimit store.ActionKind = "token_bucket.limit"

func init() {
	store.RegisterAction(store.TypeMemory, kindLimit, func(s store.Store) (store.AtomicAction, error) {
		ms := s.(*memory.Store)
		return &memoryLimitAction{backend: ms.Backend()}, nil
	})
	store.RegisterAction(store.TypeRemote, kindLimit, func(s store.Store) (store.AtomicAction, error) {
		rs := s.(*remote.Store)
		return &remoteLimitAction{client: rs.Client(), script: limitScript}, nil
	})
	limiter.Register(limiter.TokenBucket, New)
}

// memoryLimitAction implements the refill-then-consume step against the
// memory backend's hash fields.
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

local last_tokens = capacity
local last_refreshed = now
local bucket = redis.call("HMGET", KEYS[1], "tokens", "last_refreshed")

if bucket[1] ~= false then
    last_tokens = tonumber(bucket[1])
    last_refreshed = tonumber(bucket[2])
end

local time_elapsed = math.max(0, now - last_refreshed)
local tokens = math.min(capacity, last_tokens + math.floor(time_elapsed * rate))

if cost > tokens then
    return {1, tokens}
end

tokens = tokens - cost
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
		return nil, fmt.Errorf("token bucket script: %w", err)
	}
	return scriptutil.ToFloatSlice(res)
}

// Limiter implements limiter.Limiter for the token-bucket algorithm.
type Limiter struct {
	quota  limiter.Quota
	store  store.Store
	action store.AtomicAction
	clock  clock.Clock
}

// New constructs a token-bucket Limiter against s.
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

var _ limiter.Limiter = (*Limiter)(nil)
