// Package asyncthrottle is the cooperative-async twin of the root
// throttled package (§4.7). Its retry loop suspends with a ctx-aware
// timer instead of blocking, so a caller sharing a single-threaded event
// loop never stalls other tasks while waiting out a retry_after.
//
// Deliberately only the default algorithm (token bucket) has an async
// port today; see DESIGN.md for why the remaining four are left as a
// mechanical follow-up rather than built out here.
package asyncthrottle

import (
	"context"
	"time"

	pkgerrors "github.com/chris-alexander-pop/throttled/pkg/errors"
	"github.com/chris-alexander-pop/throttled/pkg/limiter"

	"github.com/chris-alexander-pop/throttled/pkg/asynclimiter"
	"github.com/chris-alexander-pop/throttled/pkg/asyncstore"
	"github.com/chris-alexander-pop/throttled/pkg/asyncstore/asyncmemory"

	_ "github.com/chris-alexander-pop/throttled/pkg/asynclimiter/tokenbucket"
)

// Option configures an AsyncThrottled instance at construction.
type Option func(*config)

type config struct {
	key       string
	algorithm limiter.AlgorithmID
	quota     limiter.Quota
	store     asyncstore.AsyncStore
	timeout   *time.Duration
	cost      int
}

func WithKey(key string) Option             { return func(c *config) { c.key = key } }
func WithAlgorithm(id limiter.AlgorithmID) Option {
	return func(c *config) { c.algorithm = id }
}
func WithQuota(q limiter.Quota) Option            { return func(c *config) { c.quota = q } }
func WithStore(s asyncstore.AsyncStore) Option    { return func(c *config) { c.store = s } }
func WithTimeout(d time.Duration) Option          { return func(c *config) { c.timeout = &d } }
func WithCost(cost int) Option                    { return func(c *config) { c.cost = cost } }

// AsyncThrottled is the cooperative-async façade. A given instance must
// never share its store with a sync Throttled façade.
type AsyncThrottled struct {
	cfg     config
	limiter asynclimiter.Limiter
}

// New constructs an AsyncThrottled façade.
func New(opts ...Option) (*AsyncThrottled, error) {
	cfg := config{
		algorithm: limiter.TokenBucket,
		quota:     limiter.PerMin(60),
		cost:      1,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.store == nil {
		s, err := asyncmemory.New(asyncmemory.DefaultMaxSize, nil)
		if err != nil {
			return nil, pkgerrors.SetUp("construct default async memory store", err)
		}
		cfg.store = s
	}
	if cfg.timeout != nil && *cfg.timeout <= 0 {
		return nil, pkgerrors.SetUp("timeout must be positive", nil)
	}

	l, err := asynclimiter.New(cfg.algorithm, cfg.quota, cfg.store)
	if err != nil {
		return nil, pkgerrors.SetUp("construct async limiter", err)
	}

	return &AsyncThrottled{cfg: cfg, limiter: l}, nil
}

func (t *AsyncThrottled) resolveKey(key string) (string, error) {
	if key != "" {
		return key, nil
	}
	if t.cfg.key != "" {
		return t.cfg.key, nil
	}
	return "", pkgerrors.Data("no key supplied and no default key configured", nil)
}

func (t *AsyncThrottled) resolveCost(cost int) int {
	if cost > 0 {
		return cost
	}
	return t.cfg.cost
}

// Limit runs the same resolve+retry algorithm as the sync façade's Limit,
// except the wait between retries suspends cooperatively via ctx/timer
// rather than blocking an OS thread.
func (t *AsyncThrottled) Limit(ctx context.Context, key string, cost int, timeout *time.Duration) (limiter.Decision, error) {
	effectiveKey, err := t.resolveKey(key)
	if err != nil {
		return limiter.Decision{}, err
	}
	effectiveCost := t.resolveCost(cost)
	effectiveTimeout := t.cfg.timeout
	if timeout != nil {
		if *timeout <= 0 {
			return limiter.Decision{}, pkgerrors.Data("timeout must be positive", nil)
		}
		effectiveTimeout = timeout
	}

	var budget time.Duration
	if effectiveTimeout != nil {
		budget = *effectiveTimeout
	}

	for {
		decision, err := t.limiter.Limit(ctx, effectiveKey, effectiveCost)
		if err != nil {
			return limiter.Decision{}, err
		}
		if !decision.Limited {
			return decision, nil
		}
		if effectiveTimeout == nil {
			return decision, nil
		}
		if decision.RetryAfter > budget {
			return decision, nil
		}

		timer := time.NewTimer(decision.RetryAfter)
		select {
		case <-ctx.Done():
			timer.Stop()
			return decision, ctx.Err()
		case <-timer.C:
		}
		budget -= decision.RetryAfter
	}
}

// Peek reports the current state for key without mutating it.
func (t *AsyncThrottled) Peek(ctx context.Context, key string) (limiter.State, error) {
	effectiveKey, err := t.resolveKey(key)
	if err != nil {
		return limiter.State{}, err
	}
	return t.limiter.Peek(ctx, effectiveKey)
}
