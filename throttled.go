// Package throttled is a rate-limiting core library: for each request
// identified by a caller-supplied key it decides whether the request may
// proceed now, must wait, or must be rejected.
//
// Five interchangeable algorithms (fixed window, sliding window, token
// bucket, leaking bucket, GCRA) run against two pluggable storage
// backends (in-process memory, or a remote key/value server with
// server-side scripting) through a single atomic-action abstraction, so
// every algorithm is correct under concurrency on either backend.
//
// Grounded on original_source/throttled/throttled.py for the façade
// shape (scoped-use, callable-wrap, retry loop), re-architected per the
// spec's Design Notes to use explicit registration (pkg/limiter.Register)
// instead of metaclass auto-registration.
package throttled

import (
	"context"
	"time"

	"github.com/chris-alexander-pop/throttled/pkg/hooks"
	"github.com/chris-alexander-pop/throttled/pkg/limiter"
	"github.com/chris-alexander-pop/throttled/pkg/store"
	"github.com/chris-alexander-pop/throttled/pkg/store/memory"

	_ "github.com/chris-alexander-pop/throttled/pkg/limiter/fixedwindow"
	_ "github.com/chris-alexander-pop/throttled/pkg/limiter/gcra"
	_ "github.com/chris-alexander-pop/throttled/pkg/limiter/leakybucket"
	_ "github.com/chris-alexander-pop/throttled/pkg/limiter/slidingwindow"
	_ "github.com/chris-alexander-pop/throttled/pkg/limiter/tokenbucket"
)

// DefaultQuota is used when no quota is configured: 60 requests per
// minute.
func DefaultQuota() limiter.Quota { return limiter.PerMin(60) }

// Option configures a Throttled instance at construction.
type Option func(*config)

type config struct {
	key       string
	algorithm limiter.AlgorithmID
	quota     limiter.Quota
	store     store.Store
	timeout   *time.Duration
	cost      int
	hooks     []hooks.Hook
}

// WithKey sets the default key used when Limit/Peek are called without
// one.
func WithKey(key string) Option { return func(c *config) { c.key = key } }

// WithAlgorithm selects the rate limiting algorithm. Defaults to
// token bucket.
func WithAlgorithm(id limiter.AlgorithmID) Option { return func(c *config) { c.algorithm = id } }

// WithQuota sets the quota. Defaults to 60 per minute.
func WithQuota(q limiter.Quota) Option { return func(c *config) { c.quota = q } }

// WithStore sets the backend. Defaults to an in-process memory store.
func WithStore(s store.Store) Option { return func(c *config) { c.store = s } }

// WithTimeout configures the façade to wait up to d beyond the first
// denial before giving up. d must be positive.
func WithTimeout(d time.Duration) Option { return func(c *config) { c.timeout = &d } }

// WithCost sets the default cost consumed by calls that don't override
// it. Defaults to 1.
func WithCost(cost int) Option { return func(c *config) { c.cost = cost } }

// WithHooks installs an ordered hook chain around every decision.
func WithHooks(hs ...hooks.Hook) Option { return func(c *config) { c.hooks = hs } }

// Throttled holds immutable configuration (key, quota, algorithm, store,
// timeout, hooks) and exposes Limit/Peek plus ergonomic adapters over
// them.
type Throttled struct {
	cfg     config
	limiter limiter.Limiter
}

// New constructs a Throttled façade. Construction fails with a SetUpError
// if the algorithm id is unknown or the store is missing a required
// atomic action.
func New(opts ...Option) (*Throttled, error) {
	cfg := config{
		algorithm: limiter.TokenBucket,
		quota:     DefaultQuota(),
		cost:      1,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.store == nil {
		s, err := memory.New(memory.DefaultMaxSize, nil)
		if err != nil {
			return nil, newSetUpError("construct default memory store", err)
		}
		cfg.store = s
	}
	if cfg.timeout != nil && *cfg.timeout <= 0 {
		return nil, newSetUpError("timeout must be positive", nil)
	}

	l, err := limiter.New(cfg.algorithm, cfg.quota, cfg.store)
	if err != nil {
		return nil, newSetUpError("construct limiter", err)
	}

	return &Throttled{cfg: cfg, limiter: l}, nil
}

func (t *Throttled) resolveKey(key string) (string, error) {
	if key != "" {
		return key, nil
	}
	if t.cfg.key != "" {
		return t.cfg.key, nil
	}
	return "", newDataError("no key supplied and no default key configured", nil)
}

func (t *Throttled) resolveCost(cost int) int {
	if cost > 0 {
		return cost
	}
	return t.cfg.cost
}

func (t *Throttled) resolveTimeout(timeout *time.Duration) (*time.Duration, error) {
	if timeout != nil {
		if *timeout <= 0 {
			return nil, newDataError("timeout must be positive", nil)
		}
		return timeout, nil
	}
	return t.cfg.timeout, nil
}

// Limit resolves the effective key/cost/timeout, builds the hook chain
// once, and runs the retry loop inside it: a denial that still has
// enough remaining timeout budget waits for retry_after and tries again;
// one whose retry_after alone exceeds the budget returns immediately.
func (t *Throttled) Limit(ctx context.Context, key string, cost int, timeout *time.Duration) (limiter.Decision, error) {
	effectiveKey, err := t.resolveKey(key)
	if err != nil {
		return limiter.Decision{}, err
	}
	effectiveCost := t.resolveCost(cost)
	effectiveTimeout, err := t.resolveTimeout(timeout)
	if err != nil {
		return limiter.Decision{}, err
	}

	hookCtx := hooks.Context{
		Key:       effectiveKey,
		Cost:      effectiveCost,
		Algorithm: t.cfg.algorithm,
		StoreType: string(t.cfg.store.Type()),
	}

	doLimit := func() (limiter.Decision, error) {
		return t.retryLoop(ctx, effectiveKey, effectiveCost, effectiveTimeout)
	}

	chained := hooks.BuildChain(toHookSlice(t.cfg.hooks), doLimit, hookCtx)
	return chained()
}

func (t *Throttled) retryLoop(ctx context.Context, key string, cost int, timeout *time.Duration) (limiter.Decision, error) {
	var budget time.Duration
	if timeout != nil {
		budget = *timeout
	}

	for {
		decision, err := t.limiter.Limit(ctx, key, cost)
		if err != nil {
			return limiter.Decision{}, err
		}
		if !decision.Limited {
			return decision, nil
		}
		if timeout == nil {
			return decision, nil
		}
		if decision.RetryAfter > budget {
			return decision, nil
		}

		select {
		case <-ctx.Done():
			return decision, ctx.Err()
		case <-time.After(decision.RetryAfter):
		}
		budget -= decision.RetryAfter
	}
}

// Peek reports the current state for key without mutating it.
func (t *Throttled) Peek(ctx context.Context, key string) (limiter.State, error) {
	effectiveKey, err := t.resolveKey(key)
	if err != nil {
		return limiter.State{}, err
	}
	return t.limiter.Peek(ctx, effectiveKey)
}

// Use evaluates Limit with the configured key/cost/timeout and returns a
// LimitedError carrying the full Decision on denial. It performs no
// release on success — rate limits are not resources to release.
func (t *Throttled) Use(ctx context.Context) error {
	decision, err := t.Limit(ctx, "", 0, nil)
	if err != nil {
		return err
	}
	if decision.Limited {
		return newLimitedError(decision)
	}
	return nil
}

// Wrap returns a function that evaluates Limit before invoking fn,
// raising LimitedError instead of calling fn on denial.
func (t *Throttled) Wrap(ctx context.Context, fn func() error) func() error {
	return func() error {
		if err := t.Use(ctx); err != nil {
			return err
		}
		return fn()
	}
}

func toHookSlice(hs []hooks.Hook) []hooks.Hook {
	if hs == nil {
		return nil
	}
	out := make([]hooks.Hook, len(hs))
	copy(out, hs)
	return out
}
