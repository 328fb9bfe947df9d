package throttled

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chris-alexander-pop/throttled/pkg/hooks"
	"github.com/chris-alexander-pop/throttled/pkg/limiter"
)

// S4: token bucket per_sec(1), timeout=2. Call 1 admitted immediately.
// Call 2 initially denied with retry_after≈1; the façade waits ~1s and
// returns admitted. Total wall-clock for call 2 ≈ 1s.
func TestThrottled_S4_WaitsForRetryAfter(t *testing.T) {
	th, err := New(
		WithAlgorithm(limiter.TokenBucket),
		WithQuota(limiter.PerSec(1)),
		WithTimeout(2*time.Second),
		WithKey("u1"),
	)
	require.NoError(t, err)
	ctx := context.Background()

	d, err := th.Limit(ctx, "", 0, nil)
	require.NoError(t, err)
	assert.False(t, d.Limited)

	start := time.Now()
	d, err = th.Limit(ctx, "", 0, nil)
	elapsed := time.Since(start)
	require.NoError(t, err)
	assert.False(t, d.Limited)
	assert.GreaterOrEqual(t, elapsed, 900*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)
}

func TestThrottled_NoTimeoutReturnsImmediately(t *testing.T) {
	th, err := New(
		WithAlgorithm(limiter.TokenBucket),
		WithQuota(limiter.PerSec(1)),
		WithKey("u1"),
	)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = th.Limit(ctx, "", 0, nil)
	require.NoError(t, err)

	start := time.Now()
	d, err := th.Limit(ctx, "", 0, nil)
	elapsed := time.Since(start)
	require.NoError(t, err)
	assert.True(t, d.Limited)
	assert.Less(t, elapsed, 100*time.Millisecond)
}

func TestThrottled_MissingKeyIsDataError(t *testing.T) {
	th, err := New()
	require.NoError(t, err)

	_, err = th.Limit(context.Background(), "", 0, nil)
	var dataErr *DataError
	assert.True(t, errors.As(err, &dataErr))
}

func TestThrottled_NonPositiveTimeoutIsDataError(t *testing.T) {
	th, err := New(WithKey("u1"))
	require.NoError(t, err)

	bad := -time.Second
	_, err = th.Limit(context.Background(), "", 0, &bad)
	var dataErr *DataError
	assert.True(t, errors.As(err, &dataErr))
}

func TestThrottled_ConstructionRejectsNonPositiveTimeoutOption(t *testing.T) {
	_, err := New(WithTimeout(0))
	var setUpErr *SetUpError
	assert.True(t, errors.As(err, &setUpErr))
}

func TestThrottled_ConstructionRejectsUnknownAlgorithm(t *testing.T) {
	_, err := New(WithAlgorithm("nonexistent"))
	var setUpErr *SetUpError
	assert.True(t, errors.As(err, &setUpErr))
}

func TestThrottled_UseRaisesLimitedErrorCarryingDecision(t *testing.T) {
	th, err := New(
		WithAlgorithm(limiter.FixedWindow),
		WithQuota(limiter.PerMin(1)),
		WithKey("u1"),
	)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, th.Use(ctx))

	err = th.Use(ctx)
	var limitedErr *LimitedError
	require.True(t, errors.As(err, &limitedErr))
	assert.True(t, limitedErr.Decision.Limited)
}

func TestThrottled_WrapSkipsFnOnDenial(t *testing.T) {
	th, err := New(
		WithAlgorithm(limiter.FixedWindow),
		WithQuota(limiter.PerMin(1)),
		WithKey("u1"),
	)
	require.NoError(t, err)
	ctx := context.Background()

	calls := 0
	wrapped := th.Wrap(ctx, func() error {
		calls++
		return nil
	})

	require.NoError(t, wrapped())
	assert.Equal(t, 1, calls)

	err = wrapped()
	var limitedErr *LimitedError
	assert.True(t, errors.As(err, &limitedErr))
	assert.Equal(t, 1, calls)
}

// Hooks wrap the entire retry loop, not each individual attempt: a
// call whose first attempt is denied and then waits for retry_after
// still invokes the chain exactly once.
func TestThrottled_HookChainCalledOncePerLimitCall(t *testing.T) {
	invocations := 0
	countingHook := hooks.HookFunc(func(next hooks.Next, ctx hooks.Context) (limiter.Decision, error) {
		invocations++
		return next()
	})

	th, err := New(
		WithAlgorithm(limiter.TokenBucket),
		WithQuota(limiter.PerSec(1)),
		WithTimeout(2*time.Second),
		WithKey("u1"),
		WithHooks(countingHook),
	)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = th.Limit(ctx, "", 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, invocations)

	_, err = th.Limit(ctx, "", 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, invocations)
}
