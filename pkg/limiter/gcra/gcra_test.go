package gcra

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chris-alexander-pop/throttled/pkg/limiter"
	"github.com/chris-alexander-pop/throttled/pkg/store/memory"
)

type fakeClock struct{ now float64 }

func (c *fakeClock) NowSeconds() float64       { return c.now }
func (c *fakeClock) NowMillis() int64          { return int64(c.now * 1000) }
func (c *fakeClock) MonotonicSeconds() float64 { return c.now }

func newTestLimiter(t *testing.T, quota limiter.Quota, clk *fakeClock) *Limiter {
	t.Helper()
	s, err := memory.New(16, clk)
	require.NoError(t, err)
	l, err := New(quota, s)
	require.NoError(t, err)
	lim := l.(*Limiter)
	lim.clock = clk
	return lim
}

// S3: per_min(limit=60, burst=10). First call admitted, remaining=9,
// reset_after≈1. 9 more cost-1 calls admitted. 11th call denied,
// retry_after≈1, reset_after≈10.
func TestGCRA_S3(t *testing.T) {
	clk := &fakeClock{now: 1000}
	l := newTestLimiter(t, limiter.PerMin(60, 10), clk)
	ctx := context.Background()

	d, err := l.Limit(ctx, "u1", 1)
	require.NoError(t, err)
	assert.False(t, d.Limited)
	assert.Equal(t, 9, d.Remaining)
	assert.InDelta(t, 1.0, d.ResetAfter.Seconds(), 0.01)

	for i := 2; i <= 10; i++ {
		d, err := l.Limit(ctx, "u1", 1)
		require.NoError(t, err)
		assert.Falsef(t, d.Limited, "call %d should be admitted", i)
		assert.Equal(t, 10-i, d.Remaining)
	}

	d, err = l.Limit(ctx, "u1", 1)
	require.NoError(t, err)
	assert.True(t, d.Limited)
	assert.InDelta(t, 1.0, d.RetryAfter.Seconds(), 0.01)
	assert.InDelta(t, 10.0, d.ResetAfter.Seconds(), 0.01)
}

func TestGCRA_PeekDoesNotMutate(t *testing.T) {
	clk := &fakeClock{now: 1000}
	l := newTestLimiter(t, limiter.PerMin(60, 10), clk)
	ctx := context.Background()

	_, err := l.Limit(ctx, "u1", 3)
	require.NoError(t, err)

	s1, err := l.Peek(ctx, "u1")
	require.NoError(t, err)
	s2, err := l.Peek(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, s1, s2)
}

var _ limiter.Limiter = (*Limiter)(nil)
