package tokenbucket

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

// S2: per_sec(limit=60, burst=10).
func TestTokenBucket_S2(t *testing.T) {
	clk := &fakeClock{now: 0}
	l := newTestLimiter(t, limiter.PerSec(60, 10), clk)
	ctx := context.Background()

	d, err := l.Limit(ctx, "u1", 1)
	require.NoError(t, err)
	assert.False(t, d.Limited)
	assert.Equal(t, 9, d.Remaining)

	clk.now += 1
	d, err = l.Limit(ctx, "u1", 5)
	require.NoError(t, err)
	assert.False(t, d.Limited)
	assert.Equal(t, 5, d.Remaining)

	d, err = l.Limit(ctx, "u1", 5)
	require.NoError(t, err)
	assert.False(t, d.Limited)
	assert.Equal(t, 0, d.Remaining)

	d, err = l.Limit(ctx, "u1", 1)
	require.NoError(t, err)
	assert.True(t, d.Limited)
	assert.InDelta(t, 1.0, d.RetryAfter.Seconds(), 0.01)
}

func TestTokenBucket_BurstContainment(t *testing.T) {
	clk := &fakeClock{now: 0}
	l := newTestLimiter(t, limiter.PerSec(10, 3), clk)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := l.Limit(ctx, "u1", 1)
		require.NoError(t, err)
		assert.Falsef(t, d.Limited, "call %d within burst should admit", i+1)
	}
	d, err := l.Limit(ctx, "u1", 1)
	require.NoError(t, err)
	assert.True(t, d.Limited)
}

func TestTokenBucket_PeekPurity(t *testing.T) {
	clk := &fakeClock{now: 0}
	l := newTestLimiter(t, limiter.PerSec(60, 10), clk)
	ctx := context.Background()

	_, err := l.Limit(ctx, "u1", 3)
	require.NoError(t, err)

	before, err := l.Peek(ctx, "u1")
	require.NoError(t, err)
	after, err := l.Peek(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, before, after)

	d, err := l.Limit(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Equal(t, before.Remaining, d.Remaining)
}

var _ limiter.Limiter = (*Limiter)(nil)
