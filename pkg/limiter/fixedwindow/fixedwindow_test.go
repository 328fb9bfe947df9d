package fixedwindow

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

// S1: per_min(limit=5). c1..c6 each cost 1 within the same period.
func TestFixedWindow_S1(t *testing.T) {
	clk := &fakeClock{now: 0}
	l := newTestLimiter(t, limiter.PerMin(5), clk)
	ctx := context.Background()

	wantRemaining := []int{4, 3, 2, 1, 0}
	for i, want := range wantRemaining {
		d, err := l.Limit(ctx, "u1", 1)
		require.NoError(t, err)
		assert.Falsef(t, d.Limited, "call %d should be admitted", i+1)
		assert.Equal(t, want, d.Remaining)
	}

	d, err := l.Limit(ctx, "u1", 1)
	require.NoError(t, err)
	assert.True(t, d.Limited)
	assert.Equal(t, 0, d.Remaining)
	assert.InDelta(t, 60.0, d.RetryAfter.Seconds(), 1)
}

func TestFixedWindow_PeekDoesNotMutate(t *testing.T) {
	clk := &fakeClock{now: 0}
	l := newTestLimiter(t, limiter.PerMin(5), clk)
	ctx := context.Background()

	_, err := l.Limit(ctx, "u1", 2)
	require.NoError(t, err)

	s1, err := l.Peek(ctx, "u1")
	require.NoError(t, err)
	s2, err := l.Peek(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, s1, s2)
	assert.Equal(t, 3, s1.Remaining)
}

func TestFixedWindow_NewPeriodResets(t *testing.T) {
	clk := &fakeClock{now: 0}
	l := newTestLimiter(t, limiter.PerSec(2), clk)
	ctx := context.Background()

	d, err := l.Limit(ctx, "u1", 2)
	require.NoError(t, err)
	assert.False(t, d.Limited)

	d, err = l.Limit(ctx, "u1", 1)
	require.NoError(t, err)
	assert.True(t, d.Limited)

	clk.now += 1
	d, err = l.Limit(ctx, "u1", 1)
	require.NoError(t, err)
	assert.False(t, d.Limited)
}

var _ limiter.Limiter = (*Limiter)(nil)
