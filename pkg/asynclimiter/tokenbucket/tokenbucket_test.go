package tokenbucket

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chris-alexander-pop/throttled/pkg/asyncstore/asyncmemory"
	"github.com/chris-alexander-pop/throttled/pkg/limiter"
)

type fakeClock struct{ now float64 }

func (c *fakeClock) NowSeconds() float64       { return c.now }
func (c *fakeClock) NowMillis() int64          { return int64(c.now * 1000) }
func (c *fakeClock) MonotonicSeconds() float64 { return c.now }

func newTestLimiter(t *testing.T, quota limiter.Quota, clk *fakeClock) *Limiter {
	t.Helper()
	s, err := asyncmemory.New(16, clk)
	require.NoError(t, err)
	l, err := New(quota, s)
	require.NoError(t, err)
	lim := l.(*Limiter)
	lim.clock = clk
	return lim
}

func TestAsyncTokenBucket_RefillAndDeny(t *testing.T) {
	clk := &fakeClock{now: 0}
	l := newTestLimiter(t, limiter.PerSec(1), clk)
	ctx := context.Background()

	d, err := l.Limit(ctx, "u1", 1)
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

func TestAsyncTokenBucket_PeekDoesNotMutate(t *testing.T) {
	clk := &fakeClock{now: 0}
	l := newTestLimiter(t, limiter.PerSec(60, 10), clk)
	ctx := context.Background()

	_, err := l.Limit(ctx, "u1", 3)
	require.NoError(t, err)

	s1, err := l.Peek(ctx, "u1")
	require.NoError(t, err)
	s2, err := l.Peek(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, s1, s2)
}

func TestAsyncTokenBucket_RespectsContextCancellation(t *testing.T) {
	clk := &fakeClock{now: 0}
	l := newTestLimiter(t, limiter.PerSec(1), clk)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := l.Limit(ctx, "u1", 1)
	assert.ErrorIs(t, err, context.Canceled)
}
