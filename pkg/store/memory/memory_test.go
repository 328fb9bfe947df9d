package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now float64 }

func (c *fakeClock) NowSeconds() float64      { return c.now }
func (c *fakeClock) NowMillis() int64         { return int64(c.now * 1000) }
func (c *fakeClock) MonotonicSeconds() float64 { return c.now }

func TestStore_SetGetExpire(t *testing.T) {
	s, err := New(4, nil)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", 42, 10))
	v, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 42.0, v)

	ttl, err := s.TTL(ctx, "k")
	require.NoError(t, err)
	assert.InDelta(t, 10, ttl, 1)

	absentTTL, err := s.TTL(ctx, "missing")
	require.NoError(t, err)
	assert.EqualValues(t, -2, absentTTL)
}

func TestStore_SetRejectsNonPositiveTTL(t *testing.T) {
	s, err := New(4, nil)
	require.NoError(t, err)
	err = s.Set(context.Background(), "k", 1, 0)
	assert.Error(t, err)
}

func TestStore_HSetRequiresAtLeastOneField(t *testing.T) {
	s, err := New(4, nil)
	require.NoError(t, err)
	err = s.HSet(context.Background(), "k", "", 0, nil)
	assert.Error(t, err)
}

// S6: memory eviction. max_size=N; insert N+1 distinct keys; first
// inserted key no longer exists; others remain.
func TestBackend_EvictsLeastRecentlyUsed(t *testing.T) {
	clk := &fakeClock{now: 1000}
	b, err := NewRawBackend(2, clk)
	require.NoError(t, err)

	b.Set("a", 1, 100)
	b.Set("b", 2, 100)
	b.Set("c", 3, 100)

	assert.False(t, b.Exists("a"))
	assert.True(t, b.Exists("b"))
	assert.True(t, b.Exists("c"))
}

func TestBackend_GetPromotesToMRU(t *testing.T) {
	clk := &fakeClock{now: 1000}
	b, err := NewRawBackend(2, clk)
	require.NoError(t, err)

	b.Set("a", 1, 100)
	b.Set("b", 2, 100)
	b.Get("a") // a is now MRU, b is LRU
	b.Set("c", 3, 100)

	assert.True(t, b.Exists("a"))
	assert.False(t, b.Exists("b"))
	assert.True(t, b.Exists("c"))
}

func TestBackend_LazyExpiry(t *testing.T) {
	clk := &fakeClock{now: 1000}
	b, err := NewRawBackend(4, clk)
	require.NoError(t, err)

	b.Set("k", 1, 5)
	clk.now += 6
	assert.False(t, b.Exists("k"))
}

func TestBackend_UpdateValuePreservesTTL(t *testing.T) {
	clk := &fakeClock{now: 1000}
	b, err := NewRawBackend(4, clk)
	require.NoError(t, err)

	b.Set("k", 1, 100)
	ttlBefore := b.TTL("k")
	clk.now += 10
	b.UpdateValue("k", 2)
	v, ok := b.Get("k")
	require.True(t, ok)
	assert.Equal(t, 2.0, v)
	assert.Less(t, b.TTL("k"), ttlBefore)
}

func TestNew_RejectsNonPositiveMaxSize(t *testing.T) {
	_, err := New(0, nil)
	assert.Error(t, err)
}
