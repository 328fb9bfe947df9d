package asyncmemory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_SetGetExpire(t *testing.T) {
	s, err := New(16, nil)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", 5, 60))

	v, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 5.0, v)

	exists, err := s.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, exists)

	ttl, err := s.TTL(ctx, "k")
	require.NoError(t, err)
	assert.Greater(t, ttl, int64(0))

	require.NoError(t, s.Expire(ctx, "k", 1))
}

func TestStore_HSetRequiresAtLeastOneField(t *testing.T) {
	s, err := New(16, nil)
	require.NoError(t, err)

	err = s.HSet(context.Background(), "k", "", 0, nil)
	assert.Error(t, err)
}

func TestStore_RejectsNonPositiveMaxSize(t *testing.T) {
	_, err := New(0, nil)
	assert.Error(t, err)
}

func TestStore_AcquireRespectsContextCancellation(t *testing.T) {
	s, err := New(16, nil)
	require.NoError(t, err)

	require.NoError(t, s.Backend().Acquire(context.Background()))
	defer s.Backend().Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, _, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
