//go:build integration

// Backend equivalence (property #8): the memory and remote backends must
// produce identical (limited, remaining) sequences given identical
// clock/cost/quota inputs. Run with: go test -tags=integration ./pkg/store/remote/...
package remote_test

import (
	"context"
	"testing"

	goredis "github.com/redis/go-redis/v9"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chris-alexander-pop/throttled/pkg/limiter"
	_ "github.com/chris-alexander-pop/throttled/pkg/limiter/tokenbucket"
	"github.com/chris-alexander-pop/throttled/pkg/store/memory"
	"github.com/chris-alexander-pop/throttled/pkg/store/remote"
)

func TestTokenBucket_MemoryAndRemoteAgree(t *testing.T) {
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	connStr, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	opts, err := goredis.ParseURL(connStr)
	require.NoError(t, err)
	client := goredis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })

	remoteStore := remote.NewFromClient(client)
	memStore, err := memory.New(16, nil)
	require.NoError(t, err)

	quota := limiter.PerSec(10, 5)
	remoteLimiter, err := limiter.New(limiter.TokenBucket, quota, remoteStore)
	require.NoError(t, err)
	memLimiter, err := limiter.New(limiter.TokenBucket, quota, memStore)
	require.NoError(t, err)

	costs := []int{1, 1, 2, 1, 3, 1, 1}
	for i, cost := range costs {
		remoteDecision, err := remoteLimiter.Limit(ctx, "equivalence", cost)
		require.NoError(t, err)
		memDecision, err := memLimiter.Limit(ctx, "equivalence", cost)
		require.NoError(t, err)

		assert.Equalf(t, memDecision.Limited, remoteDecision.Limited, "call %d: limited mismatch", i)
		assert.Equalf(t, memDecision.Remaining, remoteDecision.Remaining, "call %d: remaining mismatch", i)
	}
}
