package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/ayo6706/marketplace-wallet/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func redisCache(t *testing.T) *BalanceCache {
	t.Helper()
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	client, err := Connect(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return NewBalanceCache(client, time.Minute)
}

func TestBalanceCacheRoundTrip(t *testing.T) {
	c := redisCache(t)
	ctx := context.Background()
	wallet := "wallet-" + uuid.NewString()

	_, ok, err := c.Get(ctx, wallet)
	require.NoError(t, err)
	require.False(t, ok)

	want := domain.Balances{Available: 4_000, Pending: 900, Reserved: 5_000}
	stored, err := c.Set(ctx, wallet, 0, want)
	require.NoError(t, err)
	require.True(t, stored)

	got, ok, err := c.Get(ctx, wallet)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, want, got)

	require.NoError(t, c.Delete(ctx, wallet))
	_, ok, err = c.Get(ctx, wallet)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestBalanceCacheRejectsStaleGeneration(t *testing.T) {
	c := redisCache(t)
	ctx := context.Background()
	wallet := "wallet-" + uuid.NewString()

	gen, err := c.Generation(ctx, wallet)
	require.NoError(t, err)
	require.Zero(t, gen)

	require.NoError(t, c.Delete(ctx, wallet))
	stored, err := c.Set(ctx, wallet, gen, domain.Balances{Pending: 9_000})
	require.NoError(t, err)
	require.False(t, stored)
	_, ok, err := c.Get(ctx, wallet)
	require.NoError(t, err)
	require.False(t, ok)

	gen, err = c.Generation(ctx, wallet)
	require.NoError(t, err)
	require.Equal(t, int64(1), gen)
	stored, err = c.Set(ctx, wallet, gen, domain.Balances{Pending: 18_000})
	require.NoError(t, err)
	require.True(t, stored)
	got, ok, err := c.Get(ctx, wallet)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(18_000), got.Pending)
}

func TestBalanceCacheCorruptEntryIsMiss(t *testing.T) {
	c := redisCache(t)
	ctx := context.Background()
	wallet := "wallet-" + uuid.NewString()

	require.NoError(t, c.client.Set(ctx, balanceKey(wallet), "{not json", time.Minute).Err())
	_, ok, err := c.Get(ctx, wallet)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestConnectRejectsBadURL(t *testing.T) {
	_, err := Connect(context.Background(), "redis://:badport:x")
	require.Error(t, err)
}
