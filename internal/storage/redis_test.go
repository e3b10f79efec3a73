package storage

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sasha9954/photostudio-core/internal/config"
)

func newTestBalanceCache(t *testing.T) (*BalanceCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewBalanceCache(NewRedisCacheFromClient(client), time.Minute), mr
}

func TestBalanceCache_SetGet(t *testing.T) {
	cache, mr := newTestBalanceCache(t)
	ctx := testContext(t)

	_, ok, err := cache.Get(ctx, "acct_a")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.Set(ctx, "acct_a", 42))
	bal, ok, err := cache.Get(ctx, "acct_a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(42), bal)

	mr.FastForward(2 * time.Minute)
	_, ok, err = cache.Get(ctx, "acct_a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBalanceCache_Invalidate(t *testing.T) {
	cache, _ := newTestBalanceCache(t)
	ctx := testContext(t)

	require.NoError(t, cache.Set(ctx, "acct_a", 7))
	require.NoError(t, cache.Invalidate(ctx, "acct_a"))

	_, ok, err := cache.Get(ctx, "acct_a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBalanceCache_GarbageIsAMiss(t *testing.T) {
	cache, mr := newTestBalanceCache(t)
	ctx := testContext(t)

	require.NoError(t, mr.Set("balance:acct_a", "not-a-number"))
	_, ok, err := cache.Get(ctx, "acct_a")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, mr.Exists("balance:acct_a"))
}

func TestBalanceCache_ServerDown(t *testing.T) {
	cache, mr := newTestBalanceCache(t)
	mr.Close()

	_, _, err := cache.Get(testContext(t), "acct_a")
	assert.Error(t, err)
}

func TestNewRedisCache(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	cache, err := NewRedisCache(&config.RedisConfig{Host: "localhost", Port: "6379", MaxConnections: 5})
	if err != nil {
		t.Skipf("Skipping test - Redis not available: %v", err)
		return
	}
	defer func() {
		_ = cache.Close()
	}()

	if err := cache.Ping(testContext(t)); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}
