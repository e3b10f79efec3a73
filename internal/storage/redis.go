package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sasha9954/photostudio-core/internal/config"
)

// RedisCache wraps the Redis client
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new Redis cache connection
func NewRedisCache(cfg *config.RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.MaxConnections,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// NewRedisCacheFromClient wraps an existing client
func NewRedisCacheFromClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Close closes the Redis connection
func (r *RedisCache) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// Client returns the underlying Redis client
func (r *RedisCache) Client() *redis.Client {
	return r.client
}

// Ping checks if Redis is reachable
func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// BalanceCache keeps the last computed balance of each account.
// Callers rewrite the value after every committed ledger change; the TTL bounds staleness when a write is lost.
type BalanceCache struct {
	cache *RedisCache
	ttl   time.Duration
}

// NewBalanceCache creates a balance cache with the given entry TTL
func NewBalanceCache(cache *RedisCache, ttl time.Duration) *BalanceCache {
	return &BalanceCache{cache: cache, ttl: ttl}
}

func balanceKey(accountID string) string {
	return "balance:" + accountID
}

// Get returns the cached balance, ok=false on a miss
func (b *BalanceCache) Get(ctx context.Context, accountID string) (int64, bool, error) {
	val, err := b.cache.client.Get(ctx, balanceKey(accountID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read cached balance: %w", err)
	}

	balance, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		// unreadable value, drop it and report a miss
		_ = b.cache.client.Del(ctx, balanceKey(accountID)).Err()
		return 0, false, nil
	}
	return balance, true, nil
}

// Set stores the balance
func (b *BalanceCache) Set(ctx context.Context, accountID string, balance int64) error {
	if err := b.cache.client.Set(ctx, balanceKey(accountID), balance, b.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache balance: %w", err)
	}
	return nil
}

// Invalidate removes the cached balance
func (b *BalanceCache) Invalidate(ctx context.Context, accountID string) error {
	if err := b.cache.client.Del(ctx, balanceKey(accountID)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate balance: %w", err)
	}
	return nil
}
