package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache shares embeddings between processes through Redis. Values are
// little-endian float32 arrays.
type RedisCache struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// NewRedisCache connects to redisURL (redis://[user:pass@]host:port/db) and pings it.
func NewRedisCache(ctx context.Context, redisURL, keyPrefix string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisCacheFromClient(client, keyPrefix, ttl), nil
}

// NewRedisCacheFromClient wraps an existing client.
func NewRedisCacheFromClient(client *redis.Client, keyPrefix string, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, keyPrefix: keyPrefix, ttl: ttl}
}

// Get returns the cached embedding for key. A missing key is not an error.
func (c *RedisCache) Get(ctx context.Context, key string) ([]float32, bool, error) {
	b, err := c.client.Get(ctx, c.keyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	v, err := decodeVector(b)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// Set stores the embedding for key with the cache TTL.
func (c *RedisCache) Set(ctx context.Context, key string, value []float32) error {
	if err := c.client.Set(ctx, c.keyPrefix+key, encodeVector(value), c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
