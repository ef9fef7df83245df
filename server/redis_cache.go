package server

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisCache implements the Cache interface using Redis
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache creates a new Redis cache
func NewRedisCache(ctx context.Context, address string, ttlSeconds int) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        address,
		Password:    "", // no password
		DB:          0,  // use default DB
		DialTimeout: 2 * time.Second,
		ReadTimeout: 2 * time.Second,
	})

	// Test connection with the provided context
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %v", err)
	}

	return &RedisCache{
		client: client,
		ttl:    time.Duration(ttlSeconds) * time.Second,
	}, nil
}

// Close closes the Redis client
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// GetProperties gets blob properties from the cache
func (c *RedisCache) GetProperties(ctx context.Context, key string) (*BlobProperties, error) {
	if c == nil || c.client == nil {
		return nil, fmt.Errorf("cache not initialized")
	}

	data, err := c.client.Get(ctx, propsCacheKey(key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var props BlobProperties
	if err := json.Unmarshal(data, &props); err != nil {
		return nil, err
	}

	return &props, nil
}

// SetProperties sets blob properties in the cache
func (c *RedisCache) SetProperties(ctx context.Context, key string, props *BlobProperties) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("cache not initialized")
	}

	data, err := json.Marshal(props)
	if err != nil {
		return err
	}

	return c.client.Set(ctx, propsCacheKey(key), data, c.ttl).Err()
}

// DeleteProperties deletes blob properties from the cache
func (c *RedisCache) DeleteProperties(ctx context.Context, key string) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("cache not initialized")
	}

	return c.client.Del(ctx, propsCacheKey(key)).Err()
}

func propsCacheKey(key string) string {
	return fmt.Sprintf("props:%s", key)
}
