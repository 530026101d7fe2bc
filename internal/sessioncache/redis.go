package sessioncache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache is a Cache backed by Redis.
type RedisCache struct {
	rdb redis.UniversalClient
}

// NewRedisCache returns a Cache using rdb. The caller owns rdb and closes it.
func NewRedisCache(rdb redis.UniversalClient) *RedisCache {
	return &RedisCache{rdb: rdb}
}

// Set stores value with the given TTL. SET overwrites the previous value and TTL atomically.
func (c *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

// Get returns the value for key; redis.Nil is reported as ok=false.
func (c *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := c.rdb.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, err
	}
	return v, true, nil
}

// Delete removes key. Deleting a missing key is not an error.
func (c *RedisCache) Delete(ctx context.Context, key string) (bool, error) {
	n, err := c.rdb.Del(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
