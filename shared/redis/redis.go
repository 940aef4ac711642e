package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client wraps go-redis for the app's caching needs. A nil Client is
// valid and reports itself as disabled, so callers can skip caching
// without nil checks scattered around.
type Client struct {
	rdb *redis.Client
}

// New connects to Redis at addr. An empty addr returns a disabled
// client.
func New(addr, password string, db int) *Client {
	if addr == "" {
		return nil
	}
	return &Client{rdb: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

// Enabled reports whether caching is available.
func (c *Client) Enabled() bool {
	return c != nil && c.rdb != nil
}

// Get fetches a cached value. Returns redis.Nil-wrapped errors on miss.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	return c.rdb.Get(ctx, key).Result()
}

// IsMiss reports whether err represents a cache miss.
func IsMiss(err error) bool {
	return err == redis.Nil
}

// Set stores a value with the given TTL.
func (c *Client) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

// Del removes keys.
func (c *Client) Del(ctx context.Context, keys ...string) error {
	return c.rdb.Del(ctx, keys...).Err()
}

// Ping checks connectivity, for health checks.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
