package kv

import (
	"context"
	"fmt"

	r "gopkg.in/redis.v5"
)

const redisPrefix = "_DEALROOM_"

// Redis stores entries as plain keys without expiry; freshness is the
// caller's concern.
type Redis struct {
	client *r.Client
}

// OpenRedis connects to the server described by a redis:// URL.
func OpenRedis(url string) (*Redis, error) {
	opts, err := r.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := r.NewClient(opts)
	if err := client.Ping().Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Redis{client: client}, nil
}

// Get returns the value stored under key, or ErrNotFound.
func (c *Redis) Get(_ context.Context, key string) ([]byte, error) {
	v, err := c.client.Get(redisPrefix + key).Bytes()
	if err == r.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get kv entry: %w", err)
	}
	return v, nil
}

// Set stores value under key without expiry.
func (c *Redis) Set(_ context.Context, key string, value []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	return c.client.Set(redisPrefix+key, value, 0).Err()
}

// Delete removes key.
func (c *Redis) Delete(_ context.Context, key string) error {
	return c.client.Del(redisPrefix + key).Err()
}

// Close closes the client connection pool.
func (c *Redis) Close() error {
	return c.client.Close()
}
