package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions configure the Redis-backed store.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// Redis implements Store on top of a go-redis client.
type Redis struct {
	client *redis.Client
}

// NewRedis connects to Redis and verifies the connection with a ping.
func NewRedis(ctx context.Context, opts RedisOptions) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
		PoolSize: opts.PoolSize,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &Redis{client: client}, nil
}

// Set writes value under key with the given TTL.
func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Get returns the value for key, or ErrNotFound when absent.
func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	value, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis get %s: %w", key, err)
	}
	return value, nil
}

// Delete removes key.
func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// Scan returns all keys matching prefix.
func (r *Redis) Scan(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan %s*: %w", prefix, err)
	}
	return keys, nil
}

// PushTrim prepends value to the list at key, bounds it to max entries, and
// refreshes the list TTL. The three commands are pipelined; Redis applies
// them in order.
func (r *Redis) PushTrim(ctx context.Context, key, value string, max int, ttl time.Duration) error {
	pipe := r.client.Pipeline()
	pipe.LPush(ctx, key, value)
	if max > 0 {
		pipe.LTrim(ctx, key, 0, int64(max-1))
	}
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis push %s: %w", key, err)
	}
	return nil
}

// Range returns list entries between start and stop inclusive.
func (r *Redis) Range(ctx context.Context, key string, start, stop int64) ([]string, error) {
	values, err := r.client.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange %s: %w", key, err)
	}
	return values, nil
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}

var _ Store = (*Redis)(nil)
