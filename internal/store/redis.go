package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v9"

	apperrors "github.com/deemusic/songcache/internal/errors"
)

// RedisKV stores values as plain redis strings
type RedisKV struct {
	client *goredis.Client
}

// NewRedisClient connects to redis and verifies the connection, backing off
// between a few attempts
func NewRedisClient(ctx context.Context, addr string, db int) (*goredis.Client, error) {
	client := goredis.NewClient(
		&goredis.Options{
			Network:         "tcp",
			Addr:            addr,
			DB:              db,
			MaxRetries:      3,
			MinRetryBackoff: 50 * time.Millisecond,
			MaxRetryBackoff: 2 * time.Second,
			DialTimeout:     10 * time.Second,
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    5 * time.Second,
		},
	)
	err := apperrors.RetryWithBackoff(ctx, apperrors.DefaultRetryConfig(), func() error {
		if err := client.Ping(ctx).Err(); err != nil {
			return apperrors.NewNetworkError(fmt.Sprintf("failed to ping redis at %s", addr), err)
		}
		return nil
	})
	if err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// NewRedisKV wraps a connected client
func NewRedisKV(client *goredis.Client) *RedisKV {
	return &RedisKV{client: client}
}

// Get retrieves a value by key
func (r *RedisKV) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get key %s: %w", key, err)
	}
	return value, true, nil
}

// Set stores a value without expiry
func (r *RedisKV) Set(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	return nil
}

// Ping checks the redis connection
func (r *RedisKV) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the client
func (r *RedisKV) Close() error {
	return r.client.Close()
}
