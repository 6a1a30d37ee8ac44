// Package lock provides the claim lock the scheduler takes before promoting
// due campaigns, so only one worker instance promotes per tick.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/config"
)

// Locker acquires short-lived exclusive leases
type Locker interface {
	// TryAcquire returns a lease token and true when the key was free
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	// Release frees the key if token still owns it
	Release(ctx context.Context, key, token string) error
}

// releaseScript deletes the key only if it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker with SET NX PX
type RedisLocker struct {
	client *redis.Client
}

// NewClient creates a Redis client from configuration
func NewClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})
}

// NewRedisLocker creates a Redis backed locker
func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

// TryAcquire implements Locker
func (l *RedisLocker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return "", false, nil
	}

	return token, true, nil
}

// Release implements Locker
func (l *RedisLocker) Release(ctx context.Context, key, token string) error {
	err := releaseScript.Run(ctx, l.client, []string{key}, token).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to release lock %s: %w", key, err)
	}
	return nil
}

// Ping checks the Redis connection
func (l *RedisLocker) Ping(ctx context.Context) error {
	if err := l.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// NopLocker always grants the lease. It is used when Redis is not configured
// and a single worker instance runs the scheduler.
type NopLocker struct{}

// TryAcquire implements Locker
func (NopLocker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	return "", true, nil
}

// Release implements Locker
func (NopLocker) Release(ctx context.Context, key, token string) error {
	return nil
}
