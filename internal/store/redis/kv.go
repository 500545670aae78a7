// Package redisstore backs the ephemeral key/value needs of the platform
// (one-time codes, rate-limit counters) with Redis.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"gatehouse.org/internal/identity"
)

// compareAndDelete deletes the key only while it still holds the expected
// value. Running as a script makes the read-check-delete a single step, so
// two concurrent verifications of the same one-time code cannot both win.
var compareAndDelete = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// KV implements the ephemeral store over a Redis client.
type KV struct {
	client *redis.Client
}

// Open connects to Redis and verifies the connection with a ping.
func Open(ctx context.Context, addr, password string, db int) (*KV, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: ping redis: %v", identity.ErrUnavailable, err)
	}
	return &KV{client: client}, nil
}

// New wraps an existing client, mainly for tests against miniature servers.
func New(client *redis.Client) *KV {
	return &KV{client: client}
}

// Close releases the underlying connection pool.
func (s *KV) Close() error {
	return s.client.Close()
}

// Ping reports backend health for readiness checks.
func (s *KV) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: redis: %v", identity.ErrUnavailable, err)
	}
	return nil
}

func (s *KV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: redis set: %v", identity.ErrUnavailable, err)
	}
	return nil
}

func (s *KV) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: redis get: %v", identity.ErrUnavailable, err)
	}
	return value, true, nil
}

func (s *KV) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%w: redis del: %v", identity.ErrUnavailable, err)
	}
	return nil
}

func (s *KV) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	deleted, err := compareAndDelete.Run(ctx, s.client, []string{key}, value).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: redis compare-and-delete: %v", identity.ErrUnavailable, err)
	}
	return deleted == 1, nil
}

func (s *KV) Incr(ctx context.Context, key string) (int64, error) {
	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: redis incr: %v", identity.ErrUnavailable, err)
	}
	return count, nil
}

func (s *KV) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("%w: redis expire: %v", identity.ErrUnavailable, err)
	}
	return nil
}

// TTL returns the remaining lifetime of the key, or zero when the key does
// not exist or carries no expiry.
func (s *KV) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: redis ttl: %v", identity.ErrUnavailable, err)
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}
