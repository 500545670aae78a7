package session

import (
	"context"
	"time"
)

// Ephemeral is the key/value store with per-key expiry used for one-time
// codes and rate-limit counters.
type Ephemeral interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Get returns the stored value; ok is false on a miss.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Delete(ctx context.Context, key string) error
	// CompareAndDelete removes the key iff its current value equals value,
	// atomically with respect to concurrent callers, and reports whether the
	// delete happened.
	CompareAndDelete(ctx context.Context, key, value string) (bool, error)
	// Incr increments the counter at key, creating it at 1.
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	TTL(ctx context.Context, key string) (time.Duration, error)
}
