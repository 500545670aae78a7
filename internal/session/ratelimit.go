package session

import (
	"context"
	"fmt"
	"time"

	"gatehouse.org/internal/identity"
)

// RateLimiter is a fixed-window counter over the ephemeral store. The first
// hit in a window creates the counter and arms its expiry; once the count
// exceeds the limit the remaining TTL doubles as the retry-after hint.
type RateLimiter struct {
	kv     Ephemeral
	prefix string
	limit  int64
	window time.Duration
}

// NewRateLimiter builds a limiter named by prefix allowing limit hits per
// window for each identifier.
func NewRateLimiter(kv Ephemeral, prefix string, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{kv: kv, prefix: prefix, limit: limit, window: window}
}

// Allow records a hit for the identifier and returns ErrRateLimited once the
// window budget is exhausted.
func (l *RateLimiter) Allow(ctx context.Context, identifier string) error {
	if l == nil || identifier == "" {
		return nil
	}
	key := fmt.Sprintf("rl:%s:%s", l.prefix, identifier)
	count, err := l.kv.Incr(ctx, key)
	if err != nil {
		return fmt.Errorf("%w: rate limiter: %v", identity.ErrUnavailable, err)
	}
	if count == 1 {
		if err := l.kv.Expire(ctx, key, l.window); err != nil {
			return fmt.Errorf("%w: rate limiter: %v", identity.ErrUnavailable, err)
		}
	}
	if count > l.limit {
		retryAfter, err := l.kv.TTL(ctx, key)
		if err != nil || retryAfter <= 0 {
			retryAfter = l.window
		}
		return fmt.Errorf("%w: retry in %s", identity.ErrRateLimited, retryAfter.Round(time.Second))
	}
	return nil
}
