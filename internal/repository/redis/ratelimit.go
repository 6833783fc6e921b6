package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/escuelachat/chat-api/internal/config"
	"github.com/redis/go-redis/v9"
)

const rateLimitPrefix = "ratelimit:"

// RateLimiter counts requests per owner in fixed one-minute windows. Keys are
// owner keys ("user:<id>" or "guest:<id>"), so an authenticated user and the
// guest session they came from never share a bucket.
type RateLimiter struct {
	client *Client

	// limit is the per-minute allowance plus burst headroom.
	limit int64
}

// NewRateLimiter creates a rate limiter from the configured allowance.
func NewRateLimiter(client *Client, cfg config.RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  int64(cfg.RequestsPerMinute + cfg.Burst),
	}
}

// Allow counts one request against the owner's current window. Returns
// whether it fits, how much allowance is left and when the window resets.
func (r *RateLimiter) Allow(ctx context.Context, ownerKey string) (bool, int, time.Time, error) {
	key := rateLimitPrefix + ownerKey
	reset := time.Now().Truncate(time.Minute).Add(time.Minute)

	pipe := r.client.rdb.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, time.Minute)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return false, 0, time.Time{}, fmt.Errorf("failed to count request: %w", err)
	}

	count := incr.Val()
	remaining := int(r.limit - count)
	if remaining < 0 {
		remaining = 0
	}
	return count <= r.limit, remaining, reset, nil
}
