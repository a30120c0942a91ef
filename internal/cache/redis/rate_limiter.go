package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/lmsrd/internal/domain"
)

//go:embed scripts/sliding_window.lua
var slidingWindowLua string

// limiterPrefix namespaces limiter keys away from the cache and lock
// keys sharing the same database.
const limiterPrefix = "lmsrd:ratelimit:"

// waitPollInterval is how often Wait re-attempts admission.
const waitPollInterval = 50 * time.Millisecond

// RateLimiter implements domain.RateLimiter with a sliding window per
// key, held in a Redis sorted set and advanced atomically by a Lua
// script so concurrent daemon instances share one budget.
type RateLimiter struct {
	rdb    *redis.Client
	script *redis.Script
}

// NewRateLimiter creates a RateLimiter backed by the given Client.
func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{
		rdb:    c.Underlying(),
		script: redis.NewScript(slidingWindowLua),
	}
}

// Allow reports whether a request under key is admitted by the sliding
// window, counting it when it is. Admission is decided server-side in
// one round trip; there is no race between check and record.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	reply, err := rl.script.Run(ctx, rl.rdb,
		[]string{limiterPrefix + key},
		time.Now().UnixMicro(),
		window.Microseconds(),
		limit,
	).Int64Slice()
	if err != nil {
		return false, fmt.Errorf("redis: rate limit %s: %w", key, err)
	}
	if len(reply) != 2 {
		return false, fmt.Errorf("redis: rate limit %s: malformed script reply (len %d)", key, len(reply))
	}
	return reply[0] == 1, nil
}

// Wait blocks until one request under key is admitted at a budget of one
// per second, or the context ends. Callers needing a different budget
// drive Allow in their own loop.
func (rl *RateLimiter) Wait(ctx context.Context, key string) error {
	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()

	for {
		allowed, err := rl.Allow(ctx, key, 1, time.Second)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("redis: rate limit wait %s: %w", key, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Compile-time interface check.
var _ domain.RateLimiter = (*RateLimiter)(nil)
