package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/lmsrd/internal/domain"
)

// unlockLua is a Lua script that deletes a lock key only if its value matches
// the caller's unique token. This prevents one holder from accidentally
// releasing another holder's lock.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// MarketLock implements domain.MarketLock using Redis SETNX with a TTL and
// a Lua-based conditional unlock. It serializes market mutations across
// daemon replicas; within one process the engine's own guard applies.
type MarketLock struct {
	rdb      *redis.Client
	unlockSc *redis.Script
}

// NewMarketLock creates a MarketLock backed by the given Client.
func NewMarketLock(c *Client) *MarketLock {
	return &MarketLock{
		rdb:      c.Underlying(),
		unlockSc: redis.NewScript(unlockLua),
	}
}

func lockKey(marketID string) string {
	return "market:lock:" + marketID
}

// Acquire attempts to obtain a distributed lock for the given market with
// the specified TTL. On success it returns an unlock function that must be
// called to release the lock. The unlock function is safe to call multiple
// times.
//
// It returns domain.ErrLockHeld if the lock is already held by another party.
func (ml *MarketLock) Acquire(ctx context.Context, marketID string, ttl time.Duration) (func(), error) {
	token := uuid.New().String()
	lk := lockKey(marketID)

	ok, err := ml.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", marketID, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	// Build the unlock closure. It is safe to call more than once.
	released := false
	unlock := func() {
		if released {
			return
		}
		released = true

		// Use a background context so unlock succeeds even if the caller's
		// context is already cancelled.
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = ml.unlockSc.Run(unlockCtx, ml.rdb, []string{lk}, token).Err()
	}

	return unlock, nil
}

// Compile-time interface check.
var _ domain.MarketLock = (*MarketLock)(nil)
