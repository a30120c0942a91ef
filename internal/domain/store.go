package domain

import (
	"context"
	"errors"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MarketStore persists market snapshots.
type MarketStore interface {
	Upsert(ctx context.Context, m Market) error
	GetByID(ctx context.Context, id string) (Market, error)
	List(ctx context.Context, opts ListOpts) ([]Market, error)
	Count(ctx context.Context) (int64, error)
}

// PositionStore persists per-holder share balances.
type PositionStore interface {
	Upsert(ctx context.Context, p Position) error
	Get(ctx context.Context, marketID, account string, outcome Outcome) (Position, error)
	ListByMarket(ctx context.Context, marketID string) ([]Position, error)
	ListByAccount(ctx context.Context, account string, opts ListOpts) ([]Position, error)
}

// EventStore persists the append-only event log.
type EventStore interface {
	Append(ctx context.Context, ev Event) error
	ListByMarket(ctx context.Context, marketID string, opts ListOpts) ([]Event, error)
}

// Journal is the engine's write-through persistence hook, invoked after a
// mutation has committed in memory. A failing journal is reported to the
// caller but does not unwind the in-memory state; the engine remains the
// source of truth within a process lifetime.
type Journal interface {
	RecordMarket(ctx context.Context, m Market) error
	RecordPosition(ctx context.Context, p Position) error
	RecordEvent(ctx context.Context, ev Event) error
}

// MarketLock serializes mutating access to one market across process
// instances. The in-process reentrancy guard covers a single instance;
// deployments running several replicas put a distributed lock in front.
type MarketLock interface {
	Acquire(ctx context.Context, marketID string, ttl time.Duration) (func(), error)
}

// MarketCache caches market snapshots for read traffic.
type MarketCache interface {
	Set(ctx context.Context, m Market) error
	Get(ctx context.Context, id string) (Market, error)
	Invalidate(ctx context.Context, id string) error
}

// EventArchiver moves a settled market's full event history to cold
// storage after sweep.
type EventArchiver interface {
	ArchiveMarket(ctx context.Context, marketID string) (location string, err error)
}

// RateLimiter throttles requests per key over a sliding window.
type RateLimiter interface {
	// Allow reports whether a request under key is permitted, counting it
	// when allowed.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	// Wait blocks until a request under key is allowed or ctx is done.
	Wait(ctx context.Context, key string) error
}

var (
	// ErrLockHeld is returned by MarketLock when another holder owns the lock.
	ErrLockHeld = errors.New("lock already held")
	// ErrCacheMiss is returned by MarketCache on a missing entry.
	ErrCacheMiss = errors.New("cache miss")
)
