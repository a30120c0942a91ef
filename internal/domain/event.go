package domain

import (
	"context"
	"math/big"
	"time"
)

// EventType enumerates the append-only records emitted on every state
// transition. They are observational output for indexers and notifiers;
// the engine never reads them back.
type EventType string

const (
	EventMarketCreated        EventType = "market_created"
	EventMarketFunded         EventType = "market_funded"
	EventSharesBought         EventType = "shares_bought"
	EventSharesSold           EventType = "shares_sold"
	EventMarketResolved       EventType = "market_resolved"
	EventWinningsClaimed      EventType = "winnings_claimed"
	EventResidualWithdrawn    EventType = "residual_withdrawn"
	EventOwnershipTransferred EventType = "ownership_transferred"
	EventFeeConfigChanged     EventType = "fee_config_changed"
)

// Event is one immutable record of a completed state transition. Amount
// fields are nil when the transition moved no value.
type Event struct {
	ID       string
	MarketID string
	Type     EventType
	Actor    string
	Outcome  Outcome  // empty when not outcome-specific
	Shares   *big.Int // shares traded or claimed
	Amount   *big.Int // settlement asset moved, gross of fee
	Fee      *big.Int // fee routed to the recipient

	// Resulting state, so indexers never have to re-derive it.
	QYes *big.Int
	QNo  *big.Int
	Pool *big.Int

	CreatedAt time.Time
}

// EventSink receives events after the state transition has committed.
// Sink failures must not unwind the transition; implementations log and
// move on.
type EventSink interface {
	Publish(ctx context.Context, ev Event)
}
