package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/lmsrd/internal/domain"
)

// Journal implements domain.Journal by writing through to the market,
// position and event stores. It is the persistence half of the engine's
// commit path; the engine treats journal failures as non-fatal and logs
// them, so each Record method is independently retryable.
type Journal struct {
	markets   *MarketStore
	positions *PositionStore
	events    *EventStore
}

// NewJournal creates a Journal over the given connection pool.
func NewJournal(pool *pgxpool.Pool) *Journal {
	return &Journal{
		markets:   NewMarketStore(pool),
		positions: NewPositionStore(pool),
		events:    NewEventStore(pool),
	}
}

// RecordMarket persists a market snapshot.
func (j *Journal) RecordMarket(ctx context.Context, m domain.Market) error {
	return j.markets.Upsert(ctx, m)
}

// RecordPosition persists a position snapshot.
func (j *Journal) RecordPosition(ctx context.Context, p domain.Position) error {
	return j.positions.Upsert(ctx, p)
}

// RecordEvent appends an event.
func (j *Journal) RecordEvent(ctx context.Context, ev domain.Event) error {
	return j.events.Append(ctx, ev)
}
