package postgres

import (
	"context"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/lmsrd/internal/domain"
)

// EventStore implements domain.EventStore using PostgreSQL. Events are
// append-only; there is no update path.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a new EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// nullableBig renders an optional big.Int for a NUMERIC NULL column.
func nullableBig(x *big.Int) any {
	if x == nil {
		return nil
	}
	return x.String()
}

// Append inserts one event. Duplicate IDs are ignored so a journal retry
// never double-writes.
func (s *EventStore) Append(ctx context.Context, ev domain.Event) error {
	const query = `
		INSERT INTO events (
			id, market_id, type, actor, outcome,
			shares, amount, fee, q_yes, q_no, pool, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		ev.ID, ev.MarketID, string(ev.Type), ev.Actor, string(ev.Outcome),
		nullableBig(ev.Shares), nullableBig(ev.Amount), nullableBig(ev.Fee),
		bigStr(ev.QYes), bigStr(ev.QNo), bigStr(ev.Pool), ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: append event %s: %w", ev.ID, err)
	}
	return nil
}

// ListByMarket returns a market's events in emission order.
func (s *EventStore) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Event, error) {
	query := `
		SELECT id, market_id, type, actor, outcome,
		       shares, amount, fee, q_yes, q_no, pool, created_at
		FROM events WHERE market_id = $1`
	args := []any{marketID}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}
	query += " ORDER BY created_at, id"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events for market %s: %w", marketID, err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: event rows: %w", err)
	}
	return events, nil
}

func scanEvent(row pgx.Row) (domain.Event, error) {
	var (
		ev                 domain.Event
		evType, outcome    string
		shares, amount     *string
		fee                *string
		qYes, qNo, poolStr string
	)
	err := row.Scan(
		&ev.ID, &ev.MarketID, &evType, &ev.Actor, &outcome,
		&shares, &amount, &fee, &qYes, &qNo, &poolStr, &ev.CreatedAt,
	)
	if err != nil {
		return domain.Event{}, err
	}

	ev.Type = domain.EventType(evType)
	ev.Outcome = domain.Outcome(outcome)
	if shares != nil {
		if ev.Shares, err = parseBig(*shares); err != nil {
			return domain.Event{}, err
		}
	}
	if amount != nil {
		if ev.Amount, err = parseBig(*amount); err != nil {
			return domain.Event{}, err
		}
	}
	if fee != nil {
		if ev.Fee, err = parseBig(*fee); err != nil {
			return domain.Event{}, err
		}
	}
	if ev.QYes, err = parseBig(qYes); err != nil {
		return domain.Event{}, err
	}
	if ev.QNo, err = parseBig(qNo); err != nil {
		return domain.Event{}, err
	}
	if ev.Pool, err = parseBig(poolStr); err != nil {
		return domain.Event{}, err
	}
	return ev, nil
}
