package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/lmsrd/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

// Upsert inserts or updates a single position. A zero-share row is kept
// rather than deleted so claim history stays queryable.
func (s *PositionStore) Upsert(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (market_id, account, outcome, shares, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (market_id, account, outcome) DO UPDATE SET
			shares     = EXCLUDED.shares,
			updated_at = EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, query,
		p.MarketID, p.Account, string(p.Outcome), bigStr(p.Shares), p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert position %s/%s: %w", p.MarketID, p.Account, err)
	}
	return nil
}

func scanPosition(row pgx.Row) (domain.Position, error) {
	var (
		p               domain.Position
		outcome, shares string
	)
	if err := row.Scan(&p.MarketID, &p.Account, &outcome, &shares, &p.UpdatedAt); err != nil {
		return domain.Position{}, err
	}
	var err error
	if p.Shares, err = parseBig(shares); err != nil {
		return domain.Position{}, err
	}
	p.Outcome = domain.Outcome(outcome)
	return p, nil
}

const positionCols = `market_id, account, outcome, shares, updated_at`

// Get retrieves one holder's balance for one outcome.
func (s *PositionStore) Get(ctx context.Context, marketID, account string, outcome domain.Outcome) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionCols+` FROM positions
		 WHERE market_id = $1 AND account = $2 AND outcome = $3`,
		marketID, account, string(outcome))
	p, err := scanPosition(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s/%s: %w", marketID, account, err)
	}
	return p, nil
}

// ListByMarket returns every position in one market.
func (s *PositionStore) ListByMarket(ctx context.Context, marketID string) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionCols+` FROM positions WHERE market_id = $1 ORDER BY account, outcome`,
		marketID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions for market %s: %w", marketID, err)
	}
	defer rows.Close()
	return collectPositions(rows)
}

// ListByAccount returns one holder's positions across markets.
func (s *PositionStore) ListByAccount(ctx context.Context, account string, opts domain.ListOpts) ([]domain.Position, error) {
	query := `SELECT ` + positionCols + ` FROM positions WHERE account = $1 ORDER BY market_id, outcome`
	args := []any{account}
	argIdx := 2

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
		return nil, fmt.Errorf("postgres: list positions for account %s: %w", account, err)
	}
	defer rows.Close()
	return collectPositions(rows)
}

func collectPositions(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: position rows: %w", err)
	}
	return positions, nil
}
