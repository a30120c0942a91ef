package postgres

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/lmsrd/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL. Amount
// columns are NUMERIC(78,0) — wide enough for 256-bit WAD values — and
// travel as decimal strings.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

// bigStr renders a big.Int for a NUMERIC column; nil becomes "0".
func bigStr(x *big.Int) string {
	if x == nil {
		return "0"
	}
	return x.String()
}

// parseBig parses a NUMERIC column back into a big.Int.
func parseBig(s string) (*big.Int, error) {
	z, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("postgres: bad numeric %q", s)
	}
	return z, nil
}

const marketCols = `id, title, admin, liquidity_param, q_yes, q_no, pool,
	custody_account, funding, close_time, claim_window_secs,
	fee_rate_bps, fee_recipient, fee_charge_buy, fee_charge_sell,
	resolved, winning_outcome, resolved_at, swept, created_at, updated_at`

// Upsert inserts or updates a single market snapshot.
func (s *MarketStore) Upsert(ctx context.Context, m domain.Market) error {
	const query = `
		INSERT INTO markets (
			id, title, admin, liquidity_param, q_yes, q_no, pool,
			custody_account, funding, close_time, claim_window_secs,
			fee_rate_bps, fee_recipient, fee_charge_buy, fee_charge_sell,
			resolved, winning_outcome, resolved_at, swept, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11,
			$12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21
		)
		ON CONFLICT (id) DO UPDATE SET
			title             = EXCLUDED.title,
			admin             = EXCLUDED.admin,
			q_yes             = EXCLUDED.q_yes,
			q_no              = EXCLUDED.q_no,
			pool              = EXCLUDED.pool,
			funding           = EXCLUDED.funding,
			close_time        = EXCLUDED.close_time,
			claim_window_secs = EXCLUDED.claim_window_secs,
			fee_rate_bps      = EXCLUDED.fee_rate_bps,
			fee_recipient     = EXCLUDED.fee_recipient,
			fee_charge_buy    = EXCLUDED.fee_charge_buy,
			fee_charge_sell   = EXCLUDED.fee_charge_sell,
			resolved          = EXCLUDED.resolved,
			winning_outcome   = EXCLUDED.winning_outcome,
			resolved_at       = EXCLUDED.resolved_at,
			swept             = EXCLUDED.swept,
			updated_at        = EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, query,
		m.ID, m.Title, m.Admin,
		bigStr(m.LiquidityParam), bigStr(m.QYes), bigStr(m.QNo), bigStr(m.Pool),
		m.CustodyAccount, string(m.Funding), m.CloseTime, int64(m.ClaimWindow/time.Second),
		m.Fee.RateBps, m.Fee.Recipient, m.Fee.ChargeBuy, m.Fee.ChargeSell,
		m.Resolved, string(m.WinningOutcome), m.ResolvedAt, m.Swept,
		m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert market %s: %w", m.ID, err)
	}
	return nil
}

// scanMarket scans a single market row into a domain.Market.
func scanMarket(row pgx.Row) (domain.Market, error) {
	var (
		m                    domain.Market
		liq, qYes, qNo, pool string
		funding, winning     string
		claimWindowSecs      int64
	)
	err := row.Scan(
		&m.ID, &m.Title, &m.Admin,
		&liq, &qYes, &qNo, &pool,
		&m.CustodyAccount, &funding, &m.CloseTime, &claimWindowSecs,
		&m.Fee.RateBps, &m.Fee.Recipient, &m.Fee.ChargeBuy, &m.Fee.ChargeSell,
		&m.Resolved, &winning, &m.ResolvedAt, &m.Swept,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}

	if m.LiquidityParam, err = parseBig(liq); err != nil {
		return domain.Market{}, err
	}
	if m.QYes, err = parseBig(qYes); err != nil {
		return domain.Market{}, err
	}
	if m.QNo, err = parseBig(qNo); err != nil {
		return domain.Market{}, err
	}
	if m.Pool, err = parseBig(pool); err != nil {
		return domain.Market{}, err
	}
	m.Funding = domain.FundingState(funding)
	m.WinningOutcome = domain.Outcome(winning)
	m.ClaimWindow = time.Duration(claimWindowSecs) * time.Second
	return m, nil
}

// GetByID retrieves a market by its primary key.
func (s *MarketStore) GetByID(ctx context.Context, id string) (domain.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE id = $1`, id)
	m, err := scanMarket(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Market{}, domain.ErrMarketNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id, err)
	}
	return m, nil
}

// List returns markets ordered by creation time with pagination and
// optional time filtering.
func (s *MarketStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	query := `SELECT ` + marketCols + ` FROM markets`
	args := []any{}
	argIdx := 1

	where := ""
	if opts.Since != nil {
		where = fmt.Sprintf(" WHERE created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		if where == "" {
			where = fmt.Sprintf(" WHERE created_at <= $%d", argIdx)
		} else {
			where += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		}
		args = append(args, *opts.Until)
		argIdx++
	}
	query += where + " ORDER BY created_at"

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
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list markets rows: %w", err)
	}
	return markets, nil
}

// Count returns the total number of markets in the database.
func (s *MarketStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM markets").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return count, nil
}
