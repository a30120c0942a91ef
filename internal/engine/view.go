package engine

import (
	"context"
	"math/big"
	"sort"

	"github.com/alanyoungcy/lmsrd/internal/domain"
	"github.com/alanyoungcy/lmsrd/internal/lmsr"
)

// Quote is an advisory price indication. It can go stale the instant
// another trade lands; the caller-supplied slippage bound at execution
// time is the only guarantee.
type Quote struct {
	Outcome domain.Outcome
	Shares  *big.Int
	Gross   *big.Int // cost-function delta
	Fee     *big.Int
	Total   *big.Int // buy: gross+fee to pay; sell: gross-fee to receive
}

// QuoteBuy prices a prospective purchase against current state.
func (e *Engine) QuoteBuy(ctx context.Context, marketID string, outcome domain.Outcome, shares *big.Int) (Quote, error) {
	if shares == nil || shares.Sign() <= 0 {
		return Quote{}, domain.ErrZeroShares
	}
	mk, err := e.get(marketID)
	if err != nil {
		return Quote{}, err
	}
	mk.mu.RLock()
	defer mk.mu.RUnlock()
	now := e.now()

	if mk.m.Funding != domain.FundingFunded {
		return Quote{}, domain.ErrNotFunded
	}
	if mk.m.Trading(now) != domain.TradingOpen {
		return Quote{}, domain.ErrMarketClosed
	}

	gross, err := lmsr.QuoteBuy(outcome, mk.m.QYes, mk.m.QNo, mk.m.LiquidityParam, shares)
	if err != nil {
		return Quote{}, err
	}
	fee := new(big.Int)
	if mk.m.Fee.ChargeBuy {
		if fee, err = feeOf(gross, mk.m.Fee.RateBps); err != nil {
			return Quote{}, err
		}
	}
	return Quote{
		Outcome: outcome,
		Shares:  new(big.Int).Set(shares),
		Gross:   gross,
		Fee:     fee,
		Total:   new(big.Int).Add(gross, fee),
	}, nil
}

// QuoteSell prices a prospective sale against current state.
func (e *Engine) QuoteSell(ctx context.Context, marketID string, outcome domain.Outcome, shares *big.Int) (Quote, error) {
	if shares == nil || shares.Sign() <= 0 {
		return Quote{}, domain.ErrZeroShares
	}
	mk, err := e.get(marketID)
	if err != nil {
		return Quote{}, err
	}
	mk.mu.RLock()
	defer mk.mu.RUnlock()
	now := e.now()

	if mk.m.Funding != domain.FundingFunded {
		return Quote{}, domain.ErrNotFunded
	}
	if mk.m.Trading(now) != domain.TradingOpen {
		return Quote{}, domain.ErrMarketClosed
	}

	gross, err := lmsr.QuoteSell(outcome, mk.m.QYes, mk.m.QNo, mk.m.LiquidityParam, shares)
	if err != nil {
		return Quote{}, err
	}
	fee := new(big.Int)
	if mk.m.Fee.ChargeSell {
		if fee, err = feeOf(gross, mk.m.Fee.RateBps); err != nil {
			return Quote{}, err
		}
	}
	return Quote{
		Outcome: outcome,
		Shares:  new(big.Int).Set(shares),
		Gross:   gross,
		Fee:     fee,
		Total:   new(big.Int).Sub(gross, fee),
	}, nil
}

// SpotPrice returns the instantaneous WAD-scaled price of an outcome.
func (e *Engine) SpotPrice(ctx context.Context, marketID string, outcome domain.Outcome) (*big.Int, error) {
	mk, err := e.get(marketID)
	if err != nil {
		return nil, err
	}
	mk.mu.RLock()
	defer mk.mu.RUnlock()
	return lmsr.SpotPrice(outcome, mk.m.QYes, mk.m.QNo, mk.m.LiquidityParam)
}

// GetMarket returns a snapshot of one market.
func (e *Engine) GetMarket(ctx context.Context, marketID string) (domain.Market, error) {
	mk, err := e.get(marketID)
	if err != nil {
		return domain.Market{}, err
	}
	mk.mu.RLock()
	defer mk.mu.RUnlock()
	return copyMarket(mk.m), nil
}

// ListMarkets returns snapshots of all markets ordered by creation time.
func (e *Engine) ListMarkets(ctx context.Context) []domain.Market {
	e.mu.RLock()
	mks := make([]*market, 0, len(e.markets))
	for _, mk := range e.markets {
		mks = append(mks, mk)
	}
	e.mu.RUnlock()

	out := make([]domain.Market, 0, len(mks))
	for _, mk := range mks {
		mk.mu.RLock()
		out = append(out, copyMarket(mk.m))
		mk.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// GetPosition returns the caller's share balance for one outcome.
func (e *Engine) GetPosition(ctx context.Context, marketID, account string, outcome domain.Outcome) (domain.Position, error) {
	if !outcome.Valid() {
		return domain.Position{}, domain.ErrInvalidOutcome
	}
	mk, err := e.get(marketID)
	if err != nil {
		return domain.Position{}, err
	}
	mk.mu.RLock()
	defer mk.mu.RUnlock()
	return domain.Position{
		MarketID:  marketID,
		Account:   account,
		Outcome:   outcome,
		Shares:    new(big.Int).Set(mk.position(account, outcome)),
		UpdatedAt: mk.m.UpdatedAt,
	}, nil
}

// ListEvents returns the market's append-only event history.
func (e *Engine) ListEvents(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Event, error) {
	mk, err := e.get(marketID)
	if err != nil {
		return nil, err
	}
	mk.mu.RLock()
	defer mk.mu.RUnlock()

	evs := mk.events
	if opts.Offset > 0 {
		if opts.Offset >= len(evs) {
			return nil, nil
		}
		evs = evs[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(evs) {
		evs = evs[:opts.Limit]
	}
	out := make([]domain.Event, len(evs))
	copy(out, evs)
	return out, nil
}
