package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/alanyoungcy/lmsrd/internal/asset"
	"github.com/alanyoungcy/lmsrd/internal/domain"
)

// restorePageSize bounds each store query during startup hydration.
const restorePageSize = 200

// Restore hydrates the engine from persisted state. It pages through the
// market store and, for each market, loads its positions and event history,
// binding the given settlement asset. It is meant to run once at startup,
// before the engine serves requests; it fails on the first store error so
// the daemon never starts half-hydrated.
func (e *Engine) Restore(ctx context.Context, markets domain.MarketStore, positions domain.PositionStore, events domain.EventStore, settle domain.SettlementAsset) error {
	if settle == nil {
		return domain.ErrNoSettlementAsset
	}
	safe := asset.NewSafeTransferor(settle)

	loaded := 0
	for offset := 0; ; offset += restorePageSize {
		page, err := markets.List(ctx, domain.ListOpts{Limit: restorePageSize, Offset: offset})
		if err != nil {
			return fmt.Errorf("engine: restore markets: %w", err)
		}
		if len(page) == 0 {
			break
		}

		for _, m := range page {
			mk := &market{
				m:         m,
				safe:      safe,
				positions: make(map[string]map[domain.Outcome]*big.Int),
			}

			pos, err := positions.ListByMarket(ctx, m.ID)
			if err != nil {
				return fmt.Errorf("engine: restore positions for %s: %w", m.ID, err)
			}
			for _, p := range pos {
				if p.Shares == nil || p.Shares.Sign() == 0 {
					continue
				}
				byOutcome, ok := mk.positions[p.Account]
				if !ok {
					byOutcome = make(map[domain.Outcome]*big.Int)
					mk.positions[p.Account] = byOutcome
				}
				byOutcome[p.Outcome] = new(big.Int).Set(p.Shares)
			}

			for evOffset := 0; ; evOffset += restorePageSize {
				evs, err := events.ListByMarket(ctx, m.ID, domain.ListOpts{Limit: restorePageSize, Offset: evOffset})
				if err != nil {
					return fmt.Errorf("engine: restore events for %s: %w", m.ID, err)
				}
				if len(evs) == 0 {
					break
				}
				mk.events = append(mk.events, evs...)
			}

			e.mu.Lock()
			e.markets[m.ID] = mk
			e.mu.Unlock()
			loaded++
		}

		if len(page) < restorePageSize {
			break
		}
	}

	e.logger.Info("state restored", slog.Int("markets", loaded))
	return nil
}
