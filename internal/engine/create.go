package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/alanyoungcy/lmsrd/internal/asset"
	"github.com/alanyoungcy/lmsrd/internal/domain"
)

// CreateMarketParams carries everything fixed at market creation.
type CreateMarketParams struct {
	Title          string
	Admin          string
	LiquidityParam *big.Int
	Asset          domain.SettlementAsset

	// CloseTime of nil lets the admin resolve at any time; a concrete
	// timestamp forbids resolution before it.
	CloseTime *time.Time

	// ClaimWindow of zero takes the engine default.
	ClaimWindow time.Duration

	Fee domain.FeeConfig

	// CustodyAccount defaults to the market ID.
	CustodyAccount string
}

// CreateMarket validates the parameters, probes the settlement asset's
// scale and registers a new unfunded market.
func (e *Engine) CreateMarket(ctx context.Context, p CreateMarketParams) (domain.Market, error) {
	now := e.now()

	if p.Title == "" {
		return domain.Market{}, domain.ErrEmptyTitle
	}
	if p.Admin == "" {
		return domain.Market{}, domain.ErrEmptyAccount
	}
	if p.LiquidityParam == nil || p.LiquidityParam.Sign() <= 0 {
		return domain.Market{}, domain.ErrInvalidLiquidity
	}
	if p.Asset == nil {
		return domain.Market{}, domain.ErrNoSettlementAsset
	}
	if p.CloseTime != nil && !p.CloseTime.After(now) {
		return domain.Market{}, domain.ErrInvalidCloseTime
	}
	if err := validateFee(p.Fee); err != nil {
		return domain.Market{}, err
	}

	safe := asset.NewSafeTransferor(p.Asset)
	if err := safe.CheckScale(ctx); err != nil {
		return domain.Market{}, err
	}

	id := e.newID()
	custody := p.CustodyAccount
	if custody == "" {
		custody = id
	}
	window := p.ClaimWindow
	if window == 0 {
		window = e.claimWindow
	}

	mk := &market{
		m: domain.Market{
			ID:             id,
			Title:          p.Title,
			Admin:          p.Admin,
			LiquidityParam: new(big.Int).Set(p.LiquidityParam),
			QYes:           new(big.Int),
			QNo:            new(big.Int),
			Pool:           new(big.Int),
			CustodyAccount: custody,
			Funding:        domain.FundingUnfunded,
			CloseTime:      p.CloseTime,
			ClaimWindow:    window,
			Fee:            p.Fee,
			CreatedAt:      now,
			UpdatedAt:      now,
		},
		safe:      safe,
		positions: make(map[string]map[domain.Outcome]*big.Int),
	}

	e.mu.Lock()
	e.markets[id] = mk
	e.mu.Unlock()

	e.emit(ctx, mk, domain.Event{
		Type:  domain.EventMarketCreated,
		Actor: p.Admin,
	}, nil)

	e.logger.Info("market created",
		slog.String("market", id),
		slog.String("title", p.Title),
		slog.String("admin", p.Admin),
	)
	return copyMarket(mk.m), nil
}

func validateFee(f domain.FeeConfig) error {
	if f.RateBps < 0 || f.RateBps > domain.MaxFeeRateBps {
		return fmt.Errorf("%w: %d bps", domain.ErrInvalidFeeRate, f.RateBps)
	}
	if f.RateBps > 0 && (f.ChargeBuy || f.ChargeSell) && f.Recipient == "" {
		return domain.ErrNoFeeRecipient
	}
	return nil
}

// TransferOwnership hands the admin role to a new principal.
func (e *Engine) TransferOwnership(ctx context.Context, marketID, actor, newOwner string) error {
	mk, err := e.get(marketID)
	if err != nil {
		return err
	}
	if err := mk.lockMutating(); err != nil {
		return err
	}
	defer mk.mu.Unlock()

	if newOwner == "" {
		return domain.ErrEmptyAccount
	}
	if actor != mk.m.Admin {
		return domain.ErrNotAdmin
	}

	mk.m.Admin = newOwner
	mk.m.UpdatedAt = e.now()

	e.emit(ctx, mk, domain.Event{
		Type:  domain.EventOwnershipTransferred,
		Actor: actor,
	}, nil)

	e.logger.Info("ownership transferred",
		slog.String("market", marketID),
		slog.String("from", actor),
		slog.String("to", newOwner),
	)
	return nil
}

// SetFeeConfig replaces the fee policy. Rate is bounded to [0, 100%] and
// a recipient is required whenever a side is charged.
func (e *Engine) SetFeeConfig(ctx context.Context, marketID, actor string, fee domain.FeeConfig) error {
	mk, err := e.get(marketID)
	if err != nil {
		return err
	}
	if err := mk.lockMutating(); err != nil {
		return err
	}
	defer mk.mu.Unlock()

	if err := validateFee(fee); err != nil {
		return err
	}
	if actor != mk.m.Admin {
		return domain.ErrNotAdmin
	}

	mk.m.Fee = fee
	mk.m.UpdatedAt = e.now()

	e.emit(ctx, mk, domain.Event{
		Type:  domain.EventFeeConfigChanged,
		Actor: actor,
	}, nil)
	return nil
}
