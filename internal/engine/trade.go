package engine

import (
	"context"
	"log/slog"
	"math/big"

	"github.com/alanyoungcy/lmsrd/internal/domain"
	"github.com/alanyoungcy/lmsrd/internal/lmsr"
	"github.com/alanyoungcy/lmsrd/internal/wadmath"
)

var bpsDenominator = big.NewInt(domain.MaxFeeRateBps)

func feeOf(amount *big.Int, rateBps int64) (*big.Int, error) {
	if rateBps == 0 {
		return new(big.Int), nil
	}
	return wadmath.FullMulDiv(amount, big.NewInt(rateBps), bpsDenominator)
}

// Fund commits the LMSR subsidy ceil(b*ln2), pulled from the admin, and
// flips the market to Funded. It is the only code path that can do so.
func (e *Engine) Fund(ctx context.Context, marketID, actor string) (domain.Event, error) {
	mk, err := e.get(marketID)
	if err != nil {
		return domain.Event{}, err
	}
	if err := mk.lockMutating(); err != nil {
		return domain.Event{}, err
	}
	defer mk.mu.Unlock()
	now := e.now()

	if actor != mk.m.Admin {
		return domain.Event{}, domain.ErrNotAdmin
	}
	if mk.m.Funding == domain.FundingFunded {
		return domain.Event{}, domain.ErrAlreadyFunded
	}
	if err := e.preflightSolvency(ctx, mk); err != nil {
		return domain.Event{}, err
	}

	subsidy, err := lmsr.RequiredSubsidy(mk.m.LiquidityParam)
	if err != nil {
		return domain.Event{}, err
	}
	if err := mk.safe.PullExact(ctx, actor, mk.m.CustodyAccount, subsidy); err != nil {
		return domain.Event{}, err
	}

	s := mk.snap()
	mk.m.Pool = new(big.Int).Add(mk.m.Pool, subsidy)
	mk.m.Funding = domain.FundingFunded
	mk.m.UpdatedAt = now

	if err := e.assertSolvent(ctx, mk); err != nil {
		mk.restore(s)
		// The subsidy was already pulled; return it so the admin is not
		// left with funds stranded in custody.
		if rerr := mk.safe.PushExact(ctx, mk.m.CustodyAccount, actor, subsidy); rerr != nil {
			e.logger.Error("fund refund failed",
				slog.String("market", marketID),
				slog.String("actor", actor),
				slog.String("error", rerr.Error()),
			)
		}
		return domain.Event{}, err
	}

	ev := e.emit(ctx, mk, domain.Event{
		Type:   domain.EventMarketFunded,
		Actor:  actor,
		Amount: subsidy,
	}, nil)

	e.logger.Info("market funded",
		slog.String("market", marketID),
		slog.String("subsidy", subsidy.String()),
	)
	return ev, nil
}

// Buy purchases shares of an outcome at the LMSR-quoted cost, bounded by
// maxCost (nil for no bound). The bound covers the total outlay including
// any buy-side fee.
func (e *Engine) Buy(ctx context.Context, marketID, actor string, outcome domain.Outcome, shares, maxCost *big.Int) (domain.Event, error) {
	if shares == nil || shares.Sign() <= 0 {
		return domain.Event{}, domain.ErrZeroShares
	}
	if !outcome.Valid() {
		return domain.Event{}, domain.ErrInvalidOutcome
	}
	if actor == "" {
		return domain.Event{}, domain.ErrEmptyAccount
	}

	mk, err := e.get(marketID)
	if err != nil {
		return domain.Event{}, err
	}
	if err := mk.lockMutating(); err != nil {
		return domain.Event{}, err
	}
	defer mk.mu.Unlock()
	now := e.now()

	if mk.m.Funding != domain.FundingFunded {
		return domain.Event{}, domain.ErrNotFunded
	}
	if mk.m.Trading(now) != domain.TradingOpen {
		return domain.Event{}, domain.ErrMarketClosed
	}
	if err := e.preflightSolvency(ctx, mk); err != nil {
		return domain.Event{}, err
	}

	cost, err := lmsr.QuoteBuy(outcome, mk.m.QYes, mk.m.QNo, mk.m.LiquidityParam, shares)
	if err != nil {
		return domain.Event{}, err
	}
	fee := new(big.Int)
	if mk.m.Fee.ChargeBuy {
		if fee, err = feeOf(cost, mk.m.Fee.RateBps); err != nil {
			return domain.Event{}, err
		}
	}
	total := new(big.Int).Add(cost, fee)
	if maxCost != nil && total.Cmp(maxCost) > 0 {
		return domain.Event{}, &domain.SlippageError{Quoted: total, Bound: new(big.Int).Set(maxCost)}
	}

	// Pull the full outlay into custody, then route the fee onward. If the
	// fee leg fails the inbound pull is refunded before reporting.
	if err := mk.safe.PullExact(ctx, actor, mk.m.CustodyAccount, total); err != nil {
		return domain.Event{}, err
	}
	if fee.Sign() > 0 {
		if err := mk.safe.PushExact(ctx, mk.m.CustodyAccount, mk.m.Fee.Recipient, fee); err != nil {
			if rerr := mk.safe.PushExact(ctx, mk.m.CustodyAccount, actor, total); rerr != nil {
				e.logger.Error("buy fee refund failed",
					slog.String("market", marketID),
					slog.String("actor", actor),
					slog.String("error", rerr.Error()),
				)
			}
			return domain.Event{}, err
		}
	}

	s := mk.snapWithPosition(actor, outcome)
	mk.addQ(outcome, shares)
	mk.m.Pool = new(big.Int).Add(mk.m.Pool, cost)
	newPos := new(big.Int).Add(mk.position(actor, outcome), shares)
	mk.setPosition(actor, outcome, newPos)
	mk.m.UpdatedAt = now

	if err := e.assertSolvent(ctx, mk); err != nil {
		mk.restore(s)
		// Refund the cost leg only; the fee already settled to the
		// recipient and is not custody's to return.
		if rerr := mk.safe.PushExact(ctx, mk.m.CustodyAccount, actor, cost); rerr != nil {
			e.logger.Error("buy refund failed",
				slog.String("market", marketID),
				slog.String("actor", actor),
				slog.String("error", rerr.Error()),
			)
		}
		return domain.Event{}, err
	}

	touched := domain.Position{
		MarketID:  marketID,
		Account:   actor,
		Outcome:   outcome,
		Shares:    new(big.Int).Set(newPos),
		UpdatedAt: now,
	}
	ev := e.emit(ctx, mk, domain.Event{
		Type:    domain.EventSharesBought,
		Actor:   actor,
		Outcome: outcome,
		Shares:  new(big.Int).Set(shares),
		Amount:  cost,
		Fee:     fee,
	}, &touched)
	return ev, nil
}

// Sell returns shares of an outcome to the market at the LMSR-quoted
// payout, bounded below by minPayout (nil for no bound). The bound covers
// the net proceeds after any sell-side fee. State is decremented before
// the outbound transfer; a failed transfer restores the snapshot.
func (e *Engine) Sell(ctx context.Context, marketID, actor string, outcome domain.Outcome, shares, minPayout *big.Int) (domain.Event, error) {
	if shares == nil || shares.Sign() <= 0 {
		return domain.Event{}, domain.ErrZeroShares
	}
	if !outcome.Valid() {
		return domain.Event{}, domain.ErrInvalidOutcome
	}
	if actor == "" {
		return domain.Event{}, domain.ErrEmptyAccount
	}

	mk, err := e.get(marketID)
	if err != nil {
		return domain.Event{}, err
	}
	if err := mk.lockMutating(); err != nil {
		return domain.Event{}, err
	}
	defer mk.mu.Unlock()
	now := e.now()

	if mk.m.Funding != domain.FundingFunded {
		return domain.Event{}, domain.ErrNotFunded
	}
	if mk.m.Trading(now) != domain.TradingOpen {
		return domain.Event{}, domain.ErrMarketClosed
	}
	if mk.position(actor, outcome).Cmp(shares) < 0 {
		return domain.Event{}, domain.ErrInsufficientShares
	}
	if err := e.preflightSolvency(ctx, mk); err != nil {
		return domain.Event{}, err
	}

	payout, err := lmsr.QuoteSell(outcome, mk.m.QYes, mk.m.QNo, mk.m.LiquidityParam, shares)
	if err != nil {
		return domain.Event{}, err
	}
	fee := new(big.Int)
	if mk.m.Fee.ChargeSell {
		if fee, err = feeOf(payout, mk.m.Fee.RateBps); err != nil {
			return domain.Event{}, err
		}
	}
	net := new(big.Int).Sub(payout, fee)
	if minPayout != nil && net.Cmp(minPayout) < 0 {
		return domain.Event{}, &domain.SlippageError{Quoted: net, Bound: new(big.Int).Set(minPayout)}
	}

	// Effects before the external calls: a reentrant observer must never
	// see the pre-trade position or quantities.
	s := mk.snapWithPosition(actor, outcome)
	mk.setPosition(actor, outcome, new(big.Int).Sub(mk.position(actor, outcome), shares))
	mk.addQ(outcome, new(big.Int).Neg(shares))
	mk.m.Pool = new(big.Int).Sub(mk.m.Pool, payout)
	mk.m.UpdatedAt = now

	if fee.Sign() > 0 {
		if err := mk.safe.PushExact(ctx, mk.m.CustodyAccount, mk.m.Fee.Recipient, fee); err != nil {
			mk.restore(s)
			return domain.Event{}, err
		}
	}
	if err := mk.safe.PushExact(ctx, mk.m.CustodyAccount, actor, net); err != nil {
		mk.restore(s)
		// The fee leg already settled; claw it back so custody matches
		// the restored pool.
		if fee.Sign() > 0 {
			if rerr := mk.safe.PullExact(ctx, mk.m.Fee.Recipient, mk.m.CustodyAccount, fee); rerr != nil {
				e.logger.Error("sell fee clawback failed",
					slog.String("market", marketID),
					slog.String("error", rerr.Error()),
				)
			}
		}
		return domain.Event{}, err
	}

	if err := e.assertSolvent(ctx, mk); err != nil {
		mk.restore(s)
		return domain.Event{}, err
	}

	touched := domain.Position{
		MarketID:  marketID,
		Account:   actor,
		Outcome:   outcome,
		Shares:    new(big.Int).Set(mk.position(actor, outcome)),
		UpdatedAt: now,
	}
	ev := e.emit(ctx, mk, domain.Event{
		Type:    domain.EventSharesSold,
		Actor:   actor,
		Outcome: outcome,
		Shares:  new(big.Int).Set(shares),
		Amount:  payout,
		Fee:     fee,
	}, &touched)
	return ev, nil
}
