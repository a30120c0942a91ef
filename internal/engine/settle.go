package engine

import (
	"context"
	"log/slog"
	"math/big"

	"github.com/alanyoungcy/lmsrd/internal/domain"
)

// Resolve declares the winning outcome. Admin-only, exactly once, and —
// when the market carries a close time — only after it has passed.
func (e *Engine) Resolve(ctx context.Context, marketID, actor string, outcome domain.Outcome) (domain.Event, error) {
	if !outcome.Valid() {
		return domain.Event{}, domain.ErrInvalidOutcome
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

	if actor != mk.m.Admin {
		return domain.Event{}, domain.ErrNotAdmin
	}
	if mk.m.Funding != domain.FundingFunded {
		return domain.Event{}, domain.ErrNotFunded
	}
	if mk.m.Resolved {
		return domain.Event{}, domain.ErrAlreadyResolved
	}
	if mk.m.CloseTime != nil && now.Before(*mk.m.CloseTime) {
		return domain.Event{}, domain.ErrCloseTimeNotReached
	}

	mk.m.Resolved = true
	mk.m.WinningOutcome = outcome
	resolvedAt := now
	mk.m.ResolvedAt = &resolvedAt
	mk.m.UpdatedAt = now

	ev := e.emit(ctx, mk, domain.Event{
		Type:    domain.EventMarketResolved,
		Actor:   actor,
		Outcome: outcome,
	}, nil)

	e.logger.Info("market resolved",
		slog.String("market", marketID),
		slog.String("outcome", string(outcome)),
	)
	return ev, nil
}

// Claim pays the caller's winning-side position 1:1 in the settlement
// asset and zeroes it. Each claim decrements the winning-side quantity by
// the claimed amount, so it reaches exactly zero once every winner has
// claimed.
func (e *Engine) Claim(ctx context.Context, marketID, actor string) (domain.Event, error) {
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

	if !mk.m.Resolved {
		return domain.Event{}, domain.ErrNotResolved
	}
	if mk.m.Swept {
		return domain.Event{}, domain.ErrAlreadySwept
	}
	winning := mk.m.WinningOutcome
	held := mk.position(actor, winning)
	if held.Sign() == 0 {
		return domain.Event{}, domain.ErrNoClaimableShares
	}
	if err := e.preflightSolvency(ctx, mk); err != nil {
		return domain.Event{}, err
	}

	amount := new(big.Int).Set(held)

	// Effects before the outbound transfer.
	s := mk.snapWithPosition(actor, winning)
	mk.setPosition(actor, winning, new(big.Int))
	mk.addQ(winning, new(big.Int).Neg(amount))
	mk.m.Pool = new(big.Int).Sub(mk.m.Pool, amount)
	mk.m.UpdatedAt = now

	if err := mk.safe.PushExact(ctx, mk.m.CustodyAccount, actor, amount); err != nil {
		mk.restore(s)
		return domain.Event{}, err
	}
	if err := e.assertSolvent(ctx, mk); err != nil {
		mk.restore(s)
		return domain.Event{}, err
	}

	touched := domain.Position{
		MarketID:  marketID,
		Account:   actor,
		Outcome:   winning,
		Shares:    new(big.Int),
		UpdatedAt: now,
	}
	ev := e.emit(ctx, mk, domain.Event{
		Type:    domain.EventWinningsClaimed,
		Actor:   actor,
		Outcome: winning,
		Shares:  new(big.Int).Set(amount),
		Amount:  amount,
	}, &touched)
	return ev, nil
}

// Withdraw sweeps the entire remaining custodied balance to the admin.
// Allowed immediately once every winner has claimed, or after the claim
// window has elapsed — the grace-period fallback that keeps funds from
// being locked forever by winners who never show up.
func (e *Engine) Withdraw(ctx context.Context, marketID, actor string) (domain.Event, error) {
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
	if !mk.m.Resolved {
		return domain.Event{}, domain.ErrNotResolved
	}
	if mk.m.Swept {
		return domain.Event{}, domain.ErrAlreadySwept
	}
	if mk.m.Q(mk.m.WinningOutcome).Sign() != 0 {
		deadline := mk.m.ResolvedAt.Add(mk.m.ClaimWindow)
		if now.Before(deadline) {
			return domain.Event{}, domain.ErrUnclaimedShares
		}
	}

	// The sweep takes whatever the asset actually holds, including any
	// tokens wired around the engine, so no preflight solvency here.
	balance, err := mk.safe.Asset().BalanceOf(ctx, mk.m.CustodyAccount)
	if err != nil {
		return domain.Event{}, err
	}

	s := mk.snap()
	mk.m.Pool = new(big.Int)
	mk.m.Swept = true
	mk.m.UpdatedAt = now

	if balance.Sign() > 0 {
		if err := mk.safe.PushExact(ctx, mk.m.CustodyAccount, actor, balance); err != nil {
			mk.restore(s)
			return domain.Event{}, err
		}
	}
	if err := e.assertSolvent(ctx, mk); err != nil {
		mk.restore(s)
		return domain.Event{}, err
	}

	ev := e.emit(ctx, mk, domain.Event{
		Type:   domain.EventResidualWithdrawn,
		Actor:  actor,
		Amount: balance,
	}, nil)

	e.logger.Info("market swept",
		slog.String("market", marketID),
		slog.String("amount", balance.String()),
	)
	return ev, nil
}
