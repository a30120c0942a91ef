// Package lmsr implements the Logarithmic Market Scoring Rule cost
// function and its derived buy/sell quoting for binary markets, on
// WAD-scaled fixed-point arithmetic.
//
// Cost(qYes, qNo, b) = b * ln(exp(qYes/b) + exp(qNo/b)). Quotes are cost
// deltas between the current and candidate state, so splitting an order
// into smaller pieces telescopes to the same total up to rounding, and the
// function itself carries no bid/ask spread.
//
// Rounding direction is part of the pricing contract: the candidate-state
// cost is rounded up on buys and the same on sells, so a buy never pays
// less than the true delta and a sell never receives more. The cost is
// evaluated end to end at 27-decimal precision and truncated to WAD only
// in the final division, which keeps the pool able to cover every
// winning-side share at resolution.
//
// Reference: Hanson, "Logarithmic Market Scoring Rules for Modular
// Combinatorial Information Aggregation", 2003.
package lmsr

import (
	"math/big"

	"github.com/alanyoungcy/lmsrd/internal/domain"
	"github.com/alanyoungcy/lmsrd/internal/wadmath"
)

// lnSum27 evaluates ln(exp(qYes/b) + exp(qNo/b)) at 27-decimal scale.
// Each ratio q/b is bounds-checked inside Exp27; exceeding the ceiling is
// a hard capacity limit for the market, not a transient failure.
func lnSum27(qYes, qNo, b *big.Int) (*big.Int, error) {
	if b.Sign() <= 0 {
		return nil, domain.ErrInvalidLiquidity
	}

	rYes, err := wadmath.FullMulDiv(qYes, wadmath.One27, b)
	if err != nil {
		return nil, err
	}
	rNo, err := wadmath.FullMulDiv(qNo, wadmath.One27, b)
	if err != nil {
		return nil, err
	}

	eYes, err := wadmath.Exp27(rYes)
	if err != nil {
		return nil, err
	}
	eNo, err := wadmath.Exp27(rNo)
	if err != nil {
		return nil, err
	}
	return wadmath.Ln27(new(big.Int).Add(eYes, eNo))
}

// Cost evaluates the LMSR cost function, truncated to WAD.
func Cost(qYes, qNo, b *big.Int) (*big.Int, error) {
	ln, err := lnSum27(qYes, qNo, b)
	if err != nil {
		return nil, err
	}
	return wadmath.FullMulDiv(b, ln, wadmath.One27)
}

// costUp is Cost with the final division rounded up.
func costUp(qYes, qNo, b *big.Int) (*big.Int, error) {
	ln, err := lnSum27(qYes, qNo, b)
	if err != nil {
		return nil, err
	}
	return wadmath.FullMulDivUp(b, ln, wadmath.One27)
}

// QuoteBuy returns the gross cost of buying shares of the given outcome
// from state (qYes, qNo): Cost(after) - Cost(before), with the after-state
// cost rounded up.
func QuoteBuy(outcome domain.Outcome, qYes, qNo, b, shares *big.Int) (*big.Int, error) {
	if shares.Sign() <= 0 {
		return nil, domain.ErrZeroShares
	}
	if !outcome.Valid() {
		return nil, domain.ErrInvalidOutcome
	}

	before, err := Cost(qYes, qNo, b)
	if err != nil {
		return nil, err
	}

	nYes, nNo := qYes, qNo
	if outcome == domain.OutcomeYes {
		nYes = new(big.Int).Add(qYes, shares)
	} else {
		nNo = new(big.Int).Add(qNo, shares)
	}
	after, err := costUp(nYes, nNo, b)
	if err != nil {
		return nil, err
	}
	return after.Sub(after, before), nil
}

// QuoteSell returns the gross payout for selling shares of the given
// outcome back to the market: Cost(before) - Cost(after), with the
// after-state cost rounded up. It fails with ErrInsufficientDepth when the
// outstanding quantity on that side is smaller than the requested size.
func QuoteSell(outcome domain.Outcome, qYes, qNo, b, shares *big.Int) (*big.Int, error) {
	if shares.Sign() <= 0 {
		return nil, domain.ErrZeroShares
	}
	if !outcome.Valid() {
		return nil, domain.ErrInvalidOutcome
	}

	cur := qYes
	if outcome == domain.OutcomeNo {
		cur = qNo
	}
	if cur.Cmp(shares) < 0 {
		return nil, domain.ErrInsufficientDepth
	}

	before, err := Cost(qYes, qNo, b)
	if err != nil {
		return nil, err
	}

	nYes, nNo := qYes, qNo
	if outcome == domain.OutcomeYes {
		nYes = new(big.Int).Sub(qYes, shares)
	} else {
		nNo = new(big.Int).Sub(qNo, shares)
	}
	after, err := costUp(nYes, nNo, b)
	if err != nil {
		return nil, err
	}
	payout := before.Sub(before, after)
	if payout.Sign() < 0 {
		// Rounding can push a sub-wei delta below zero; a sale never owes.
		payout.SetInt64(0)
	}
	return payout, nil
}

// RequiredSubsidy is the capital the market creator must pre-fund:
// ceil(b * ln 2), the maximum payout shortfall of a binary LMSR market.
func RequiredSubsidy(b *big.Int) (*big.Int, error) {
	if b.Sign() <= 0 {
		return nil, domain.ErrInvalidLiquidity
	}
	return wadmath.FullMulDivUp(b, wadmath.Ln2At27, wadmath.One27)
}

// SpotPrice returns the instantaneous price of the given outcome as a WAD
// fraction of 1: exp(q_o/b) / (exp(qYes/b) + exp(qNo/b)). Prices of the
// two outcomes sum to 1 up to rounding.
func SpotPrice(outcome domain.Outcome, qYes, qNo, b *big.Int) (*big.Int, error) {
	if !outcome.Valid() {
		return nil, domain.ErrInvalidOutcome
	}
	if b.Sign() <= 0 {
		return nil, domain.ErrInvalidLiquidity
	}

	rYes, err := wadmath.FullMulDiv(qYes, wadmath.One27, b)
	if err != nil {
		return nil, err
	}
	rNo, err := wadmath.FullMulDiv(qNo, wadmath.One27, b)
	if err != nil {
		return nil, err
	}
	eYes, err := wadmath.Exp27(rYes)
	if err != nil {
		return nil, err
	}
	eNo, err := wadmath.Exp27(rNo)
	if err != nil {
		return nil, err
	}

	num := eYes
	if outcome == domain.OutcomeNo {
		num = eNo
	}
	return wadmath.DivWad(num, new(big.Int).Add(eYes, eNo))
}
