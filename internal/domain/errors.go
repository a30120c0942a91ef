package domain

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/alanyoungcy/lmsrd/internal/wadmath"
)

// Closed error taxonomy. Every engine operation fails with exactly one of
// these, grouped by the stage at which the check runs. All failures abort
// the whole operation with no partial state change.
var (
	// Validation — rejected before any state read.
	ErrZeroShares        = errors.New("shares must be positive")
	ErrInvalidOutcome    = errors.New("invalid outcome")
	ErrInvalidLiquidity  = errors.New("liquidity parameter must be positive")
	ErrInvalidCloseTime  = errors.New("close time must be in the future")
	ErrInvalidFeeRate    = errors.New("fee rate out of range")
	ErrNoFeeRecipient    = errors.New("fee recipient must be set")
	ErrEmptyTitle        = errors.New("title must not be empty")
	ErrEmptyAccount      = errors.New("account must not be empty")
	ErrNoSettlementAsset = errors.New("settlement asset required")
	ErrScaleMismatch     = errors.New("settlement asset must use 18 decimals")

	// Authorization.
	ErrNotAdmin = errors.New("caller is not the market admin")

	// State.
	ErrMarketNotFound      = errors.New("market not found")
	ErrNotFunded           = errors.New("market is not funded")
	ErrAlreadyFunded       = errors.New("market is already funded")
	ErrMarketClosed        = errors.New("market is closed for trading")
	ErrAlreadyResolved     = errors.New("market is already resolved")
	ErrNotResolved         = errors.New("market is not resolved")
	ErrCloseTimeNotReached = errors.New("close time not reached")
	ErrAlreadySwept        = errors.New("market has been swept")

	// Capacity — surfaced by the pricing layer before any transfer.
	ErrExpInputTooLarge = wadmath.ErrExpInputTooLarge
	ErrOverflow         = wadmath.ErrOverflow

	// Economic — rejected after quoting, before any transfer.
	ErrInsufficientDepth  = errors.New("insufficient outstanding shares on that side")
	ErrInsufficientShares = errors.New("caller holds fewer shares than requested")
	ErrSlippageExceeded   = errors.New("slippage bound exceeded")
	ErrNoClaimableShares  = errors.New("no claimable winning shares")
	ErrUnclaimedShares    = errors.New("winning shares remain unclaimed")

	// Integrity — triggered during or around asset movement.
	ErrTransferFailed   = errors.New("settlement asset transfer failed")
	ErrTransferMismatch = errors.New("settlement asset transfer amount mismatch")
	ErrReentrancy       = errors.New("reentrant call")
	ErrSolvency         = errors.New("pool does not match custodied balance")

	ErrNotFound = errors.New("not found")
)

// TransferMismatchError reports a balance delta that differs from the
// transferred amount, e.g. a fee-on-transfer asset silently shaving the
// moved value. It matches ErrTransferMismatch under errors.Is.
type TransferMismatchError struct {
	Account  string
	Expected *big.Int
	Observed *big.Int
}

func (e *TransferMismatchError) Error() string {
	return fmt.Sprintf("settlement asset transfer amount mismatch on %s: expected delta %s, observed %s",
		e.Account, e.Expected, e.Observed)
}

func (e *TransferMismatchError) Is(target error) bool {
	return target == ErrTransferMismatch
}

// SlippageError reports a quote that moved past the caller's bound. It
// matches ErrSlippageExceeded under errors.Is.
type SlippageError struct {
	Quoted *big.Int
	Bound  *big.Int
}

func (e *SlippageError) Error() string {
	return fmt.Sprintf("slippage bound exceeded: quoted %s against bound %s", e.Quoted, e.Bound)
}

func (e *SlippageError) Is(target error) bool {
	return target == ErrSlippageExceeded
}

// SolvencyError reports a post-operation divergence between the internal
// pool ledger and the custodied balance. It matches ErrSolvency.
type SolvencyError struct {
	MarketID string
	Pool     *big.Int
	Balance  *big.Int
}

func (e *SolvencyError) Error() string {
	return fmt.Sprintf("market %s: pool %s does not match custodied balance %s", e.MarketID, e.Pool, e.Balance)
}

func (e *SolvencyError) Is(target error) bool {
	return target == ErrSolvency
}
