// Package asset wraps settlement-asset movement in a safety layer. The
// engine never calls a SettlementAsset directly: every inbound and
// outbound transfer is measured by balance delta on the custody-relevant
// account, and any deviation from the expected amount aborts the
// operation. This is what keeps the pool ledger honest against assets
// with fee-on-transfer behavior, missing return values, or outright
// lying success reporting.
package asset

import (
	"context"
	"fmt"
	"math/big"

	"github.com/alanyoungcy/lmsrd/internal/domain"
)

// SafeTransferor verifies asset movements by before/after balance reads.
type SafeTransferor struct {
	asset domain.SettlementAsset
}

// NewSafeTransferor wraps the given settlement asset.
func NewSafeTransferor(a domain.SettlementAsset) *SafeTransferor {
	return &SafeTransferor{asset: a}
}

// Asset returns the wrapped settlement asset.
func (s *SafeTransferor) Asset() domain.SettlementAsset { return s.asset }

// CheckScale rejects assets whose decimals differ from the WAD scale the
// pricing math is built on; a lower-resolution asset would silently
// corrupt every quote.
func (s *SafeTransferor) CheckScale(ctx context.Context) error {
	dec, err := s.asset.Decimals(ctx)
	if err != nil {
		return fmt.Errorf("asset: read decimals: %w", err)
	}
	if dec != WadDecimals {
		return fmt.Errorf("%w: asset reports %d", domain.ErrScaleMismatch, dec)
	}
	return nil
}

// WadDecimals is the only settlement-asset scale the engine accepts,
// matching wadmath.WAD.
const WadDecimals uint8 = 18

// PullExact moves amount from `from` into the custody account `to` via
// TransferFrom and requires to's balance to grow by exactly amount. A
// short delta (fee-on-transfer) or an excess delta both fail with
// ErrTransferMismatch; an explicit transfer failure becomes
// ErrTransferFailed. A zero amount is a no-op.
func (s *SafeTransferor) PullExact(ctx context.Context, from, to string, amount *big.Int) error {
	if amount.Sign() == 0 {
		return nil
	}
	before, err := s.asset.BalanceOf(ctx, to)
	if err != nil {
		return fmt.Errorf("asset: read balance of %s: %w", to, err)
	}
	if err := s.asset.TransferFrom(ctx, from, to, amount); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransferFailed, err)
	}
	after, err := s.asset.BalanceOf(ctx, to)
	if err != nil {
		return fmt.Errorf("asset: read balance of %s: %w", to, err)
	}
	delta := new(big.Int).Sub(after, before)
	if delta.Cmp(amount) != 0 {
		return &domain.TransferMismatchError{Account: to, Expected: amount, Observed: delta}
	}
	return nil
}

// PushExact moves amount out of the custody account `from` to `to` via
// Transfer and requires from's balance to shrink by exactly amount.
func (s *SafeTransferor) PushExact(ctx context.Context, from, to string, amount *big.Int) error {
	if amount.Sign() == 0 {
		return nil
	}
	before, err := s.asset.BalanceOf(ctx, from)
	if err != nil {
		return fmt.Errorf("asset: read balance of %s: %w", from, err)
	}
	if err := s.asset.Transfer(ctx, from, to, amount); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransferFailed, err)
	}
	after, err := s.asset.BalanceOf(ctx, from)
	if err != nil {
		return fmt.Errorf("asset: read balance of %s: %w", from, err)
	}
	delta := new(big.Int).Sub(before, after)
	if delta.Cmp(amount) != 0 {
		return &domain.TransferMismatchError{Account: from, Expected: amount, Observed: delta}
	}
	return nil
}
