package domain

import (
	"context"
	"math/big"
)

// SettlementAsset is the narrow capability set the engine consumes from an
// external fungible-asset contract. Implementations translate the asset's
// native success conventions into Go errors: a call that reports no status
// at all is treated as success, an explicit failure return becomes a
// non-nil error. The engine never trusts either signal on its own — every
// movement is re-verified by balance delta in the transfer safety layer.
type SettlementAsset interface {
	// Decimals returns the asset's fixed-point scale.
	Decimals(ctx context.Context) (uint8, error)

	// BalanceOf returns the balance held by account.
	BalanceOf(ctx context.Context, account string) (*big.Int, error)

	// Transfer moves amount from the holder `from` to `to`. The caller is
	// responsible for only naming holders it is entitled to act for.
	Transfer(ctx context.Context, from, to string, amount *big.Int) error

	// TransferFrom moves amount from `from` to `to` on the strength of a
	// prior approval granted to the engine's custody principal.
	TransferFrom(ctx context.Context, from, to string, amount *big.Int) error
}
