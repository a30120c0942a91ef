// Package memtoken is an in-process 18-decimal fungible token. It backs
// the memory deployment mode and the engine test suite, including the
// adversarial variants the transfer safety layer must defend against:
// fee-on-transfer deduction, explicit transfer rejection, and reentrant
// callbacks fired mid-transfer.
package memtoken

import (
	"context"
	"errors"
	"math/big"
	"sync"
)

var (
	errInsufficientBalance = errors.New("memtoken: insufficient balance")
	errRejected            = errors.New("memtoken: transfer rejected")
)

// Hook is invoked after a transfer has settled, outside the token's lock,
// with the transfer parameters. Tests use it to re-enter the engine the
// way a malicious asset contract would.
type Hook func(from, to string, amount *big.Int)

// Token is an in-memory settlement asset.
type Token struct {
	mu       sync.Mutex
	balances map[string]*big.Int

	decimals uint8
	feeBps   int64
	reject   bool
	hook     Hook
}

// Option configures a Token.
type Option func(*Token)

// WithDecimals overrides the default 18-decimal scale.
func WithDecimals(d uint8) Option {
	return func(t *Token) { t.decimals = d }
}

// WithTransferFeeBps makes the token burn the given basis-point fee out of
// every transfer, so the receiver is credited short.
func WithTransferFeeBps(bps int64) Option {
	return func(t *Token) { t.feeBps = bps }
}

// WithRejectedTransfers makes every transfer return an explicit failure
// without moving funds.
func WithRejectedTransfers() Option {
	return func(t *Token) { t.reject = true }
}

// WithTransferHook installs a callback fired after each settled transfer.
func WithTransferHook(h Hook) Option {
	return func(t *Token) { t.hook = h }
}

// New creates a Token with the given options.
func New(opts ...Option) *Token {
	t := &Token{
		balances: make(map[string]*big.Int),
		decimals: 18,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Mint credits amount to account out of thin air.
func (t *Token) Mint(account string, amount *big.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.credit(account, amount)
}

func (t *Token) credit(account string, amount *big.Int) {
	bal, ok := t.balances[account]
	if !ok {
		bal = new(big.Int)
		t.balances[account] = bal
	}
	bal.Add(bal, amount)
}

// Decimals implements domain.SettlementAsset.
func (t *Token) Decimals(context.Context) (uint8, error) {
	return t.decimals, nil
}

// BalanceOf implements domain.SettlementAsset.
func (t *Token) BalanceOf(_ context.Context, account string) (*big.Int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if bal, ok := t.balances[account]; ok {
		return new(big.Int).Set(bal), nil
	}
	return new(big.Int), nil
}

// Transfer implements domain.SettlementAsset.
func (t *Token) Transfer(ctx context.Context, from, to string, amount *big.Int) error {
	return t.move(from, to, amount)
}

// TransferFrom implements domain.SettlementAsset. Allowance bookkeeping is
// deliberately absent; the in-memory deployment trusts the engine to act
// only on behalf of authenticated callers.
func (t *Token) TransferFrom(ctx context.Context, from, to string, amount *big.Int) error {
	return t.move(from, to, amount)
}

func (t *Token) move(from, to string, amount *big.Int) error {
	t.mu.Lock()
	if t.reject {
		t.mu.Unlock()
		return errRejected
	}
	bal := t.balances[from]
	if bal == nil || bal.Cmp(amount) < 0 {
		t.mu.Unlock()
		return errInsufficientBalance
	}
	bal.Sub(bal, amount)

	credited := new(big.Int).Set(amount)
	if t.feeBps > 0 {
		fee := new(big.Int).Mul(amount, big.NewInt(t.feeBps))
		fee.Quo(fee, big.NewInt(10_000))
		credited.Sub(credited, fee) // fee is burned
	}
	t.credit(to, credited)
	hook := t.hook
	t.mu.Unlock()

	// Fired outside the lock so a hook may call back into the token, the
	// same way an external contract could re-enter mid-transfer.
	if hook != nil {
		hook(from, to, amount)
	}
	return nil
}
