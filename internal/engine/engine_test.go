package engine

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/alanyoungcy/lmsrd/internal/asset/memtoken"
	"github.com/alanyoungcy/lmsrd/internal/domain"
	"github.com/alanyoungcy/lmsrd/internal/wadmath"
)

const (
	admin   = "admin"
	alice   = "alice"
	bob     = "bob"
	feeSink = "treasury"
)

func wad(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), wadmath.WAD)
}

// testClock is a manually advanced time source.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	engine *Engine
	token  *memtoken.Token
	clock  *testClock
	market domain.Market
}

func newFixture(t *testing.T, b *big.Int, opts ...memtoken.Option) *fixture {
	t.Helper()
	ctx := context.Background()
	clock := newTestClock()
	token := memtoken.New(opts...)
	token.Mint(admin, wad(1_000_000))
	token.Mint(alice, wad(1_000_000))
	token.Mint(bob, wad(1_000_000))

	eng := New(WithClock(clock.Now))
	mkt, err := eng.CreateMarket(ctx, CreateMarketParams{
		Title:          "Will it rain tomorrow?",
		Admin:          admin,
		LiquidityParam: b,
		Asset:          token,
	})
	require.NoError(t, err)
	return &fixture{engine: eng, token: token, clock: clock, market: mkt}
}

func (f *fixture) fund(t *testing.T) {
	t.Helper()
	_, err := f.engine.Fund(context.Background(), f.market.ID, admin)
	require.NoError(t, err)
}

func (f *fixture) custodyBalance(t *testing.T) *big.Int {
	t.Helper()
	bal, err := f.token.BalanceOf(context.Background(), f.market.CustodyAccount)
	require.NoError(t, err)
	return bal
}

func (f *fixture) pool(t *testing.T) *big.Int {
	t.Helper()
	m, err := f.engine.GetMarket(context.Background(), f.market.ID)
	require.NoError(t, err)
	return m.Pool
}

func TestFundCommitsExactSubsidy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, wad(10))
	f.fund(t)

	// ceil(10 * ln 2) in WAD.
	assert.Equal(t, "6931471805599453095", f.pool(t).String())
	assert.Zero(t, f.pool(t).Cmp(f.custodyBalance(t)))

	m, err := f.engine.GetMarket(ctx, f.market.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.FundingFunded, m.Funding)

	_, err = f.engine.Fund(ctx, f.market.ID, admin)
	assert.ErrorIs(t, err, domain.ErrAlreadyFunded)
}

func TestFundRejectsNonAdmin(t *testing.T) {
	f := newFixture(t, wad(10))
	_, err := f.engine.Fund(context.Background(), f.market.ID, alice)
	assert.ErrorIs(t, err, domain.ErrNotAdmin)
}

func TestFundFailsOnFeeOnTransferToken(t *testing.T) {
	f := newFixture(t, wad(10), memtoken.WithTransferFeeBps(1_000))
	_, err := f.engine.Fund(context.Background(), f.market.ID, admin)
	assert.ErrorIs(t, err, domain.ErrTransferMismatch)

	m, err := f.engine.GetMarket(context.Background(), f.market.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.FundingUnfunded, m.Funding)
}

func TestTradeRequiresFunding(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, wad(10))

	_, err := f.engine.Buy(ctx, f.market.ID, alice, domain.OutcomeYes, wad(1), nil)
	assert.ErrorIs(t, err, domain.ErrNotFunded)
	_, err = f.engine.QuoteBuy(ctx, f.market.ID, domain.OutcomeYes, wad(1))
	assert.ErrorIs(t, err, domain.ErrNotFunded)
}

func TestQuoteSymmetryAtZeroState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, wad(10))
	f.fund(t)

	qy, err := f.engine.QuoteBuy(ctx, f.market.ID, domain.OutcomeYes, wad(1))
	require.NoError(t, err)
	qn, err := f.engine.QuoteBuy(ctx, f.market.ID, domain.OutcomeNo, wad(1))
	require.NoError(t, err)
	assert.Zero(t, qy.Total.Cmp(qn.Total))
}

func TestBuySellRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, wad(10))
	f.fund(t)

	buy, err := f.engine.Buy(ctx, f.market.ID, alice, domain.OutcomeYes, wad(5), nil)
	require.NoError(t, err)
	assert.True(t, buy.Amount.Sign() > 0)
	assert.Zero(t, f.pool(t).Cmp(f.custodyBalance(t)))

	pos, err := f.engine.GetPosition(ctx, f.market.ID, alice, domain.OutcomeYes)
	require.NoError(t, err)
	assert.Zero(t, pos.Shares.Cmp(wad(5)))

	sell, err := f.engine.Sell(ctx, f.market.ID, alice, domain.OutcomeYes, wad(5), nil)
	require.NoError(t, err)
	// Selling right back recovers the cost up to rounding, never more.
	spread := new(big.Int).Sub(buy.Amount, sell.Amount)
	assert.True(t, spread.Sign() >= 0)
	assert.True(t, spread.Cmp(big.NewInt(4)) <= 0, "spread %s wei", spread)
	assert.Zero(t, f.pool(t).Cmp(f.custodyBalance(t)))

	pos, err = f.engine.GetPosition(ctx, f.market.ID, alice, domain.OutcomeYes)
	require.NoError(t, err)
	assert.Zero(t, pos.Shares.Sign())
}

func TestSellMoreThanHeld(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, wad(10))
	f.fund(t)

	_, err := f.engine.Buy(ctx, f.market.ID, alice, domain.OutcomeYes, wad(2), nil)
	require.NoError(t, err)
	_, err = f.engine.Sell(ctx, f.market.ID, alice, domain.OutcomeYes, wad(3), nil)
	assert.ErrorIs(t, err, domain.ErrInsufficientShares)
}

func TestSlippageBounds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, wad(10))
	f.fund(t)

	quote, err := f.engine.QuoteBuy(ctx, f.market.ID, domain.OutcomeYes, wad(5))
	require.NoError(t, err)

	tooTight := new(big.Int).Sub(quote.Total, big.NewInt(1))
	_, err = f.engine.Buy(ctx, f.market.ID, alice, domain.OutcomeYes, wad(5), tooTight)
	assert.ErrorIs(t, err, domain.ErrSlippageExceeded)
	var se *domain.SlippageError
	require.ErrorAs(t, err, &se)
	assert.Zero(t, se.Quoted.Cmp(quote.Total))

	_, err = f.engine.Buy(ctx, f.market.ID, alice, domain.OutcomeYes, wad(5), quote.Total)
	require.NoError(t, err)

	// A sell floor above the achievable payout must also fail.
	_, err = f.engine.Sell(ctx, f.market.ID, alice, domain.OutcomeYes, wad(5), new(big.Int).Add(quote.Total, wad(1)))
	assert.ErrorIs(t, err, domain.ErrSlippageExceeded)
}

func TestBuyFeeRouting(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	token := memtoken.New()
	token.Mint(admin, wad(1_000))
	token.Mint(alice, wad(1_000))

	eng := New(WithClock(clock.Now))
	mkt, err := eng.CreateMarket(ctx, CreateMarketParams{
		Title:          "fee market",
		Admin:          admin,
		LiquidityParam: wad(10),
		Asset:          token,
		Fee: domain.FeeConfig{
			RateBps:    200, // 2%
			Recipient:  feeSink,
			ChargeBuy:  true,
			ChargeSell: true,
		},
	})
	require.NoError(t, err)
	_, err = eng.Fund(ctx, mkt.ID, admin)
	require.NoError(t, err)

	quote, err := eng.QuoteBuy(ctx, mkt.ID, domain.OutcomeYes, wad(5))
	require.NoError(t, err)
	wantFee, err := feeOf(quote.Gross, 200)
	require.NoError(t, err)
	assert.Zero(t, quote.Fee.Cmp(wantFee))

	ev, err := eng.Buy(ctx, mkt.ID, alice, domain.OutcomeYes, wad(5), nil)
	require.NoError(t, err)
	assert.Zero(t, ev.Fee.Cmp(wantFee))

	sinkBal, err := token.BalanceOf(ctx, feeSink)
	require.NoError(t, err)
	assert.Zero(t, sinkBal.Cmp(wantFee))

	// Custody holds only the pool; the fee left.
	m, err := eng.GetMarket(ctx, mkt.ID)
	require.NoError(t, err)
	custody, err := token.BalanceOf(ctx, mkt.CustodyAccount)
	require.NoError(t, err)
	assert.Zero(t, m.Pool.Cmp(custody))

	// Sell-side fee comes out of the payout.
	sellQuote, err := eng.QuoteSell(ctx, mkt.ID, domain.OutcomeYes, wad(5))
	require.NoError(t, err)
	assert.True(t, sellQuote.Total.Cmp(sellQuote.Gross) < 0)

	sellEv, err := eng.Sell(ctx, mkt.ID, alice, domain.OutcomeYes, wad(5), nil)
	require.NoError(t, err)
	assert.True(t, sellEv.Fee.Sign() > 0)

	m, err = eng.GetMarket(ctx, mkt.ID)
	require.NoError(t, err)
	custody, err = token.BalanceOf(ctx, mkt.CustodyAccount)
	require.NoError(t, err)
	assert.Zero(t, m.Pool.Cmp(custody))
}

func TestCapacityCeiling(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, wad(10))
	f.fund(t)

	// 135 * b worth of shares on one side lands exactly on the exp ceiling.
	_, err := f.engine.Buy(ctx, f.market.ID, alice, domain.OutcomeYes, wad(1_350), nil)
	require.NoError(t, err)

	_, err = f.engine.Buy(ctx, f.market.ID, alice, domain.OutcomeYes, wad(1), nil)
	assert.ErrorIs(t, err, domain.ErrExpInputTooLarge)

	// The opposite side still has headroom.
	_, err = f.engine.Buy(ctx, f.market.ID, bob, domain.OutcomeNo, wad(1), nil)
	require.NoError(t, err)
}

func TestDonatedTokensFailPreflight(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, wad(10))
	f.fund(t)

	// Tokens wired straight to custody break pool == balance.
	f.token.Mint(f.market.CustodyAccount, wad(1))

	_, err := f.engine.Buy(ctx, f.market.ID, alice, domain.OutcomeYes, wad(1), nil)
	assert.ErrorIs(t, err, domain.ErrSolvency)
	var se *domain.SolvencyError
	require.ErrorAs(t, err, &se)
	assert.True(t, se.Balance.Cmp(se.Pool) > 0)
}

// driftingAsset wraps a token and, once armed, lets a set number of
// custody balance reads through before reporting the balance inflated
// by a fixed surplus. It models an external transfer landing in custody
// mid-operation, after the inbound pull has already settled.
type driftingAsset struct {
	*memtoken.Token
	custody string
	surplus *big.Int

	mu        sync.Mutex
	armed     bool
	passReads int
}

func (d *driftingAsset) arm(passReads int) {
	d.mu.Lock()
	d.armed = true
	d.passReads = passReads
	d.mu.Unlock()
}

func (d *driftingAsset) BalanceOf(ctx context.Context, account string) (*big.Int, error) {
	bal, err := d.Token.BalanceOf(ctx, account)
	if err != nil || account != d.custody {
		return bal, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.armed {
		return bal, nil
	}
	if d.passReads > 0 {
		d.passReads--
		return bal, nil
	}
	return new(big.Int).Add(bal, d.surplus), nil
}

func newDriftFixture(t *testing.T) (*Engine, *driftingAsset, domain.Market) {
	t.Helper()
	token := memtoken.New()
	token.Mint(admin, wad(1_000))
	token.Mint(alice, wad(1_000))

	drift := &driftingAsset{Token: token, surplus: wad(1)}
	eng := New(WithClock(newTestClock().Now))
	mkt, err := eng.CreateMarket(context.Background(), CreateMarketParams{
		Title:          "Will it rain tomorrow?",
		Admin:          admin,
		LiquidityParam: wad(10),
		Asset:          drift,
	})
	require.NoError(t, err)
	drift.custody = mkt.CustodyAccount
	return eng, drift, mkt
}

func TestFundSolvencyFailureRefundsSubsidy(t *testing.T) {
	ctx := context.Background()
	eng, drift, mkt := newDriftFixture(t)

	before, err := drift.Token.BalanceOf(ctx, admin)
	require.NoError(t, err)

	// Pass the preflight and the two pull-side reads; the post-mutation
	// check then sees the inflated balance and fails.
	drift.arm(3)
	_, err = eng.Fund(ctx, mkt.ID, admin)
	var se *domain.SolvencyError
	require.ErrorAs(t, err, &se)

	// The pulled subsidy came back and custody is empty again.
	after, err := drift.Token.BalanceOf(ctx, admin)
	require.NoError(t, err)
	assert.Zero(t, before.Cmp(after))
	custody, err := drift.Token.BalanceOf(ctx, mkt.CustodyAccount)
	require.NoError(t, err)
	assert.Zero(t, custody.Sign())

	m, err := eng.GetMarket(ctx, mkt.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.FundingUnfunded, m.Funding)
	assert.Zero(t, m.Pool.Sign())
}

func TestBuySolvencyFailureRefundsCost(t *testing.T) {
	ctx := context.Background()
	eng, drift, mkt := newDriftFixture(t)
	_, err := eng.Fund(ctx, mkt.ID, admin)
	require.NoError(t, err)

	before, err := drift.Token.BalanceOf(ctx, alice)
	require.NoError(t, err)
	custodyBefore, err := drift.Token.BalanceOf(ctx, mkt.CustodyAccount)
	require.NoError(t, err)

	drift.arm(3)
	_, err = eng.Buy(ctx, mkt.ID, alice, domain.OutcomeYes, wad(1), nil)
	var se *domain.SolvencyError
	require.ErrorAs(t, err, &se)

	after, err := drift.Token.BalanceOf(ctx, alice)
	require.NoError(t, err)
	assert.Zero(t, before.Cmp(after))
	custodyAfter, err := drift.Token.BalanceOf(ctx, mkt.CustodyAccount)
	require.NoError(t, err)
	assert.Zero(t, custodyBefore.Cmp(custodyAfter))

	m, err := eng.GetMarket(ctx, mkt.ID)
	require.NoError(t, err)
	assert.Zero(t, m.QYes.Sign())
	assert.Zero(t, m.Pool.Cmp(custodyBefore))
	pos, err := eng.GetPosition(ctx, mkt.ID, alice, domain.OutcomeYes)
	require.NoError(t, err)
	assert.Zero(t, pos.Shares.Sign())
}

func TestDonationBeforeFundDoesNotUnlockTrading(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, wad(10))

	// A third party wiring the subsidy around fund must not flip state.
	f.token.Mint(f.market.CustodyAccount, wad(7))
	_, err := f.engine.Buy(ctx, f.market.ID, alice, domain.OutcomeYes, wad(1), nil)
	assert.ErrorIs(t, err, domain.ErrNotFunded)

	m, err := f.engine.GetMarket(ctx, f.market.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.FundingUnfunded, m.Funding)
}

func TestCloseTimeGating(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	token := memtoken.New()
	token.Mint(admin, wad(1_000))
	token.Mint(alice, wad(1_000))

	eng := New(WithClock(clock.Now))
	closeAt := clock.Now().Add(time.Hour)
	mkt, err := eng.CreateMarket(ctx, CreateMarketParams{
		Title:          "timed market",
		Admin:          admin,
		LiquidityParam: wad(10),
		Asset:          token,
		CloseTime:      &closeAt,
	})
	require.NoError(t, err)
	_, err = eng.Fund(ctx, mkt.ID, admin)
	require.NoError(t, err)

	_, err = eng.Buy(ctx, mkt.ID, alice, domain.OutcomeYes, wad(1), nil)
	require.NoError(t, err)

	// Resolution is locked out until the close time passes.
	_, err = eng.Resolve(ctx, mkt.ID, admin, domain.OutcomeYes)
	assert.ErrorIs(t, err, domain.ErrCloseTimeNotReached)

	clock.Advance(time.Hour)

	_, err = eng.Buy(ctx, mkt.ID, alice, domain.OutcomeYes, wad(1), nil)
	assert.ErrorIs(t, err, domain.ErrMarketClosed)
	_, err = eng.Sell(ctx, mkt.ID, alice, domain.OutcomeYes, wad(1), nil)
	assert.ErrorIs(t, err, domain.ErrMarketClosed)

	_, err = eng.Resolve(ctx, mkt.ID, admin, domain.OutcomeYes)
	require.NoError(t, err)
}

func TestResolveGuards(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, wad(10))
	f.fund(t)

	_, err := f.engine.Resolve(ctx, f.market.ID, alice, domain.OutcomeYes)
	assert.ErrorIs(t, err, domain.ErrNotAdmin)
	_, err = f.engine.Resolve(ctx, f.market.ID, admin, domain.Outcome("maybe"))
	assert.ErrorIs(t, err, domain.ErrInvalidOutcome)

	_, err = f.engine.Resolve(ctx, f.market.ID, admin, domain.OutcomeYes)
	require.NoError(t, err)
	_, err = f.engine.Resolve(ctx, f.market.ID, admin, domain.OutcomeNo)
	assert.ErrorIs(t, err, domain.ErrAlreadyResolved)

	_, err = f.engine.Buy(ctx, f.market.ID, alice, domain.OutcomeYes, wad(1), nil)
	assert.ErrorIs(t, err, domain.ErrMarketClosed)
}

func TestClaimConservation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, wad(10))
	f.fund(t)

	_, err := f.engine.Buy(ctx, f.market.ID, alice, domain.OutcomeYes, wad(7), nil)
	require.NoError(t, err)
	_, err = f.engine.Buy(ctx, f.market.ID, bob, domain.OutcomeYes, wad(3), nil)
	require.NoError(t, err)
	_, err = f.engine.Buy(ctx, f.market.ID, bob, domain.OutcomeNo, wad(4), nil)
	require.NoError(t, err)

	_, err = f.engine.Resolve(ctx, f.market.ID, admin, domain.OutcomeYes)
	require.NoError(t, err)

	// Losing side has nothing to claim.
	loser := "carol"
	_, err = f.engine.Claim(ctx, f.market.ID, loser)
	assert.ErrorIs(t, err, domain.ErrNoClaimableShares)

	evA, err := f.engine.Claim(ctx, f.market.ID, alice)
	require.NoError(t, err)
	assert.Zero(t, evA.Amount.Cmp(wad(7)))

	// Double claim pays nothing.
	_, err = f.engine.Claim(ctx, f.market.ID, alice)
	assert.ErrorIs(t, err, domain.ErrNoClaimableShares)

	evB, err := f.engine.Claim(ctx, f.market.ID, bob)
	require.NoError(t, err)
	assert.Zero(t, evB.Amount.Cmp(wad(3)))

	m, err := f.engine.GetMarket(ctx, f.market.ID)
	require.NoError(t, err)
	assert.Zero(t, m.QYes.Sign(), "winning counter drains to exactly zero")
	assert.Zero(t, m.Pool.Cmp(f.custodyBalance(t)))

	// Everyone claimed, so the admin may sweep immediately.
	residual := f.pool(t)
	ev, err := f.engine.Withdraw(ctx, f.market.ID, admin)
	require.NoError(t, err)
	assert.Zero(t, ev.Amount.Cmp(residual))
	assert.Zero(t, f.custodyBalance(t).Sign())
	assert.Zero(t, f.pool(t).Sign())
}

func TestWithdrawGating(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, wad(10))
	f.fund(t)

	_, err := f.engine.Buy(ctx, f.market.ID, alice, domain.OutcomeYes, wad(5), nil)
	require.NoError(t, err)

	_, err = f.engine.Withdraw(ctx, f.market.ID, admin)
	assert.ErrorIs(t, err, domain.ErrNotResolved)

	_, err = f.engine.Resolve(ctx, f.market.ID, admin, domain.OutcomeYes)
	require.NoError(t, err)

	_, err = f.engine.Withdraw(ctx, f.market.ID, alice)
	assert.ErrorIs(t, err, domain.ErrNotAdmin)

	// Alice never claims; the claim window shields her winnings.
	_, err = f.engine.Withdraw(ctx, f.market.ID, admin)
	assert.ErrorIs(t, err, domain.ErrUnclaimedShares)

	f.clock.Advance(DefaultClaimWindow + time.Minute)

	_, err = f.engine.Withdraw(ctx, f.market.ID, admin)
	require.NoError(t, err)
	assert.Zero(t, f.custodyBalance(t).Sign())

	// Latecomers find nothing behind the swept market.
	_, err = f.engine.Claim(ctx, f.market.ID, alice)
	assert.ErrorIs(t, err, domain.ErrAlreadySwept)
	_, err = f.engine.Withdraw(ctx, f.market.ID, admin)
	assert.ErrorIs(t, err, domain.ErrAlreadySwept)
}

func TestWithdrawSweepsDonations(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, wad(10))
	f.fund(t)

	_, err := f.engine.Resolve(ctx, f.market.ID, admin, domain.OutcomeYes)
	require.NoError(t, err)

	// Stray tokens sent straight to custody leave with the sweep.
	f.token.Mint(f.market.CustodyAccount, wad(3))
	before, err := f.token.BalanceOf(ctx, admin)
	require.NoError(t, err)

	ev, err := f.engine.Withdraw(ctx, f.market.ID, admin)
	require.NoError(t, err)

	after, err := f.token.BalanceOf(ctx, admin)
	require.NoError(t, err)
	assert.Zero(t, new(big.Int).Sub(after, before).Cmp(ev.Amount))
	assert.Zero(t, f.custodyBalance(t).Sign())
}

func TestReentrantCallbackRejected(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()

	var (
		eng      *Engine
		marketID string
		attacked bool
		attackEr error
	)
	token := memtoken.New(memtoken.WithTransferHook(func(from, to string, amount *big.Int) {
		if eng == nil || marketID == "" || attacked {
			return
		}
		attacked = true
		_, attackEr = eng.Sell(ctx, marketID, alice, domain.OutcomeYes, wad(1), nil)
	}))
	token.Mint(admin, wad(1_000))
	token.Mint(alice, wad(1_000))

	eng = New(WithClock(clock.Now))
	mkt, err := eng.CreateMarket(ctx, CreateMarketParams{
		Title:          "hostile asset",
		Admin:          admin,
		LiquidityParam: wad(10),
		Asset:          token,
	})
	require.NoError(t, err)
	marketID = mkt.ID

	// The hook fires during fund's subsidy pull, mid-critical-section.
	_, err = eng.Fund(ctx, marketID, admin)
	require.NoError(t, err)
	require.True(t, attacked)
	assert.ErrorIs(t, attackEr, domain.ErrReentrancy)

	// The failed reentry left no trace.
	m, err := eng.GetMarket(ctx, marketID)
	require.NoError(t, err)
	custody, err := token.BalanceOf(ctx, mkt.CustodyAccount)
	require.NoError(t, err)
	assert.Zero(t, m.Pool.Cmp(custody))
}

func TestOwnershipTransfer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, wad(10))

	err := f.engine.TransferOwnership(ctx, f.market.ID, alice, bob)
	assert.ErrorIs(t, err, domain.ErrNotAdmin)

	err = f.engine.TransferOwnership(ctx, f.market.ID, admin, alice)
	require.NoError(t, err)

	// Old admin loses the role; funding now requires the new owner.
	_, err = f.engine.Fund(ctx, f.market.ID, admin)
	assert.ErrorIs(t, err, domain.ErrNotAdmin)

	f.token.Mint(alice, wad(100))
	_, err = f.engine.Fund(ctx, f.market.ID, alice)
	require.NoError(t, err)
}

func TestSetFeeConfigValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, wad(10))

	err := f.engine.SetFeeConfig(ctx, f.market.ID, admin, domain.FeeConfig{RateBps: 10_001})
	assert.ErrorIs(t, err, domain.ErrInvalidFeeRate)

	err = f.engine.SetFeeConfig(ctx, f.market.ID, admin, domain.FeeConfig{RateBps: 100, ChargeBuy: true})
	assert.ErrorIs(t, err, domain.ErrNoFeeRecipient)

	err = f.engine.SetFeeConfig(ctx, f.market.ID, admin, domain.FeeConfig{
		RateBps: 100, Recipient: feeSink, ChargeBuy: true,
	})
	require.NoError(t, err)
}

func TestEventHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, wad(10))
	f.fund(t)

	_, err := f.engine.Buy(ctx, f.market.ID, alice, domain.OutcomeYes, wad(2), nil)
	require.NoError(t, err)

	evs, err := f.engine.ListEvents(ctx, f.market.ID, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, evs, 3)
	assert.Equal(t, domain.EventMarketCreated, evs[0].Type)
	assert.Equal(t, domain.EventMarketFunded, evs[1].Type)
	assert.Equal(t, domain.EventSharesBought, evs[2].Type)

	page, err := f.engine.ListEvents(ctx, f.market.ID, domain.ListOpts{Offset: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, domain.EventMarketFunded, page[0].Type)
}

func TestUnknownMarket(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, wad(10))

	_, err := f.engine.GetMarket(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrMarketNotFound)
	_, err = f.engine.Buy(ctx, "nope", alice, domain.OutcomeYes, wad(1), nil)
	assert.ErrorIs(t, err, domain.ErrMarketNotFound)
}

// TestSolvencyUnderRandomTrading drives a market through arbitrary trade
// sequences and checks pool == custody balance after every step.
func TestSolvencyUnderRandomTrading(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		ctx := context.Background()
		clock := newTestClock()
		token := memtoken.New()
		token.Mint(admin, wad(10_000_000))
		traders := []string{alice, bob, "carol"}
		for _, tr := range traders {
			token.Mint(tr, wad(10_000_000))
		}

		eng := New(WithClock(clock.Now))
		mkt, err := eng.CreateMarket(ctx, CreateMarketParams{
			Title:          "random walk",
			Admin:          admin,
			LiquidityParam: wad(rapid.Int64Range(1, 50).Draw(rt, "b")),
			Asset:          token,
		})
		if err != nil {
			rt.Fatalf("create: %v", err)
		}
		if _, err := eng.Fund(ctx, mkt.ID, admin); err != nil {
			rt.Fatalf("fund: %v", err)
		}

		checkSolvent := func() {
			m, err := eng.GetMarket(ctx, mkt.ID)
			if err != nil {
				rt.Fatalf("get: %v", err)
			}
			bal, err := token.BalanceOf(ctx, mkt.CustodyAccount)
			if err != nil {
				rt.Fatalf("balance: %v", err)
			}
			if m.Pool.Cmp(bal) != 0 {
				rt.Fatalf("pool %s != custody %s", m.Pool, bal)
			}
		}
		checkSolvent()

		steps := rapid.IntRange(1, 40).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			actor := rapid.SampledFrom(traders).Draw(rt, "actor")
			outcome := domain.OutcomeYes
			if rapid.Bool().Draw(rt, "side") {
				outcome = domain.OutcomeNo
			}
			shares := wad(rapid.Int64Range(1, 20).Draw(rt, "shares"))

			if rapid.Bool().Draw(rt, "sell") {
				_, err = eng.Sell(ctx, mkt.ID, actor, outcome, shares, nil)
				if err != nil && !errors.Is(err, domain.ErrInsufficientShares) {
					rt.Fatalf("sell: %v", err)
				}
			} else {
				_, err = eng.Buy(ctx, mkt.ID, actor, outcome, shares, nil)
				if err != nil && !errors.Is(err, domain.ErrExpInputTooLarge) {
					rt.Fatalf("buy: %v", err)
				}
			}
			checkSolvent()
		}

		// Settle: resolve, claim all winners, sweep; custody ends empty.
		if _, err := eng.Resolve(ctx, mkt.ID, admin, domain.OutcomeYes); err != nil {
			rt.Fatalf("resolve: %v", err)
		}
		for _, tr := range traders {
			_, err := eng.Claim(ctx, mkt.ID, tr)
			if err != nil && !errors.Is(err, domain.ErrNoClaimableShares) {
				rt.Fatalf("claim: %v", err)
			}
			checkSolvent()
		}
		if _, err := eng.Withdraw(ctx, mkt.ID, admin); err != nil {
			rt.Fatalf("withdraw: %v", err)
		}
		bal, err := token.BalanceOf(ctx, mkt.CustodyAccount)
		if err != nil {
			rt.Fatalf("balance: %v", err)
		}
		if bal.Sign() != 0 {
			rt.Fatalf("custody not drained: %s", bal)
		}
	})
}
