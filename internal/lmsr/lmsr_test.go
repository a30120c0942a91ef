package lmsr

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/alanyoungcy/lmsrd/internal/domain"
	"github.com/alanyoungcy/lmsrd/internal/wadmath"
)

func wad(units int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(units), wadmath.WAD)
}

// quote tolerance in wei; each cost evaluation is exact to its rounding
// direction, so deviations stay within a few wei per quote.
var tol = big.NewInt(16)

func within(t *testing.T, a, b *big.Int, tolerance *big.Int, msg string) {
	t.Helper()
	d := new(big.Int).Sub(a, b)
	if d.CmpAbs(tolerance) > 0 {
		t.Fatalf("%s: %s vs %s (diff %s)", msg, a, b, d)
	}
}

func TestCostSymmetry(t *testing.T) {
	b := wad(10)
	for _, q := range []int64{0, 1, 7, 100} {
		c1, err := Cost(wad(q), wad(q), b)
		require.NoError(t, err)
		c2, err := Cost(wad(q), wad(q), b)
		require.NoError(t, err)
		require.Zero(t, c1.Cmp(c2))
	}

	// Swapping the sides never changes the cost.
	c1, err := Cost(wad(3), wad(11), b)
	require.NoError(t, err)
	c2, err := Cost(wad(11), wad(3), b)
	require.NoError(t, err)
	require.Zero(t, c1.Cmp(c2), "cost must be symmetric in its arguments")
}

func TestCostAtZeroState(t *testing.T) {
	// C(0,0) = b * ln 2, the maximum loss of the market maker.
	b := wad(10)
	c, err := Cost(new(big.Int), new(big.Int), b)
	require.NoError(t, err)

	sub, err := RequiredSubsidy(b)
	require.NoError(t, err)
	within(t, c, sub, big.NewInt(1), "cost at zero state should equal the subsidy")
}

func TestRequiredSubsidyConcrete(t *testing.T) {
	// b = 10: 10 * ln2 = 6.93147180559945309417..., so the ceiling at WAD
	// precision ends in ...095.
	sub, err := RequiredSubsidy(wad(10))
	require.NoError(t, err)
	require.Equal(t, "6931471805599453095", sub.String())

	_, err = RequiredSubsidy(new(big.Int))
	require.ErrorIs(t, err, domain.ErrInvalidLiquidity)
}

func TestQuoteBuySymmetricZeroState(t *testing.T) {
	b := wad(10)
	yes, err := QuoteBuy(domain.OutcomeYes, new(big.Int), new(big.Int), b, wad(1))
	require.NoError(t, err)
	no, err := QuoteBuy(domain.OutcomeNo, new(big.Int), new(big.Int), b, wad(1))
	require.NoError(t, err)
	require.Zero(t, yes.Cmp(no), "symmetric state must quote both sides equally")
	require.Positive(t, yes.Sign())
}

func TestPriceMovesAgainstTradedSide(t *testing.T) {
	b := wad(10)
	zero := new(big.Int)

	noBefore, err := QuoteBuy(domain.OutcomeNo, zero, zero, b, wad(1))
	require.NoError(t, err)

	// After buying 1 YES, a NO purchase gets strictly cheaper.
	noAfter, err := QuoteBuy(domain.OutcomeNo, wad(1), zero, b, wad(1))
	require.NoError(t, err)
	require.Negative(t, noAfter.Cmp(noBefore))

	// And YES gets strictly more expensive.
	yesBefore, err := QuoteBuy(domain.OutcomeYes, zero, zero, b, wad(1))
	require.NoError(t, err)
	yesAfter, err := QuoteBuy(domain.OutcomeYes, wad(1), zero, b, wad(1))
	require.NoError(t, err)
	require.Positive(t, yesAfter.Cmp(yesBefore))
}

func TestQuoteValidation(t *testing.T) {
	b := wad(10)
	zero := new(big.Int)

	_, err := QuoteBuy(domain.OutcomeYes, zero, zero, b, zero)
	require.ErrorIs(t, err, domain.ErrZeroShares)

	_, err = QuoteBuy(domain.Outcome("maybe"), zero, zero, b, wad(1))
	require.ErrorIs(t, err, domain.ErrInvalidOutcome)

	_, err = QuoteSell(domain.OutcomeYes, zero, zero, b, wad(1))
	require.ErrorIs(t, err, domain.ErrInsufficientDepth)

	_, err = Cost(zero, zero, zero)
	require.ErrorIs(t, err, domain.ErrInvalidLiquidity)
}

func TestCapacityBoundary(t *testing.T) {
	// b = 10: shares/b hits the 135 exponent ceiling exactly at 1350 shares.
	b := wad(10)
	zero := new(big.Int)

	_, err := QuoteBuy(domain.OutcomeYes, zero, zero, b, wad(1350))
	require.NoError(t, err)

	_, err = QuoteBuy(domain.OutcomeYes, zero, zero, b, wad(1351))
	require.ErrorIs(t, err, wadmath.ErrExpInputTooLarge)
}

func TestTelescopingSplits(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		b := wad(rapid.Int64Range(1, 50).Draw(t, "b"))
		qYes := wad(rapid.Int64Range(0, 20).Draw(t, "qYes"))
		qNo := wad(rapid.Int64Range(0, 20).Draw(t, "qNo"))
		outcome := domain.OutcomeYes
		if rapid.Bool().Draw(t, "no") {
			outcome = domain.OutcomeNo
		}

		nSplits := rapid.IntRange(2, 6).Draw(t, "splits")
		parts := make([]*big.Int, nSplits)
		total := new(big.Int)
		for i := range parts {
			parts[i] = wad(rapid.Int64Range(1, 5).Draw(t, "part"))
			total.Add(total, parts[i])
		}

		single, err := QuoteBuy(outcome, qYes, qNo, b, total)
		if err != nil {
			t.Fatalf("single quote: %v", err)
		}

		sum := new(big.Int)
		y, n := new(big.Int).Set(qYes), new(big.Int).Set(qNo)
		for _, p := range parts {
			c, err := QuoteBuy(outcome, y, n, b, p)
			if err != nil {
				t.Fatalf("split quote: %v", err)
			}
			sum.Add(sum, c)
			if outcome == domain.OutcomeYes {
				y.Add(y, p)
			} else {
				n.Add(n, p)
			}
		}

		diff := new(big.Int).Sub(sum, single)
		if diff.CmpAbs(tol) > 0 {
			t.Fatalf("split cost %s deviates from single cost %s by %s wei", sum, single, diff)
		}
	})
}

func TestBuySellRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		b := wad(rapid.Int64Range(1, 50).Draw(t, "b"))
		qYes := wad(rapid.Int64Range(0, 20).Draw(t, "qYes"))
		qNo := wad(rapid.Int64Range(0, 20).Draw(t, "qNo"))
		shares := wad(rapid.Int64Range(1, 10).Draw(t, "shares"))
		outcome := domain.OutcomeYes
		if rapid.Bool().Draw(t, "no") {
			outcome = domain.OutcomeNo
		}

		cost, err := QuoteBuy(outcome, qYes, qNo, b, shares)
		if err != nil {
			t.Fatalf("buy quote: %v", err)
		}

		y, n := new(big.Int).Set(qYes), new(big.Int).Set(qNo)
		if outcome == domain.OutcomeYes {
			y.Add(y, shares)
		} else {
			n.Add(n, shares)
		}
		payout, err := QuoteSell(outcome, y, n, b, shares)
		if err != nil {
			t.Fatalf("sell quote: %v", err)
		}

		// No hidden spread: the round trip returns the cost up to rounding,
		// and rounding always favors the market, never the trader.
		diff := new(big.Int).Sub(cost, payout)
		if diff.Sign() < 0 {
			t.Fatalf("round trip paid out %s more than the %s cost", payout, cost)
		}
		if diff.CmpAbs(tol) > 0 {
			t.Fatalf("round trip spread %s wei (cost %s, payout %s)", diff, cost, payout)
		}
	})
}

func TestSpotPricesSumToOne(t *testing.T) {
	b := wad(10)
	for _, qs := range [][2]int64{{0, 0}, {1, 0}, {5, 9}, {100, 2}} {
		yes, err := SpotPrice(domain.OutcomeYes, wad(qs[0]), wad(qs[1]), b)
		require.NoError(t, err)
		no, err := SpotPrice(domain.OutcomeNo, wad(qs[0]), wad(qs[1]), b)
		require.NoError(t, err)

		sum := new(big.Int).Add(yes, no)
		within(t, sum, wadmath.WAD, big.NewInt(10), "prices must sum to 1")
	}
}
