// Package wadmath implements fixed-point arithmetic on WAD-scaled (18
// decimal) big integers: full-width multiply-divide with explicit rounding
// direction, and natural exponential / logarithm over a bounded domain.
//
// Exp and ln are also exposed at the 27-decimal internal scale (Exp27,
// Ln27) so multi-step computations can defer the truncation to WAD until
// their final result. The extra nine digits keep the composed error below
// one wei, which matters when a downstream consumer multiplies the result
// by a large factor.
//
// All public functions treat their inputs as immutable and return freshly
// allocated results.
package wadmath

import (
	"errors"
	"math/big"
)

var (
	ErrOverflow           = errors.New("wadmath: result exceeds 256 bits")
	ErrDivisionByZero     = errors.New("wadmath: division by zero")
	ErrExpInputTooLarge   = errors.New("wadmath: exp input above ceiling")
	ErrLnInputNotPositive = errors.New("wadmath: ln input must be positive")
)

var (
	// WAD is the fixed-point scale. Every amount, share count and liquidity
	// parameter in the system carries 18 decimals.
	WAD = big.NewInt(1_000_000_000_000_000_000)

	// MaxExpInput is the domain ceiling for ExpWad: 135 * WAD. Inputs above
	// it fail with ErrExpInputTooLarge instead of producing garbage.
	MaxExpInput = new(big.Int).Mul(big.NewInt(135), WAD)

	// Ln2Wad is ln(2) truncated to 18 decimals.
	Ln2Wad = big.NewInt(693_147_180_559_945_309)

	// One27 is the 27-decimal scale used by Exp27 and Ln27.
	One27 = pow10(27)

	// Ln2At27 is ln(2) truncated to 27 decimals.
	Ln2At27 = mustBig("693147180559945309417232121")
)

var (
	two27       = new(big.Int).Mul(One27, big.NewInt(2))
	wadTo27     = pow10(9)
	maxExpArg27 = new(big.Int).Mul(big.NewInt(135), One27)
	minExpArg27 = new(big.Int).Mul(big.NewInt(-64), One27) // exp underflows WAD well before this
	halfLn2At27 = new(big.Int).Quo(Ln2At27, big.NewInt(2))
)

func pow10(n int64) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(n), nil)
}

func mustBig(s string) *big.Int {
	z, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("wadmath: bad constant " + s)
	}
	return z
}

// FullMulDiv computes floor(a*b/d) with an arbitrary-width intermediate
// product, so a*b never truncates. It fails with ErrOverflow when the
// quotient does not fit 256 bits, the ledger's amount width.
func FullMulDiv(a, b, d *big.Int) (*big.Int, error) {
	if d.Sign() == 0 {
		return nil, ErrDivisionByZero
	}
	z := new(big.Int).Mul(a, b)
	z.Quo(z, d)
	if z.BitLen() > 256 {
		return nil, ErrOverflow
	}
	return z, nil
}

// FullMulDivUp is FullMulDiv rounding the quotient toward positive infinity
// when the division leaves a remainder. Inputs are expected non-negative.
func FullMulDivUp(a, b, d *big.Int) (*big.Int, error) {
	if d.Sign() == 0 {
		return nil, ErrDivisionByZero
	}
	z, r := new(big.Int).QuoRem(new(big.Int).Mul(a, b), d, new(big.Int))
	if r.Sign() != 0 {
		z.Add(z, big.NewInt(1))
	}
	if z.BitLen() > 256 {
		return nil, ErrOverflow
	}
	return z, nil
}

// MulWad computes floor(a*b/WAD).
func MulWad(a, b *big.Int) (*big.Int, error) {
	return FullMulDiv(a, b, WAD)
}

// MulWadUp computes ceil(a*b/WAD).
func MulWadUp(a, b *big.Int) (*big.Int, error) {
	return FullMulDivUp(a, b, WAD)
}

// DivWad computes floor(a*WAD/b).
func DivWad(a, b *big.Int) (*big.Int, error) {
	return FullMulDiv(a, WAD, b)
}

// Exp27 returns e^(x/One27) scaled by One27. The input may be negative;
// inputs above 135*One27 fail with ErrExpInputTooLarge. Every internal
// truncation rounds toward zero, so the result never exceeds the true
// value.
//
// The implementation range-reduces by ln 2 — x = k*ln2 + r with
// |r| <= ln2/2 — evaluates exp(r) as a Taylor series, and applies the 2^k
// binary scaling at the end.
func Exp27(x *big.Int) (*big.Int, error) {
	if x.Cmp(maxExpArg27) > 0 {
		return nil, ErrExpInputTooLarge
	}
	if x.Cmp(minExpArg27) < 0 {
		// exp(-64) < 2e-28: zero at WAD resolution.
		return new(big.Int), nil
	}

	// k = round(x / ln2), r = x - k*ln2.
	k := new(big.Int).Add(x, halfLn2At27)
	k.Div(k, Ln2At27) // floor(x/ln2 + 1/2)
	r := new(big.Int).Mul(k, Ln2At27)
	r.Sub(x, r)

	// exp(r) = sum r^n / n!, |r| <= 0.347 so the series terminates fast.
	sum := new(big.Int).Set(One27)
	term := new(big.Int).Set(One27)
	for n := int64(1); n <= 40; n++ {
		term.Mul(term, r)
		term.Quo(term, One27)
		term.Quo(term, big.NewInt(n))
		if term.Sign() == 0 {
			break
		}
		sum.Add(sum, term)
	}

	if k.Sign() >= 0 {
		sum.Lsh(sum, uint(k.Uint64()))
	} else {
		sum.Rsh(sum, uint(new(big.Int).Neg(k).Uint64()))
	}
	return sum, nil
}

// ExpWad returns e^(x/WAD) scaled by WAD, truncating Exp27 to 18 decimals.
func ExpWad(x *big.Int) (*big.Int, error) {
	z, err := Exp27(new(big.Int).Mul(x, wadTo27))
	if err != nil {
		return nil, err
	}
	return z.Quo(z, wadTo27), nil
}

// Ln27 returns ln(x/One27) scaled by One27, the inverse of Exp27 over its
// range. Non-positive input fails with ErrLnInputNotPositive. As with
// Exp27, truncation is toward zero throughout.
//
// x is normalized to m * 2^e with m in [1, 2); ln(m) is evaluated through
// the atanh identity ln(m) = 2*atanh((m-1)/(m+1)) whose argument stays
// below 1/3, and e*ln2 is added back.
func Ln27(x *big.Int) (*big.Int, error) {
	if x.Sign() <= 0 {
		return nil, ErrLnInputNotPositive
	}

	m := new(big.Int).Set(x)
	e := 0
	for m.Cmp(two27) >= 0 {
		m.Rsh(m, 1)
		e++
	}
	for m.Cmp(One27) < 0 {
		m.Lsh(m, 1)
		e--
	}

	// z = (m-1)/(m+1) in [0, 1/3).
	num := new(big.Int).Sub(m, One27)
	den := new(big.Int).Add(m, One27)
	z := num.Mul(num, One27)
	z.Quo(z, den)

	zsq := new(big.Int).Mul(z, z)
	zsq.Quo(zsq, One27)

	sum := new(big.Int).Set(z)
	term := new(big.Int).Set(z)
	tn := new(big.Int)
	for n := int64(3); n <= 101; n += 2 {
		term.Mul(term, zsq)
		term.Quo(term, One27)
		tn.Quo(term, big.NewInt(n))
		if tn.Sign() == 0 {
			break
		}
		sum.Add(sum, tn)
	}
	sum.Mul(sum, big.NewInt(2))

	return sum.Add(sum, new(big.Int).Mul(big.NewInt(int64(e)), Ln2At27)), nil
}

// LnWad returns ln(x/WAD) scaled by WAD, truncating Ln27 to 18 decimals.
func LnWad(x *big.Int) (*big.Int, error) {
	z, err := Ln27(new(big.Int).Mul(x, wadTo27))
	if err != nil {
		return nil, err
	}
	return z.Quo(z, wadTo27), nil
}
