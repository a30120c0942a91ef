package wadmath

import (
	"math"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func wad(units int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(units), WAD)
}

func toFloat(x *big.Int) float64 {
	f, _ := new(big.Float).SetInt(x).Float64()
	return f / 1e18
}

func TestFullMulDiv(t *testing.T) {
	tests := []struct {
		name    string
		a, b, d int64
		want    int64
		up      int64
	}{
		{"exact", 6, 7, 3, 14, 14},
		{"floor vs ceil", 7, 3, 2, 10, 11},
		{"zero numerator", 0, 5, 3, 0, 0},
		{"one wei remainder", 10, 10, 3, 33, 34},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FullMulDiv(big.NewInt(tt.a), big.NewInt(tt.b), big.NewInt(tt.d))
			require.NoError(t, err)
			require.Equal(t, tt.want, got.Int64())

			got, err = FullMulDivUp(big.NewInt(tt.a), big.NewInt(tt.b), big.NewInt(tt.d))
			require.NoError(t, err)
			require.Equal(t, tt.up, got.Int64())
		})
	}
}

func TestFullMulDivDivisionByZero(t *testing.T) {
	_, err := FullMulDiv(big.NewInt(1), big.NewInt(1), new(big.Int))
	require.ErrorIs(t, err, ErrDivisionByZero)
	_, err = FullMulDivUp(big.NewInt(1), big.NewInt(1), new(big.Int))
	require.ErrorIs(t, err, ErrDivisionByZero)
}

func TestFullMulDivOverflow(t *testing.T) {
	huge := new(big.Int).Lsh(big.NewInt(1), 255)
	_, err := FullMulDiv(huge, big.NewInt(4), big.NewInt(1))
	require.ErrorIs(t, err, ErrOverflow)

	// The intermediate product may exceed 256 bits as long as the quotient fits.
	got, err := FullMulDiv(huge, huge, huge)
	require.NoError(t, err)
	require.Zero(t, got.Cmp(huge))
}

func TestExpWadKnownValues(t *testing.T) {
	got, err := ExpWad(new(big.Int))
	require.NoError(t, err)
	require.Zero(t, got.Cmp(WAD), "exp(0) = 1")

	got, err = ExpWad(Ln2Wad)
	require.NoError(t, err)
	diff := new(big.Int).Sub(got, wad(2))
	require.LessOrEqual(t, diff.CmpAbs(big.NewInt(10)), 0, "exp(ln2) = 2 within 10 wei, got %s", got)

	got, err = ExpWad(wad(1))
	require.NoError(t, err)
	require.InEpsilon(t, math.E, toFloat(got), 1e-15)
}

func TestExpWadCeiling(t *testing.T) {
	got, err := ExpWad(MaxExpInput)
	require.NoError(t, err)
	require.InEpsilon(t, math.Exp(135), toFloat(got), 1e-12)

	over := new(big.Int).Add(MaxExpInput, big.NewInt(1))
	_, err = ExpWad(over)
	require.ErrorIs(t, err, ErrExpInputTooLarge)
}

func TestExpWadNegative(t *testing.T) {
	got, err := ExpWad(wad(-1))
	require.NoError(t, err)
	require.InEpsilon(t, math.Exp(-1), toFloat(got), 1e-15)

	// Deep negatives underflow cleanly to zero.
	got, err = ExpWad(wad(-100))
	require.NoError(t, err)
	require.Zero(t, got.Sign())
}

func TestLnWadKnownValues(t *testing.T) {
	got, err := LnWad(WAD)
	require.NoError(t, err)
	require.Zero(t, got.Sign(), "ln(1) = 0")

	got, err = LnWad(wad(2))
	require.NoError(t, err)
	diff := new(big.Int).Sub(got, Ln2Wad)
	require.LessOrEqual(t, diff.CmpAbs(big.NewInt(10)), 0, "ln(2) within 10 wei, got %s", got)

	got, err = LnWad(wad(10))
	require.NoError(t, err)
	require.InEpsilon(t, math.Log(10), toFloat(got), 1e-15)
}

func TestLnWadDomain(t *testing.T) {
	_, err := LnWad(new(big.Int))
	require.ErrorIs(t, err, ErrLnInputNotPositive)
	_, err = LnWad(big.NewInt(-1))
	require.ErrorIs(t, err, ErrLnInputNotPositive)
}

func TestExp27KnownValues(t *testing.T) {
	got, err := Exp27(new(big.Int))
	require.NoError(t, err)
	require.Zero(t, got.Cmp(One27), "exp(0) = 1")

	// exp(ln2) = 2 at 27-decimal resolution.
	got, err = Exp27(Ln2At27)
	require.NoError(t, err)
	diff := new(big.Int).Sub(got, new(big.Int).Mul(One27, big.NewInt(2)))
	require.LessOrEqual(t, diff.CmpAbs(big.NewInt(1_000)), 0, "exp(ln2) drift %s units", diff)

	ceiling := new(big.Int).Mul(big.NewInt(135), One27)
	_, err = Exp27(ceiling)
	require.NoError(t, err)
	_, err = Exp27(new(big.Int).Add(ceiling, big.NewInt(1)))
	require.ErrorIs(t, err, ErrExpInputTooLarge)
}

func TestLn27KnownValues(t *testing.T) {
	got, err := Ln27(One27)
	require.NoError(t, err)
	require.Zero(t, got.Sign(), "ln(1) = 0")

	got, err = Ln27(new(big.Int).Mul(One27, big.NewInt(2)))
	require.NoError(t, err)
	diff := new(big.Int).Sub(got, Ln2At27)
	require.LessOrEqual(t, diff.CmpAbs(big.NewInt(1_000)), 0, "ln(2) drift %s units", diff)
}

func TestExpWadAgainstFloatReference(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		// Drawn at 1e9 scale (gwei-like) so the full [-40, 130] domain fits int64.
		x := rapid.Int64Range(-40_000_000_000, 130_000_000_000).Draw(t, "x9")
		arg := new(big.Int).Mul(big.NewInt(x), big.NewInt(1e9))

		got, err := ExpWad(arg)
		if err != nil {
			t.Fatalf("ExpWad(%s): %v", arg, err)
		}
		want := math.Exp(float64(x) / 1e9)
		if want < 1e-15 {
			return // below float comparison resolution
		}
		rel := math.Abs(toFloat(got)-want) / want
		if rel > 1e-9 {
			t.Fatalf("ExpWad(%s) = %s, want ~%g (rel err %g)", arg, got, want, rel)
		}
	})
}

func TestLnExpRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		x := rapid.Int64Range(0, 130_000_000_000).Draw(t, "x9")
		arg := new(big.Int).Mul(big.NewInt(x), big.NewInt(1e9))

		e, err := ExpWad(arg)
		if err != nil {
			t.Fatalf("ExpWad(%s): %v", arg, err)
		}
		back, err := LnWad(e)
		if err != nil {
			t.Fatalf("LnWad(%s): %v", e, err)
		}
		diff := new(big.Int).Sub(back, arg)
		if diff.CmpAbs(big.NewInt(100)) > 0 {
			t.Fatalf("ln(exp(%s)) = %s, drift %s wei", arg, back, diff)
		}
	})
}
