// Package dec carries all monetary and share arithmetic for the ledger.
//
// Internal computation stays at full precision; the rounding helpers are
// applied only when a value is assigned into a persisted field. Rounding is
// half-up throughout, which differs from shopspring's default Round (half
// away from zero) for negative values.
package dec

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Canonical scales for persisted quantities.
const (
	ScaleMoney           = 2 // CAD monetary values: ACB, gains, fees
	ScaleShares          = 6 // share quantities
	ScalePerShare        = 6 // per-share CAD values kept internally
	ScalePerShareDisplay = 4 // per-share CAD values at presentation
	ScaleFX              = 6 // FX rates
)

// ErrPrecisionLoss is returned by FromFloatExact when a float input cannot be
// represented exactly at the supported precision.
var ErrPrecisionLoss = fmt.Errorf("precision loss converting float input")

// maxExactFloatScale bounds the digits accepted from a float the caller
// marked as exact. Anything finer is float noise, not user intent.
const maxExactFloatScale = 12

var (
	Zero = decimal.Zero
	One  = decimal.New(1, 0)

	half = decimal.New(5, -1)
)

// RoundHalfUp rounds d to the given scale with ties going toward positive
// infinity (2.5 -> 3, -2.5 -> -2).
func RoundHalfUp(d decimal.Decimal, scale int32) decimal.Decimal {
	return d.Shift(scale).Add(half).Floor().Shift(-scale)
}

// RoundMoney rounds a CAD monetary value for persistence.
func RoundMoney(d decimal.Decimal) decimal.Decimal { return RoundHalfUp(d, ScaleMoney) }

// RoundShares rounds a share quantity for persistence.
func RoundShares(d decimal.Decimal) decimal.Decimal { return RoundHalfUp(d, ScaleShares) }

// RoundPerShare rounds a per-share CAD value at its internal scale.
func RoundPerShare(d decimal.Decimal) decimal.Decimal { return RoundHalfUp(d, ScalePerShare) }

// RoundPerShareDisplay rounds a per-share CAD value for display.
func RoundPerShareDisplay(d decimal.Decimal) decimal.Decimal {
	return RoundHalfUp(d, ScalePerShareDisplay)
}

// RoundFX rounds an exchange rate for persistence.
func RoundFX(d decimal.Decimal) decimal.Decimal { return RoundHalfUp(d, ScaleFX) }

// SafeDivide returns a/b, or zero when b is zero.
func SafeDivide(a, b decimal.Decimal) decimal.Decimal {
	if b.IsZero() {
		return decimal.Zero
	}
	return a.Div(b)
}

// Max returns the larger of a and b.
func Max(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// Min returns the smaller of a and b.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// FromInt converts an integer.
func FromInt(i int64) decimal.Decimal { return decimal.NewFromInt(i) }

// FromString parses a decimal string.
func FromString(s string) (decimal.Decimal, error) { return decimal.NewFromString(s) }

// MustFromString parses a decimal string and panics on failure. For constants
// and tests only.
func MustFromString(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// FromFloat converts a float using the shortest faithful representation.
func FromFloat(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

// FromFloatExact converts a float the caller marked as exact. It fails with
// ErrPrecisionLoss when the shortest representation needs more fractional
// digits than a deliberate input could carry.
func FromFloatExact(f float64) (decimal.Decimal, error) {
	d := decimal.NewFromFloat(f)
	if d.Exponent() < -maxExactFloatScale {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrPrecisionLoss, f)
	}
	return d, nil
}

// MoneyString formats a CAD value at money scale, for audit output.
func MoneyString(d decimal.Decimal) string { return RoundMoney(d).StringFixed(ScaleMoney) }

// SharesString formats a share quantity at its scale, trimming trailing zeros.
func SharesString(d decimal.Decimal) string { return RoundShares(d).String() }
