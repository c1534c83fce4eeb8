// Package money holds the fixed-point conventions shared by every module
// that touches amounts: two decimal places, epsilon-tolerant comparison.
package money

import "github.com/shopspring/decimal"

// Epsilon is the tolerance used for all monetary comparisons.
var Epsilon = decimal.NewFromFloat(0.01)

// Zero is the zero amount.
var Zero = decimal.Zero

// Round2 rounds an amount to two decimal places.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Equal reports whether two amounts are equal within Epsilon.
func Equal(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(Epsilon)
}

// GreaterOrEqual reports whether a >= b within Epsilon.
func GreaterOrEqual(a, b decimal.Decimal) bool {
	return a.GreaterThanOrEqual(b) || Equal(a, b)
}

// Cents converts an amount to integer minor units (fen).
func Cents(d decimal.Decimal) int64 {
	return d.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// FromCents converts integer minor units to a two-decimal amount.
func FromCents(c int64) decimal.Decimal {
	return decimal.NewFromInt(c).Div(decimal.NewFromInt(100))
}
