package money

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits carried by an Amount.
const Scale = 2

var (
	// ErrPrecision is returned when a value has more fractional digits than Scale.
	ErrPrecision = errors.New("amount has more than 2 decimal places")
	// ErrOutOfRange is returned when a value does not fit in int64 minor units.
	ErrOutOfRange = errors.New("amount out of range")
)

var maxMinor = decimal.NewFromInt(math.MaxInt64)

const (
	// maxLiteralLen bounds the textual form accepted by Parse and UnmarshalJSON.
	maxLiteralLen = 64
	// Exponents outside [minExponent, maxExponent] cannot describe an Amount
	// and are rejected before any rescaling.
	minExponent = -Scale - 18
	maxExponent = 19
)

// Amount is a fixed-point monetary value expressed in minor units (1 = 0.01).
type Amount int64

// FromMinor wraps a raw minor-unit count.
func FromMinor(minor int64) Amount { return Amount(minor) }

// Minor returns the raw minor-unit count.
func (a Amount) Minor() int64 { return int64(a) }

// FromDecimal converts d to an Amount. Values that carry more precision than
// Scale are rejected rather than rounded.
func FromDecimal(d decimal.Decimal) (Amount, error) {
	if d.IsZero() {
		return 0, nil
	}
	switch exp := d.Exponent(); {
	case exp > maxExponent:
		return 0, ErrOutOfRange
	case exp < minExponent:
		return 0, ErrPrecision
	}
	shifted := d.Shift(Scale)
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, ErrPrecision
	}
	if shifted.Abs().GreaterThan(maxMinor) {
		return 0, ErrOutOfRange
	}
	return Amount(shifted.IntPart()), nil
}

// Parse reads a decimal string such as "40.00" or "12.5".
func Parse(s string) (Amount, error) {
	if len(s) > maxLiteralLen {
		return 0, ErrOutOfRange
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return FromDecimal(d)
}

// Decimal returns the amount as a decimal in major units.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(int64(a), -Scale)
}

// String formats the amount with exactly Scale fractional digits.
func (a Amount) String() string {
	return a.Decimal().StringFixed(Scale)
}

// IsPositive reports whether a > 0.
func (a Amount) IsPositive() bool { return a > 0 }

// Add returns a+b, failing instead of wrapping on overflow.
func (a Amount) Add(b Amount) (Amount, error) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, ErrOutOfRange
	}
	return a + b, nil
}

// Sub returns a-b, failing instead of wrapping on overflow.
func (a Amount) Sub(b Amount) (Amount, error) {
	if (b < 0 && a > math.MaxInt64+b) || (b > 0 && a < math.MinInt64+b) {
		return 0, ErrOutOfRange
	}
	return a - b, nil
}

// MarshalJSON encodes the amount as a quoted decimal string ("60.00").
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

// UnmarshalJSON accepts a quoted decimal string or a bare JSON number.
func (a *Amount) UnmarshalJSON(data []byte) error {
	if len(data) > maxLiteralLen+2 {
		return ErrOutOfRange
	}
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return err
	}
	v, err := FromDecimal(d)
	if err != nil {
		return err
	}
	*a = v
	return nil
}
