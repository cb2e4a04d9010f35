// Package money converts client-supplied amounts into the engine's integer
// minor units. Parsing goes through shopspring/decimal so that JSON numbers
// like 12.0 or "150" are accepted exactly and 12.5 is rejected rather than
// truncated.
package money

import (
	"encoding/json"
	"errors"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotWhole is returned when an amount has a fractional minor unit.
	ErrNotWhole = errors.New("money: amount must be a whole number of minor units")

	// ErrNotPositive is returned for zero or negative amounts.
	ErrNotPositive = errors.New("money: amount must be positive")

	// ErrOutOfRange is returned when an amount does not fit in int64.
	ErrOutOfRange = errors.New("money: amount out of range")

	errInvalid = errors.New("money: amount is not a number")
)

var maxAmount = decimal.NewFromInt(math.MaxInt64)

const (
	// maxIntDigits is the number of decimal digits in math.MaxInt64.
	maxIntDigits = 19

	// maxDigits bounds the significant digits accepted, fractional zeros
	// included ("150.00" has five).
	maxDigits = 40
)

// Amount is a JSON-decodable bid amount. It accepts a JSON number or a
// numeric string.
type Amount struct {
	decimal.Decimal
}

// UnmarshalJSON accepts both 150 and "150".
func (a *Amount) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		a.Decimal = decimal.Zero
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return errInvalid
	}
	a.Decimal = d
	return nil
}

// MarshalJSON writes the amount as a bare JSON number.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(json.Number(a.Decimal.String()))
}

// Minor returns the amount as positive int64 minor units.
func (a Amount) Minor() (int64, error) {
	return ToMinor(a.Decimal)
}

// ToMinor converts d to int64 minor units. Magnitude is checked from the
// coefficient and exponent before anything rescales d, so "1e10000000"
// fails without being expanded. Errors never echo the amount.
func ToMinor(d decimal.Decimal) (int64, error) {
	if !d.IsZero() {
		digits := d.NumDigits()
		if digits > maxDigits || int64(digits)+int64(d.Exponent()) > maxIntDigits {
			return 0, ErrOutOfRange
		}
	}
	if !d.IsInteger() {
		return 0, ErrNotWhole
	}
	if !d.IsPositive() {
		return 0, ErrNotPositive
	}
	if d.GreaterThan(maxAmount) {
		return 0, ErrOutOfRange
	}
	return d.IntPart(), nil
}

// Parse converts a decimal string to minor units.
func Parse(s string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, errInvalid
	}
	return ToMinor(d)
}
