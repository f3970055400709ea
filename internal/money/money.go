// Package money converts between integer cents, the storage unit for every
// amount in the service, and decimal values used at the API and gateway edges.
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// FromCents returns the decimal representation of cents (e.g. 22000 -> 220.00).
func FromCents(cents int64) decimal.Decimal {
	return decimal.NewFromInt(cents).Shift(-2)
}

// ToCents rounds d half-up to the nearest cent.
func ToCents(d decimal.Decimal) int64 {
	return d.Mul(hundred).Round(0).IntPart()
}

// FromFloat converts a JSON number into cents, rejecting more than two decimals
// of precision after rounding noise is removed.
func FromFloat(v float64) (int64, error) {
	d := decimal.NewFromFloat(v)
	if !d.Equal(d.Round(2)) {
		return 0, fmt.Errorf("amount %s has more than two decimal places", d.String())
	}
	return ToCents(d), nil
}

// ApplyRate multiplies cents by rate and rounds half-up to cents.
func ApplyRate(cents int64, rate decimal.Decimal) int64 {
	return ToCents(FromCents(cents).Mul(rate))
}

// Format renders cents as a fixed two-decimal string.
func Format(cents int64) string {
	return FromCents(cents).StringFixed(2)
}

// Float renders cents as a float64 for gateway payloads that expect a number.
func Float(cents int64) float64 {
	f, _ := FromCents(cents).Float64()
	return f
}

// Cents is an amount in minor units. It encodes to JSON as a two-decimal
// number (22000 -> 220.00) and to DynamoDB as an integer.
type Cents int64

func (c Cents) Decimal() decimal.Decimal {
	return FromCents(int64(c))
}

func (c Cents) String() string {
	return Format(int64(c))
}

func (c Cents) MarshalJSON() ([]byte, error) {
	return []byte(Format(int64(c))), nil
}

func (c *Cents) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	if raw == "" || raw == "null" {
		*c = 0
		return nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("invalid amount %q", raw)
	}
	if !d.Equal(d.Round(2)) {
		return fmt.Errorf("amount %s has more than two decimal places", raw)
	}
	*c = Cents(ToCents(d))
	return nil
}
