package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/shopspring/decimal"
)

// SatsScale is the number of decimal places carried by Sats.
const SatsScale = 8

// Sats is a fixed-point quantity scaled by 10^8. Quantities, prices and quote
// amounts are persisted in this form so that increments stay exact integers.
type Sats int64

var (
	satsMax = decimal.NewFromInt(math.MaxInt64).Shift(-SatsScale)
	satsMin = decimal.NewFromInt(math.MinInt64).Shift(-SatsScale)
)

// SatsFromDecimal converts d to Sats. Values carrying more than eight decimal
// places or exceeding the int64 range are rejected.
func SatsFromDecimal(d decimal.Decimal) (Sats, error) {
	if !d.Equal(d.Truncate(SatsScale)) {
		return 0, fmt.Errorf("%w: %s has more than %d decimal places", ErrInvalidFixedPoint, d, SatsScale)
	}
	if d.GreaterThan(satsMax) || d.LessThan(satsMin) {
		return 0, fmt.Errorf("%w: %s out of range", ErrInvalidFixedPoint, d)
	}
	return Sats(d.Shift(SatsScale).IntPart()), nil
}

// SatsFromDecimalTruncated converts d to Sats, dropping any digits beyond the
// eighth decimal place.
func SatsFromDecimalTruncated(d decimal.Decimal) (Sats, error) {
	return SatsFromDecimal(d.Truncate(SatsScale))
}

// ParseSats parses a decimal string in whole units, e.g. "0.015".
func ParseSats(s string) (Sats, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrInvalidFixedPoint, s, err)
	}
	return SatsFromDecimal(d)
}

// ParseRawSats parses the persisted integer form.
func ParseRawSats(s string) (Sats, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: raw %q: %v", ErrInvalidFixedPoint, s, err)
	}
	return Sats(n), nil
}

// Decimal returns the value in whole units.
func (s Sats) Decimal() decimal.Decimal {
	return decimal.New(int64(s), -SatsScale)
}

// Raw returns the persisted integer form.
func (s Sats) Raw() string {
	return strconv.FormatInt(int64(s), 10)
}

func (s Sats) String() string {
	return s.Decimal().String()
}

func (s Sats) IsZero() bool { return s == 0 }

// MarshalJSON encodes the value as a decimal string in whole units.
func (s Sats) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts a decimal string or a bare JSON number.
func (s *Sats) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		var num json.Number
		if err := json.Unmarshal(b, &num); err != nil {
			return fmt.Errorf("%w: %s", ErrInvalidFixedPoint, string(b))
		}
		str = num.String()
	}
	v, err := ParseSats(str)
	if err != nil {
		return err
	}
	*s = v
	return nil
}
