package domain

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSats_Units(t *testing.T) {
	s, err := ParseSats("1.5")
	require.NoError(t, err)
	assert.Equal(t, Sats(150_000_000), s)
	assert.Equal(t, "150000000", s.Raw())
	assert.Equal(t, "1.5", s.String())
}

func TestParseSats_SmallestUnit(t *testing.T) {
	s, err := ParseSats("0.00000001")
	require.NoError(t, err)
	assert.Equal(t, Sats(1), s)
}

func TestParseSats_TooPrecise(t *testing.T) {
	_, err := ParseSats("0.000000001")
	assert.ErrorIs(t, err, ErrInvalidFixedPoint)
}

func TestParseSats_Garbage(t *testing.T) {
	_, err := ParseSats("ten")
	assert.ErrorIs(t, err, ErrInvalidFixedPoint)
}

func TestSatsFromDecimal_Overflow(t *testing.T) {
	_, err := SatsFromDecimal(decimal.RequireFromString("100000000000"))
	assert.ErrorIs(t, err, ErrInvalidFixedPoint)
}

func TestSatsFromDecimalTruncated(t *testing.T) {
	s, err := SatsFromDecimalTruncated(decimal.RequireFromString("0.123456789"))
	require.NoError(t, err)
	assert.Equal(t, Sats(12_345_678), s)
}

func TestParseRawSats(t *testing.T) {
	s, err := ParseRawSats("-250")
	require.NoError(t, err)
	assert.Equal(t, Sats(-250), s)

	_, err = ParseRawSats("1.0")
	assert.ErrorIs(t, err, ErrInvalidFixedPoint)
}

func TestSats_DecimalRoundTrip(t *testing.T) {
	d := decimal.RequireFromString("12345.6789")
	s, err := SatsFromDecimal(d)
	require.NoError(t, err)
	assert.True(t, d.Equal(s.Decimal()))
}

func TestSats_JSON(t *testing.T) {
	b, err := json.Marshal(Sats(1_000_000_000))
	require.NoError(t, err)
	assert.JSONEq(t, `"10"`, string(b))

	var s Sats
	require.NoError(t, json.Unmarshal([]byte(`"0.5"`), &s))
	assert.Equal(t, Sats(50_000_000), s)

	require.NoError(t, json.Unmarshal([]byte(`2`), &s))
	assert.Equal(t, Sats(200_000_000), s)
}
