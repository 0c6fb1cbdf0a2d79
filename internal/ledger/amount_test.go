package ledger

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"250", "250.00000000"},
		{"0.00000001", "0.00000001"},
		{"1.123456789", "1.12345678"},
		{"1.999999999", "1.99999999"},
		{"1e3", "1000.00000000"},
	}
	for _, c := range cases {
		t.Run(c.in, func(t *testing.T) {
			got, err := ParseAmount(c.in)
			require.NoError(t, err)
			assert.Equal(t, c.want, FormatAmount(got))
		})
	}
}

func TestParseAmount_Invalid(t *testing.T) {
	for _, in := range []string{"0", "-1", "0.000000009", "abc", ""} {
		t.Run(in, func(t *testing.T) {
			_, err := ParseAmount(in)
			assert.ErrorIs(t, err, ErrInvalidAmount)
		})
	}
}

func TestQuantize_Truncates(t *testing.T) {
	q := Quantize(decimal.RequireFromString("-0.123456789"))
	assert.Equal(t, "-0.12345678", q.StringFixed(8))
}
