package ledger

import (
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// AmountScale is the number of fractional digits carried by every amount and balance.
const AmountScale = 8

// Quantize truncates d to AmountScale fractional digits. Truncation, not rounding.
func Quantize(d decimal.Decimal) decimal.Decimal {
	return d.Truncate(AmountScale)
}

// ParseAmount parses a human decimal and quantizes it. The result must be
// strictly positive.
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errors.Wrapf(ErrInvalidAmount, "parsing [%s]", s)
	}
	return validAmount(d)
}

func validAmount(d decimal.Decimal) (decimal.Decimal, error) {
	q := Quantize(d)
	if !q.IsPositive() {
		return decimal.Zero, errors.Wrapf(ErrInvalidAmount, "[%s] is not positive after quantization", d.String())
	}
	return q, nil
}

// FormatAmount renders d with exactly AmountScale fractional digits.
func FormatAmount(d decimal.Decimal) string {
	return Quantize(d).StringFixed(AmountScale)
}
