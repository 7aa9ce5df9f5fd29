// Package money holds the fixed-point helpers shared by orders, the credit
// ledger and pending payments. Amounts are decimal.Decimal rounded to two
// places; quantities keep up to three places (0.25 kg, 1.5 l).
package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	AmountPlaces   = 2
	QuantityPlaces = 3
)

var (
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrInvalidQuantity = errors.New("invalid quantity")
)

var Zero = decimal.Zero

// Round brings an amount to currency precision, half away from zero.
func Round(d decimal.Decimal) decimal.Decimal { return d.Round(AmountPlaces) }

// Line is the charged total of a line: unit price times quantity.
func Line(price, qty decimal.Decimal) decimal.Decimal { return Round(price.Mul(qty)) }

func Sum(ds ...decimal.Decimal) decimal.Decimal {
	out := decimal.Zero
	for _, d := range ds {
		out = out.Add(d)
	}
	return out
}

// ProRata returns the share of total that corresponds to part out of whole,
// e.g. the refund for returning 2 of 5 units of a line.
func ProRata(total, part, whole decimal.Decimal) decimal.Decimal {
	if whole.IsZero() || part.GreaterThanOrEqual(whole) {
		return total
	}
	return Round(total.Mul(part).Div(whole))
}

func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// FloorZero clamps negative values to zero.
func FloorZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// ParseAmount parses a non-negative currency amount ("199.90").
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: %q is negative", ErrInvalidAmount, s)
	}
	if d.Exponent() < -AmountPlaces && !d.Equal(Round(d)) {
		return decimal.Zero, fmt.Errorf("%w: %q has more than %d decimals", ErrInvalidAmount, s, AmountPlaces)
	}
	return Round(d), nil
}

// ParseQuantity parses a strictly positive quantity.
func ParseQuantity(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidQuantity, s)
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %q must be positive", ErrInvalidQuantity, s)
	}
	if !d.Equal(d.Round(QuantityPlaces)) {
		return decimal.Zero, fmt.Errorf("%w: %q has more than %d decimals", ErrInvalidQuantity, s, QuantityPlaces)
	}
	return d, nil
}

// Must is for constants in code and tests.
func Must(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
