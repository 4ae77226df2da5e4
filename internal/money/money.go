// internal/money/money.go
package money

import (
	"github.com/shopspring/decimal"
)

// Places is the number of decimal places kept for currency values.
const Places = 2

var (
	hundred = decimal.NewFromInt(100)
	// Cent is the smallest currency unit.
	Cent = decimal.New(1, -Places)
)

// Round rounds a currency value to cents, half away from zero.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Places)
}

// FromPercent converts a percentage (5 == 5%) into a fraction (0.05).
func FromPercent(p decimal.Decimal) decimal.Decimal {
	return p.Div(hundred)
}

// ToPercent converts a fraction into a percentage.
func ToPercent(f decimal.Decimal) decimal.Decimal {
	return f.Mul(hundred)
}

// NonNegative clamps d to zero from below.
func NonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// Sum adds all values, returning zero for an empty list.
func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}
