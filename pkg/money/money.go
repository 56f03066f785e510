// Package money holds the amount arithmetic shared by the snapshot and the backend.
package money

import "github.com/shopspring/decimal"

// Round returns v rounded to the nearest whole unit, halves away from zero.
func Round(v float64) int64 {
	return decimal.NewFromFloat(v).Round(0).IntPart()
}

// Sum adds amounts exactly and rounds the total once.
func Sum(values ...float64) int64 {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(decimal.NewFromFloat(v))
	}
	return total.Round(0).IntPart()
}

// Cents normalizes a float amount into a two-place decimal.
func Cents(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(2)
}

// LineTotal is quantity times unit price, two places.
func LineTotal(quantity int, unitPrice decimal.Decimal) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromInt(int64(quantity))).Round(2)
}

// Float converts a decimal back to float64 for JSON payloads.
func Float(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
