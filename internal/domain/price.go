package domain

import "github.com/shopspring/decimal"

// PricePrecision is the number of decimal places that identify a price level.
const PricePrecision = 2

// PriceKey canonicalizes a price into the fixed-precision key used for level
// identity. Floats are never compared directly for level equality.
func PriceKey(p float64) string {
	return decimal.NewFromFloat(p).StringFixed(PricePrecision)
}

// SamePrice reports whether a and b fall on the same price level.
func SamePrice(a, b float64) bool {
	return PriceKey(a) == PriceKey(b)
}

// ComparePrice orders two prices on the canonical grid.
// Returns -1 if a < b, 0 if both map to the same level, +1 if a > b.
func ComparePrice(a, b float64) int {
	return decimal.NewFromFloat(a).Round(PricePrecision).Cmp(decimal.NewFromFloat(b).Round(PricePrecision))
}

// RoundPrice snaps p onto the canonical grid.
func RoundPrice(p float64) float64 {
	f, _ := decimal.NewFromFloat(p).Round(PricePrecision).Float64()
	return f
}

// TicksBetween returns (to - from) / tickSize rounded to 2 places.
// A non-positive tick size yields 0.
func TicksBetween(from, to, tickSize float64) float64 {
	if tickSize <= 0 {
		return 0
	}
	d := decimal.NewFromFloat(to).
		Sub(decimal.NewFromFloat(from)).
		Div(decimal.NewFromFloat(tickSize)).
		Round(2)
	f, _ := d.Float64()
	return f
}
