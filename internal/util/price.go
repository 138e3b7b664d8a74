// Package util provides common utility functions for price calculations.
package util

import "math"

// CentTick is the minimum price increment for premiums and P&L.
const CentTick = 0.01

// RoundToCents rounds x to two decimal places, ties away from zero.
func RoundToCents(x float64) float64 {
	// Scale by 100 directly; dividing by 0.01 introduces representation error.
	return math.Round(x*100) / 100
}

// RoundToStrike rounds a price to a whole-dollar strike, ties to even.
// 427.5 becomes 428 and 472.5 becomes 472.
func RoundToStrike(x float64) float64 {
	return math.RoundToEven(x)
}

// UniformBetween maps a unit draw u in [0,1) onto [lo,hi].
// The bounds are swapped when given in the wrong order.
func UniformBetween(u, lo, hi float64) float64 {
	if lo > hi {
		lo, hi = hi, lo
	}
	return lo + u*(hi-lo)
}

// Clamp bounds x to [lo,hi].
func Clamp(x, lo, hi float64) float64 {
	if lo > hi {
		lo, hi = hi, lo
	}
	return math.Max(lo, math.Min(hi, x))
}
