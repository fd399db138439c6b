package domain

import "math"

// Round2 rounds a money amount to 2 decimal places. All totals go through
// this helper so they are never off by more than float noise.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
