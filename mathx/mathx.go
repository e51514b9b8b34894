// Package mathx contains small numeric helpers shared across packages
package mathx

import "math"

// Round rounds a float to the nearest "unit" (0.1 for tenth, 0.01 for hundredth, and so on).
func Round(x, unit float64) float64 {
	return math.Round(x/unit) * unit
}

// Clamp limits x to [lo, hi]
func Clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(x, hi))
}
