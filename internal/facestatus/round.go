package facestatus

import "math"

// Round rounds v to the given number of decimal places, halves away from zero.
func Round(v float64, places int) float64 {
	divisor := math.Pow(10, float64(places))
	return math.Round(v*divisor) / divisor
}
