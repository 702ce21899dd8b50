package model

import "math"

const epsilon = 1e-9

// RoundDown floors value to a multiple of step. A non-positive step returns value.
func RoundDown(value, step float64) float64 {
	if step <= 0 {
		return value
	}
	return math.Floor(value/step+epsilon) * step
}

// RoundNearest rounds value to the closest multiple of step.
func RoundNearest(value, step float64) float64 {
	if step <= 0 {
		return value
	}
	return math.Round(value/step) * step
}

// NearlyEqual compares two floats with a relative tolerance.
func NearlyEqual(a, b float64) bool {
	diff := math.Abs(a - b)
	if diff < epsilon {
		return true
	}
	return diff <= epsilon*math.Max(math.Abs(a), math.Abs(b))
}
