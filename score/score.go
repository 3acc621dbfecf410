// Package score holds the 0-100 quality scale shared by the agent and the backend.
package score

import "math"

// Max is the top of the quality scale
const Max = 100

// Normalize converts a raw model or client score to the 0-100 integer scale.
// Values in [0,1] are fractions and are multiplied by 100; anything else is
// taken as already on the 0-100 scale. The result is rounded and clamped.
func Normalize(v float64) int {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v <= 1 {
		v *= 100
	}
	r := int(math.Round(v))
	if r > Max {
		return Max
	}
	return r
}

// Qualifies reports whether s meets threshold t
func Qualifies(s, t int) bool {
	return s >= t
}

// Clamp bounds s to the 0-100 scale
func Clamp(s int) int {
	if s < 0 {
		return 0
	}
	if s > Max {
		return Max
	}
	return s
}
