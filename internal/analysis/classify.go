// SPDX-License-Identifier: MIT
package analysis

import "math"

// Classify reports whether bpm is within tolerance of the target tempo.
// A zero or negative bpm means "no estimate yet" and is never a match.
func Classify(bpm, target, tolerance float64) bool {
	if bpm <= 0 {
		return false
	}
	return math.Abs(bpm-target) <= tolerance
}
