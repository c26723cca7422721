// SPDX-License-Identifier: MIT
/*
Package analysis implements the tempo estimation pipeline:

  - BeatTracker: offline-style DWT beat tracking over a buffered audio
    window, run on a fixed cadence by the monitor loop (server mode).
  - OnsetDetector: per-callback bass-band onset detection with
    inter-onset-interval BPM estimation (standalone mode).
  - Classify: the shared target-tempo contract both estimators feed.

The two estimators trade accuracy for cost in opposite directions: the
tracker is accurate but too heavy to run per callback, the onset detector
runs at full callback rate but can be off by tens of BPM on complex
material. Both converge on the same classification semantics.
*/
package analysis

import (
	"errors"
	"time"
)

// Estimate is a single tempo measurement pushed to display sinks.
// It is transient: recomputed on every cycle, never accumulated.
type Estimate struct {
	BPM        float64   `json:"bpm"`       // Estimated tempo, 0 when unknown
	AtTarget   bool      `json:"at_target"` // Within tolerance of the target tempo
	Target     float64   `json:"target"`    // Target the classifier compared against
	Tolerance  float64   `json:"tolerance"` // ±BPM accepted as a match
	Beats      int       `json:"beats"`     // Onsets/peaks backing this estimate
	ComputedAt time.Time `json:"computed_at"`
}

// ErrInsufficientData marks an analysis cycle skipped because the buffered
// window is still too short. It is an expected transient state during the
// first seconds after capture starts, not a failure.
var ErrInsufficientData = errors.New("audio window below minimum analysis length")

// AudioProcessor is the interface for components that consume raw capture
// frames. Implementations run inside the real-time audio callback and must
// avoid blocking and allocation.
type AudioProcessor interface {
	Process(frame []float32)
}

// PrimaryTempo normalizes a candidate tempo list to a single value: the
// first candidate is selected deterministically, and an empty or nil list
// yields 0.0 rather than an error.
func PrimaryTempo(candidates []float64) float64 {
	if len(candidates) == 0 {
		return 0.0
	}
	return candidates[0]
}

// RoundBPM rounds a tempo to one decimal for display payloads.
func RoundBPM(bpm float64) float64 {
	return float64(int(bpm*10+0.5)) / 10
}
