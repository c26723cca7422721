// SPDX-License-Identifier: MIT
package analysis

import (
	"errors"
	"math"
	"testing"

	"bpmdetect/internal/config"
	"bpmdetect/pkg/utils"
)

const (
	trackerTestSampleRate = 22050.0
	trackerTestMinSamples = 2 * 22050
	trackerTestSepMs      = 250
)

func newTestTracker() *BeatTracker {
	return NewBeatTracker(trackerTestSampleRate, trackerTestMinSamples, trackerTestSepMs)
}

// Repeated cycles on an under-filled window must stay silent: no estimate,
// no error escalation, no panic.
func TestAnalyzeInsufficientWindowIdempotent(t *testing.T) {
	tracker := newTestTracker()
	short := make([]float64, trackerTestMinSamples-1)

	for i := 0; i < 5; i++ {
		candidates, beats, err := tracker.Analyze(short)
		if !errors.Is(err, ErrInsufficientData) {
			t.Fatalf("cycle %d: expected ErrInsufficientData, got %v", i, err)
		}
		if candidates != nil || beats != 0 {
			t.Fatalf("cycle %d: expected no output, got %v (%d beats)", i, candidates, beats)
		}
	}
}

func TestAnalyzeEmptyWindow(t *testing.T) {
	tracker := NewBeatTracker(trackerTestSampleRate, 0, trackerTestSepMs)
	if _, _, err := tracker.Analyze(nil); !errors.Is(err, ErrInsufficientData) {
		t.Errorf("expected ErrInsufficientData for empty window, got %v", err)
	}
}

// Six seconds of silence must yield an empty candidate list, which
// normalizes to bpm 0 and a negative classification.
func TestAnalyzeSilence(t *testing.T) {
	tracker := newTestTracker()
	window := make([]float64, int(6*trackerTestSampleRate))

	candidates, beats, err := tracker.Analyze(window)
	if err != nil {
		t.Fatalf("silence must not error, got %v", err)
	}
	if len(candidates) != 0 || beats != 0 {
		t.Fatalf("silence must yield no candidates, got %v (%d beats)", candidates, beats)
	}

	bpm := PrimaryTempo(candidates)
	if bpm != 0.0 {
		t.Errorf("expected bpm 0.0 from empty candidates, got %v", bpm)
	}
	if Classify(bpm, config.DefaultTargetBPM, config.DefaultTolerance) {
		t.Error("silence must never classify as at-target")
	}
}

// A clean click train must analyze without error and produce at least one
// plausible candidate. The exact value depends on the wavelet envelope, so
// only plausibility is asserted here; precise voting is covered below.
func TestAnalyzeClickTrain(t *testing.T) {
	tracker := newTestTracker()
	window := utils.ClickTrain(6, trackerTestSampleRate, 180)

	candidates, beats, err := tracker.Analyze(window)
	if err != nil {
		t.Fatalf("click train must not error, got %v", err)
	}
	if beats < 2 {
		t.Fatalf("expected beats from a click train, got %d", beats)
	}
	for _, c := range candidates {
		if c < config.MinPlausibleBPM || c > config.MaxPlausibleBPM {
			t.Errorf("implausible candidate %v", c)
		}
	}
}

func TestVoteCandidatesUniformIntervals(t *testing.T) {
	tracker := newTestTracker()
	fss := trackerTestSampleRate / dwtScale

	// Beats spaced for 180 BPM at the decimated rate.
	d := int(math.Round(60 * fss / 180))
	beats := make([]int, 10)
	for i := range beats {
		beats[i] = i * d
	}

	candidates := tracker.voteCandidates(beats, fss)
	if len(candidates) == 0 {
		t.Fatal("expected at least one candidate")
	}
	if math.Abs(candidates[0]-180) > 1 {
		t.Errorf("primary candidate %v, want ~180", candidates[0])
	}
}

func TestVoteCandidatesMajorityWins(t *testing.T) {
	tracker := newTestTracker()
	fss := trackerTestSampleRate / dwtScale

	d180 := int(math.Round(60 * fss / 180))
	d120 := int(math.Round(60 * fss / 120))

	// Seven intervals at 180 BPM, two at 120 BPM.
	beats := []int{0}
	for i := 0; i < 7; i++ {
		beats = append(beats, beats[len(beats)-1]+d180)
	}
	for i := 0; i < 2; i++ {
		beats = append(beats, beats[len(beats)-1]+d120)
	}

	candidates := tracker.voteCandidates(beats, fss)
	if len(candidates) < 2 {
		t.Fatalf("expected two tempo bins, got %v", candidates)
	}
	if math.Abs(candidates[0]-180) > 1 {
		t.Errorf("majority tempo should lead: got %v, want ~180", candidates[0])
	}
	if math.Abs(candidates[1]-120) > 1 {
		t.Errorf("minority tempo second: got %v, want ~120", candidates[1])
	}
}

func TestVoteCandidatesImplausibleDropped(t *testing.T) {
	tracker := newTestTracker()
	fss := trackerTestSampleRate / dwtScale

	// Intervals of 1 decimated sample correspond to tens of thousands of
	// BPM; all must be discarded.
	beats := []int{0, 1, 2, 3, 4}
	if candidates := tracker.voteCandidates(beats, fss); candidates != nil {
		t.Errorf("expected no candidates from implausible intervals, got %v", candidates)
	}
}

func TestVoteCandidatesTooFewBeats(t *testing.T) {
	tracker := newTestTracker()
	fss := trackerTestSampleRate / dwtScale

	if candidates := tracker.voteCandidates([]int{42}, fss); candidates != nil {
		t.Errorf("single beat must yield no candidates, got %v", candidates)
	}
	if candidates := tracker.voteCandidates(nil, fss); candidates != nil {
		t.Errorf("no beats must yield no candidates, got %v", candidates)
	}
}
