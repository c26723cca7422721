// SPDX-License-Identifier: MIT
package analysis

import (
	"fmt"
	"math"
	"sort"

	"github.com/goccmack/godsp"
	"github.com/goccmack/godsp/dwt"
	"github.com/goccmack/godsp/peaks"

	"bpmdetect/internal/config"
	applog "bpmdetect/internal/log"
)

const (
	// dwtLevel is the number of scales over which the DWT is computed.
	dwtLevel = 4
	// dwtScale is the decimation factor of the energy envelope relative to
	// the input signal length.
	dwtScale = 1 << dwtLevel

	// Envelopes whose mean falls below this are treated as silence: no
	// beats, no candidates, no error.
	silenceFloor = 1e-9
)

// BeatTracker estimates tempo from a buffered window of audio. It computes a
// beat-strength envelope via a Daubechies-4 wavelet decomposition, picks
// peaks with a minimum separation, and votes inter-peak intervals into tempo
// candidates. One Analyze call per monitor cycle; too heavy for the
// per-callback path.
type BeatTracker struct {
	sampleRate float64
	minSamples int // below this Analyze reports ErrInsufficientData
	sepMs      int // minimum peak separation in milliseconds
}

// NewBeatTracker creates a tracker for windows captured at sampleRate Hz.
func NewBeatTracker(sampleRate float64, minSamples, peakSeparationMs int) *BeatTracker {
	applog.Infof("Analysis: Initializing BeatTracker (MinSamples: %d, PeakSep: %dms)",
		minSamples, peakSeparationMs)
	return &BeatTracker{
		sampleRate: sampleRate,
		minSamples: minSamples,
		sepMs:      peakSeparationMs,
	}
}

// Analyze runs one beat-tracking pass over a chronologically ordered window
// and returns tempo candidates ordered by vote count (strongest first),
// along with the number of beats the envelope yielded. Callers normalize
// with PrimaryTempo: index 0 wins, empty means no tempo.
//
// A window shorter than the configured minimum returns ErrInsufficientData.
// Degenerate input (silence, too few beats) returns empty candidates and a
// nil error. A panic inside the wavelet pipeline is recovered and returned
// as an error so a bad cycle can never kill the monitor loop.
func (t *BeatTracker) Analyze(window []float64) (candidates []float64, beatCount int, err error) {
	if len(window) < t.minSamples {
		return nil, 0, ErrInsufficientData
	}

	defer func() {
		if r := recover(); r != nil {
			candidates, beatCount = nil, 0
			err = fmt.Errorf("beat tracking failed: %v", r)
		}
	}()

	// The decomposition decimates by 2 per level; trim the window to a
	// multiple of the full scale so every level divides evenly.
	n := len(window) - len(window)%dwtScale
	if n == 0 {
		return nil, 0, ErrInsufficientData
	}

	transform := dwt.Daubechies4(window[:n], dwtLevel)
	coefs := transform.GetCoefficients()

	// Beat-strength envelope: absolute coefficients per level, decimated to
	// the coarsest scale, summed across levels, normalized by the mean.
	absX := godsp.AbsAll(coefs)
	dsX := godsp.DownSampleAll(absX)
	envelope := godsp.SumVectors(dsX)

	avg := godsp.Average(envelope)
	if avg < silenceFloor {
		return nil, 0, nil
	}
	envelope = godsp.DivS(envelope, avg)

	// Samples per second at the envelope's decimated rate.
	fss := t.sampleRate / dwtScale

	sep := int(float64(t.sepMs) / 1000 * fss)
	if sep < 1 {
		sep = 1
	}

	beats := peaks.Get(envelope, sep)
	sort.Ints(beats)

	return t.voteCandidates(beats, fss), len(beats), nil
}

// voteCandidates converts sorted beat offsets (at the decimated rate fss)
// into a tempo candidate list. Each inter-beat interval casts a vote for its
// BPM rounded to the nearest integer; candidates are the mean BPM of each
// bin, ordered by vote count, ties broken toward the lower tempo.
func (t *BeatTracker) voteCandidates(beats []int, fss float64) []float64 {
	if len(beats) < 2 {
		return nil
	}

	type bin struct {
		sum   float64
		votes int
	}
	bins := make(map[int]*bin)

	for i := 1; i < len(beats); i++ {
		d := beats[i] - beats[i-1]
		if d <= 0 {
			continue
		}
		bpm := 60 * fss / float64(d)
		if bpm < config.MinPlausibleBPM || bpm > config.MaxPlausibleBPM {
			continue
		}
		key := int(math.Round(bpm))
		b := bins[key]
		if b == nil {
			b = &bin{}
			bins[key] = b
		}
		b.sum += bpm
		b.votes++
	}

	if len(bins) == 0 {
		return nil
	}

	keys := make([]int, 0, len(bins))
	for k := range bins {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		bi, bj := bins[keys[i]], bins[keys[j]]
		if bi.votes != bj.votes {
			return bi.votes > bj.votes
		}
		return keys[i] < keys[j]
	})

	candidates := make([]float64, len(keys))
	for i, k := range keys {
		candidates[i] = bins[k].sum / float64(bins[k].votes)
	}
	return candidates
}
