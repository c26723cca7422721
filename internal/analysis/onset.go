// SPDX-License-Identifier: MIT
package analysis

import (
	"math"
	"math/cmplx"
	"sort"
	"time"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"

	"bpmdetect/internal/config"
	applog "bpmdetect/internal/log"
	"bpmdetect/internal/transport"
	"bpmdetect/pkg/bitint"
)

// Bass band used for onset energy. Kick drums and bass lines live here,
// which is where beats show up most reliably.
const (
	bassLowHz  = 20.0
	bassHighHz = 250.0
)

// onsetWorkspace holds pre-allocated buffers for the per-callback FFT.
type onsetWorkspace struct {
	input     []float64    // windowed, normalized frame samples
	fftOutput []complex128 // FFT complex output
	window    []float64    // Hann coefficients
}

// OnsetDetector is the lightweight tempo estimator. It runs once per capture
// callback: bass-band energy via a small FFT, a rolling dynamic threshold,
// refractory-debounced onset events, and a median of inter-onset-interval
// BPMs. No timers, no shared buffers outside its own state, driven entirely
// by capture cadence.
type OnsetDetector struct {
	sampleRate float64
	fftSize    int
	fft        *fourier.FFT
	workspace  onsetWorkspace
	lowBin     int
	highBin    int

	// Rolling energy history (~1s of callbacks) for the dynamic threshold.
	energy    []float64
	energyPos int
	energyLen int

	multiplier float64       // threshold factor over the rolling average
	refractory time.Duration // minimum spacing between recorded onsets

	onsets    []time.Time // bounded onset history, oldest first
	maxOnsets int
	lastOnset time.Time

	intervals []float64 // scratch for per-interval BPMs

	target    float64
	tolerance float64

	sink transport.Transport
	now  func() time.Time // injectable clock, defaults to time.Now

	last    Estimate
	haveEst bool
}

// Compile-time check: the detector runs on the capture hot path.
var _ AudioProcessor = (*OnsetDetector)(nil)

// NewOnsetDetector creates a detector for frames of framesPerBuffer samples
// captured at sampleRate Hz. Estimates are pushed to sink as they are
// produced; sink may be nil for callers that poll LastEstimate instead.
func NewOnsetDetector(cfg *config.Config, sink transport.Transport) *OnsetDetector {
	sampleRate := cfg.Audio.SampleRate
	fftSize := bitint.NextPowerOfTwo(cfg.Audio.FramesPerBuffer)

	coeffs := make([]float64, fftSize)
	for i := range coeffs {
		coeffs[i] = 1.0
	}
	window.Hann(coeffs)

	// ~1 second of callbacks for the rolling threshold.
	callbacksPerSecond := int(sampleRate) / cfg.Audio.FramesPerBuffer
	if callbacksPerSecond < 4 {
		callbacksPerSecond = 4
	}

	binHz := sampleRate / float64(fftSize)
	lowBin := int(math.Ceil(bassLowHz / binHz))
	highBin := int(math.Floor(bassHighHz / binHz))
	if lowBin < 1 {
		lowBin = 1 // skip DC
	}
	if highBin >= fftSize/2+1 {
		highBin = fftSize / 2
	}
	if highBin < lowBin {
		highBin = lowBin
	}

	applog.Infof("Analysis: Initializing OnsetDetector (FFT: %d, Band: bins %d-%d, Refractory: %s)",
		fftSize, lowBin, highBin, cfg.Detector.Refractory)

	return &OnsetDetector{
		sampleRate: sampleRate,
		fftSize:    fftSize,
		fft:        fourier.NewFFT(fftSize),
		workspace: onsetWorkspace{
			input:     make([]float64, fftSize),
			fftOutput: make([]complex128, fftSize/2+1),
			window:    coeffs,
		},
		lowBin:     lowBin,
		highBin:    highBin,
		energy:     make([]float64, callbacksPerSecond),
		multiplier: cfg.Detector.EnergyMultiplier,
		refractory: cfg.Detector.Refractory,
		onsets:     make([]time.Time, 0, cfg.Detector.OnsetHistory),
		maxOnsets:  cfg.Detector.OnsetHistory,
		intervals:  make([]float64, 0, cfg.Detector.OnsetHistory),
		target:     cfg.Detector.TargetBPM,
		tolerance:  cfg.Detector.Tolerance,
		sink:       sink,
		now:        time.Now,
	}
}

// SetClock replaces the detector's time source. Intended for tests that need
// deterministic refractory and interval behavior.
func (d *OnsetDetector) SetClock(now func() time.Time) {
	d.now = now
}

// Process handles one capture frame. It updates the energy history, records
// an onset when the bass band spikes above the dynamic threshold outside the
// refractory window, and pushes a fresh estimate downstream once at least
// two onsets exist.
func (d *OnsetDetector) Process(frame []float32) {
	now := d.now()

	current := d.bassEnergy(frame)

	// Rolling history first, threshold from the average including the
	// current value: a lone spike against an empty history cannot trigger.
	d.energy[d.energyPos] = current
	d.energyPos = (d.energyPos + 1) % len(d.energy)
	if d.energyLen < len(d.energy) {
		d.energyLen++
	}

	var sum float64
	for i := 0; i < d.energyLen; i++ {
		sum += d.energy[i]
	}
	threshold := sum / float64(d.energyLen) * d.multiplier

	if current > threshold && (d.lastOnset.IsZero() || now.Sub(d.lastOnset) >= d.refractory) {
		d.recordOnset(now)
	}

	if len(d.onsets) < 2 {
		return
	}

	bpm := d.intervalBPM()
	if bpm <= 0 {
		return
	}

	est := Estimate{
		BPM:        RoundBPM(bpm),
		AtTarget:   Classify(bpm, d.target, d.tolerance),
		Target:     d.target,
		Tolerance:  d.tolerance,
		Beats:      len(d.onsets),
		ComputedAt: now,
	}
	d.last = est
	d.haveEst = true

	if d.sink != nil {
		if err := d.sink.Send(est); err != nil {
			applog.Errorf("OnsetDetector: error sending estimate: %v", err)
		}
	}
}

// bassEnergy computes the average magnitude across the bass-band FFT bins
// for one frame. Uses only pre-allocated workspace buffers.
func (d *OnsetDetector) bassEnergy(frame []float32) float64 {
	for i := 0; i < d.fftSize; i++ {
		if i < len(frame) {
			d.workspace.input[i] = float64(frame[i]) * d.workspace.window[i]
		} else {
			d.workspace.input[i] = 0 // zero-pad short frames
		}
	}

	d.fft.Coefficients(d.workspace.fftOutput, d.workspace.input)

	var sum float64
	for i := d.lowBin; i <= d.highBin; i++ {
		sum += cmplx.Abs(d.workspace.fftOutput[i])
	}
	return sum / float64(d.highBin-d.lowBin+1)
}

// recordOnset appends an onset timestamp, evicting the oldest once the
// bounded history is full. Timestamps are strictly non-decreasing because
// the capture callback is the only caller.
func (d *OnsetDetector) recordOnset(ts time.Time) {
	if len(d.onsets) == d.maxOnsets {
		copy(d.onsets, d.onsets[1:])
		d.onsets = d.onsets[:d.maxOnsets-1]
	}
	d.onsets = append(d.onsets, ts)
	d.lastOnset = ts
}

// intervalBPM derives a smoothed tempo from the onset history: one BPM per
// consecutive interval, implausible values dropped, median of the rest.
func (d *OnsetDetector) intervalBPM() float64 {
	d.intervals = d.intervals[:0]
	for i := 1; i < len(d.onsets); i++ {
		ms := float64(d.onsets[i].Sub(d.onsets[i-1])) / float64(time.Millisecond)
		if ms <= 0 {
			continue
		}
		bpm := 60000 / ms
		if bpm < config.MinPlausibleBPM || bpm > config.MaxPlausibleBPM {
			continue
		}
		d.intervals = append(d.intervals, bpm)
	}
	if len(d.intervals) == 0 {
		return 0
	}

	sort.Float64s(d.intervals)
	mid := len(d.intervals) / 2
	if len(d.intervals)%2 == 1 {
		return d.intervals[mid]
	}
	return (d.intervals[mid-1] + d.intervals[mid]) / 2
}

// OnsetCount returns the number of onsets currently held in the history.
func (d *OnsetDetector) OnsetCount() int {
	return len(d.onsets)
}

// LastEstimate returns the most recent estimate and whether one has been
// produced yet.
func (d *OnsetDetector) LastEstimate() (Estimate, bool) {
	return d.last, d.haveEst
}
