// SPDX-License-Identifier: MIT
/*
Package detect owns the shared detection state for the server deployment:
one microphone, one ring accumulator, one monitor loop, injected by
reference into every transport handler. There is one physical capture
device, so all connected clients observe and control the same stream.
*/
package detect

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"bpmdetect/internal/analysis"
	"bpmdetect/internal/config"
	applog "bpmdetect/internal/log"
	"bpmdetect/internal/ring"
	"bpmdetect/internal/transport"
)

var (
	// ErrAlreadyRunning is returned by Start when capture is active.
	ErrAlreadyRunning = errors.New("detection already running")
	// ErrNotRunning is returned by Stop when capture is not active.
	ErrNotRunning = errors.New("detection not running")
)

// CaptureSource is the audio device abstraction the detector controls.
// Start acquires the device and begins delivering frames to onFrame;
// Stop releases it. The portaudio engine implements this; tests use fakes.
type CaptureSource interface {
	Start(onFrame func([]float32)) error
	Stop() error
}

// Detector wires the capture source, the ring accumulator, and the heavy
// beat tracker together, and runs the periodic monitor loop that pushes
// estimates to the sink.
type Detector struct {
	cfg     *config.Config
	source  CaptureSource
	sink    transport.Transport
	tracker *analysis.BeatTracker
	ring    *ring.Accumulator

	mu      sync.Mutex // guards running, lastEst, sink
	running bool
	lastEst analysis.Estimate
	haveEst bool

	// ctrlMu serializes Start/Stop transitions. It is never taken on the
	// capture path, so a callback can observe running while a transition
	// holds it.
	ctrlMu sync.Mutex

	// Monitor loop lifecycle, one Start/Stop cycle at a time.
	ticker   *time.Ticker
	doneChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	loopMu   sync.Mutex // guards ticker and doneChan during StartMonitor/StopMonitor
}

// New creates a Detector. The sink receives one Estimate per completed
// monitor cycle; it may be nil for tests that poll LastEstimate.
func New(cfg *config.Config, source CaptureSource, sink transport.Transport) *Detector {
	return &Detector{
		cfg:     cfg,
		source:  source,
		sink:    sink,
		tracker: analysis.NewBeatTracker(cfg.Audio.SampleRate, cfg.MinAnalysisSamples(), cfg.Detector.PeakSeparationMs),
		ring:    ring.NewAccumulator(cfg.WindowSamples()),
	}
}

// SetSink replaces the estimate sink. The websocket transport needs the
// detector as its control plane, so serve-mode wiring constructs the
// detector first and attaches the sink after.
func (d *Detector) SetSink(sink transport.Transport) {
	d.mu.Lock()
	d.sink = sink
	d.mu.Unlock()
}

// OnFrame is the capture callback target: an O(1)-amortized ring append.
// Frames arriving while detection is stopped are dropped.
func (d *Detector) OnFrame(frame []float32) {
	if !d.Running() {
		return
	}
	d.ring.Append(frame)
}

// Start acquires the capture source and begins accumulating audio.
// Idempotent with respect to repeated calls: a second Start while running
// returns ErrAlreadyRunning and leaves the existing stream untouched.
func (d *Detector) Start() error {
	d.ctrlMu.Lock()
	defer d.ctrlMu.Unlock()

	if d.Running() {
		return ErrAlreadyRunning
	}

	d.ring.Reset()
	if err := d.source.Start(d.OnFrame); err != nil {
		return fmt.Errorf("audio device: %w", err)
	}
	d.mu.Lock()
	d.running = true
	d.mu.Unlock()
	applog.Infof("Detector: capture started")
	return nil
}

// Stop releases the capture source. The device is released exactly once
// even when teardown fails: the running flag flips before Stop is called,
// so a retry cannot re-release, and the ring is cleared on every path.
func (d *Detector) Stop() error {
	d.ctrlMu.Lock()
	defer d.ctrlMu.Unlock()

	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return ErrNotRunning
	}
	d.running = false
	d.mu.Unlock()

	// Device teardown blocks until in-flight capture callbacks drain, and
	// those callbacks take d.mu through Running. The lock must be free here
	// or Stop and the callback deadlock against each other.
	err := d.source.Stop()
	d.ring.Reset()
	if err != nil {
		return fmt.Errorf("capture teardown: %w", err)
	}
	applog.Infof("Detector: capture stopped")
	return nil
}

// Running reports whether capture is active.
func (d *Detector) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// LastEstimate returns the most recent completed estimate, if any.
func (d *Detector) LastEstimate() (analysis.Estimate, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastEst, d.haveEst
}

// StartMonitor launches the periodic analysis loop. Safe to call
// repeatedly; subsequent calls while running are no-ops. The loop runs
// regardless of capture state; cycles while stopped simply do nothing,
// mirroring a monitor that waits for a stream to start.
func (d *Detector) StartMonitor() {
	d.loopMu.Lock()
	if d.ticker != nil {
		d.loopMu.Unlock()
		applog.Warnf("Detector: StartMonitor called but already running")
		return
	}

	d.ticker = time.NewTicker(d.cfg.Detector.AnalysisInterval)
	d.doneChan = make(chan struct{})
	d.stopOnce = sync.Once{}

	ticker := d.ticker
	doneChan := d.doneChan
	d.loopMu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		applog.Infof("Detector: monitor loop started (interval: %s)", d.cfg.Detector.AnalysisInterval)
		for {
			select {
			case <-ticker.C:
				d.runCycle()
			case <-doneChan:
				// The done channel, not the tick, bounds shutdown latency:
				// a stop signal wakes this select immediately.
				applog.Infof("Detector: monitor loop stopped")
				return
			}
		}
	}()
}

// StopMonitor signals the monitor loop to exit and waits for it.
// Idempotent; returns promptly rather than waiting out a full tick.
func (d *Detector) StopMonitor() {
	d.loopMu.Lock()
	if d.ticker == nil {
		d.loopMu.Unlock()
		return
	}

	d.stopOnce.Do(func() {
		close(d.doneChan)
		d.ticker.Stop()
		d.ticker = nil
	})
	d.loopMu.Unlock()

	d.wg.Wait()
}

// Update is the broadcast payload for one completed analysis cycle. The
// type tag lets websocket clients tell estimates apart from status and
// error messages.
type Update struct {
	Type string `json:"type"`
	analysis.Estimate
}

// runCycle performs one heavy analysis pass: snapshot, track, classify,
// emit. Analysis failures are contained here, logged and skipped, never
// allowed to kill the loop.
func (d *Detector) runCycle() {
	if !d.Running() {
		return
	}

	window := d.ring.Snapshot()
	candidates, beats, err := d.tracker.Analyze(window)
	if err != nil {
		if errors.Is(err, analysis.ErrInsufficientData) {
			applog.Debugf("Detector: window not full yet (%d samples), skipping cycle", len(window))
		} else {
			applog.Errorf("Detector: analysis error, skipping cycle: %v", err)
		}
		return
	}

	bpm := analysis.PrimaryTempo(candidates)
	det := d.cfg.Detector
	est := analysis.Estimate{
		BPM:        analysis.RoundBPM(bpm),
		AtTarget:   analysis.Classify(bpm, det.TargetBPM, det.Tolerance),
		Target:     det.TargetBPM,
		Tolerance:  det.Tolerance,
		Beats:      beats,
		ComputedAt: time.Now(),
	}

	d.mu.Lock()
	d.lastEst = est
	d.haveEst = true
	sink := d.sink
	d.mu.Unlock()

	if sink != nil {
		if err := sink.Send(Update{Type: "bpm_update", Estimate: est}); err != nil {
			applog.Errorf("Detector: error sending estimate: %v", err)
		}
	}
}

// Compile-time check: the detector is the control plane the websocket
// layer drives.
var _ transport.Control = (*Detector)(nil)
