// SPDX-License-Identifier: MIT
/*
Package audio implements real-time microphone capture for tempo detection:
- Float32 capture using PortAudio
- Mono fold from multi-channel input
- Peak level metering for display
- WAV recording with atomic state management

Thread Safety:
- Uses atomic operations for state management
- Pre-allocates buffers to avoid GC in hot path
- Locks OS thread during audio processing
*/
package audio

import (
	"math"
	"runtime"
	"sync/atomic"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/gordonklaus/portaudio"

	"bpmdetect/internal/config"
	applog "bpmdetect/internal/log"
)

// Engine captures microphone audio and delivers mono float32 frames to a
// single consumer callback. It is the concrete capture source behind both
// estimator variants.
type Engine struct {
	// Core configuration and state.
	config *config.Config

	// Audio input handling.
	inputBuffer  []float32
	monoInput    []float32 // Mono fold buffer for multi-channel devices
	inputDevice  *portaudio.DeviceInfo
	inputLatency time.Duration
	inputStream  *portaudio.Stream

	// onFrame receives one mono frame per callback. Set by Start.
	onFrame func([]float32)

	// peakBits holds the float32 bit pattern of the latest frame peak,
	// readable from any goroutine for level display.
	peakBits atomic.Uint32

	// Recording state and buffers.
	isRecording atomic.Int32
	wavEncoder  *wav.Encoder
	wavCloser   func() error
	sampleBuf   *goaudio.IntBuffer // Reusable buffer for format conversion
	sampleScale float64            // Full-scale int value for the configured bit depth
}

// NewEngine resolves the configured input device and pre-allocates all
// hot-path buffers. It does not open the device; Start does.
func NewEngine(cfg *config.Config) (*Engine, error) {
	inputDevice, err := InputDevice(cfg.Audio.InputDevice)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		config:      cfg,
		inputBuffer: make([]float32, cfg.Audio.FramesPerBuffer*cfg.Audio.Channels),
		monoInput:   make([]float32, cfg.Audio.FramesPerBuffer),
		inputDevice: inputDevice,
	}

	if cfg.Audio.LowLatency {
		e.inputLatency = inputDevice.DefaultLowInputLatency
	} else {
		e.inputLatency = inputDevice.DefaultHighInputLatency
	}

	applog.Infof("Audio: using input device [%s] at %.0f Hz", inputDevice.Name, cfg.Audio.SampleRate)
	return e, nil
}

// Start opens the input stream and begins delivering frames to onFrame.
func (e *Engine) Start(onFrame func([]float32)) error {
	e.onFrame = onFrame

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Channels: e.config.Audio.Channels,
			Device:   e.inputDevice,
			Latency:  e.inputLatency,
		},
		Output: portaudio.StreamDeviceParameters{
			Channels: 0, // Capture only
			Device:   nil,
		},
		FramesPerBuffer: e.config.Audio.FramesPerBuffer,
		SampleRate:      e.config.Audio.SampleRate,
	}

	stream, err := portaudio.OpenStream(params, e.processInputStream)
	if err != nil {
		return err
	}
	e.inputStream = stream

	if err := e.inputStream.Start(); err != nil {
		e.inputStream.Close()
		e.inputStream = nil
		return err
	}

	return nil
}

// Stop halts the input stream and releases the device.
func (e *Engine) Stop() error {
	if e.inputStream != nil {
		if err := e.inputStream.Stop(); err != nil {
			return err
		}

		if err := e.inputStream.Close(); err != nil {
			return err
		}

		e.inputStream = nil
	}

	return nil
}

// Close stops any active recording and releases the input stream.
func (e *Engine) Close() error {
	if e.isRecording.Load() == 1 {
		if err := e.StopRecording(); err != nil {
			return err
		}
	}

	return e.Stop()
}

// PeakLevel returns the peak absolute amplitude of the most recent frame,
// in [0, 1]. Safe to call from any goroutine.
func (e *Engine) PeakLevel() float32 {
	return math.Float32frombits(e.peakBits.Load())
}

// processInputStream is the core audio processing callback.
// Performance Critical:
// - Runs in a dedicated OS thread (LockOSThread)
// - Uses pre-allocated buffers only
// - No dynamic allocations in the hot path
func (e *Engine) processInputStream(in []float32) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	copy(e.inputBuffer, in)
	mono := e.foldMono(e.inputBuffer)
	e.peakBits.Store(math.Float32bits(peak(mono)))

	if e.onFrame != nil {
		e.onFrame(mono)
	}

	// Write to WAV file if recording
	if e.isRecording.Load() == 1 && e.wavEncoder != nil {
		e.writeRecording(mono)
	}
}

// foldMono reduces an interleaved buffer to channel 0. A mono device's
// buffer is returned as-is.
func (e *Engine) foldMono(buffer []float32) []float32 {
	channels := e.config.Audio.Channels
	if channels == 1 {
		return buffer
	}

	for i := range e.config.Audio.FramesPerBuffer {
		if i*channels < len(buffer) {
			e.monoInput[i] = buffer[i*channels]
		} else {
			e.monoInput[i] = 0 // Safety fallback
		}
	}
	return e.monoInput
}

// peak scans a frame for its maximum absolute sample, clearing the sign
// bit instead of branching on it.
func peak(frame []float32) float32 {
	var max float32
	for i := range frame {
		v := math.Float32frombits(math.Float32bits(frame[i]) &^ (1 << 31))
		if v > max {
			max = v
		}
	}
	return max
}
