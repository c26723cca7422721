// SPDX-License-Identifier: MIT
// Package utils holds shared test helpers: deterministic signal generators
// and a mock transport for inspecting emitted estimates.
package utils

import "math"

// MockTransport implements the transport interface for testing. It records
// every payload passed to Send.
type MockTransport struct {
	Sent []any
}

// Send stores the payload for later inspection instead of transmitting.
func (m *MockTransport) Send(data any) error {
	m.Sent = append(m.Sent, data)
	return nil
}

// Close is a no-op.
func (m *MockTransport) Close() error { return nil }

// Last returns the most recently sent payload.
func (m *MockTransport) Last() (any, bool) {
	if len(m.Sent) == 0 {
		return nil, false
	}
	return m.Sent[len(m.Sent)-1], true
}

// Silence returns n zero samples.
func Silence(n int) []float32 {
	return make([]float32, n)
}

// SineFrame returns one frame of a sine wave at the given frequency,
// scaled to 90% of full amplitude.
func SineFrame(n int, sampleRate, frequency float64) []float32 {
	frame := make([]float32, n)
	for i := range frame {
		t := float64(i) / sampleRate
		frame[i] = float32(math.Sin(2*math.Pi*frequency*t) * 0.9)
	}
	return frame
}

// ClickTrain returns seconds worth of audio at sampleRate containing short
// full-amplitude clicks spaced for the given tempo, silence elsewhere.
// Each click is a 5ms burst so the wavelet envelope sees a clear transient.
func ClickTrain(seconds, sampleRate, bpm float64) []float64 {
	n := int(seconds * sampleRate)
	out := make([]float64, n)

	period := 60.0 / bpm * sampleRate // samples between clicks
	clickLen := int(0.005 * sampleRate)

	for start := 0.0; int(start) < n; start += period {
		for i := 0; i < clickLen; i++ {
			idx := int(start) + i
			if idx >= n {
				break
			}
			out[idx] = 0.9
		}
	}
	return out
}
