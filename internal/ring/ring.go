// SPDX-License-Identifier: MIT
// Package ring implements the fixed-capacity sample accumulator that feeds
// the heavy tempo tracker. The capture callback appends frames; the monitor
// loop snapshots the most recent window. Oldest samples are overwritten once
// capacity is exceeded, so the buffer always exposes a sliding window of the
// last few seconds of audio with no reallocation on the write path.
package ring

import "sync"

// Accumulator is a thread-safe circular buffer of mono float32 samples.
// Writes never block and never allocate; overflowing drops the oldest data.
type Accumulator struct {
	mu   sync.Mutex
	buf  []float32
	pos  int // next write position
	size int // number of valid samples, <= cap(buf)
}

// NewAccumulator creates an Accumulator holding up to capacity samples.
func NewAccumulator(capacity int) *Accumulator {
	if capacity <= 0 {
		capacity = 1
	}
	return &Accumulator{
		buf: make([]float32, capacity),
	}
}

// Append writes a captured frame into the buffer, overwriting the oldest
// samples once full. A frame larger than the whole buffer keeps only its
// newest capacity-worth of samples.
func (a *Accumulator) Append(frame []float32) {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := len(frame)
	c := len(a.buf)
	if n >= c {
		copy(a.buf, frame[n-c:])
		a.pos = 0
		a.size = c
		return
	}

	end := a.pos + n
	if end <= c {
		copy(a.buf[a.pos:end], frame)
	} else {
		first := c - a.pos
		copy(a.buf[a.pos:], frame[:first])
		copy(a.buf, frame[first:])
	}
	a.pos = end % c
	a.size = min(a.size+n, c)
}

// Snapshot returns the currently held samples in chronological order, oldest
// first, converted to float64 for analysis. The returned slice is a copy and
// safe to use after the call. Returns nil when the buffer is empty.
func (a *Accumulator) Snapshot() []float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.size == 0 {
		return nil
	}

	out := make([]float64, a.size)
	c := len(a.buf)

	// The oldest sample sits at pos once the buffer has wrapped, at 0 before.
	start := 0
	if a.size == c {
		start = a.pos
	}
	for i := 0; i < a.size; i++ {
		out[i] = float64(a.buf[(start+i)%c])
	}
	return out
}

// Len returns the number of samples currently held.
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.size
}

// Cap returns the fixed capacity in samples.
func (a *Accumulator) Cap() int {
	return len(a.buf)
}

// Reset discards all held samples. The backing buffer is kept.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pos = 0
	a.size = 0
}
