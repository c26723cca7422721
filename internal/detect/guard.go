// SPDX-License-Identifier: MIT
package detect

import (
	"errors"
	"sync"
	"time"

	"bpmdetect/internal/transport"
)

// ErrThrottled is returned when a control call arrives before the
// minimum interval since the previous accepted call has elapsed.
var ErrThrottled = errors.New("control request throttled")

// Guard rate-limits start/stop requests from remote clients so a
// misbehaving client cannot thrash the capture device. Calls that pass
// the interval check are forwarded to the wrapped Control.
type Guard struct {
	inner transport.Control

	mu          sync.Mutex
	minInterval time.Duration
	last        time.Time
	now         func() time.Time
}

// NewGuard wraps inner with a minimum interval between accepted calls.
// A non-positive interval disables throttling.
func NewGuard(inner transport.Control, minInterval time.Duration) *Guard {
	return &Guard{
		inner:       inner,
		minInterval: minInterval,
		now:         time.Now,
	}
}

func (g *Guard) allow() bool {
	if g.minInterval <= 0 {
		return true
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if !g.last.IsZero() && now.Sub(g.last) < g.minInterval {
		return false
	}
	g.last = now
	return true
}

// Start forwards to the wrapped control unless throttled.
func (g *Guard) Start() error {
	if !g.allow() {
		return ErrThrottled
	}
	return g.inner.Start()
}

// Stop forwards to the wrapped control unless throttled.
func (g *Guard) Stop() error {
	if !g.allow() {
		return ErrThrottled
	}
	return g.inner.Stop()
}

// Running is a read, never throttled.
func (g *Guard) Running() bool {
	return g.inner.Running()
}

var _ transport.Control = (*Guard)(nil)
