// SPDX-License-Identifier: MIT
package udp

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"bpmdetect/internal/analysis"
	applog "bpmdetect/internal/log"
)

// EstimateProvider supplies the latest tempo estimate. The detector
// satisfies it; the publisher polls rather than subscribing so a slow or
// absent UDP consumer can never back-pressure the analysis path.
type EstimateProvider interface {
	LastEstimate() (analysis.Estimate, bool)
}

/*
UDP packet layout (BigEndian):

	|<-- 4 B -->|<---- 8 B ---->|<-- 8 B -->|<- 1 B ->|<- 2 B ->|
	+-----------+---------------+-----------+---------+---------+
	| Sequence  |  Timestamp    |   BPM     | At      | Beats   |
	| (uint32)  |  (int64, ns)  | (float64) | target  | (uint16)|
	|           |               |           | (uint8) |         |
	+-----------+---------------+-----------+---------+---------+
*/

// Publisher periodically packs the latest estimate into a small binary
// packet and ships it over UDP. Runs in its own goroutine between Start and
// Stop.
type Publisher struct {
	sender   *Sender
	provider EstimateProvider
	interval time.Duration

	ticker   *time.Ticker
	doneChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	mu       sync.Mutex // protects ticker and doneChan during Start/Stop

	sequenceNum  uint32
	packetBuffer *bytes.Buffer // reusable packet scratch
}

// NewPublisher creates a Publisher. An interval <= 0 defaults to 500ms, the
// heavy tracker's cadence.
func NewPublisher(interval time.Duration, sender *Sender, provider EstimateProvider) (*Publisher, error) {
	if sender == nil {
		return nil, fmt.Errorf("udp publisher: sender cannot be nil")
	}
	if provider == nil {
		return nil, fmt.Errorf("udp publisher: estimate provider cannot be nil")
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
		applog.Warnf("UDP Publisher: invalid interval provided, defaulting to %s", interval)
	}

	return &Publisher{
		sender:       sender,
		provider:     provider,
		interval:     interval,
		packetBuffer: new(bytes.Buffer),
	}, nil
}

// Start begins periodic publishing. Safe to call repeatedly; subsequent
// calls while running are no-ops.
func (p *Publisher) Start() {
	p.mu.Lock()
	if p.ticker != nil {
		p.mu.Unlock()
		applog.Warnf("UDP Publisher: Start called but already running")
		return
	}

	p.ticker = time.NewTicker(p.interval)
	p.doneChan = make(chan struct{})
	p.stopOnce = sync.Once{}

	ticker := p.ticker
	doneChan := p.doneChan
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		applog.Infof("UDP Publisher: started (interval: %s)", p.interval)
		for {
			select {
			case <-ticker.C:
				p.buildAndSendPacket()
			case <-doneChan:
				applog.Infof("UDP Publisher: stop signal received")
				return
			}
		}
	}()
}

// Stop signals the publisher goroutine to exit and waits for it. Idempotent.
func (p *Publisher) Stop() error {
	p.mu.Lock()
	if p.ticker == nil {
		p.mu.Unlock()
		return nil
	}

	p.stopOnce.Do(func() {
		close(p.doneChan)
		p.ticker.Stop()
		p.ticker = nil
	})
	p.mu.Unlock()

	p.wg.Wait()
	return nil
}

// buildAndSendPacket packs the latest estimate and sends it. Ticks before
// the first estimate exists are skipped silently.
func (p *Publisher) buildAndSendPacket() {
	est, ok := p.provider.LastEstimate()
	if !ok {
		return
	}

	p.sequenceNum++

	var atTarget uint8
	if est.AtTarget {
		atTarget = 1
	}
	beats := est.Beats
	if beats > math.MaxUint16 {
		beats = math.MaxUint16
	}

	p.packetBuffer.Reset()
	err := binary.Write(p.packetBuffer, binary.BigEndian, p.sequenceNum)
	if err == nil {
		err = binary.Write(p.packetBuffer, binary.BigEndian, est.ComputedAt.UnixNano())
	}
	if err == nil {
		err = binary.Write(p.packetBuffer, binary.BigEndian, est.BPM)
	}
	if err == nil {
		err = binary.Write(p.packetBuffer, binary.BigEndian, atTarget)
	}
	if err == nil {
		err = binary.Write(p.packetBuffer, binary.BigEndian, uint16(beats))
	}
	if err != nil {
		applog.Errorf("UDP Publisher: error packing packet: %v", err)
		return
	}

	if err := p.sender.Send(p.packetBuffer.Bytes()); err != nil {
		applog.Debugf("UDP Publisher: send failed: %v", err)
		return
	}
	applog.Debugf("UDP Publisher: sent packet %d (bpm %.1f)", p.sequenceNum, est.BPM)
}

// Close implements io.Closer by stopping the publisher.
func (p *Publisher) Close() error {
	return p.Stop()
}
