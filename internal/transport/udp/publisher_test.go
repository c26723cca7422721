// SPDX-License-Identifier: MIT
package udp

import (
	"bytes"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"bpmdetect/internal/analysis"
)

type fixedProvider struct {
	est  analysis.Estimate
	have bool
}

func (f *fixedProvider) LastEstimate() (analysis.Estimate, bool) {
	return f.est, f.have
}

func newTestReceiver(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listening: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestPublisherPacketLayout(t *testing.T) {
	receiver := newTestReceiver(t)

	sender, err := NewSender(receiver.LocalAddr().String())
	if err != nil {
		t.Fatalf("NewSender: %v", err)
	}
	defer sender.Close()

	computedAt := time.Unix(1700000000, 123)
	provider := &fixedProvider{
		est: analysis.Estimate{
			BPM:        178.2,
			AtTarget:   true,
			Beats:      9,
			ComputedAt: computedAt,
		},
		have: true,
	}

	pub, err := NewPublisher(time.Second, sender, provider)
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}

	pub.buildAndSendPacket()

	buf := make([]byte, 64)
	receiver.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := receiver.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("receiving packet: %v", err)
	}
	if n != 23 {
		t.Fatalf("packet size = %d bytes, want 23", n)
	}

	r := bytes.NewReader(buf[:n])
	var (
		seq      uint32
		unixNano int64
		bpm      float64
		atTarget uint8
		beats    uint16
	)
	for _, field := range []any{&seq, &unixNano, &bpm, &atTarget, &beats} {
		if err := binary.Read(r, binary.BigEndian, field); err != nil {
			t.Fatalf("decoding packet: %v", err)
		}
	}

	if seq != 1 {
		t.Errorf("sequence = %d, want 1", seq)
	}
	if unixNano != computedAt.UnixNano() {
		t.Errorf("timestamp = %d, want %d", unixNano, computedAt.UnixNano())
	}
	if bpm != 178.2 {
		t.Errorf("bpm = %v, want 178.2", bpm)
	}
	if atTarget != 1 {
		t.Errorf("atTarget = %d, want 1", atTarget)
	}
	if beats != 9 {
		t.Errorf("beats = %d, want 9", beats)
	}
}

func TestPublisherSkipsWithoutEstimate(t *testing.T) {
	receiver := newTestReceiver(t)

	sender, err := NewSender(receiver.LocalAddr().String())
	if err != nil {
		t.Fatalf("NewSender: %v", err)
	}
	defer sender.Close()

	pub, err := NewPublisher(time.Second, sender, &fixedProvider{})
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}

	pub.buildAndSendPacket()

	receiver.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, _, err := receiver.ReadFromUDP(make([]byte, 64)); err == nil {
		t.Fatal("packet sent despite missing estimate")
	}
	if pub.sequenceNum != 0 {
		t.Errorf("sequence advanced to %d without a send", pub.sequenceNum)
	}
}

func TestPublisherConstructorValidation(t *testing.T) {
	receiver := newTestReceiver(t)
	sender, err := NewSender(receiver.LocalAddr().String())
	if err != nil {
		t.Fatalf("NewSender: %v", err)
	}
	defer sender.Close()

	if _, err := NewPublisher(time.Second, nil, &fixedProvider{}); err == nil {
		t.Error("nil sender accepted")
	}
	if _, err := NewPublisher(time.Second, sender, nil); err == nil {
		t.Error("nil provider accepted")
	}
	if pub, err := NewPublisher(-1, sender, &fixedProvider{}); err != nil || pub.interval <= 0 {
		t.Errorf("invalid interval not defaulted: pub=%+v err=%v", pub, err)
	}
}

func TestSenderClosedRejectsSend(t *testing.T) {
	receiver := newTestReceiver(t)
	sender, err := NewSender(receiver.LocalAddr().String())
	if err != nil {
		t.Fatalf("NewSender: %v", err)
	}

	if err := sender.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := sender.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := sender.Send([]byte{1}); err == nil {
		t.Fatal("Send succeeded on closed sender")
	}
}

func TestPublisherStartStopIdempotent(t *testing.T) {
	receiver := newTestReceiver(t)
	sender, err := NewSender(receiver.LocalAddr().String())
	if err != nil {
		t.Fatalf("NewSender: %v", err)
	}
	defer sender.Close()

	pub, err := NewPublisher(10*time.Millisecond, sender, &fixedProvider{})
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}

	pub.Start()
	pub.Start() // no-op
	if err := pub.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := pub.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}
