// SPDX-License-Identifier: MIT
package transport

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type scriptedControl struct {
	running  bool
	startErr error
}

func (c *scriptedControl) Start() error {
	if c.startErr != nil {
		return c.startErr
	}
	c.running = true
	return nil
}

func (c *scriptedControl) Stop() error {
	c.running = false
	return nil
}

func (c *scriptedControl) Running() bool { return c.running }

// freeAddr reserves a listen address on the loopback interface.
func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserving port: %v", err)
	}
	addr := l.Addr().String()
	l.Close()
	return addr
}

// dial connects to the transport's /ws endpoint, retrying while the
// server goroutine comes up.
func dial(t *testing.T, addr string) *websocket.Conn {
	t.Helper()
	url := fmt.Sprintf("ws://%s/ws", addr)

	var conn *websocket.Conn
	var err error
	for range 50 {
		conn, _, err = websocket.DefaultDialer.Dial(url, nil)
		if err == nil {
			return conn
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("dialing %s: %v", url, err)
	return nil
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("reading message: %v", err)
	}
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decoding message %q: %v", data, err)
	}
	return msg
}

func TestWebSocketStatusOnConnect(t *testing.T) {
	control := &scriptedControl{running: true}
	wst := NewWebSocketTransport(freeAddr(t), control)
	defer wst.Close()

	conn := dial(t, wst.addr)
	defer conn.Close()

	msg := readMessage(t, conn)
	if msg["type"] != "status" {
		t.Fatalf("first message type = %v, want status", msg["type"])
	}
	if msg["running"] != true {
		t.Errorf("status running = %v, want true", msg["running"])
	}
}

func TestWebSocketStartStopEvents(t *testing.T) {
	control := &scriptedControl{}
	wst := NewWebSocketTransport(freeAddr(t), control)
	defer wst.Close()

	conn := dial(t, wst.addr)
	defer conn.Close()
	readMessage(t, conn) // status

	if err := conn.WriteJSON(map[string]string{"event": "start"}); err != nil {
		t.Fatalf("sending start: %v", err)
	}
	ack := readMessage(t, conn)
	if ack["type"] != "start_ack" || ack["success"] != true {
		t.Fatalf("start ack = %v", ack)
	}
	if !control.Running() {
		t.Error("start event did not reach the control plane")
	}

	if err := conn.WriteJSON(map[string]string{"event": "stop"}); err != nil {
		t.Fatalf("sending stop: %v", err)
	}
	ack = readMessage(t, conn)
	if ack["type"] != "stop_ack" || ack["success"] != true {
		t.Fatalf("stop ack = %v", ack)
	}
	if control.Running() {
		t.Error("stop event did not reach the control plane")
	}
}

func TestWebSocketStartFailureReported(t *testing.T) {
	control := &scriptedControl{startErr: fmt.Errorf("device busy")}
	wst := NewWebSocketTransport(freeAddr(t), control)
	defer wst.Close()

	conn := dial(t, wst.addr)
	defer conn.Close()
	readMessage(t, conn) // status

	if err := conn.WriteJSON(map[string]string{"event": "start"}); err != nil {
		t.Fatalf("sending start: %v", err)
	}
	ack := readMessage(t, conn)
	if ack["type"] != "start_ack" || ack["success"] != false {
		t.Fatalf("start ack = %v", ack)
	}
	errMsg := readMessage(t, conn)
	if errMsg["type"] != "error" || errMsg["message"] != "device busy" {
		t.Fatalf("error message = %v", errMsg)
	}
}

func TestWebSocketUnknownEvent(t *testing.T) {
	wst := NewWebSocketTransport(freeAddr(t), &scriptedControl{})
	defer wst.Close()

	conn := dial(t, wst.addr)
	defer conn.Close()
	readMessage(t, conn) // status

	if err := conn.WriteJSON(map[string]string{"event": "rewind"}); err != nil {
		t.Fatalf("sending event: %v", err)
	}
	msg := readMessage(t, conn)
	if msg["type"] != "error" {
		t.Fatalf("unknown event reply = %v", msg)
	}
}

func TestWebSocketBroadcast(t *testing.T) {
	wst := NewWebSocketTransport(freeAddr(t), &scriptedControl{})
	defer wst.Close()

	conn := dial(t, wst.addr)
	defer conn.Close()
	readMessage(t, conn) // status

	if err := wst.Send(map[string]any{"bpm": 180.0}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	msg := readMessage(t, conn)
	if msg["bpm"] != 180.0 {
		t.Fatalf("broadcast payload = %v", msg)
	}
}

func TestWebSocketConcurrentAcksAndBroadcasts(t *testing.T) {
	wst := NewWebSocketTransport(freeAddr(t), &scriptedControl{})
	defer wst.Close()

	conn := dial(t, wst.addr)
	defer conn.Close()
	readMessage(t, conn) // status

	// Flood broadcasts while the client drives control events, so acks from
	// the read loop and fan-out writes land on the same connection from
	// different goroutines.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				wst.Send(map[string]any{"type": "bpm_update", "bpm": 180.0})
			}
		}
	}()

	const rounds = 25
	go func() {
		for range rounds {
			conn.WriteJSON(map[string]string{"event": "start"})
			conn.WriteJSON(map[string]string{"event": "stop"})
		}
	}()

	// Every ack must arrive intact among the broadcast traffic; a corrupted
	// frame or a dead server surfaces as a read error here.
	acks := 0
	for acks < 2*rounds {
		msg := readMessage(t, conn)
		switch msg["type"] {
		case "start_ack", "stop_ack":
			if msg["success"] != true {
				t.Fatalf("ack failed: %v", msg)
			}
			acks++
		}
	}

	close(stop)
	wg.Wait()
}

func TestWebSocketCloseStopsBroadcastWorker(t *testing.T) {
	wst := NewWebSocketTransport(freeAddr(t), &scriptedControl{})

	if err := wst.Send(map[string]any{"bpm": 120.0}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	// Close waits for the broadcast goroutine, so a prompt return proves
	// the goroutine has an exit path.
	done := make(chan error, 1)
	go func() { done <- wst.Close() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Close: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not reap the broadcast goroutine")
	}

	if err := wst.Send(map[string]any{"bpm": 120.0}); err != nil {
		t.Fatalf("Send after Close: %v", err)
	}
	if err := wst.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
