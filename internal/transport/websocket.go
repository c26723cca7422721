// SPDX-License-Identifier: MIT
package transport

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	applog "bpmdetect/internal/log"
)

// controlEvent is the inbound message shape clients send on /ws.
type controlEvent struct {
	Event string `json:"event"` // "start" or "stop"
}

// wsClient pairs a connection with the lock that serializes writes onto it.
// gorilla/websocket allows at most one writer per connection at a time, and
// a client's acks (written from its read loop) race the broadcast fan-out
// without this.
type wsClient struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *wsClient) write(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

// WebSocketTransport broadcasts estimates to connected clients and routes
// inbound start/stop events to the shared control plane.
//
// Thread safety: the clients map is mutex-guarded; broadcasts flow through a
// buffered channel drained by a single goroutine, so Send never blocks the
// monitor loop (excess messages are dropped, not queued unboundedly). All
// writes to a given connection go through its wsClient lock.
type WebSocketTransport struct {
	addr      string
	upgrader  websocket.Upgrader
	clients   map[*websocket.Conn]*wsClient
	clientsMu sync.Mutex
	server    *http.Server
	control   Control
	closeOnce sync.Once

	broadcast     chan any
	broadcastDone chan struct{}
	sendMu        sync.Mutex // serializes Send against closing the broadcast channel
	closed        bool
}

// NewWebSocketTransport creates the transport and starts its HTTP server.
// control may be nil, in which case inbound start/stop events are rejected
// with an error message.
func NewWebSocketTransport(addr string, control Control) *WebSocketTransport {
	wst := &WebSocketTransport{
		addr: addr,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // origin policy is deployment plumbing, not enforced here
			},
		},
		clients:       make(map[*websocket.Conn]*wsClient),
		broadcast:     make(chan any, 256),
		broadcastDone: make(chan struct{}),
		control:       control,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wst.handleWebSocket)
	wst.server = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		applog.Infof("WebSocketTransport: listening on %s", addr)
		if err := wst.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			applog.Errorf("WebSocketTransport: server error: %v", err)
		}
	}()
	go wst.handleBroadcasts()

	return wst
}

// handleWebSocket upgrades the connection, tells the new client the current
// running state, and reads control events until the client disconnects.
func (wst *WebSocketTransport) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := wst.upgrader.Upgrade(w, r, nil)
	if err != nil {
		applog.Errorf("WebSocketTransport: upgrade error: %v", err)
		return
	}

	client := &wsClient{conn: conn}
	wst.clientsMu.Lock()
	wst.clients[conn] = client
	total := len(wst.clients)
	wst.clientsMu.Unlock()
	applog.Infof("WebSocketTransport: client connected, total: %d", total)

	// New clients learn the shared stream state immediately instead of
	// waiting for the next estimate.
	running := wst.control != nil && wst.control.Running()
	wst.writeJSON(client, map[string]any{"type": "status", "running": running})

	go wst.readLoop(client)
}

// readLoop consumes inbound messages for one client, dispatching control
// events, and cleans up on disconnect.
func (wst *WebSocketTransport) readLoop(client *wsClient) {
	defer func() {
		wst.clientsMu.Lock()
		delete(wst.clients, client.conn)
		total := len(wst.clients)
		wst.clientsMu.Unlock()
		client.conn.Close()
		applog.Infof("WebSocketTransport: client disconnected, total: %d", total)
	}()

	for {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			return
		}
		var ev controlEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			applog.Warnf("WebSocketTransport: unreadable control message: %v", err)
			continue
		}
		wst.dispatch(client, ev)
	}
}

// dispatch runs one control event against the shared detector and replies
// with an ack. Failures become explicit error messages so a listening client
// is never left waiting silently.
func (wst *WebSocketTransport) dispatch(client *wsClient, ev controlEvent) {
	if wst.control == nil {
		wst.writeJSON(client, map[string]any{"type": "error", "message": "no control plane attached"})
		return
	}

	switch ev.Event {
	case "start":
		applog.Infof("WebSocketTransport: start request received")
		if err := wst.control.Start(); err != nil {
			wst.writeJSON(client, map[string]any{"type": "start_ack", "success": false, "error": err.Error()})
			wst.writeJSON(client, map[string]any{"type": "error", "message": err.Error()})
			return
		}
		wst.writeJSON(client, map[string]any{"type": "start_ack", "success": true})

	case "stop":
		applog.Infof("WebSocketTransport: stop request received")
		if err := wst.control.Stop(); err != nil {
			wst.writeJSON(client, map[string]any{"type": "stop_ack", "success": false, "error": err.Error()})
			wst.writeJSON(client, map[string]any{"type": "error", "message": err.Error()})
			return
		}
		wst.writeJSON(client, map[string]any{"type": "stop_ack", "success": true})

	default:
		applog.Warnf("WebSocketTransport: unknown control event %q", ev.Event)
		wst.writeJSON(client, map[string]any{"type": "error", "message": "unknown event: " + ev.Event})
	}
}

// writeJSON sends one message to one client, dropping the client on error.
func (wst *WebSocketTransport) writeJSON(client *wsClient, v any) {
	if err := client.write(v); err != nil {
		applog.Warnf("WebSocketTransport: write error: %v", err)
		wst.clientsMu.Lock()
		delete(wst.clients, client.conn)
		wst.clientsMu.Unlock()
		client.conn.Close()
	}
}

// handleBroadcasts fans queued payloads out to all connected clients. It
// exits when Close closes the broadcast channel.
func (wst *WebSocketTransport) handleBroadcasts() {
	defer close(wst.broadcastDone)
	for data := range wst.broadcast {
		wst.clientsMu.Lock()
		for conn, client := range wst.clients {
			if err := client.write(data); err != nil {
				applog.Warnf("WebSocketTransport: error sending to client: %v", err)
				client.conn.Close()
				delete(wst.clients, conn)
			}
		}
		wst.clientsMu.Unlock()
	}
}

// Send queues data for broadcast to all connected clients. When the queue is
// full the message is dropped; estimates are transient and a fresh one is at
// most one cycle away. Sends after Close are dropped.
func (wst *WebSocketTransport) Send(data any) error {
	wst.sendMu.Lock()
	defer wst.sendMu.Unlock()
	if wst.closed {
		return nil
	}
	select {
	case wst.broadcast <- data:
	default:
	}
	return nil
}

// Close shuts down the broadcast goroutine, all client connections, and the
// server. Idempotent.
func (wst *WebSocketTransport) Close() error {
	var err error
	wst.closeOnce.Do(func() {
		applog.Infof("WebSocketTransport: closing server")

		wst.sendMu.Lock()
		wst.closed = true
		close(wst.broadcast)
		wst.sendMu.Unlock()
		<-wst.broadcastDone

		wst.clientsMu.Lock()
		for _, client := range wst.clients {
			client.conn.Close()
		}
		wst.clients = make(map[*websocket.Conn]*wsClient)
		wst.clientsMu.Unlock()

		if wst.server != nil {
			err = wst.server.Close()
		}
	})
	return err
}

var _ Transport = (*WebSocketTransport)(nil)
