// SPDX-License-Identifier: MIT
package transport

// Transport defines a generic interface for pushing estimates and events to
// a display sink. Implementations must be safe for concurrent Send calls.
type Transport interface {
	Send(data any) error
	Close() error
}

// Control is the control-plane surface the websocket layer drives in
// response to client events. The shared detector (one physical microphone)
// satisfies it; so does any rate-limiting wrapper around it.
type Control interface {
	Start() error
	Stop() error
	Running() bool
}
