// SPDX-License-Identifier: MIT
package udp

import (
	"fmt"
	"net"
	"sync"

	applog "bpmdetect/internal/log"
)

// Sender handles sending estimate packets over UDP.
type Sender struct {
	conn       *net.UDPConn
	targetAddr *net.UDPAddr
	mu         sync.Mutex // protects conn during Close
	closed     bool
}

// NewSender creates a Sender targeting the given "host:port" address.
func NewSender(targetAddress string) (*Sender, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", targetAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP target address '%s': %w", targetAddress, err)
	}

	// No local bind needed for sending; nil local address lets the OS pick.
	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial UDP for target '%s': %w", targetAddress, err)
	}

	applog.Infof("UDP Sender: connection established to %s", conn.RemoteAddr())

	return &Sender{
		conn:       conn,
		targetAddr: udpAddr,
	}, nil
}

// Send transmits the byte slice as one UDP packet. Safe for concurrent use.
func (s *Sender) Send(data []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("UDP sender is closed")
	}
	_, err := s.conn.Write(data)
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to send UDP packet: %w", err)
	}
	return nil
}

// Close closes the underlying UDP connection. Idempotent.
func (s *Sender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.conn != nil {
		applog.Infof("UDP Sender: closing connection to %s", s.conn.RemoteAddr())
		err := s.conn.Close()
		s.conn = nil
		if err != nil {
			return fmt.Errorf("failed to close UDP connection: %w", err)
		}
	}
	return nil
}
