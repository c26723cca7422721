// SPDX-License-Identifier: MIT
package transport

import (
	applog "bpmdetect/internal/log"
)

// LoggingTransport implements Transport by writing payloads to the logger.
// Useful for headless runs and debugging; Send never fails.
type LoggingTransport struct{}

// NewLoggingTransport creates a new LoggingTransport instance.
func NewLoggingTransport() *LoggingTransport {
	applog.Infof("Transport: Using LoggingTransport")
	return &LoggingTransport{}
}

// Send logs the payload at debug level.
func (lt *LoggingTransport) Send(data any) error {
	applog.Debugf("Transport: %+v", data)
	return nil
}

// Close is a no-op for LoggingTransport.
func (lt *LoggingTransport) Close() error {
	return nil
}

var _ Transport = (*LoggingTransport)(nil)
