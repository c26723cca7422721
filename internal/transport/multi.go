// SPDX-License-Identifier: MIT
package transport

import "errors"

// MultiTransport fans each payload out to several transports. Send and
// Close visit every member even when some fail, returning the joined
// errors.
type MultiTransport struct {
	transports []Transport
}

// NewMulti creates a transport that duplicates sends across all given
// transports.
func NewMulti(transports ...Transport) *MultiTransport {
	return &MultiTransport{transports: transports}
}

// Send forwards data to every member transport.
func (mt *MultiTransport) Send(data any) error {
	var errs []error
	for _, t := range mt.transports {
		if err := t.Send(data); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every member transport.
func (mt *MultiTransport) Close() error {
	var errs []error
	for _, t := range mt.transports {
		if err := t.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ Transport = (*MultiTransport)(nil)
