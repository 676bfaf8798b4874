// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package p2p

import (
	"errors"
	"fmt"
)

var (
	// ErrPeerNotFound should be returned by p2p service methods when the requested peer is not found.
	ErrPeerNotFound = errors.New("peer not found")
	// ErrProtocolViolation is returned when a peer sends a malformed,
	// truncated or unexpected message. Only the offending stream is closed.
	ErrProtocolViolation = errors.New("protocol violation")
	// ErrCapacityExceeded is returned when a relay or a registry is at
	// capacity. The request is rejected without any state change.
	ErrCapacityExceeded = errors.New("capacity exceeded")
	// ErrTimeout is returned when a lookup, a renewal or a punch round
	// does not complete in time.
	ErrTimeout = errors.New("timeout")
	// ErrExpired is returned for operations on reservations or
	// registrations whose TTL has lapsed.
	ErrExpired = errors.New("expired")
)

// TransportError is returned when a dial or a listen fails. It is reported
// to the caller and never stops the node.
type TransportError struct {
	err error
}

// NewTransportError wraps a transport failure.
func NewTransportError(err error) error {
	return &TransportError{err: err}
}

// Unwrap returns an underlying error.
func (e *TransportError) Unwrap() error { return e.err }

// Error implements function of the standard go error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %v", e.err)
}

// NewProtocolViolation annotates ErrProtocolViolation with a reason.
func NewProtocolViolation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrProtocolViolation, fmt.Sprintf(format, args...))
}

// DisconnectError is an error that is specifically handled inside p2p. If returned by specific protocol
// handler it causes peer disconnect.
type DisconnectError struct {
	err error
}

// Disconnect wraps error and creates a special error that is treated specially
// by p2p. It causes peer to disconnect.
func Disconnect(err error) error {
	return &DisconnectError{
		err: err,
	}
}

// Unwrap returns an underlying error.
func (e *DisconnectError) Unwrap() error { return e.err }

// Error implements function of the standard go error interface.
func (e *DisconnectError) Error() string {
	return e.err.Error()
}

// IncompatibleStreamError is the error that should be returned by p2p service
// NewStream method when the stream or its version is not supported.
type IncompatibleStreamError struct {
	err error
}

// NewIncompatibleStreamError wraps the error that is the cause of stream
// incompatibility with IncompatibleStreamError that it can be detected with
// errors.As function.
func NewIncompatibleStreamError(err error) *IncompatibleStreamError {
	return &IncompatibleStreamError{err: err}
}

// Unwrap returns an underlying error.
func (e *IncompatibleStreamError) Unwrap() error { return e.err }

// Error implements function of the standard go error interface.
func (e *IncompatibleStreamError) Error() string {
	return fmt.Sprintf("incompatible stream: %v", e.err)
}
