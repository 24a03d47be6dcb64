// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package errors provides structured error handling for evproxy.
package errors

import (
	"errors"
	"fmt"
)

// Common error types
var (
	// ErrHandlesExhausted indicates the watch handle pool has no free slot.
	ErrHandlesExhausted = errors.New("watch handles exhausted")

	// ErrUnknownHandle indicates an event or lookup for a handle that is not registered.
	ErrUnknownHandle = errors.New("unknown handle")

	// ErrDuplicateHandle indicates an attempt to link a handle that is already linked.
	ErrDuplicateHandle = errors.New("handle already linked")

	// ErrConnectionClosed indicates the connection was closed.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrMalformed indicates a protocol message that can never be parsed.
	ErrMalformed = errors.New("malformed message")

	// ErrAborted indicates a proxy hook aborted the connection.
	ErrAborted = errors.New("aborted by hook")

	// ErrBackendUnavailable indicates the backend is unavailable.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrRateLimited indicates rate limit exceeded.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrUnsupported indicates the platform has no reactor implementation.
	ErrUnsupported = errors.New("unsupported platform")
)

// ProxyError wraps an error with additional context.
type ProxyError struct {
	Op         string // Operation that failed
	Role       string // downstream or upstream
	Handle     int    // Watch handle of the connection, -1 if none
	RemoteAddr string // Peer address
	Err        error  // Underlying error
}

// Error implements the error interface.
func (e *ProxyError) Error() string {
	if e.Handle >= 0 {
		return fmt.Sprintf("%s %s [%d] %s: %v", e.Role, e.Op, e.Handle, e.RemoteAddr, e.Err)
	}
	return fmt.Sprintf("%s %s %s: %v", e.Role, e.Op, e.RemoteAddr, e.Err)
}

// Unwrap returns the underlying error.
func (e *ProxyError) Unwrap() error {
	return e.Err
}

// New creates a new ProxyError.
func New(op, role string, handle int, remoteAddr string, err error) error {
	if err == nil {
		return nil
	}
	return &ProxyError{
		Op:         op,
		Role:       role,
		Handle:     handle,
		RemoteAddr: remoteAddr,
		Err:        err,
	}
}
