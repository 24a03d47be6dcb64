// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package reactor provides the readiness-notification primitive and the
// non-blocking sockets the proxy driver runs on.
//
// The Linux implementation uses epoll in edge-triggered mode: a condition is
// reported once per transition, so handlers either drain the source or
// re-register their interest, which re-arms the edge.
package reactor

import (
	"time"

	"github.com/absmach/evproxy/pkg/connection"
	"github.com/absmach/evproxy/pkg/errors"
	"github.com/absmach/evproxy/pkg/handle"
)

// DefaultBacklog is the listen backlog used when none is configured.
const DefaultBacklog = 1024

// ErrUnsupported is returned on platforms without a reactor implementation.
var ErrUnsupported = errors.ErrUnsupported

// Event is one readiness notification.
type Event struct {
	Handle handle.Handle
	Ready  connection.Interest
}

// Poller registers I/O sources and reports their readiness.
type Poller interface {
	// Add registers fd under handle h with the given interest.
	Add(fd int, h handle.Handle, interest connection.Interest) error

	// Modify replaces the interest of a registered fd and re-arms its edges.
	Modify(fd int, h handle.Handle, interest connection.Interest) error

	// Delete removes fd from the poller.
	Delete(fd int) error

	// Wait blocks up to timeout for events and fills events.
	// A negative timeout blocks until an event arrives.
	Wait(events []Event, timeout time.Duration) (int, error)

	// Close releases the poller.
	Close() error
}

func timeoutMillis(d time.Duration) int {
	if d < 0 {
		return -1
	}
	ms := d.Milliseconds()
	if ms == 0 && d > 0 {
		ms = 1
	}
	return int(ms)
}
