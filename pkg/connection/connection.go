// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package connection

import (
	"errors"
	"io"
	"strings"
	"time"

	"github.com/absmach/evproxy/pkg/handle"
)

// ErrWouldBlock is returned by sockets when a non-blocking call cannot make progress.
var ErrWouldBlock = errors.New("operation would block")

// Action tells the driver what a read or write handler achieved.
type Action int

const (
	// Noop means nothing to do, e.g. a spurious wakeup or a partial write.
	Noop Action = iota

	// Forward means bytes are available for the peer.
	Forward

	// Hold means bytes arrived but must stay buffered for now.
	Hold

	// Halt means a fatal condition: the pair must be torn down.
	Halt
)

// String returns a string representation of the action.
func (a Action) String() string {
	switch a {
	case Noop:
		return "noop"
	case Forward:
		return "forward"
	case Hold:
		return "hold"
	case Halt:
		return "halt"
	default:
		return "unknown"
	}
}

// Interest is the set of readiness conditions a connection wants delivered.
type Interest uint8

const (
	Readable Interest = 1 << iota
	Writable
	Hangup
	Error
)

// Always holds the conditions that are requested for every connection.
const Always = Hangup | Error

// Has reports whether every bit of o is set in i.
func (i Interest) Has(o Interest) bool {
	return i&o == o
}

// String returns a compact form such as "r|w|hup|err".
func (i Interest) String() string {
	var parts []string
	if i&Readable != 0 {
		parts = append(parts, "r")
	}
	if i&Writable != 0 {
		parts = append(parts, "w")
	}
	if i&Hangup != 0 {
		parts = append(parts, "hup")
	}
	if i&Error != 0 {
		parts = append(parts, "err")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Connection is one side of a proxied link bound to one registered I/O source.
//
// Read and Write work on the in-memory buffers, never on the socket: Read
// drains the input buffer and returns 0 when it is empty, Write appends to
// the output buffer. HandleRead and HandleWrite move bytes between the
// buffers and the socket when the reactor reports readiness.
type Connection interface {
	io.Reader
	io.Writer

	// Handle returns the watch handle of the connection.
	Handle() handle.Handle

	// Fd returns the OS descriptor registered with the reactor.
	Fd() int

	// Interest returns the readiness conditions currently wanted.
	// Hangup and Error are always included.
	Interest() Interest

	// Want adds conditions to the interest set.
	Want(Interest)

	// Drop removes conditions from the interest set. Hangup and Error stay.
	Drop(Interest)

	// Pending returns the number of bytes waiting in the output buffer.
	Pending() int

	// HandleRead reads from the socket into the input buffer.
	HandleRead() Action

	// HandleWrite writes the output buffer to the socket.
	HandleWrite() Action

	// Close releases the socket.
	Close() error
}

// TimerAction tells the driver whether a timer should keep firing.
type TimerAction int

const (
	Continue TimerAction = iota
	Stop
)

// Timer is implemented by connections that need periodic ticks.
// The driver reschedules the timer every Frequency while HandleTimer returns Continue.
type Timer interface {
	HandleTimer() TimerAction
	Frequency() time.Duration
}

// Unwrapper is implemented by decorators so callers can reach the wrapped connection.
type Unwrapper interface {
	Unwrap() Connection
}

// Timers returns every Timer found while unwrapping c, outermost first.
func Timers(c Connection) []Timer {
	var timers []Timer
	for c != nil {
		if t, ok := c.(Timer); ok {
			timers = append(timers, t)
		}
		u, ok := c.(Unwrapper)
		if !ok {
			break
		}
		c = u.Unwrap()
	}
	return timers
}

// Failer is implemented by connections that record why they halted.
type Failer interface {
	Err() error
}

// Cause returns the first recorded failure found while unwrapping c,
// outermost first, or nil.
func Cause(c Connection) error {
	for c != nil {
		if f, ok := c.(Failer); ok {
			if err := f.Err(); err != nil {
				return err
			}
		}
		u, ok := c.(Unwrapper)
		if !ok {
			break
		}
		c = u.Unwrap()
	}
	return nil
}
