// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package parser

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/absmach/evproxy/pkg/buffer"
	"github.com/absmach/evproxy/pkg/connection"
	"github.com/absmach/evproxy/pkg/errors"
)

// Connection decorates the client-facing connection of a pair with message
// interception. Bytes read from the client are released to the driver only
// after the interceptor has judged a complete message. Bytes the driver
// writes toward the client run through the interceptor before they reach
// the wrapped connection.
type Connection struct {
	connection.Connection

	icpt     Interceptor
	protocol string
	logger   *slog.Logger
	observer Observer

	raw   *buffer.Buffer // client bytes awaiting a complete message
	ready *buffer.Buffer // judged client bytes for the driver
	out   *buffer.Buffer // peer bytes awaiting a complete message

	err error
	// malformed marks a direction whose held message was already reported.
	malformed [2]bool
}

var (
	_ connection.Connection = (*Connection)(nil)
	_ connection.Unwrapper  = (*Connection)(nil)
	_ connection.Failer     = (*Connection)(nil)
)

// Option configures an interception connection.
type Option func(*Connection)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Connection) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithObserver registers an observer for interception outcomes.
func WithObserver(o Observer) Option {
	return func(c *Connection) {
		c.observer = o
	}
}

// WithProtocol names the intercepted protocol in logs and observations.
func WithProtocol(name string) Option {
	return func(c *Connection) {
		c.protocol = name
	}
}

// NewConnection wraps inner so that traffic passes through icpt.
func NewConnection(inner connection.Connection, icpt Interceptor, opts ...Option) *Connection {
	c := &Connection{
		Connection: inner,
		icpt:       icpt,
		protocol:   "unknown",
		logger:     slog.Default(),
		raw:        buffer.New(0),
		ready:      buffer.New(0),
		out:        buffer.New(0),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Unwrap returns the wrapped connection.
func (c *Connection) Unwrap() connection.Connection {
	return c.Connection
}

// Read drains judged client bytes.
func (c *Connection) Read(p []byte) (int, error) {
	return c.ready.Read(p)
}

// Write stages peer bytes and pushes every complete message the
// interceptor lets through to the wrapped connection.
func (c *Connection) Write(p []byte) (int, error) {
	if c.err != nil {
		return len(p), nil
	}
	c.out.Write(p)
	c.process(Downstream, c.out, c.Connection)
	return len(p), nil
}

// HandleRead reads from the wrapped connection and judges what arrived.
// It returns Forward when judged bytes are ready, Hold when bytes arrived
// but no message could be released yet, and Halt on abort.
func (c *Connection) HandleRead() connection.Action {
	if c.err != nil {
		return connection.Halt
	}
	act := c.Connection.HandleRead()
	switch act {
	case connection.Halt:
		return connection.Halt
	case connection.Forward:
		if err := c.pull(); err != nil {
			c.err = err
			return connection.Halt
		}
	}

	if c.process(Upstream, c.raw, c.ready) {
		return connection.Halt
	}
	if c.ready.Pending() > 0 {
		return connection.Forward
	}
	if act == connection.Forward {
		return connection.Hold
	}
	return connection.Noop
}

// HandleWrite flushes the wrapped connection unless a message was aborted.
func (c *Connection) HandleWrite() connection.Action {
	if c.err != nil {
		return connection.Halt
	}
	return c.Connection.HandleWrite()
}

// Err returns why the connection halted: an aborted message or a failure
// moving bytes out of the wrapped connection.
func (c *Connection) Err() error {
	return c.err
}

// Held returns the number of bytes waiting for a complete message in each direction.
func (c *Connection) Held() (up, down int) {
	return c.raw.Pending(), c.out.Pending()
}

func (c *Connection) pull() error {
	for {
		n, err := c.raw.ReadOnce(c.Connection)
		if err != nil && err != io.EOF {
			return err
		}
		if n == 0 {
			return nil
		}
	}
}

// process runs the interceptor over src until it runs out of complete
// messages and copies released bytes to dst. It reports whether a message
// was aborted. A malformed message is reported once while it stays held.
func (c *Connection) process(dir Direction, src *buffer.Buffer, dst io.Writer) bool {
	for src.Pending() > 0 {
		data := src.ReadSlice()
		n, act, err := c.icpt.Intercept(dir, data)
		if err != nil {
			if c.malformed[dir] {
				return false
			}
			c.malformed[dir] = true
			c.observe(dir, OutcomeMalformed)
			c.logger.Warn("malformed message held",
				slog.String("protocol", c.protocol),
				slog.String("direction", dir.String()),
				slog.String("handle", c.Handle().String()),
				slog.Int("buffered", len(data)),
				slog.String("error", err.Error()))
			return false
		}
		if n == 0 {
			c.observe(dir, OutcomeIncomplete)
			return false
		}

		switch act.Verdict {
		case Forward:
			c.observe(dir, OutcomeForward)
			dst.Write(data[:n])
		case Modify:
			c.observe(dir, OutcomeModify)
			dst.Write(act.Data)
		case Wait:
			c.observe(dir, OutcomeWait)
			return false
		case Abort:
			c.observe(dir, OutcomeAbort)
			c.err = fmt.Errorf("%w: %s %s message", errors.ErrAborted, dir, c.protocol)
			c.logger.Info("message aborted connection",
				slog.String("protocol", c.protocol),
				slog.String("direction", dir.String()),
				slog.String("handle", c.Handle().String()))
			return true
		}
		src.Advance(n)
		c.malformed[dir] = false
	}
	return false
}

func (c *Connection) observe(dir Direction, o Outcome) {
	if c.observer != nil {
		c.observer.Observe(c.protocol, dir, o)
	}
}
