// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package connection

import (
	"errors"
	"io"
	"log/slog"

	"github.com/absmach/evproxy/pkg/buffer"
	"github.com/absmach/evproxy/pkg/handle"
)

// Socket is the non-blocking transport a Base connection owns.
// Read and Write return ErrWouldBlock when the call cannot make progress,
// and Read returns io.EOF once the peer has closed its side.
type Socket interface {
	io.Reader
	io.Writer
	Fd() int
	Close() error
}

// Base is the socket-backed Connection.
type Base struct {
	sock     Socket
	h        handle.Handle
	input    *buffer.Buffer
	output   *buffer.Buffer
	interest Interest
	logger   *slog.Logger
	err      error
}

var _ Connection = (*Base)(nil)

// NewBase creates a connection over sock with buffers of the given size.
func NewBase(sock Socket, h handle.Handle, bufSize int, logger *slog.Logger) *Base {
	if logger == nil {
		logger = slog.Default()
	}
	return &Base{
		sock:     sock,
		h:        h,
		input:    buffer.New(bufSize),
		output:   buffer.New(bufSize),
		interest: Readable | Always,
		logger:   logger,
	}
}

// Handle returns the watch handle of the connection.
func (c *Base) Handle() handle.Handle {
	return c.h
}

// Fd returns the socket descriptor.
func (c *Base) Fd() int {
	return c.sock.Fd()
}

// Interest returns the readiness conditions currently wanted.
func (c *Base) Interest() Interest {
	return c.interest | Always
}

// Want adds conditions to the interest set.
func (c *Base) Want(i Interest) {
	c.interest |= i
}

// Drop removes conditions from the interest set.
func (c *Base) Drop(i Interest) {
	c.interest &^= i &^ Always
}

// Pending returns the number of bytes waiting to be written to the socket.
func (c *Base) Pending() int {
	return c.output.Pending()
}

// Buffered returns the number of bytes read from the socket and not yet consumed.
func (c *Base) Buffered() int {
	return c.input.Pending()
}

// Read drains the input buffer into p.
func (c *Base) Read(p []byte) (int, error) {
	return c.input.Read(p)
}

// Write stages p in the output buffer.
func (c *Base) Write(p []byte) (int, error) {
	return c.output.Write(p)
}

// HandleRead performs one non-blocking read from the socket.
func (c *Base) HandleRead() Action {
	n, err := c.input.ReadOnce(c.sock)
	if n > 0 {
		c.logger.Debug("read from socket",
			slog.String("handle", c.h.String()),
			slog.Int("bytes", n),
			slog.Int("buffered", c.input.Pending()))
		return Forward
	}

	switch {
	case err == nil, errors.Is(err, ErrWouldBlock), errors.Is(err, io.EOF):
		return Noop
	default:
		c.err = err
		c.logger.Debug("socket read failed",
			slog.String("handle", c.h.String()),
			slog.String("error", err.Error()))
		return Halt
	}
}

// HandleWrite performs one non-blocking write of the output buffer. Whatever
// the socket does not accept stays staged for the next writable event.
func (c *Base) HandleWrite() Action {
	n, err := c.output.WriteOnce(c.sock)
	if err != nil && !errors.Is(err, ErrWouldBlock) {
		c.logger.Error("socket write failed",
			slog.String("handle", c.h.String()),
			slog.String("error", err.Error()))
		return Noop
	}
	if n > 0 {
		c.logger.Debug("wrote to socket",
			slog.String("handle", c.h.String()),
			slog.Int("bytes", n),
			slog.Int("pending", c.output.Pending()))
	}
	return Noop
}

// Err returns the socket error that made HandleRead halt, if any.
func (c *Base) Err() error {
	return c.err
}

// Close closes the socket.
func (c *Base) Close() error {
	return c.sock.Close()
}
