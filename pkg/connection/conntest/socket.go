// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package conntest provides an in-memory Socket for exercising connections
// and the reactor driver without real file descriptors.
package conntest

import (
	"bytes"
	"io"

	"github.com/absmach/evproxy/pkg/connection"
)

// Socket is a scripted non-blocking socket. Bytes fed with Feed are returned
// by Read; bytes written are collected in Written.
type Socket struct {
	FD int

	// WriteLimit caps how many bytes a single Write accepts. Zero means no cap.
	WriteLimit int

	// Blocked makes every Write report ErrWouldBlock.
	Blocked bool

	// ReadErr and WriteErr, when set, are returned by every call.
	ReadErr  error
	WriteErr error

	in     bytes.Buffer
	out    bytes.Buffer
	eof    bool
	closed bool
	reads  int
	writes int
}

var _ connection.Socket = (*Socket)(nil)

// New creates a socket reporting fd as its descriptor.
func New(fd int) *Socket {
	return &Socket{FD: fd}
}

// Feed queues p to be returned by subsequent reads.
func (s *Socket) Feed(p []byte) {
	s.in.Write(p)
}

// Hangup makes reads return io.EOF once queued bytes are drained.
func (s *Socket) Hangup() {
	s.eof = true
}

// Written returns every byte accepted by Write so far.
func (s *Socket) Written() []byte {
	return s.out.Bytes()
}

// Closed reports whether Close was called.
func (s *Socket) Closed() bool {
	return s.closed
}

// Reads returns the number of Read calls.
func (s *Socket) Reads() int {
	return s.reads
}

// Writes returns the number of Write calls.
func (s *Socket) Writes() int {
	return s.writes
}

func (s *Socket) Read(p []byte) (int, error) {
	s.reads++
	if s.ReadErr != nil {
		return 0, s.ReadErr
	}
	if s.in.Len() == 0 {
		if s.eof {
			return 0, io.EOF
		}
		return 0, connection.ErrWouldBlock
	}
	return s.in.Read(p)
}

func (s *Socket) Write(p []byte) (int, error) {
	s.writes++
	if s.WriteErr != nil {
		return 0, s.WriteErr
	}
	if s.Blocked {
		return 0, connection.ErrWouldBlock
	}
	if s.WriteLimit > 0 && len(p) > s.WriteLimit {
		p = p[:s.WriteLimit]
	}
	return s.out.Write(p)
}

func (s *Socket) Fd() int {
	return s.FD
}

func (s *Socket) Close() error {
	s.closed = true
	return nil
}
