// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"log/slog"

	"github.com/absmach/evproxy/pkg/connection"
	"github.com/absmach/evproxy/pkg/handle"
	"go.uber.org/multierr"
)

// ChunkSize is the most bytes a single Forward call moves.
const ChunkSize = 1024

// Role tells which side of a pair a connection plays.
type Role int

const (
	// Downstream is the client-facing connection.
	Downstream Role = iota
	// Upstream is the backend-facing connection.
	Upstream
)

// String returns a string representation of the role.
func (r Role) String() string {
	switch r {
	case Downstream:
		return "downstream"
	case Upstream:
		return "upstream"
	default:
		return "unknown"
	}
}

// Other returns the opposite role.
func (r Role) Other() Role {
	if r == Downstream {
		return Upstream
	}
	return Downstream
}

// Option configures a Pair.
type Option func(*Pair)

// WithLogger sets the logger used for read errors.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pair) {
		if l != nil {
			p.logger = l
		}
	}
}

// Pair joins a client connection with its backend connection.
type Pair struct {
	down           connection.Connection
	up             connection.Connection
	upstreamClosed bool
	logger         *slog.Logger
	chunk          [ChunkSize]byte
}

// NewPair creates a pair from the client-facing and backend-facing connections.
func NewPair(down, up connection.Connection, opts ...Option) *Pair {
	p := &Pair{
		down:   down,
		up:     up,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Tokens returns the watch handles of both sides.
func (p *Pair) Tokens() (down, up handle.Handle) {
	return p.down.Handle(), p.up.Handle()
}

// Conn returns the connection playing role r.
func (p *Pair) Conn(r Role) connection.Connection {
	if r == Upstream {
		return p.up
	}
	return p.down
}

// Peer returns the connection opposite to role r.
func (p *Pair) Peer(r Role) connection.Connection {
	return p.Conn(r.Other())
}

// FromHandle returns the side registered under h.
func (p *Pair) FromHandle(h handle.Handle) (connection.Connection, bool) {
	switch h {
	case p.down.Handle():
		return p.down, true
	case p.up.Handle():
		return p.up, true
	default:
		return nil, false
	}
}

// MarkUpstreamClosed records that the backend hung up.
func (p *Pair) MarkUpstreamClosed() {
	p.upstreamClosed = true
}

// IsUpstreamClosed reports whether the backend hung up.
func (p *Pair) IsUpstreamClosed() bool {
	return p.upstreamClosed
}

// Forward moves at most ChunkSize bytes from r's input to its peer's output
// and returns how many bytes moved. A read error moves nothing.
func (p *Pair) Forward(r Role) (int, error) {
	src, dst := p.Conn(r), p.Peer(r)

	n, err := src.Read(p.chunk[:])
	if err != nil {
		p.logger.Warn("failed to read from connection",
			slog.String("role", r.String()),
			slog.Int("handle", src.Handle().Int()),
			slog.String("error", err.Error()))
		return 0, nil
	}
	if n == 0 {
		return 0, nil
	}
	return dst.Write(p.chunk[:n])
}

// Close closes both connections.
func (p *Pair) Close() error {
	return multierr.Append(p.down.Close(), p.up.Close())
}
