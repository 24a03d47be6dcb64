// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package connection

// Poison discards all traffic while keeping the wrapped connection
// registered. Read always returns 0, Write reports every byte accepted and
// drops it, and the readiness handlers do nothing.
type Poison struct {
	Connection
}

var _ Connection = (*Poison)(nil)

// NewPoison wraps c.
func NewPoison(c Connection) *Poison {
	return &Poison{Connection: c}
}

// Read never yields bytes.
func (p *Poison) Read([]byte) (int, error) {
	return 0, nil
}

// Write swallows b.
func (p *Poison) Write(b []byte) (int, error) {
	return len(b), nil
}

// Pending is always zero since nothing is ever staged.
func (p *Poison) Pending() int {
	return 0
}

func (p *Poison) HandleRead() Action {
	return Noop
}

func (p *Poison) HandleWrite() Action {
	return Noop
}

// Unwrap returns the wrapped connection.
func (p *Poison) Unwrap() Connection {
	return p.Connection
}
