// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package reactor

import (
	"net"

	"github.com/absmach/evproxy/pkg/connection"
)

// NewPoller is only implemented on Linux.
func NewPoller() (Poller, error) {
	return nil, ErrUnsupported
}

// Conn is a non-blocking TCP socket. It cannot be created on this platform.
type Conn struct{}

var _ connection.Socket = (*Conn)(nil)

func (c *Conn) Read([]byte) (int, error)  { return 0, ErrUnsupported }
func (c *Conn) Write([]byte) (int, error) { return 0, ErrUnsupported }
func (c *Conn) Fd() int                   { return -1 }
func (c *Conn) RemoteAddr() string        { return "" }
func (c *Conn) Close() error              { return nil }

// Listener is a non-blocking listening socket. It cannot be created on this platform.
type Listener struct{}

func Listen(string, int) (*Listener, error) { return nil, ErrUnsupported }
func Dial(string) (*Conn, error)            { return nil, ErrUnsupported }
func DialTCP(*net.TCPAddr) (*Conn, error)   { return nil, ErrUnsupported }

func (l *Listener) Accept() (*Conn, error) { return nil, ErrUnsupported }
func (l *Listener) Fd() int                { return -1 }
func (l *Listener) Addr() net.Addr         { return nil }
func (l *Listener) Close() error           { return nil }
