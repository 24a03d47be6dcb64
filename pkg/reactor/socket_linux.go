// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package reactor

import (
	"fmt"
	"io"
	"net"

	"github.com/absmach/evproxy/pkg/connection"
	"golang.org/x/sys/unix"
)

// Conn is a non-blocking TCP socket.
type Conn struct {
	fd     int
	remote string
}

var _ connection.Socket = (*Conn)(nil)

// Read performs one read(2). It returns ErrWouldBlock when no data is
// available and io.EOF once the peer closed its side.
func (c *Conn) Read(p []byte) (int, error) {
	n, err := unix.Read(c.fd, p)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EINTR {
			return 0, connection.ErrWouldBlock
		}
		return 0, err
	}
	if n == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return n, nil
}

// Write performs one write(2) and reports how much the kernel accepted.
func (c *Conn) Write(p []byte) (int, error) {
	n, err := unix.Write(c.fd, p)
	if n < 0 {
		n = 0
	}
	if err != nil {
		if err == unix.EAGAIN || err == unix.EINTR {
			return n, connection.ErrWouldBlock
		}
		return n, err
	}
	return n, nil
}

// Fd returns the socket descriptor.
func (c *Conn) Fd() int {
	return c.fd
}

// RemoteAddr returns the peer address as text.
func (c *Conn) RemoteAddr() string {
	return c.remote
}

// Close closes the socket.
func (c *Conn) Close() error {
	return unix.Close(c.fd)
}

// Listener is a non-blocking listening socket.
type Listener struct {
	fd int
}

// Listen binds a non-blocking TCP listener to address.
func Listen(address string, backlog int) (*Listener, error) {
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	addr, err := net.ResolveTCPAddr("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", address, err)
	}
	domain, sa := sockaddr(addr)

	fd, err := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind %s: %w", address, err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("listen %s: %w", address, err)
	}
	return &Listener{fd: fd}, nil
}

// Accept takes one pending connection. It returns ErrWouldBlock once the
// backlog is empty.
func (l *Listener) Accept() (*Conn, error) {
	nfd, sa, err := unix.Accept4(l.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EINTR || err == unix.ECONNABORTED {
			return nil, connection.ErrWouldBlock
		}
		return nil, err
	}
	setNoDelay(nfd)
	return &Conn{fd: nfd, remote: addrString(sa)}, nil
}

// Fd returns the listening descriptor.
func (l *Listener) Fd() int {
	return l.fd
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr {
	sa, err := unix.Getsockname(l.fd)
	if err != nil {
		return nil
	}
	if a := tcpAddr(sa); a != nil {
		return a
	}
	return nil
}

// Close closes the listener.
func (l *Listener) Close() error {
	return unix.Close(l.fd)
}

// Dial resolves address and starts a non-blocking connect to it.
func Dial(address string) (*Conn, error) {
	addr, err := net.ResolveTCPAddr("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", address, err)
	}
	return DialTCP(addr)
}

// DialTCP starts a non-blocking connect to addr. The connection completes
// asynchronously; failures surface later as error or hangup readiness.
func DialTCP(addr *net.TCPAddr) (*Conn, error) {
	domain, sa := sockaddr(addr)

	fd, err := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}
	if err := unix.Connect(fd, sa); err != nil && err != unix.EINPROGRESS {
		unix.Close(fd)
		return nil, fmt.Errorf("connect %s: %w", addr, err)
	}
	setNoDelay(fd)
	return &Conn{fd: fd, remote: addr.String()}, nil
}

func setNoDelay(fd int) {
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
}

func sockaddr(addr *net.TCPAddr) (int, unix.Sockaddr) {
	if ip4 := addr.IP.To4(); ip4 != nil || addr.IP == nil {
		sa := &unix.SockaddrInet4{Port: addr.Port}
		if ip4 != nil {
			copy(sa.Addr[:], ip4)
		}
		return unix.AF_INET, sa
	}
	sa := &unix.SockaddrInet6{Port: addr.Port}
	copy(sa.Addr[:], addr.IP.To16())
	return unix.AF_INET6, sa
}

func tcpAddr(sa unix.Sockaddr) *net.TCPAddr {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		ip := make(net.IP, net.IPv4len)
		copy(ip, sa.Addr[:])
		return &net.TCPAddr{IP: ip, Port: sa.Port}
	case *unix.SockaddrInet6:
		ip := make(net.IP, net.IPv6len)
		copy(ip, sa.Addr[:])
		return &net.TCPAddr{IP: ip, Port: sa.Port}
	default:
		return nil
	}
}

func addrString(sa unix.Sockaddr) string {
	if a := tcpAddr(sa); a != nil {
		return a.String()
	}
	return ""
}
