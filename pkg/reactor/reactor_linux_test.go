// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package reactor

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/absmach/evproxy/pkg/connection"
	"github.com/absmach/evproxy/pkg/handle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitFor(t *testing.T, p Poller, h handle.Handle, want connection.Interest) Event {
	t.Helper()
	events := make([]Event, 8)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		n, err := p.Wait(events, 50*time.Millisecond)
		require.NoError(t, err)
		for _, ev := range events[:n] {
			if ev.Handle == h && ev.Ready&want != 0 {
				return ev
			}
		}
	}
	t.Fatalf("no %s event for handle %d", want, h)
	return Event{}
}

func acceptOne(t *testing.T, l *Listener) *Conn {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c, err := l.Accept()
		if err == nil {
			return c
		}
		require.True(t, errors.Is(err, connection.ErrWouldBlock), "accept: %v", err)
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("no pending connection")
	return nil
}

func TestEpollReadWriteHangup(t *testing.T) {
	p, err := NewPoller()
	require.NoError(t, err)
	defer p.Close()

	l, err := Listen("127.0.0.1:0", 0)
	require.NoError(t, err)
	defer l.Close()
	require.NotNil(t, l.Addr())

	client, err := Dial(l.Addr().String())
	require.NoError(t, err)
	server := acceptOne(t, l)
	defer server.Close()
	assert.NotEmpty(t, server.RemoteAddr())

	const clientH, serverH = handle.Handle(1), handle.Handle(2)
	require.NoError(t, p.Add(client.Fd(), clientH, connection.Writable|connection.Always))
	require.NoError(t, p.Add(server.Fd(), serverH, connection.Readable|connection.Always))

	waitFor(t, p, clientH, connection.Writable)

	n, err := client.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	waitFor(t, p, serverH, connection.Readable)
	buf := make([]byte, 16)
	n, err = server.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))

	_, err = server.Read(buf)
	assert.ErrorIs(t, err, connection.ErrWouldBlock)

	require.NoError(t, p.Modify(server.Fd(), serverH, connection.Readable|connection.Always))
	require.NoError(t, p.Delete(client.Fd()))
	require.NoError(t, client.Close())

	ev := waitFor(t, p, serverH, connection.Hangup)
	assert.True(t, ev.Ready.Has(connection.Hangup))

	_, err = server.Read(buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestAcceptEmptyBacklog(t *testing.T) {
	l, err := Listen("127.0.0.1:0", 4)
	require.NoError(t, err)
	defer l.Close()

	_, err = l.Accept()
	assert.ErrorIs(t, err, connection.ErrWouldBlock)
}

func TestDialResolveError(t *testing.T) {
	_, err := Dial("not an address")
	assert.Error(t, err)
}

func TestTimeoutMillis(t *testing.T) {
	assert.Equal(t, -1, timeoutMillis(-time.Second))
	assert.Equal(t, 0, timeoutMillis(0))
	assert.Equal(t, 1, timeoutMillis(time.Microsecond))
	assert.Equal(t, 250, timeoutMillis(250*time.Millisecond))
}

func TestEpollFlagMapping(t *testing.T) {
	ev := toEpoll(7, connection.Readable|connection.Always)
	assert.EqualValues(t, 7, ev.Fd)
	ready := fromEpoll(ev.Events)
	assert.True(t, ready.Has(connection.Readable|connection.Hangup|connection.Error))
	assert.False(t, ready.Has(connection.Writable))
}
