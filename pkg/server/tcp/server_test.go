// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package tcp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/absmach/evproxy/pkg/breaker"
	"github.com/absmach/evproxy/pkg/connection"
	"github.com/absmach/evproxy/pkg/connection/conntest"
	perrors "github.com/absmach/evproxy/pkg/errors"
	"github.com/absmach/evproxy/pkg/handle"
	"github.com/absmach/evproxy/pkg/handler"
	"github.com/absmach/evproxy/pkg/metrics"
	"github.com/absmach/evproxy/pkg/proxy"
	"github.com/absmach/evproxy/pkg/ratelimit"
	"github.com/absmach/evproxy/pkg/reactor"
	"github.com/benbjohnson/clock"
	"github.com/eclipse/paho.mqtt.golang/packets"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockHandler struct {
	connectErr error

	connectCalled    int
	onConnectCalled  int
	disconnectCalled int
	lastContext      *handler.Context
}

func (m *mockHandler) AuthConnect(ctx context.Context, hctx *handler.Context) error {
	m.connectCalled++
	m.lastContext = hctx
	return m.connectErr
}

func (m *mockHandler) AuthPublish(ctx context.Context, hctx *handler.Context, topic *string, payload *[]byte) error {
	return nil
}

func (m *mockHandler) AuthSubscribe(ctx context.Context, hctx *handler.Context, topics *[]string) error {
	return nil
}

func (m *mockHandler) OnConnect(ctx context.Context, hctx *handler.Context) error {
	m.onConnectCalled++
	return nil
}

func (m *mockHandler) OnPublish(ctx context.Context, hctx *handler.Context, topic string, payload []byte) error {
	return nil
}

func (m *mockHandler) OnSubscribe(ctx context.Context, hctx *handler.Context, topics []string) error {
	return nil
}

func (m *mockHandler) OnUnsubscribe(ctx context.Context, hctx *handler.Context, topics []string) error {
	return nil
}

func (m *mockHandler) OnDisconnect(ctx context.Context, hctx *handler.Context) error {
	m.disconnectCalled++
	return nil
}

type fakeConn struct {
	*conntest.Socket
	remote string
}

func (c *fakeConn) RemoteAddr() string {
	return c.remote
}

type fakeListener struct {
	pending []*fakeConn
	closed  bool
}

func (l *fakeListener) Accept() (Conn, error) {
	if len(l.pending) == 0 {
		return nil, connection.ErrWouldBlock
	}
	c := l.pending[0]
	l.pending = l.pending[1:]
	return c, nil
}

func (l *fakeListener) Fd() int {
	return 3
}

func (l *fakeListener) Addr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 6380}
}

func (l *fakeListener) Close() error {
	l.closed = true
	return nil
}

type registration struct {
	h        handle.Handle
	interest connection.Interest
}

type fakePoller struct {
	regs     map[int]registration
	modifies int
	closed   bool
}

func newFakePoller() *fakePoller {
	return &fakePoller{regs: make(map[int]registration)}
}

func (p *fakePoller) Add(fd int, h handle.Handle, interest connection.Interest) error {
	if _, ok := p.regs[fd]; ok {
		return fmt.Errorf("fd %d already registered", fd)
	}
	p.regs[fd] = registration{h: h, interest: interest}
	return nil
}

func (p *fakePoller) Modify(fd int, h handle.Handle, interest connection.Interest) error {
	if _, ok := p.regs[fd]; !ok {
		return fmt.Errorf("fd %d not registered", fd)
	}
	p.modifies++
	p.regs[fd] = registration{h: h, interest: interest}
	return nil
}

func (p *fakePoller) Delete(fd int) error {
	if _, ok := p.regs[fd]; !ok {
		return fmt.Errorf("fd %d not registered", fd)
	}
	delete(p.regs, fd)
	return nil
}

func (p *fakePoller) Wait(events []reactor.Event, timeout time.Duration) (int, error) {
	time.Sleep(min(timeout, 5*time.Millisecond))
	return 0, nil
}

func (p *fakePoller) Close() error {
	p.closed = true
	return nil
}

type harness struct {
	t        *testing.T
	srv      *Server
	listener *fakeListener
	poller   *fakePoller
	clock    *clock.Mock
	metrics  *metrics.Metrics
	handler  *mockHandler
	backends []*fakeConn
	dialErr  error
	dials    int
	nextFd   int
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHarness(t *testing.T, cfg Config, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		listener: &fakeListener{},
		poller:   newFakePoller(),
		clock:    clock.NewMock(),
		metrics:  metrics.New("test"),
		handler:  &mockHandler{},
		nextFd:   100,
	}
	dial := func() (Conn, error) {
		h.dials++
		if h.dialErr != nil {
			return nil, h.dialErr
		}
		c := &fakeConn{Socket: conntest.New(h.fd()), remote: cfg.TargetAddress}
		h.backends = append(h.backends, c)
		return c, nil
	}

	cfg.Logger = discard()
	if cfg.TargetAddress == "" {
		cfg.TargetAddress = "127.0.0.1:6379"
	}
	opts = append([]Option{
		WithPoller(h.poller),
		WithListener(h.listener),
		WithDialer(dial),
		WithClock(h.clock),
		WithMetrics(h.metrics),
	}, opts...)
	h.srv = New(cfg, h.handler, opts...)
	require.NoError(t, h.srv.start(context.Background()))
	return h
}

func (h *harness) fd() int {
	h.nextFd++
	return h.nextFd
}

// connect queues a client, signals the listener and returns the client and
// the backend dialed for it (nil if none was).
func (h *harness) connect() (*fakeConn, *fakeConn) {
	client := &fakeConn{Socket: conntest.New(h.fd()), remote: fmt.Sprintf("10.0.0.1:%d", 40000+h.nextFd)}
	h.listener.pending = append(h.listener.pending, client)
	dialed := len(h.backends)
	h.srv.handleEvent(reactor.Event{Handle: h.srv.listenH, Ready: connection.Readable})
	if len(h.backends) == dialed {
		return client, nil
	}
	return client, h.backends[len(h.backends)-1]
}

func (h *harness) event(c *fakeConn, ready connection.Interest) {
	reg, ok := h.poller.regs[c.Fd()]
	require.True(h.t, ok, "fd %d not registered", c.Fd())
	h.srv.handleEvent(reactor.Event{Handle: reg.h, Ready: ready})
}

func (h *harness) interest(c *fakeConn) connection.Interest {
	return h.poller.regs[c.Fd()].interest
}

func TestAcceptAndRelay(t *testing.T) {
	h := newHarness(t, Config{})
	client, backend := h.connect()
	require.NotNil(t, backend)

	assert.Equal(t, 1, h.srv.registry.Len())
	assert.Equal(t, 1, h.srv.Pairs())
	assert.Equal(t, 3, h.srv.handles.InUse())
	assert.Equal(t, 1, h.handler.connectCalled)
	assert.Equal(t, 1, h.handler.onConnectCalled)
	assert.Equal(t, "tcp", h.handler.lastContext.Protocol)
	assert.NotEmpty(t, h.handler.lastContext.SessionID)
	assert.Equal(t, h.clock.Now(), h.handler.lastContext.Opened)
	assert.Equal(t, connection.Readable|connection.Always, h.interest(client))

	client.Feed([]byte("hello"))
	h.event(client, connection.Readable)
	assert.True(t, h.interest(backend).Has(connection.Writable))

	h.event(backend, connection.Writable)
	assert.Equal(t, "hello", string(backend.Written()))
	assert.False(t, h.interest(backend).Has(connection.Writable))

	backend.Feed([]byte("world"))
	h.event(backend, connection.Readable)
	h.event(client, connection.Writable)
	assert.Equal(t, "world", string(client.Written()))

	assert.Equal(t, 5.0, testutil.ToFloat64(h.metrics.BytesForwarded.WithLabelValues("tcp", "upstream")))
	assert.Equal(t, 5.0, testutil.ToFloat64(h.metrics.BytesForwarded.WithLabelValues("tcp", "downstream")))
}

func TestLargeTransferKeepsOrder(t *testing.T) {
	h := newHarness(t, Config{BufferSize: 64})
	client, backend := h.connect()

	var want bytes.Buffer
	for i := 0; i < 500; i++ {
		fmt.Fprintf(&want, "line %03d\n", i)
	}
	client.Feed(want.Bytes())
	backend.WriteLimit = 700

	h.event(client, connection.Readable)
	for i := 0; i < 20 && h.interest(backend).Has(connection.Writable); i++ {
		h.event(backend, connection.Writable)
	}
	assert.Equal(t, want.String(), string(backend.Written()))
}

func TestClientHangup(t *testing.T) {
	h := newHarness(t, Config{})
	client, backend := h.connect()
	backend.Feed([]byte("lost"))

	h.event(client, connection.Hangup)

	assert.True(t, client.Closed())
	assert.True(t, backend.Closed())
	assert.Zero(t, h.srv.registry.Len())
	assert.Equal(t, 1, h.srv.handles.InUse())
	assert.Equal(t, 1, h.handler.disconnectCalled)
	assert.Len(t, h.poller.regs, 1)
	assert.Equal(t, 0.0, testutil.ToFloat64(h.metrics.ActivePairs.WithLabelValues("tcp")))
}

func TestReleasedHandlesNotReusedWithinBatch(t *testing.T) {
	h := newHarness(t, Config{})
	clientA, backendA := h.connect()
	downA := h.poller.regs[clientA.Fd()].h
	upA := h.poller.regs[backendA.Fd()].h

	clientB := &fakeConn{Socket: conntest.New(h.fd()), remote: "10.0.0.2:40000"}
	h.listener.pending = append(h.listener.pending, clientB)

	h.srv.dispatchBatch([]reactor.Event{
		{Handle: downA, Ready: connection.Hangup},
		{Handle: h.srv.listenH, Ready: connection.Readable},
		{Handle: upA, Ready: connection.Hangup},
	})

	require.Len(t, h.backends, 2)
	backendB := h.backends[1]
	assert.True(t, clientA.Closed())
	assert.True(t, backendA.Closed())
	assert.False(t, clientB.Closed())
	assert.False(t, backendB.Closed())
	assert.Equal(t, 1, h.srv.registry.Len())
	assert.Equal(t, 1, h.handler.disconnectCalled)
	assert.NotEqual(t, downA, h.poller.regs[clientB.Fd()].h)
	assert.NotEqual(t, upA, h.poller.regs[backendB.Fd()].h)
	assert.Equal(t, 3, h.srv.handles.InUse())

	// Once the batch is over the old handles are free again.
	clientC, _ := h.connect()
	assert.Equal(t, downA, h.poller.regs[clientC.Fd()].h)
}

func TestBackendHangupDrainsClient(t *testing.T) {
	h := newHarness(t, Config{})
	client, backend := h.connect()

	backend.Feed([]byte("bye"))
	client.Blocked = true
	h.event(backend, connection.Readable|connection.Hangup)

	require.Equal(t, 1, h.srv.registry.Len(), "pair must live until the client is drained")
	e, _ := h.srv.registry.Lookup(h.poller.regs[client.Fd()].h)
	p, _ := h.srv.registry.Pair(e.ID)
	assert.True(t, p.IsUpstreamClosed())

	// Still blocked: nothing written, pair kept.
	h.event(client, connection.Writable)
	assert.Equal(t, 1, h.srv.registry.Len())

	client.Blocked = false
	h.event(client, connection.Writable)
	assert.Equal(t, "bye", string(client.Written()))
	assert.Zero(t, h.srv.registry.Len())
	assert.True(t, client.Closed())
	assert.Equal(t, 1, h.handler.disconnectCalled)
}

func TestBackendHangupWithNothingPending(t *testing.T) {
	h := newHarness(t, Config{})
	client, backend := h.connect()

	h.event(backend, connection.Hangup)
	assert.Zero(t, h.srv.registry.Len())
	assert.True(t, client.Closed())
}

func TestStaleAndUnknownEventsIgnored(t *testing.T) {
	h := newHarness(t, Config{})
	client, _ := h.connect()
	reg := h.poller.regs[client.Fd()]

	h.srv.handleEvent(reactor.Event{Handle: 999, Ready: connection.Readable})
	_, _, err := h.srv.resolve(999)
	assert.ErrorIs(t, err, perrors.ErrUnknownHandle)
	h.event(client, connection.Hangup)

	// Late event for the released handle.
	_, _, err = h.srv.resolve(reg.h)
	assert.ErrorIs(t, err, perrors.ErrUnknownHandle)
	h.srv.handleEvent(reactor.Event{Handle: reg.h, Ready: connection.Readable | connection.Hangup})
	assert.Equal(t, 1, h.handler.disconnectCalled)

	// The handle is reissued to the next pair.
	next, _ := h.connect()
	assert.Equal(t, reg.h, h.poller.regs[next.Fd()].h)
}

func TestFailureDescribesSide(t *testing.T) {
	h := newHarness(t, Config{})
	client, backend := h.connect()
	e, p, err := h.srv.resolve(h.poller.regs[backend.Fd()].h)
	require.NoError(t, err)
	assert.Equal(t, proxy.Upstream, e.Role)

	backend.ReadErr = errors.New("connection reset by peer")
	assert.Equal(t, connection.Halt, p.Conn(proxy.Upstream).HandleRead())
	err = h.srv.failure(e.ID, p, proxy.Upstream, "read", nil)
	assert.ErrorIs(t, err, backend.ReadErr)
	var pe *perrors.ProxyError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "upstream", pe.Role)
	assert.Equal(t, "read", pe.Op)
	assert.Equal(t, "127.0.0.1:6379", pe.RemoteAddr)

	err = h.srv.failure(e.ID, p, proxy.Downstream, "write", nil)
	assert.ErrorIs(t, err, perrors.ErrConnectionClosed)
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, client.RemoteAddr(), pe.RemoteAddr)
	assert.Equal(t, h.poller.regs[client.Fd()].h.Int(), pe.Handle)
}

func TestReadFailureTearsDownPair(t *testing.T) {
	h := newHarness(t, Config{})
	client, backend := h.connect()

	backend.ReadErr = errors.New("connection reset by peer")
	h.event(backend, connection.Readable)

	assert.True(t, client.Closed())
	assert.True(t, backend.Closed())
	assert.Zero(t, h.srv.registry.Len())
	assert.Equal(t, 1, h.handler.disconnectCalled)
}

func TestHandlesExhausted(t *testing.T) {
	h := newHarness(t, Config{HandleCapacity: 4})
	_, backend := h.connect()
	require.NotNil(t, backend)

	client, backend := h.connect()
	assert.Nil(t, backend)
	assert.True(t, client.Closed())
	assert.Equal(t, 3, h.srv.handles.InUse())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.PairsRejected.WithLabelValues("tcp", metrics.ReasonHandlesExhausted)))
	assert.ErrorIs(t, h.srv.Check(context.Background()), perrors.ErrHandlesExhausted)
}

func TestDialFailureOpensBreaker(t *testing.T) {
	h := newHarness(t, Config{}, WithBreaker(breaker.New(breaker.Config{MaxFailures: 1, Clock: clock.NewMock()})))
	h.dialErr = errors.New("connection refused")

	client, _ := h.connect()
	assert.True(t, client.Closed())
	assert.Equal(t, 1, h.dials)

	client, _ = h.connect()
	assert.True(t, client.Closed())
	assert.Equal(t, 1, h.dials, "open circuit must not dial")

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.PairsRejected.WithLabelValues("tcp", metrics.ReasonDialFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.PairsRejected.WithLabelValues("tcp", metrics.ReasonCircuitOpen)))
	assert.Equal(t, 1, h.srv.handles.InUse())
}

func TestAcceptRateLimits(t *testing.T) {
	clk := clock.NewMock()
	h := newHarness(t, Config{},
		WithAcceptLimit(ratelimit.NewTokenBucketWithClock(2, 1, clk)),
		WithClientLimit(ratelimit.NewLimiterWithClock(1, 1, 10, clk)),
	)

	_, backend := h.connect()
	require.NotNil(t, backend)

	// Same host again: the per-client bucket is empty.
	h.listener.pending = append(h.listener.pending, &fakeConn{Socket: conntest.New(h.fd()), remote: "10.0.0.1:1"})
	h.srv.handleEvent(reactor.Event{Handle: h.srv.listenH, Ready: connection.Readable})
	assert.Equal(t, 1, h.srv.registry.Len())

	// Global bucket is now empty as well.
	h.listener.pending = append(h.listener.pending, &fakeConn{Socket: conntest.New(h.fd()), remote: "10.0.0.2:1"})
	h.srv.handleEvent(reactor.Event{Handle: h.srv.listenH, Ready: connection.Readable})
	assert.Equal(t, 1, h.srv.registry.Len())

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.RateLimitedRequests.WithLabelValues("tcp", "client")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.RateLimitedRequests.WithLabelValues("tcp", "global")))
}

func TestAuthConnectRejects(t *testing.T) {
	h := newHarness(t, Config{})
	h.handler.connectErr = errors.New("unknown client")

	client, backend := h.connect()
	assert.True(t, client.Closed())
	assert.True(t, backend.Closed())
	assert.Zero(t, h.srv.registry.Len())
	assert.Equal(t, 1, h.srv.handles.InUse())
	assert.Zero(t, h.handler.onConnectCalled)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.PairsRejected.WithLabelValues("tcp", metrics.ReasonAuth)))
}

func TestRedisPrefixThroughDriver(t *testing.T) {
	h := newHarness(t, Config{Protocol: ProtocolRedis, Hook: "prefix"})
	client, backend := h.connect()

	client.Feed([]byte("*3\r\n$3\r\nSET\r\n$3\r\nfoo\r\n$3\r\nbar\r\n*1\r\n$4\r\nPI"))
	h.event(client, connection.Readable)
	h.event(backend, connection.Writable)
	assert.Equal(t, "*3\r\n$3\r\nSET\r\n$10\r\nprefix:foo\r\n$3\r\nbar\r\n", string(backend.Written()))

	client.Feed([]byte("NG\r\n"))
	h.event(client, connection.Readable)
	h.event(backend, connection.Writable)
	assert.True(t, strings.HasSuffix(string(backend.Written()), "*1\r\n$4\r\nPING\r\n"))

	backend.Feed([]byte("+OK\r\n+PONG\r\n"))
	h.event(backend, connection.Readable)
	h.event(client, connection.Writable)
	assert.Equal(t, "+OK\r\n+PONG\r\n", string(client.Written()))

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Messages.WithLabelValues("redis", "upstream", "modify")))
}

func TestHTTPHeaderThroughDriver(t *testing.T) {
	h := newHarness(t, Config{Protocol: ProtocolHTTP, Hook: "log+header"})
	client, backend := h.connect()

	client.Feed([]byte("GET / HTTP/1.1\r\nHost: a\r\n\r\n"))
	h.event(client, connection.Readable)
	h.event(backend, connection.Writable)
	assert.Equal(t, "GET / HTTP/1.1\r\nHost: a\r\nX-Evproxy: v0.1\r\n\r\n", string(backend.Written()))
}

func TestMQTTAuthFailureTearsDown(t *testing.T) {
	h := newHarness(t, Config{Protocol: ProtocolMQTT})
	client, backend := h.connect()
	assert.Zero(t, h.handler.connectCalled, "mqtt authenticates on CONNECT")

	h.handler.connectErr = errors.New("bad password")
	cp := packets.NewControlPacket(packets.Connect).(*packets.ConnectPacket)
	cp.ProtocolName = "MQTT"
	cp.ProtocolVersion = 4
	cp.ClientIdentifier = "sensor-1"
	cp.Keepalive = 30
	var raw bytes.Buffer
	require.NoError(t, cp.Write(&raw))

	client.Feed(raw.Bytes())
	h.event(client, connection.Readable)

	assert.Equal(t, 1, h.handler.connectCalled)
	assert.Zero(t, h.srv.registry.Len())
	assert.Empty(t, backend.Written())
	assert.Equal(t, 1, h.handler.disconnectCalled)
}

func TestThrottlerCadence(t *testing.T) {
	h := newHarness(t, Config{Throttle: true, ThrottleInterval: time.Second})
	client, backend := h.connect()
	require.Equal(t, 1, h.srv.timers.len())

	backend.Feed([]byte("one"))
	h.event(backend, connection.Readable)
	require.True(t, h.interest(client).Has(connection.Writable))
	h.event(client, connection.Writable)
	assert.Equal(t, "one", string(client.Written()))

	backend.Feed([]byte("two"))
	h.event(backend, connection.Readable)
	assert.False(t, h.interest(client).Has(connection.Writable), "write grant is spent until the next tick")

	// A stray writable event must not write either.
	h.event(client, connection.Writable)
	assert.Equal(t, "one", string(client.Written()))

	h.clock.Add(time.Second)
	h.srv.fireTimers()
	require.True(t, h.interest(client).Has(connection.Writable))
	h.event(client, connection.Writable)
	assert.Equal(t, "onetwo", string(client.Written()))
	assert.Equal(t, 1, h.srv.timers.len())
}

func TestThrottlerReadsOncePerTick(t *testing.T) {
	h := newHarness(t, Config{Throttle: true, ThrottleInterval: time.Second})
	client, _ := h.connect()

	client.Feed([]byte("a"))
	h.event(client, connection.Readable)
	assert.False(t, h.interest(client).Has(connection.Readable))
	reads := client.Reads()

	client.Feed([]byte("b"))
	h.event(client, connection.Readable)
	assert.Equal(t, reads, client.Reads())

	h.clock.Add(time.Second)
	h.srv.fireTimers()
	assert.True(t, h.interest(client).Has(connection.Readable))
}

func TestTimersOfClosedPairsAreDropped(t *testing.T) {
	h := newHarness(t, Config{Throttle: true, ThrottleInterval: time.Second})
	client, _ := h.connect()
	h.event(client, connection.Hangup)

	h.clock.Add(time.Second)
	h.srv.fireTimers()
	assert.Zero(t, h.srv.timers.len())
}

func TestPoisonDropsTraffic(t *testing.T) {
	h := newHarness(t, Config{Poison: true})
	client, backend := h.connect()

	client.Feed([]byte("ignored"))
	h.event(client, connection.Readable)
	assert.Zero(t, client.Reads())
	assert.False(t, h.interest(backend).Has(connection.Writable))

	backend.Feed([]byte("dropped"))
	h.event(backend, connection.Readable)
	h.event(client, connection.Writable)
	assert.Empty(t, client.Written())
	assert.Equal(t, 1, h.srv.registry.Len())
}

func TestShutdownTearsDownPairs(t *testing.T) {
	h := newHarness(t, Config{})
	c1, b1 := h.connect()
	c2, b2 := h.connect()
	require.NoError(t, h.srv.Check(context.Background()))

	require.NoError(t, h.srv.shutdown())
	for _, c := range []*fakeConn{c1, b1, c2, b2} {
		assert.True(t, c.Closed())
	}
	assert.Equal(t, 2, h.handler.disconnectCalled)
	assert.Zero(t, h.srv.handles.InUse())
	assert.True(t, h.listener.closed)
	assert.True(t, h.poller.closed)
	assert.ErrorIs(t, h.srv.Check(context.Background()), ErrNotRunning)
}

func TestListenStopsOnCancel(t *testing.T) {
	l, p := &fakeListener{}, newFakePoller()
	srv := New(Config{TargetAddress: "127.0.0.1:1", Logger: discard(), PollInterval: 10 * time.Millisecond}, nil,
		WithListener(l), WithPoller(p), WithDialer(func() (Conn, error) { return nil, errors.New("unused") }))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Listen(ctx) }()

	select {
	case <-srv.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("server not ready")
	}
	assert.Equal(t, "127.0.0.1:6380", srv.Addr())
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Listen did not return")
	}
	assert.True(t, l.closed)
	assert.True(t, p.closed)
}

func TestUnknownHookRejected(t *testing.T) {
	for _, cfg := range []Config{
		{Protocol: ProtocolHTTP, Hook: "prefix"},
		{Protocol: ProtocolRedis, Hook: "header"},
		{Protocol: "smtp"},
	} {
		_, err := newHooks(cfg, discard())
		assert.Error(t, err, "%+v", cfg)
	}

	hk, err := newHooks(Config{Protocol: ProtocolRedis, Hook: " Prefix + LOG "}, discard())
	require.NoError(t, err)
	assert.NotNil(t, hk.redis)
}
