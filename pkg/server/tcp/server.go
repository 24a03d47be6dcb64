// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package tcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/absmach/evproxy/pkg/breaker"
	"github.com/absmach/evproxy/pkg/connection"
	perrors "github.com/absmach/evproxy/pkg/errors"
	"github.com/absmach/evproxy/pkg/handle"
	"github.com/absmach/evproxy/pkg/handler"
	"github.com/absmach/evproxy/pkg/metrics"
	"github.com/absmach/evproxy/pkg/proxy"
	"github.com/absmach/evproxy/pkg/ratelimit"
	"github.com/absmach/evproxy/pkg/reactor"
	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
)

const (
	// DefaultPollInterval bounds how long the loop sleeps without events,
	// which is also how quickly it notices cancellation.
	DefaultPollInterval = 100 * time.Millisecond

	// DefaultBufferSize is the initial size of every connection buffer.
	DefaultBufferSize = 4096

	// eventBatch is the number of readiness events taken per wait.
	eventBatch = 256
)

// Protocols the server can intercept. ProtocolTCP relays bytes untouched.
const (
	ProtocolTCP   = "tcp"
	ProtocolHTTP  = "http"
	ProtocolRedis = "redis"
	ProtocolMQTT  = "mqtt"
)

// ErrNotRunning is reported by Check before Listen is ready or after it returned.
var ErrNotRunning = errors.New("server is not running")

// Config holds the TCP server configuration.
type Config struct {
	// Address is the listen address (host:port)
	Address string

	// TargetAddress is the backend server address to proxy to (host:port)
	TargetAddress string

	// Protocol selects interception: tcp, http, redis or mqtt.
	Protocol string

	// Hook lists the proxy hooks, joined by "+", in the order requests see
	// them. HTTP accepts noop, log and header; Redis accepts noop, log and
	// prefix. Ignored for tcp and mqtt.
	Hook string

	// KeyPrefix is the Redis key prefix used by the prefix hook.
	KeyPrefix string

	// Throttle limits the client-facing side to one read and one write per
	// ThrottleInterval.
	Throttle         bool
	ThrottleInterval time.Duration

	// Poison discards all client traffic while keeping pairs registered.
	Poison bool

	// HandleCapacity is the size of the watch handle pool. The listener
	// takes one handle and every pair takes two.
	HandleCapacity int

	// BufferSize is the initial size of connection buffers.
	BufferSize int

	// Backlog is the listen backlog.
	Backlog int

	// PollInterval is the longest the loop waits for events.
	PollInterval time.Duration

	// Logger for server events
	Logger *slog.Logger
}

// Conn is an accepted or dialed non-blocking socket.
type Conn interface {
	connection.Socket
	RemoteAddr() string
}

// Listener accepts non-blocking sockets. Accept returns
// connection.ErrWouldBlock once the backlog is empty.
type Listener interface {
	Accept() (Conn, error)
	Fd() int
	Addr() net.Addr
	Close() error
}

// Dialer starts a non-blocking connection to the backend.
type Dialer func() (Conn, error)

// Option configures a Server.
type Option func(*Server)

// WithPoller replaces the platform poller.
func WithPoller(p reactor.Poller) Option {
	return func(s *Server) { s.poller = p }
}

// WithListener replaces the platform listener.
func WithListener(l Listener) Option {
	return func(s *Server) { s.listener = l }
}

// WithDialer replaces the platform dialer.
func WithDialer(d Dialer) Option {
	return func(s *Server) { s.dial = d }
}

// WithClock sets the time source of timers and pair lifetimes.
func WithClock(c clock.Clock) Option {
	return func(s *Server) { s.clock = c }
}

// WithMetrics sets the metrics the server reports to.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithBreaker guards backend dials with cb.
func WithBreaker(cb *breaker.CircuitBreaker) Option {
	return func(s *Server) { s.breaker = cb }
}

// WithAcceptLimit shapes accepted clients with a global bucket.
func WithAcceptLimit(tb *ratelimit.TokenBucket) Option {
	return func(s *Server) { s.acceptLimit = tb }
}

// WithClientLimit shapes accepted clients per remote host.
func WithClientLimit(l *ratelimit.Limiter) Option {
	return func(s *Server) { s.clientLimit = l }
}

// session is the per-pair state the driver keeps beside the registry.
type session struct {
	hctx       *handler.Context
	registered [2]connection.Interest
}

// Server is a single-goroutine reactor that pairs every accepted client with
// a backend connection and relays bytes between them.
type Server struct {
	config  Config
	handler handler.Handler
	logger  *slog.Logger
	clock   clock.Clock
	metrics *metrics.Metrics

	breaker     *breaker.CircuitBreaker
	acceptLimit *ratelimit.TokenBucket
	clientLimit *ratelimit.Limiter

	poller   reactor.Poller
	listener Listener
	dial     Dialer

	handles   *handle.Allocator
	registry  *proxy.Registry
	sessions  map[proxy.PairID]*session
	timers    timerQueue
	listenH   handle.Handle
	hooks     hooks
	events    []reactor.Event
	inBatch   bool
	released  []handle.Handle
	baseCtx   context.Context
	readyOnce sync.Once
	ready     chan struct{}
	running   atomic.Bool
	pairs     atomic.Int64
	inUse     atomic.Int64
	addr      atomic.Value
}

// New creates a new TCP server with the given configuration and handler.
func New(cfg Config, h handler.Handler, opts ...Option) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Protocol == "" {
		cfg.Protocol = ProtocolTCP
	}
	if cfg.HandleCapacity <= 0 {
		cfg.HandleCapacity = handle.DefaultCapacity
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if h == nil {
		h = &handler.NoopHandler{}
	}

	s := &Server{
		config:   cfg,
		handler:  h,
		logger:   cfg.Logger,
		clock:    clock.New(),
		handles:  handle.NewAllocator(cfg.HandleCapacity),
		registry: proxy.NewRegistry(),
		sessions: make(map[proxy.PairID]*session),
		events:   make([]reactor.Event, eventBatch),
		ready:    make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.New("")
	}
	return s
}

// Listen starts the TCP server and blocks until the context is cancelled.
// Every live pair is torn down before it returns.
func (s *Server) Listen(ctx context.Context) error {
	if err := s.start(ctx); err != nil {
		return err
	}
	s.logger.Info("TCP server started",
		slog.String("address", s.Addr()),
		slog.String("target", s.config.TargetAddress),
		slog.String("protocol", s.config.Protocol))

	err := s.run(ctx)

	s.logger.Info("shutdown signal received, closing pairs", slog.Int("pairs", s.registry.Len()))
	if cerr := s.shutdown(); cerr != nil {
		err = multierr.Append(err, cerr)
	}
	return err
}

// Ready is closed once the listener is registered and Addr is valid.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound listen address, or "" before Listen is ready.
func (s *Server) Addr() string {
	if a, ok := s.addr.Load().(string); ok {
		return a
	}
	return ""
}

// Pairs returns the number of linked pairs. Safe for concurrent use.
func (s *Server) Pairs() int {
	return int(s.pairs.Load())
}

// Check reports whether the server accepts new pairs. It is meant for
// health probes and is safe for concurrent use.
func (s *Server) Check(context.Context) error {
	if !s.running.Load() {
		return ErrNotRunning
	}
	if int(s.inUse.Load())+2 > s.config.HandleCapacity {
		return perrors.ErrHandlesExhausted
	}
	return nil
}

func (s *Server) start(ctx context.Context) error {
	s.baseCtx = context.WithoutCancel(ctx)

	hk, err := newHooks(s.config, s.logger)
	if err != nil {
		return err
	}
	s.hooks = hk

	if s.dial == nil {
		target, err := net.ResolveTCPAddr("tcp", s.config.TargetAddress)
		if err != nil {
			return fmt.Errorf("failed to resolve target %s: %w", s.config.TargetAddress, err)
		}
		s.dial = func() (Conn, error) {
			c, err := reactor.DialTCP(target)
			if err != nil {
				return nil, err
			}
			return c, nil
		}
	}
	if s.listener == nil {
		l, err := reactor.Listen(s.config.Address, s.config.Backlog)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", s.config.Address, err)
		}
		s.listener = reactorListener{l}
	}
	if s.poller == nil {
		p, err := reactor.NewPoller()
		if err != nil {
			s.listener.Close()
			return err
		}
		s.poller = p
	}

	h, ok := s.handles.Claim()
	if !ok {
		s.listener.Close()
		return perrors.ErrHandlesExhausted
	}
	s.listenH = h
	s.updateHandles()
	if err := s.poller.Add(s.listener.Fd(), h, connection.Readable|connection.Always); err != nil {
		s.listener.Close()
		return fmt.Errorf("failed to register listener: %w", err)
	}

	if a := s.listener.Addr(); a != nil {
		s.addr.Store(a.String())
	} else {
		s.addr.Store(s.config.Address)
	}
	s.running.Store(true)
	s.readyOnce.Do(func() { close(s.ready) })
	return nil
}

func (s *Server) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, err := s.poller.Wait(s.events, s.pollTimeout())
		if err != nil {
			return fmt.Errorf("poller failed: %w", err)
		}
		s.dispatchBatch(s.events[:n])
		s.fireTimers()
	}
}

// dispatchBatch handles one wait's events. Handles released while it runs
// are only returned to the allocator afterwards, so an event still queued
// for a torn down pair never reaches a pair accepted later in the batch.
func (s *Server) dispatchBatch(events []reactor.Event) {
	s.inBatch = true
	for _, ev := range events {
		s.handleEvent(ev)
	}
	s.inBatch = false

	for _, h := range s.released {
		s.handles.Release(h)
	}
	if len(s.released) > 0 {
		s.released = s.released[:0]
		s.updateHandles()
	}
}

// releaseHandle frees h now, or at the end of the current batch.
func (s *Server) releaseHandle(h handle.Handle) {
	if s.inBatch {
		s.released = append(s.released, h)
		return
	}
	s.handles.Release(h)
}

// pollTimeout is the poll interval shortened to the earliest timer deadline.
func (s *Server) pollTimeout() time.Duration {
	timeout := s.config.PollInterval
	if next, ok := s.timers.next(); ok {
		if d := s.clock.Until(next); d < timeout {
			timeout = max(d, 0)
		}
	}
	return timeout
}

func (s *Server) shutdown() error {
	s.running.Store(false)

	var ids []proxy.PairID
	s.registry.Each(func(id proxy.PairID, _ *proxy.Pair) {
		ids = append(ids, id)
	})
	for _, id := range ids {
		s.teardown(id, "shutdown")
	}

	var err error
	if derr := s.poller.Delete(s.listener.Fd()); derr != nil {
		s.logger.Debug("failed to deregister listener", slog.String("error", derr.Error()))
	}
	s.handles.Release(s.listenH)
	s.updateHandles()
	err = multierr.Append(err, s.listener.Close())
	err = multierr.Append(err, s.poller.Close())
	if s.clientLimit != nil {
		s.clientLimit.Close()
	}
	return err
}

func (s *Server) updateHandles() {
	n := s.handles.InUse()
	s.inUse.Store(int64(n))
	s.metrics.HandlesInUse.Set(float64(n))
}

// reactorListener adapts reactor.Listener to Listener.
type reactorListener struct {
	*reactor.Listener
}

func (l reactorListener) Accept() (Conn, error) {
	c, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	return c, nil
}
