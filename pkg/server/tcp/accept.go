// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package tcp

import (
	"errors"
	"log/slog"
	"net"

	"github.com/absmach/evproxy/pkg/connection"
	perrors "github.com/absmach/evproxy/pkg/errors"
	"github.com/absmach/evproxy/pkg/handler"
	"github.com/absmach/evproxy/pkg/metrics"
	"github.com/absmach/evproxy/pkg/parser"
	"github.com/absmach/evproxy/pkg/parser/http"
	"github.com/absmach/evproxy/pkg/parser/mqtt"
	"github.com/absmach/evproxy/pkg/parser/redis"
	"github.com/absmach/evproxy/pkg/proxy"
)

// acceptAll drains the listen backlog.
func (s *Server) acceptAll() {
	for {
		sock, err := s.listener.Accept()
		if err != nil {
			if !errors.Is(err, connection.ErrWouldBlock) {
				s.logger.Error("failed to accept connection", slog.String("error", err.Error()))
			}
			return
		}
		s.open(sock)
	}
}

// open pairs an accepted client with a new backend connection. On any
// failure the client is closed and every claimed handle is released.
func (s *Server) open(client Conn) {
	remote := client.RemoteAddr()

	if reason, ok := s.admit(remote); !ok {
		s.reject(client, reason, perrors.ErrRateLimited)
		return
	}

	dh, ok := s.handles.Claim()
	if !ok {
		s.reject(client, metrics.ReasonHandlesExhausted, perrors.ErrHandlesExhausted)
		return
	}
	uh, ok := s.handles.Claim()
	if !ok {
		s.handles.Release(dh)
		s.reject(client, metrics.ReasonHandlesExhausted, perrors.ErrHandlesExhausted)
		return
	}
	release := func() {
		s.handles.Release(dh)
		s.handles.Release(uh)
	}

	backend, err := s.dialBackend()
	if err != nil {
		release()
		reason := metrics.ReasonDialFailed
		if errors.Is(err, perrors.ErrBackendUnavailable) {
			reason = metrics.ReasonCircuitOpen
		}
		s.reject(client, reason, err)
		return
	}

	hctx := handler.NewContext(remote, s.config.Protocol, dh, uh)
	hctx.Opened = s.clock.Now()
	// MQTT authenticates on CONNECT, from inside the interceptor.
	if s.config.Protocol != ProtocolMQTT {
		if err := s.handler.AuthConnect(s.baseCtx, hctx); err != nil {
			release()
			backend.Close()
			s.reject(client, metrics.ReasonAuth, err)
			return
		}
	}

	down := s.decorate(connection.NewBase(client, dh, s.config.BufferSize, s.logger), hctx)
	up := connection.NewBase(backend, uh, s.config.BufferSize, s.logger)
	pair := proxy.NewPair(down, up, proxy.WithLogger(s.logger))

	id, err := s.registry.Link(pair)
	if err != nil {
		release()
		backend.Close()
		s.reject(client, metrics.ReasonRegister, err)
		return
	}
	sess := &session{hctx: hctx}
	s.sessions[id] = sess
	s.pairs.Add(1)
	s.updateHandles()
	s.metrics.PairOpened(s.config.Protocol)

	for i, c := range []connection.Connection{down, up} {
		interest := c.Interest()
		if err := s.poller.Add(c.Fd(), c.Handle(), interest); err != nil {
			err = s.failure(id, pair, roles[i], "register", err)
			s.logger.Error("failed to register connection",
				slog.String("session", hctx.SessionID),
				slog.String("error", err.Error()))
			s.teardown(id, err.Error())
			return
		}
		sess.registered[i] = interest
		for _, t := range connection.Timers(c) {
			s.timers.schedule(s.clock.Now().Add(t.Frequency()), c.Handle(), id, t)
		}
	}

	if s.config.Protocol != ProtocolMQTT {
		if err := s.handler.OnConnect(s.baseCtx, hctx); err != nil {
			s.logger.Warn("connect handler error",
				slog.String("session", hctx.SessionID),
				slog.String("error", err.Error()))
		}
	}

	s.logger.Debug("pair established",
		slog.String("session", hctx.SessionID),
		slog.String("client", remote),
		slog.String("backend", s.config.TargetAddress),
		slog.String("pair", id.String()),
		slog.Int("downstream", dh.Int()),
		slog.Int("upstream", uh.Int()))
}

// admit applies the accept rate limits.
func (s *Server) admit(remote string) (string, bool) {
	if s.acceptLimit != nil && !s.acceptLimit.Allow() {
		s.metrics.RateLimitedRequests.WithLabelValues(s.config.Protocol, "global").Inc()
		return metrics.ReasonRateLimited, false
	}
	if s.clientLimit != nil && !s.clientLimit.Allow(hostOf(remote)) {
		s.metrics.RateLimitedRequests.WithLabelValues(s.config.Protocol, "client").Inc()
		return metrics.ReasonRateLimited, false
	}
	return "", true
}

func (s *Server) dialBackend() (Conn, error) {
	if s.breaker == nil {
		return s.dial()
	}
	if err := s.breaker.Allow(); err != nil {
		return nil, err
	}
	c, err := s.dial()
	s.breaker.Record(err)
	return c, err
}

// decorate wraps the client-facing connection: interception innermost, then
// throttling, then poisoning.
func (s *Server) decorate(c connection.Connection, hctx *handler.Context) connection.Connection {
	opts := []parser.Option{parser.WithLogger(s.logger), parser.WithObserver(s.metrics)}

	switch s.config.Protocol {
	case ProtocolHTTP:
		c = http.New(c, s.hooks.http, opts...)
	case ProtocolRedis:
		c = redis.New(c, s.hooks.redis, opts...)
	case ProtocolMQTT:
		c = mqtt.New(s.baseCtx, c, s.handler, hctx, s.logger, opts...)
	}
	if s.config.Throttle {
		c = connection.NewThrottler(c, s.config.ThrottleInterval)
	}
	if s.config.Poison {
		c = connection.NewPoison(c)
	}
	return c
}

func (s *Server) reject(client Conn, reason string, err error) {
	s.metrics.Rejected(s.config.Protocol, reason)
	s.logger.Warn("rejected client",
		slog.String("client", client.RemoteAddr()),
		slog.String("reason", reason),
		slog.String("error", err.Error()))
	if cerr := client.Close(); cerr != nil {
		s.logger.Debug("failed to close client", slog.String("error", cerr.Error()))
	}
}

func hostOf(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
