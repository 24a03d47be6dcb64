// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package tcp

import (
	"fmt"
	"log/slog"

	"github.com/absmach/evproxy/pkg/connection"
	perrors "github.com/absmach/evproxy/pkg/errors"
	"github.com/absmach/evproxy/pkg/handle"
	"github.com/absmach/evproxy/pkg/parser"
	"github.com/absmach/evproxy/pkg/proxy"
	"github.com/absmach/evproxy/pkg/reactor"
)

var roles = [2]proxy.Role{proxy.Downstream, proxy.Upstream}

// handleEvent routes one readiness event to the listener or to a pair.
func (s *Server) handleEvent(ev reactor.Event) {
	if ev.Handle == s.listenH {
		if ev.Ready&connection.Error != 0 {
			s.logger.Warn("listener reported an error")
		}
		s.acceptAll()
		return
	}

	e, p, err := s.resolve(ev.Handle)
	if err != nil {
		s.logger.Debug("event ignored",
			slog.String("ready", ev.Ready.String()),
			slog.String("error", err.Error()))
		return
	}
	if s.dispatch(e.ID, p, e.Role, ev.Ready) {
		s.register(e.ID, p)
	}
}

// resolve finds the live pair a handle belongs to.
func (s *Server) resolve(h handle.Handle) (proxy.Entry, *proxy.Pair, error) {
	e, ok := s.registry.Lookup(h)
	if !ok {
		return proxy.Entry{}, nil, fmt.Errorf("%w: %s", perrors.ErrUnknownHandle, h)
	}
	p, ok := s.registry.Pair(e.ID)
	if !ok {
		return proxy.Entry{}, nil, fmt.Errorf("%w: %s of %s", perrors.ErrUnknownHandle, h, e.ID)
	}
	return e, p, nil
}

// failure describes why one side of a pair stopped, as recorded by its
// connection layers.
func (s *Server) failure(id proxy.PairID, p *proxy.Pair, role proxy.Role, op string, err error) error {
	c := p.Conn(role)
	if err == nil {
		err = connection.Cause(c)
	}
	if err == nil {
		err = perrors.ErrConnectionClosed
	}
	return perrors.New(op, role.String(), c.Handle().Int(), s.remote(id, role), err)
}

// remote returns the peer address of one side of a pair.
func (s *Server) remote(id proxy.PairID, role proxy.Role) string {
	if role == proxy.Upstream {
		return s.config.TargetAddress
	}
	if sess, ok := s.sessions[id]; ok {
		return sess.hctx.RemoteAddr
	}
	return ""
}

// dispatch handles ready conditions of one side in read, write, hangup
// order. It reports false once the pair has been torn down.
func (s *Server) dispatch(id proxy.PairID, p *proxy.Pair, role proxy.Role, ready connection.Interest) bool {
	if ready&connection.Readable != 0 && !s.readable(id, p, role) {
		return false
	}
	if ready&connection.Writable != 0 && !s.writable(id, p, role) {
		return false
	}
	if ready&(connection.Hangup|connection.Error) != 0 {
		return s.hangup(id, p, role)
	}
	return true
}

// readable drains the side while it keeps producing and still wants reads.
func (s *Server) readable(id proxy.PairID, p *proxy.Pair, role proxy.Role) bool {
	c := p.Conn(role)
	for c.Interest().Has(connection.Readable) {
		switch c.HandleRead() {
		case connection.Forward:
			s.forward(p, role)
		case connection.Hold:
		case connection.Halt:
			s.teardown(id, s.failure(id, p, role, "read", nil).Error())
			return false
		default:
			return true
		}
	}
	return true
}

// forward moves everything the side has released to its peer.
func (s *Server) forward(p *proxy.Pair, role proxy.Role) {
	total := 0
	for {
		n, err := p.Forward(role)
		if err != nil {
			s.logger.Warn("failed to forward",
				slog.String("role", role.String()),
				slog.String("error", err.Error()))
			break
		}
		if n == 0 {
			break
		}
		total += n
	}
	if total == 0 {
		return
	}
	s.metrics.Forwarded(s.config.Protocol, direction(role), total)
	// The peer may have staged output or, if it intercepts, aborted; both
	// surface on its next write.
	p.Peer(role).Want(connection.Writable)
}

// writable flushes the side. A drained client whose backend already hung up
// ends the pair.
func (s *Server) writable(id proxy.PairID, p *proxy.Pair, role proxy.Role) bool {
	c := p.Conn(role)
	if !c.Interest().Has(connection.Writable) {
		return true
	}
	if c.HandleWrite() == connection.Halt {
		s.teardown(id, s.failure(id, p, role, "write", nil).Error())
		return false
	}
	if c.Pending() > 0 {
		return true
	}
	if role == proxy.Downstream && p.IsUpstreamClosed() {
		s.teardown(id, "drained after backend hangup")
		return false
	}
	c.Drop(connection.Writable)
	return true
}

// hangup ends the pair when the client goes away. When the backend goes
// away the client is first sent whatever is still staged for it.
func (s *Server) hangup(id proxy.PairID, p *proxy.Pair, role proxy.Role) bool {
	if role == proxy.Downstream {
		s.teardown(id, "client hangup")
		return false
	}
	p.MarkUpstreamClosed()
	down := p.Conn(proxy.Downstream)
	if down.Pending() == 0 {
		s.teardown(id, "backend hangup")
		return false
	}
	down.Want(connection.Writable)
	return true
}

// register updates the poller with each side's current interest. Modifying
// re-arms edges, so an unchanged interest is left alone.
func (s *Server) register(id proxy.PairID, p *proxy.Pair) {
	sess, ok := s.sessions[id]
	if !ok {
		return
	}
	for i, role := range roles {
		c := p.Conn(role)
		interest := c.Interest()
		if interest == sess.registered[i] {
			continue
		}
		if err := s.poller.Modify(c.Fd(), c.Handle(), interest); err != nil {
			err = s.failure(id, p, role, "register", err)
			s.logger.Error("failed to update interest",
				slog.String("session", sess.hctx.SessionID),
				slog.String("error", err.Error()))
			s.teardown(id, err.Error())
			return
		}
		sess.registered[i] = interest
	}
}

// teardown deregisters, unlinks and closes a pair and releases its handles.
// Tearing down an already unlinked pair does nothing.
func (s *Server) teardown(id proxy.PairID, reason string) {
	p, ok := s.registry.Unlink(id)
	if !ok {
		return
	}
	sess := s.sessions[id]

	for _, role := range roles {
		c := p.Conn(role)
		if err := s.poller.Delete(c.Fd()); err != nil {
			s.logger.Debug("failed to deregister connection",
				slog.String("error", s.failure(id, p, role, "deregister", err).Error()))
		}
		s.releaseHandle(c.Handle())
	}
	if err := p.Close(); err != nil {
		s.logger.Debug("failed to close pair", slog.String("error", err.Error()))
	}
	delete(s.sessions, id)
	s.pairs.Add(-1)
	s.updateHandles()

	if sess == nil {
		return
	}
	s.metrics.PairClosed(s.config.Protocol, s.clock.Since(sess.hctx.Opened).Seconds())
	if err := s.handler.OnDisconnect(s.baseCtx, sess.hctx); err != nil {
		s.logger.Error("disconnect handler error",
			slog.String("session", sess.hctx.SessionID),
			slog.String("error", err.Error()))
	}
	s.logger.Debug("pair closed",
		slog.String("session", sess.hctx.SessionID),
		slog.String("pair", id.String()),
		slog.String("reason", reason))
}

// fireTimers runs every due timer of a live pair and reschedules those that
// ask to continue.
func (s *Server) fireTimers() {
	now := s.clock.Now()
	for {
		te, ok := s.timers.popDue(now)
		if !ok {
			return
		}
		e, ok := s.registry.Lookup(te.h)
		if !ok || e.ID != te.id {
			continue
		}
		p, ok := s.registry.Pair(e.ID)
		if !ok {
			continue
		}
		if te.timer.HandleTimer() == connection.Continue {
			s.timers.schedule(now.Add(te.timer.Frequency()), te.h, te.id, te.timer)
		}
		s.register(e.ID, p)
	}
}

// direction maps the side bytes are read from to the way they travel.
func direction(from proxy.Role) parser.Direction {
	if from == proxy.Downstream {
		return parser.Upstream
	}
	return parser.Downstream
}
