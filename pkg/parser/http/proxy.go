// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package http

import (
	"log/slog"

	"github.com/absmach/evproxy/pkg/parser"
)

const (
	// MarkerHeader is the header AddHeaderProxy appends to every request.
	MarkerHeader = "X-Evproxy"

	// MarkerValue is the value of MarkerHeader.
	MarkerValue = "v0.1"
)

// Proxy is consulted for every complete request and response.
type Proxy interface {
	// OnRequest judges a request travelling to the backend.
	OnRequest(req *Request) parser.Action

	// OnResponse judges a response travelling to the client.
	OnResponse(resp *Response) parser.Action
}

// NoopProxy forwards everything.
type NoopProxy struct{}

var _ Proxy = (*NoopProxy)(nil)

func (NoopProxy) OnRequest(*Request) parser.Action   { return parser.ForwardAction() }
func (NoopProxy) OnResponse(*Response) parser.Action { return parser.ForwardAction() }

// LoggerProxy logs every message and forwards it.
type LoggerProxy struct {
	Logger *slog.Logger
}

var _ Proxy = (*LoggerProxy)(nil)

// NewLoggerProxy returns a LoggerProxy writing to logger.
func NewLoggerProxy(logger *slog.Logger) *LoggerProxy {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggerProxy{Logger: logger}
}

func (p *LoggerProxy) OnRequest(req *Request) parser.Action {
	logRequest(p.Logger, req)
	return parser.ForwardAction()
}

func (p *LoggerProxy) OnResponse(resp *Response) parser.Action {
	p.Logger.Info("http response",
		slog.Int("code", resp.Code),
		slog.String("reason", resp.Reason),
		slog.Any("headers", headerAttrs(resp.Headers)),
		slog.Int("body_bytes", len(resp.Body)),
		slog.Bool("chunked", resp.Chunked),
		slog.Bool("until_close", resp.UntilClose))
	return parser.ForwardAction()
}

// AddHeaderProxy re-encodes every request with the marker header appended
// after the existing ones. Responses are forwarded.
type AddHeaderProxy struct {
	Logger *slog.Logger
}

var _ Proxy = (*AddHeaderProxy)(nil)

// NewAddHeaderProxy returns an AddHeaderProxy logging to logger.
func NewAddHeaderProxy(logger *slog.Logger) *AddHeaderProxy {
	if logger == nil {
		logger = slog.Default()
	}
	return &AddHeaderProxy{Logger: logger}
}

func (p *AddHeaderProxy) OnRequest(req *Request) parser.Action {
	logRequest(p.Logger, req)
	return parser.ModifyAction(req.WithHeader(MarkerHeader, MarkerValue).Bytes())
}

func (p *AddHeaderProxy) OnResponse(*Response) parser.Action {
	return parser.ForwardAction()
}

// Compose chains two proxies. Requests pass through b and then a;
// responses pass through a and then b. Bytes modified by the first stage
// are parsed again for the second. Wait and Abort stop the chain.
func Compose(a, b Proxy) Proxy {
	return &composed{a: a, b: b}
}

type composed struct {
	a, b Proxy
}

func (c *composed) OnRequest(req *Request) parser.Action {
	first := c.b.OnRequest(req)
	switch first.Verdict {
	case parser.Wait, parser.Abort:
		return first
	case parser.Modify:
		next, n, err := ParseRequest(first.Data)
		if err != nil || n == 0 {
			return first
		}
		req = next
	}
	return merge(first, c.a.OnRequest(req))
}

func (c *composed) OnResponse(resp *Response) parser.Action {
	first := c.a.OnResponse(resp)
	switch first.Verdict {
	case parser.Wait, parser.Abort:
		return first
	case parser.Modify:
		next, n, err := ParseResponse(first.Data)
		if err != nil || n == 0 {
			return first
		}
		resp = next
	}
	return merge(first, c.b.OnResponse(resp))
}

// merge keeps the first stage's modification when the second forwards.
func merge(first, second parser.Action) parser.Action {
	if second.Verdict == parser.Forward && first.Verdict == parser.Modify {
		return first
	}
	return second
}

func logRequest(logger *slog.Logger, req *Request) {
	logger.Info("http request",
		slog.String("method", req.Method),
		slog.String("path", req.Path),
		slog.Int("minor", req.Minor),
		slog.Any("headers", headerAttrs(req.Headers)),
		slog.Int("body_bytes", len(req.Body)),
		slog.Bool("chunked", req.Chunked))
}

func headerAttrs(headers []Header) []string {
	out := make([]string, 0, len(headers))
	for _, h := range headers {
		out = append(out, h.Name+": "+string(h.Value))
	}
	return out
}
