// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package http

import (
	"strings"

	"github.com/absmach/evproxy/pkg/connection"
	"github.com/absmach/evproxy/pkg/parser"
)

// Protocol is the name used in logs and metrics.
const Protocol = "http"

// Interceptor frames HTTP/1.x messages and hands each one to a Proxy.
//
// It tracks request methods so that replies to HEAD are parsed without a
// body. After a response without framing, a 101 Switching Protocols, or a
// successful CONNECT, the connection stops being HTTP and every remaining
// byte in both directions is forwarded untouched.
type Interceptor struct {
	proxy   Proxy
	methods []string
	tunnel  bool
}

var _ parser.Interceptor = (*Interceptor)(nil)

// NewInterceptor creates an interceptor consulting p.
func NewInterceptor(p Proxy) *Interceptor {
	if p == nil {
		p = NoopProxy{}
	}
	return &Interceptor{proxy: p}
}

// New wraps c so that requests read from it and responses written to it
// pass through p.
func New(c connection.Connection, p Proxy, opts ...parser.Option) *parser.Connection {
	opts = append([]parser.Option{parser.WithProtocol(Protocol)}, opts...)
	return parser.NewConnection(c, NewInterceptor(p), opts...)
}

// Tunnel reports whether the connection switched to pass-through.
func (i *Interceptor) Tunnel() bool {
	return i.tunnel
}

func (i *Interceptor) Intercept(dir parser.Direction, data []byte) (int, parser.Action, error) {
	if i.tunnel {
		return len(data), parser.ForwardAction(), nil
	}
	if dir == parser.Upstream {
		return i.request(data)
	}
	return i.response(data)
}

func (i *Interceptor) request(data []byte) (int, parser.Action, error) {
	req, n, err := ParseRequest(data)
	if err != nil || n == 0 {
		return 0, parser.Action{}, err
	}
	act := i.proxy.OnRequest(req)
	if act.Verdict == parser.Forward || act.Verdict == parser.Modify {
		i.methods = append(i.methods, req.Method)
	}
	return n, act, nil
}

func (i *Interceptor) response(data []byte) (int, parser.Action, error) {
	method := ""
	if len(i.methods) > 0 {
		method = i.methods[0]
	}
	resp, n, err := parseResponse(data, strings.EqualFold(method, "HEAD"))
	if err != nil || n == 0 {
		return 0, parser.Action{}, err
	}

	act := i.proxy.OnResponse(resp)
	if act.Verdict == parser.Wait {
		return n, act, nil
	}

	switch {
	case resp.Code == 101:
		i.tunnel = true
	case resp.Code >= 200:
		if len(i.methods) > 0 {
			i.methods = i.methods[1:]
		}
		if strings.EqualFold(method, "CONNECT") && resp.Code < 300 {
			i.tunnel = true
		}
	}
	if resp.UntilClose {
		i.tunnel = true
	}
	return n, act, nil
}
