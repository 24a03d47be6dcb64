// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package redis

import (
	"github.com/absmach/evproxy/pkg/connection"
	"github.com/absmach/evproxy/pkg/parser"
)

// Protocol is the name used in logs and metrics.
const Protocol = "redis"

// Interceptor frames client commands and server replies and hands each one
// to a Proxy.
type Interceptor struct {
	proxy Proxy
}

var _ parser.Interceptor = (*Interceptor)(nil)

// NewInterceptor creates an interceptor consulting p.
func NewInterceptor(p Proxy) *Interceptor {
	if p == nil {
		p = NoopProxy{}
	}
	return &Interceptor{proxy: p}
}

// New wraps c so that commands read from it and replies written to it pass
// through p.
func New(c connection.Connection, p Proxy, opts ...parser.Option) *parser.Connection {
	opts = append([]parser.Option{parser.WithProtocol(Protocol)}, opts...)
	return parser.NewConnection(c, NewInterceptor(p), opts...)
}

func (i *Interceptor) Intercept(dir parser.Direction, data []byte) (int, parser.Action, error) {
	parse, hook := ParseCommand, i.proxy.OnCommand
	if dir == parser.Downstream {
		parse, hook = ParseReply, i.proxy.OnResponse
	}

	v, n, err := parse(data)
	if err != nil || n == 0 {
		return 0, parser.Action{}, err
	}

	v, verdict := hook(v)
	switch verdict {
	case parser.Modify:
		return n, parser.ModifyAction(v.Bytes()), nil
	case parser.Wait:
		return n, parser.WaitAction(), nil
	case parser.Abort:
		return n, parser.AbortAction(), nil
	default:
		return n, parser.ForwardAction(), nil
	}
}
