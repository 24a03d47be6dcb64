// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package redis

import (
	"bytes"
	"log/slog"
	"strings"

	"github.com/absmach/evproxy/pkg/parser"
)

// DefaultPrefix is the key prefix used when PrefixProxy has none configured.
const DefaultPrefix = "prefix"

// Proxy is consulted for every complete command and reply. A Modify
// verdict re-encodes the returned value in place of the original bytes.
type Proxy interface {
	OnCommand(cmd Value) (Value, parser.Verdict)
	OnResponse(resp Value) (Value, parser.Verdict)
}

// NoopProxy forwards everything.
type NoopProxy struct{}

var _ Proxy = (*NoopProxy)(nil)

func (NoopProxy) OnCommand(cmd Value) (Value, parser.Verdict)    { return cmd, parser.Forward }
func (NoopProxy) OnResponse(resp Value) (Value, parser.Verdict) { return resp, parser.Forward }

// LogProxy logs every command and reply.
type LogProxy struct {
	Logger *slog.Logger
}

var _ Proxy = (*LogProxy)(nil)

// NewLogProxy returns a LogProxy writing to logger.
func NewLogProxy(logger *slog.Logger) *LogProxy {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogProxy{Logger: logger}
}

func (p *LogProxy) OnCommand(cmd Value) (Value, parser.Verdict) {
	p.Logger.Info("redis command", slog.String("command", cmd.String()))
	return cmd, parser.Forward
}

func (p *LogProxy) OnResponse(resp Value) (Value, parser.Verdict) {
	p.Logger.Info("redis reply",
		slog.String("kind", resp.Kind.String()),
		slog.String("reply", resp.String()))
	return resp, parser.Forward
}

// keyCommands take their key as the first argument.
var keyCommands = map[string]struct{}{}

func init() {
	for _, name := range strings.Fields(`
		APPEND BITCOUNT BITPOS DECR DECRBY DUMP EXPIRE EXPIREAT
		GEOADD GEOHASH GEOPOS GEODIST GEORADIUS GEORADIUSBYMEMBER
		GET GETBIT GETRANGE GETSET
		HDEL HEXISTS HGET HGETALL HINCRBY HINCRBYFLOAT HKEYS HLEN HMGET HMSET
		HSET HSETNX HSTRLEN HVALS
		INCR INCRBY INCRBYFLOAT
		LINDEX LINSERT LLEN LPOP LPUSH LPUSHX LRANGE LREM LSET LTRIM
		MOVE PERSIST PEXPIRE PEXPIREAT PFADD PSETEX PTTL RESTORE
		RPOP RPUSH RPUSHX
		SADD SCARD SET SETBIT SETEX SETNX SETRANGE SISMEMBER SMEMBERS SORT
		STRLEN TTL TYPE
		ZADD ZCARD ZCOUNT ZINCRBY ZLEXCOUNT ZRANGE ZRANGEBYLEX ZREVRANGEBYLEX
		ZRANGEBYSCORE ZRANK ZREM ZREMRANGEBYLEX ZREMRANGEBYRANK
		ZREMRANGEBYSCORE ZREVRANGE ZREVRANGEBYSCORE ZREVRANK ZSCORE
		SSCAN HSCAN ZSCAN`) {
		keyCommands[name] = struct{}{}
	}
}

// IsKeyCommand reports whether name, in any case, takes a key as its first argument.
func IsKeyCommand(name string) bool {
	_, ok := keyCommands[strings.ToUpper(name)]
	return ok
}

// PrefixProxy namespaces keys: for every key command the first argument
// becomes "<Prefix>:<key>". Other commands and all replies pass unchanged.
type PrefixProxy struct {
	Prefix string
}

var _ Proxy = (*PrefixProxy)(nil)

// NewPrefixProxy returns a PrefixProxy; an empty prefix selects DefaultPrefix.
func NewPrefixProxy(prefix string) *PrefixProxy {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &PrefixProxy{Prefix: prefix}
}

func (p *PrefixProxy) OnCommand(cmd Value) (Value, parser.Verdict) {
	if cmd.Kind != Array || len(cmd.Array) < 2 {
		return cmd, parser.Forward
	}
	name, key := cmd.Array[0], cmd.Array[1]
	if name.Kind != Bulk || key.Kind != Bulk || !IsKeyCommand(string(name.Str)) {
		return cmd, parser.Forward
	}

	items := make([]Value, len(cmd.Array))
	copy(items, cmd.Array)
	items[1] = NewBulk(bytes.Join([][]byte{[]byte(p.Prefix), key.Str}, []byte(":")))
	return NewArray(items...), parser.Modify
}

func (p *PrefixProxy) OnResponse(resp Value) (Value, parser.Verdict) {
	return resp, parser.Forward
}

// Compose chains two proxies. Commands pass through b and then a; replies
// pass through a and then b. Wait and Abort stop the chain, and a Modify at
// either stage makes the result a Modify.
func Compose(a, b Proxy) Proxy {
	return &composed{a: a, b: b}
}

type composed struct {
	a, b Proxy
}

func (c *composed) OnCommand(cmd Value) (Value, parser.Verdict) {
	return chain(cmd, c.b.OnCommand, c.a.OnCommand)
}

func (c *composed) OnResponse(resp Value) (Value, parser.Verdict) {
	return chain(resp, c.a.OnResponse, c.b.OnResponse)
}

func chain(v Value, first, second func(Value) (Value, parser.Verdict)) (Value, parser.Verdict) {
	v, v1 := first(v)
	if v1 == parser.Wait || v1 == parser.Abort {
		return v, v1
	}
	v, v2 := second(v)
	if v2 == parser.Forward && v1 == parser.Modify {
		return v, parser.Modify
	}
	return v, v2
}
