// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package tcp

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/absmach/evproxy/pkg/parser/http"
	"github.com/absmach/evproxy/pkg/parser/redis"
)

// Hook names accepted in Config.Hook.
const (
	HookNoop   = "noop"
	HookLog    = "log"
	HookHeader = "header"
	HookPrefix = "prefix"
)

// hooks holds the stateless proxy hooks shared by every pair.
type hooks struct {
	http  http.Proxy
	redis redis.Proxy
}

func newHooks(cfg Config, logger *slog.Logger) (hooks, error) {
	names := splitHooks(cfg.Hook)

	switch cfg.Protocol {
	case ProtocolTCP, ProtocolMQTT:
		return hooks{}, nil
	case ProtocolHTTP:
		var p http.Proxy
		for _, name := range names {
			var next http.Proxy
			switch name {
			case HookNoop:
				next = http.NoopProxy{}
			case HookLog:
				next = http.NewLoggerProxy(logger)
			case HookHeader:
				next = http.NewAddHeaderProxy(logger)
			default:
				return hooks{}, fmt.Errorf("unknown http hook %q", name)
			}
			p = composeHTTP(p, next)
		}
		return hooks{http: p}, nil
	case ProtocolRedis:
		var p redis.Proxy
		for _, name := range names {
			var next redis.Proxy
			switch name {
			case HookNoop:
				next = redis.NoopProxy{}
			case HookLog:
				next = redis.NewLogProxy(logger)
			case HookPrefix:
				next = redis.NewPrefixProxy(cfg.KeyPrefix)
			default:
				return hooks{}, fmt.Errorf("unknown redis hook %q", name)
			}
			p = composeRedis(p, next)
		}
		return hooks{redis: p}, nil
	default:
		return hooks{}, fmt.Errorf("unknown protocol %q", cfg.Protocol)
	}
}

// composeHTTP appends next so that requests reach it after p.
func composeHTTP(p, next http.Proxy) http.Proxy {
	if p == nil {
		return next
	}
	return http.Compose(next, p)
}

// composeRedis appends next so that commands reach it after p.
func composeRedis(p, next redis.Proxy) redis.Proxy {
	if p == nil {
		return next
	}
	return redis.Compose(next, p)
}

func splitHooks(s string) []string {
	var names []string
	for _, name := range strings.Split(s, "+") {
		if name = strings.ToLower(strings.TrimSpace(name)); name != "" {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		names = []string{HookNoop}
	}
	return names
}
