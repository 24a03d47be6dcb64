// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package evproxy

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix is the default prefix of every configuration variable.
const EnvPrefix = "EVPROXY_"

var (
	errNoTarget   = errors.New("target port is required")
	errProtocol   = errors.New("protocol must be one of tcp, http, redis, mqtt")
	errCapacity   = errors.New("handle capacity must allow the listener and one pair")
	errBufferSize = errors.New("buffer size must be positive")
	errLogFormat  = errors.New("log format must be json or text")
)

// Config is the proxy configuration read from the environment.
type Config struct {
	Host       string `env:"HOST"        envDefault:""`
	Port       string `env:"PORT"        envDefault:"6380"`
	TargetHost string `env:"TARGET_HOST" envDefault:"localhost"`
	TargetPort string `env:"TARGET_PORT" envDefault:"6379"`

	// Interception
	Protocol  string `env:"PROTOCOL"   envDefault:"tcp"`
	Hook      string `env:"HOOK"       envDefault:"noop"`
	KeyPrefix string `env:"KEY_PREFIX" envDefault:"prefix"`

	// Client-side decorators
	Throttle         bool          `env:"THROTTLE"          envDefault:"false"`
	ThrottleInterval time.Duration `env:"THROTTLE_INTERVAL" envDefault:"2s"`
	Poison           bool          `env:"POISON"            envDefault:"false"`

	// Reactor
	HandleCapacity int           `env:"HANDLE_CAPACITY" envDefault:"4096"`
	BufferSize     int           `env:"BUFFER_SIZE"     envDefault:"4096"`
	Backlog        int           `env:"BACKLOG"         envDefault:"1024"`
	PollInterval   time.Duration `env:"POLL_INTERVAL"   envDefault:"100ms"`

	// Accept shaping, zero capacity disables the limit
	AcceptRateCapacity int64 `env:"ACCEPT_RATE_CAPACITY" envDefault:"0"`
	AcceptRateRefill   int64 `env:"ACCEPT_RATE_REFILL"   envDefault:"0"`
	ClientRateCapacity int64 `env:"CLIENT_RATE_CAPACITY" envDefault:"0"`
	ClientRateRefill   int64 `env:"CLIENT_RATE_REFILL"   envDefault:"0"`
	MaxTrackedClients  int   `env:"MAX_TRACKED_CLIENTS"  envDefault:"10000"`

	// Circuit breaker, zero failures disables it
	BreakerMaxFailures  int           `env:"BREAKER_MAX_FAILURES"  envDefault:"5"`
	BreakerResetTimeout time.Duration `env:"BREAKER_RESET_TIMEOUT" envDefault:"30s"`

	// Observability, zero port disables the server
	MetricsPort int    `env:"METRICS_PORT" envDefault:"9090"`
	HealthPort  int    `env:"HEALTH_PORT"  envDefault:"8080"`
	LogLevel    string `env:"LOG_LEVEL"    envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT"   envDefault:"json"`
}

// NewConfig parses the configuration with opts. An empty prefix means EnvPrefix.
func NewConfig(opts env.Options) (Config, error) {
	if opts.Prefix == "" {
		opts.Prefix = EnvPrefix
	}
	var c Config
	if err := env.ParseWithOptions(&c, opts); err != nil {
		return Config{}, fmt.Errorf("failed to parse configuration: %w", err)
	}
	c.Protocol = strings.ToLower(c.Protocol)
	return c, nil
}

// Address is the listen address.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// TargetAddress is the backend address.
func (c Config) TargetAddress() string {
	return net.JoinHostPort(c.TargetHost, c.TargetPort)
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.TargetPort == "" {
		return errNoTarget
	}
	switch c.Protocol {
	case "tcp", "http", "redis", "mqtt":
	default:
		return fmt.Errorf("%w: %q", errProtocol, c.Protocol)
	}
	if c.HandleCapacity < 3 {
		return fmt.Errorf("%w: %d", errCapacity, c.HandleCapacity)
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("%w: %d", errBufferSize, c.BufferSize)
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("%w: %q", errLogFormat, c.LogFormat)
	}
	return nil
}
