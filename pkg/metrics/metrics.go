// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package metrics provides Prometheus instrumentation for evproxy.
package metrics

import (
	"net/http"

	"github.com/absmach/evproxy/pkg/breaker"
	"github.com/absmach/evproxy/pkg/parser"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Rejection reasons used with PairsRejected.
const (
	ReasonHandlesExhausted = "handles_exhausted"
	ReasonRateLimited      = "rate_limited"
	ReasonCircuitOpen      = "circuit_open"
	ReasonDialFailed       = "dial_failed"
	ReasonAuth             = "auth"
	ReasonRegister         = "register"
)

// Metrics holds all Prometheus metrics for evproxy. Every collector lives in
// a private registry so several servers can run in one process and tests.
type Metrics struct {
	registry *prometheus.Registry

	// Pair metrics
	ActivePairs   *prometheus.GaugeVec
	PairsTotal    *prometheus.CounterVec
	PairsRejected *prometheus.CounterVec
	PairDuration  *prometheus.HistogramVec
	HandlesInUse  prometheus.Gauge

	// Traffic metrics
	BytesForwarded *prometheus.CounterVec
	Messages       *prometheus.CounterVec
	ParseErrors    *prometheus.CounterVec

	// Circuit breaker metrics
	CircuitBreakerState *prometheus.GaugeVec
	CircuitBreakerTrips *prometheus.CounterVec

	// Rate limiter metrics
	RateLimitedRequests *prometheus.CounterVec

	// Auth metrics
	AuthAttempts *prometheus.CounterVec
	AuthFailures *prometheus.CounterVec
}

var _ parser.Observer = (*Metrics)(nil)

// New creates a new Metrics instance with all counters, gauges, and histograms.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "evproxy"
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	m := &Metrics{
		registry: reg,
		ActivePairs: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_pairs",
				Help:      "Number of currently linked proxy pairs",
			},
			[]string{"protocol"},
		),
		PairsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pairs_total",
				Help:      "Total number of proxy pairs opened",
			},
			[]string{"protocol"},
		),
		PairsRejected: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pairs_rejected_total",
				Help:      "Total number of accepted clients closed before pairing",
			},
			[]string{"protocol", "reason"},
		),
		PairDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pair_duration_seconds",
				Help:      "Proxy pair lifetime in seconds",
				Buckets:   []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 300, 600},
			},
			[]string{"protocol"},
		),
		HandlesInUse: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "handles_in_use",
				Help:      "Number of claimed watch handles",
			},
		),
		BytesForwarded: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bytes_forwarded_total",
				Help:      "Total number of bytes moved between pair sides",
			},
			[]string{"protocol", "direction"},
		),
		Messages: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_total",
				Help:      "Total number of intercepted protocol messages by outcome",
			},
			[]string{"protocol", "direction", "outcome"},
		),
		ParseErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "parse_errors_total",
				Help:      "Total number of malformed protocol messages",
			},
			[]string{"protocol", "direction"},
		),
		CircuitBreakerState: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=half_open, 2=open)",
			},
			[]string{"backend"},
		),
		CircuitBreakerTrips: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_trips_total",
				Help:      "Total number of circuit breaker trips",
			},
			[]string{"backend"},
		),
		RateLimitedRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limited_requests_total",
				Help:      "Total number of rate limited requests",
			},
			[]string{"protocol", "limiter_type"},
		),
		AuthAttempts: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auth_attempts_total",
				Help:      "Total number of authentication attempts",
			},
			[]string{"protocol", "type"},
		),
		AuthFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auth_failures_total",
				Help:      "Total number of authentication failures",
			},
			[]string{"protocol", "type", "reason"},
		),
	}

	return m
}

// Registry returns the registry holding every collector.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Observe counts one interception outcome. Malformed input is also counted
// as a parse error.
func (m *Metrics) Observe(protocol string, dir parser.Direction, outcome parser.Outcome) {
	m.Messages.WithLabelValues(protocol, dir.String(), string(outcome)).Inc()
	if outcome == parser.OutcomeMalformed {
		m.ParseErrors.WithLabelValues(protocol, dir.String()).Inc()
	}
}

// PairOpened records a newly linked pair.
func (m *Metrics) PairOpened(protocol string) {
	m.PairsTotal.WithLabelValues(protocol).Inc()
	m.ActivePairs.WithLabelValues(protocol).Inc()
}

// PairClosed records a torn down pair and its lifetime.
func (m *Metrics) PairClosed(protocol string, seconds float64) {
	m.ActivePairs.WithLabelValues(protocol).Dec()
	m.PairDuration.WithLabelValues(protocol).Observe(seconds)
}

// Rejected records an accepted client that was closed before pairing.
func (m *Metrics) Rejected(protocol, reason string) {
	m.PairsRejected.WithLabelValues(protocol, reason).Inc()
}

// Forwarded records n bytes moved in direction dir.
func (m *Metrics) Forwarded(protocol string, dir parser.Direction, n int) {
	if n > 0 {
		m.BytesForwarded.WithLabelValues(protocol, dir.String()).Add(float64(n))
	}
}

// BreakerChanged records a circuit breaker transition.
func (m *Metrics) BreakerChanged(backend string, from, to breaker.State) {
	m.CircuitBreakerState.WithLabelValues(backend).Set(float64(to))
	if to == breaker.StateOpen {
		m.CircuitBreakerTrips.WithLabelValues(backend).Inc()
	}
}
