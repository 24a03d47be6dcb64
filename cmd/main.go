// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package main runs evproxy with metrics, health checks, accept rate
// limiting and an upstream circuit breaker.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/absmach/evproxy"
	"github.com/absmach/evproxy/examples/simple"
	"github.com/absmach/evproxy/pkg/breaker"
	"github.com/absmach/evproxy/pkg/health"
	"github.com/absmach/evproxy/pkg/metrics"
	"github.com/absmach/evproxy/pkg/ratelimit"
	"github.com/absmach/evproxy/pkg/server/tcp"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

const (
	envPrefix       = evproxy.EnvPrefix
	healthCacheTTL  = 5 * time.Second
	shutdownTimeout = 10 * time.Second
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)

	// .env is optional
	envErr := godotenv.Load()

	cfg, err := evproxy.NewConfig(env.Options{Prefix: envPrefix})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %s\n", err)
		os.Exit(1)
	}
	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	if envErr != nil {
		logger.Debug("no .env file found, using environment variables")
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	m := metrics.New("evproxy")
	h := &InstrumentedHandler{handler: simple.New(logger), metrics: m}

	opts := []tcp.Option{tcp.WithMetrics(m)}
	var cb *breaker.CircuitBreaker
	if cfg.BreakerMaxFailures > 0 {
		cb = breaker.New(breaker.Config{
			MaxFailures:  cfg.BreakerMaxFailures,
			ResetTimeout: cfg.BreakerResetTimeout,
		})
		target := cfg.TargetAddress()
		cb.OnStateChange(func(from, to breaker.State) {
			logger.Warn("circuit breaker state changed",
				slog.String("backend", target),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
			m.BreakerChanged(target, from, to)
		})
		opts = append(opts, tcp.WithBreaker(cb))
	}
	if cfg.AcceptRateCapacity > 0 {
		opts = append(opts, tcp.WithAcceptLimit(ratelimit.NewTokenBucket(cfg.AcceptRateCapacity, cfg.AcceptRateRefill)))
	}
	if cfg.ClientRateCapacity > 0 {
		opts = append(opts, tcp.WithClientLimit(ratelimit.NewLimiter(cfg.ClientRateCapacity, cfg.ClientRateRefill, cfg.MaxTrackedClients)))
	}

	srv := tcp.New(tcp.Config{
		Address:          cfg.Address(),
		TargetAddress:    cfg.TargetAddress(),
		Protocol:         cfg.Protocol,
		Hook:             cfg.Hook,
		KeyPrefix:        cfg.KeyPrefix,
		Throttle:         cfg.Throttle,
		ThrottleInterval: cfg.ThrottleInterval,
		Poison:           cfg.Poison,
		HandleCapacity:   cfg.HandleCapacity,
		BufferSize:       cfg.BufferSize,
		Backlog:          cfg.Backlog,
		PollInterval:     cfg.PollInterval,
		Logger:           logger,
	}, h, opts...)

	checker := health.NewChecker(healthCacheTTL)
	checker.Register("proxy", srv.Check)
	if cb != nil {
		checker.Register("backend", func(context.Context) error {
			if cb.State() == breaker.StateOpen {
				return breaker.ErrCircuitOpen
			}
			return nil
		})
	}

	g.Go(func() error {
		return srv.Listen(ctx)
	})

	if cfg.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		g.Go(func() error {
			return serveHTTP(ctx, "metrics", cfg.MetricsPort, mux, logger)
		})
	}
	if cfg.HealthPort > 0 {
		mux := http.NewServeMux()
		mux.HandleFunc("/health", checker.HTTPHandler())
		mux.HandleFunc("/ready", checker.ReadinessHandler())
		mux.HandleFunc("/live", health.LivenessHandler())
		g.Go(func() error {
			return serveHTTP(ctx, "health", cfg.HealthPort, mux, logger)
		})
	}

	g.Go(func() error {
		return StopSignalHandler(ctx, cancel, logger)
	})

	if err := g.Wait(); err != nil {
		logger.Error(fmt.Sprintf("evproxy service terminated with error: %s", err))
		os.Exit(1)
	}
	logger.Info("evproxy service stopped")
}

// setupLogger creates a structured logger with the specified level and format.
func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	if format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// serveHTTP serves handler on port until ctx is done.
func serveHTTP(ctx context.Context, name string, port int, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(fmt.Sprintf("%s server started", name), slog.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("%s server: %w", name, err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// StopSignalHandler cancels ctx on SIGINT or SIGTERM.
func StopSignalHandler(ctx context.Context, cancel context.CancelFunc, logger *slog.Logger) error {
	c := make(chan os.Signal, 2)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(c)
	select {
	case sig := <-c:
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
		return nil
	case <-ctx.Done():
		return nil
	}
}
