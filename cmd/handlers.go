// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"

	"github.com/absmach/evproxy/pkg/handler"
	"github.com/absmach/evproxy/pkg/metrics"
)

var _ handler.Handler = (*InstrumentedHandler)(nil)

// InstrumentedHandler counts authorization attempts and failures of the
// wrapped handler.
type InstrumentedHandler struct {
	handler handler.Handler
	metrics *metrics.Metrics
}

func (h *InstrumentedHandler) observe(hctx *handler.Context, op string, err error) error {
	h.metrics.AuthAttempts.WithLabelValues(hctx.Protocol, op).Inc()
	if err != nil {
		h.metrics.AuthFailures.WithLabelValues(hctx.Protocol, op, "unauthorized").Inc()
	}
	return err
}

// AuthConnect implements handler.Handler with metrics.
func (h *InstrumentedHandler) AuthConnect(ctx context.Context, hctx *handler.Context) error {
	return h.observe(hctx, "connect", h.handler.AuthConnect(ctx, hctx))
}

// AuthPublish implements handler.Handler with metrics.
func (h *InstrumentedHandler) AuthPublish(ctx context.Context, hctx *handler.Context, topic *string, payload *[]byte) error {
	return h.observe(hctx, "publish", h.handler.AuthPublish(ctx, hctx, topic, payload))
}

// AuthSubscribe implements handler.Handler with metrics.
func (h *InstrumentedHandler) AuthSubscribe(ctx context.Context, hctx *handler.Context, topics *[]string) error {
	return h.observe(hctx, "subscribe", h.handler.AuthSubscribe(ctx, hctx, topics))
}

func (h *InstrumentedHandler) OnConnect(ctx context.Context, hctx *handler.Context) error {
	return h.handler.OnConnect(ctx, hctx)
}

func (h *InstrumentedHandler) OnPublish(ctx context.Context, hctx *handler.Context, topic string, payload []byte) error {
	return h.handler.OnPublish(ctx, hctx, topic, payload)
}

func (h *InstrumentedHandler) OnSubscribe(ctx context.Context, hctx *handler.Context, topics []string) error {
	return h.handler.OnSubscribe(ctx, hctx, topics)
}

func (h *InstrumentedHandler) OnUnsubscribe(ctx context.Context, hctx *handler.Context, topics []string) error {
	return h.handler.OnUnsubscribe(ctx, hctx, topics)
}

func (h *InstrumentedHandler) OnDisconnect(ctx context.Context, hctx *handler.Context) error {
	return h.handler.OnDisconnect(ctx, hctx)
}
