// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckerHealth(t *testing.T) {
	c := NewCheckerWithClock(time.Second, clock.NewMock())
	c.Register("upstream", func(context.Context) error { return nil })
	c.Register("handles", func(context.Context) error { return errors.New("exhausted") })

	status, checks := c.Health(context.Background())
	assert.Equal(t, StatusDegraded, status)
	require.Len(t, checks, 2)
	assert.Equal(t, "handles", checks[0].Name)
	assert.Equal(t, StatusUnhealthy, checks[0].Status)
	assert.Equal(t, "exhausted", checks[0].Message)
	assert.Equal(t, StatusHealthy, checks[1].Status)
}

func TestCheckerCache(t *testing.T) {
	clk := clock.NewMock()
	c := NewCheckerWithClock(time.Second, clk)
	calls := 0
	c.Register("upstream", func(context.Context) error {
		calls++
		return nil
	})

	c.Health(context.Background())
	c.Health(context.Background())
	assert.Equal(t, 1, calls)

	clk.Add(time.Second)
	c.Health(context.Background())
	assert.Equal(t, 2, calls)
}

func TestHandlers(t *testing.T) {
	healthy := NewChecker(0)
	healthy.Register("listener", func(context.Context) error { return nil })
	degraded := NewChecker(0)
	degraded.Register("upstream", func(context.Context) error { return errors.New("circuit open") })

	cases := []struct {
		name    string
		handler http.HandlerFunc
		code    int
		status  Status
	}{
		{"health ok", healthy.HTTPHandler(), http.StatusOK, StatusHealthy},
		{"health degraded", degraded.HTTPHandler(), http.StatusOK, StatusDegraded},
		{"ready ok", healthy.ReadinessHandler(), http.StatusOK, StatusHealthy},
		{"ready degraded", degraded.ReadinessHandler(), http.StatusServiceUnavailable, StatusDegraded},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tc.handler(rec, httptest.NewRequest(http.MethodGet, "/", nil))
			assert.Equal(t, tc.code, rec.Code)

			var r Report
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&r))
			assert.Equal(t, tc.status, r.Status)
		})
	}
}

func TestLivenessHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	LivenessHandler()(rec, httptest.NewRequest(http.MethodGet, "/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"alive"}`, rec.Body.String())
}
