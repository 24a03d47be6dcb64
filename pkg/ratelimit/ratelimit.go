// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package ratelimit provides rate limiting using token bucket algorithm.
// The proxy uses it to shape accepted connections, globally and per client
// address.
package ratelimit

import (
	"sync"
	"time"

	"github.com/absmach/evproxy/pkg/errors"
	"github.com/benbjohnson/clock"
)

var (
	// ErrRateLimitExceeded is returned when rate limit is exceeded.
	ErrRateLimitExceeded = errors.ErrRateLimited
)

// TokenBucket implements the token bucket algorithm for rate limiting.
type TokenBucket struct {
	mu         sync.Mutex
	clock      clock.Clock
	capacity   int64
	tokens     int64
	refillRate int64 // tokens per second
	lastRefill time.Time
}

// NewTokenBucket creates a new token bucket rate limiter.
// capacity is the maximum number of tokens.
// refillRate is the number of tokens added per second.
func NewTokenBucket(capacity, refillRate int64) *TokenBucket {
	return NewTokenBucketWithClock(capacity, refillRate, clock.New())
}

// NewTokenBucketWithClock creates a token bucket driven by clk.
func NewTokenBucketWithClock(capacity, refillRate int64, clk clock.Clock) *TokenBucket {
	return &TokenBucket{
		clock:      clk,
		capacity:   capacity,
		tokens:     capacity,
		refillRate: refillRate,
		lastRefill: clk.Now(),
	}
}

// Allow checks if a request should be allowed.
// Returns true if allowed, false if rate limited.
func (tb *TokenBucket) Allow() bool {
	return tb.AllowN(1)
}

// AllowN checks if N requests should be allowed.
func (tb *TokenBucket) AllowN(n int64) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()

	if tb.tokens >= n {
		tb.tokens -= n
		return true
	}

	return false
}

// refill adds tokens based on elapsed time.
func (tb *TokenBucket) refill() {
	now := tb.clock.Now()
	elapsed := now.Sub(tb.lastRefill).Seconds()

	tokensToAdd := int64(elapsed * float64(tb.refillRate))
	if tokensToAdd > 0 {
		tb.tokens += tokensToAdd
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastRefill = now
	}
}

// Available returns the number of available tokens.
func (tb *TokenBucket) Available() int64 {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	return tb.tokens
}

// Limiter manages per-client rate limiters.
type Limiter struct {
	mu           sync.RWMutex
	clock        clock.Clock
	limiters     map[string]*TokenBucket
	capacity     int64
	refillRate   int64
	maxClients   int
	cleanupTimer *clock.Timer
}

// CleanupInterval is how often the per-client table is pruned.
const CleanupInterval = 5 * time.Minute

// NewLimiter creates a new rate limiter with per-client tracking.
func NewLimiter(capacity, refillRate int64, maxClients int) *Limiter {
	return NewLimiterWithClock(capacity, refillRate, maxClients, clock.New())
}

// NewLimiterWithClock creates a per-client limiter driven by clk.
func NewLimiterWithClock(capacity, refillRate int64, maxClients int, clk clock.Clock) *Limiter {
	if maxClients == 0 {
		maxClients = 10000
	}

	l := &Limiter{
		clock:      clk,
		limiters:   make(map[string]*TokenBucket),
		capacity:   capacity,
		refillRate: refillRate,
		maxClients: maxClients,
	}

	// Periodic cleanup of inactive limiters
	l.cleanupTimer = clk.AfterFunc(CleanupInterval, l.cleanup)

	return l
}

// Allow checks if a request from the given client should be allowed.
func (l *Limiter) Allow(clientID string) bool {
	return l.AllowN(clientID, 1)
}

// AllowN checks if N requests from the given client should be allowed.
func (l *Limiter) AllowN(clientID string, n int64) bool {
	l.mu.RLock()
	tb, exists := l.limiters[clientID]
	l.mu.RUnlock()

	if !exists {
		l.mu.Lock()
		// Double-check after acquiring write lock
		tb, exists = l.limiters[clientID]
		if !exists {
			// Check if we've exceeded max clients
			if len(l.limiters) >= l.maxClients {
				l.mu.Unlock()
				return false
			}

			tb = NewTokenBucketWithClock(l.capacity, l.refillRate, l.clock)
			l.limiters[clientID] = tb
		}
		l.mu.Unlock()
	}

	return tb.AllowN(n)
}

// Remove removes a client's rate limiter.
func (l *Limiter) Remove(clientID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.limiters, clientID)
}

// cleanup removes idle limiters. A bucket that refilled to capacity behaves
// exactly like a fresh one, so dropping it loses nothing.
func (l *Limiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for k, tb := range l.limiters {
		if tb.Available() >= tb.capacity {
			delete(l.limiters, k)
		}
	}

	// Schedule next cleanup
	l.cleanupTimer = l.clock.AfterFunc(CleanupInterval, l.cleanup)
}

// Stats returns limiter statistics.
func (l *Limiter) Stats() (clients int) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.limiters)
}

// Close stops the cleanup timer.
func (l *Limiter) Close() {
	if l.cleanupTimer != nil {
		l.cleanupTimer.Stop()
	}
}
