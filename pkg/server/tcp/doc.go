// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package tcp implements the evproxy reactor: a single goroutine that accepts
// clients, pairs each with a backend connection and relays bytes between
// them, optionally intercepting HTTP, Redis or MQTT traffic.
//
// # Architecture
//
//	┌─────────┐         ┌──────────────────────┐         ┌─────────┐
//	│ Client  │ ←─TCP─→ │ Server (epoll loop)  │ ←─TCP─→ │ Backend │
//	└─────────┘         └──────────────────────┘         └─────────┘
//	                       ↓ handle → Registry → Pair
//	                    ┌───────────────────────────┐
//	                    │ Poison ∘ Throttler ∘      │  client side
//	                    │ Interceptor ∘ Base        │
//	                    └───────────────────────────┘
//
// # Connection Flow
//
//  1. The listener becomes readable and the backlog is drained
//  2. Accept rate limits and the upstream circuit breaker are consulted
//  3. Two watch handles are claimed and the backend is dialed without blocking
//  4. Handler.AuthConnect may reject the client (MQTT authenticates on CONNECT)
//  5. Both sides are linked in the registry and registered with the poller
//  6. Readiness events are dispatched until either side ends the pair
//  7. Both sockets are deregistered and closed, the handles released and
//     Handler.OnDisconnect called
//
// # Dispatch
//
// Readable: the side is read while it produces bytes (Forward or Hold) and
// still wants reads; released bytes move to the peer at most 1024 at a time.
// Writable: staged output is flushed; a drained client whose backend has hung
// up ends the pair. Hangup or error: a client hangup ends the pair at once; a
// backend hangup ends it once the client has nothing left to receive.
//
// The poller is edge triggered. After every event the interest of both sides
// is compared with what is registered and updated when it changed, which
// re-arms the edges the Throttler relies on.
//
// # Timers
//
// Decorators implementing connection.Timer are scheduled on a deadline heap
// driven by a clock.Clock. The earliest deadline shortens the poll timeout.
//
// # Graceful Shutdown
//
// Cancelling the context passed to Listen stops the loop within PollInterval.
// Every live pair is then torn down, with OnDisconnect called for each, and
// the listener and poller are closed.
//
// # Example
//
//	srv := tcp.New(tcp.Config{
//		Address:       ":6380",
//		TargetAddress: "localhost:6379",
//		Protocol:      tcp.ProtocolRedis,
//		Hook:          "prefix+log",
//		KeyPrefix:     "tenant",
//	}, nil)
//	if err := srv.Listen(ctx); err != nil {
//		log.Fatal(err)
//	}
package tcp
