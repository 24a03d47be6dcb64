// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package parser defines protocol interception for proxied connections.
//
// # Architecture Overview
//
// Interception sits between the reactor driver and the client-facing
// connection of a pair. The driver never sees partial protocol messages:
// bytes read from the client are staged until an Interceptor recognises a
// complete message and a proxy hook has judged it.
//
//	client socket -> Base -> parser.Connection -> Pair.Forward -> upstream
//	upstream -> Pair.Forward -> parser.Connection.Write -> Base -> client socket
//
// # Interceptor
//
// The Interceptor interface has a single method:
//
//	Intercept(dir Direction, data []byte) (consumed int, act Action, err error)
//
// It is called with every byte buffered so far in one direction:
//   - consumed == 0, err == nil: no complete message yet, wait for more bytes
//   - err != nil: malformed input, the bytes are logged and held
//   - consumed > 0: the first message spans data[:consumed] and act is the verdict
//
// # Verdicts
//
//   - Forward: the original bytes are released unchanged
//   - Modify: Action.Data is released in place of the original bytes
//   - Wait: the message stays buffered
//   - Abort: the pair is torn down
//
// # Direction
//
// The Direction type indicates message flow:
//   - Upstream: Client → Backend (requests, commands, publishes)
//   - Downstream: Backend → Client (responses, replies, deliveries)
//
// # Protocol-Specific Interceptors
//
//   - parser/http: HTTP/1.x requests and responses
//   - parser/redis: RESP commands and replies
//   - parser/mqtt: MQTT control packets judged by a handler.Handler
package parser
