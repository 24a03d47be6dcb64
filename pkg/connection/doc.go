// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package connection defines the layered Connection capability used by the
// reactor driver.
//
// # Layers
//
// Base is the only layer that touches the socket. It owns an input and an
// output buffer and performs exactly one non-blocking system call per
// readiness event:
//
//	socket --HandleRead--> input buffer --Read--> pair forwarding
//	pair forwarding --Write--> output buffer --HandleWrite--> socket
//
// Decorators wrap any Connection and override a small set of methods:
//
//   - Poison: discards everything; used to let a connection linger for
//     symmetric teardown without relaying bytes.
//   - Throttler: grants write readiness at most once per timer tick.
//   - Protocol interception lives in package parser and its subpackages.
//
// Decorators embed the wrapped Connection, so every method they do not
// override is delegated unchanged.
//
// # Interest
//
// Hangup and Error are always part of the interest set. Readable is set for
// the lifetime of a Base connection; Writable is added by the driver when the
// peer stages bytes and dropped once the output buffer drains.
package connection
