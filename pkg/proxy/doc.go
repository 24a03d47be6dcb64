// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package proxy holds the pairing state of the reactor: a Pair joins a client
// connection with its backend connection, and a Registry maps watch handles
// back to pairs.
//
// # Pairs
//
// A Pair owns exactly two connections. Forward moves at most ChunkSize bytes
// from one side's input to the other side's output per call; the driver
// repeats it until it moves nothing. Once the backend hangs up the pair is
// marked so the driver can finish draining the client before tearing down.
//
// # Registry
//
// Pairs are stored in an arena of slots. A handle resolves to an Entry
// holding the role and a PairID (slot index plus generation). Unlinking bumps
// the generation, so IDs held across a teardown stop resolving:
//
//	id, err := reg.Link(pair)
//	...
//	e, ok := reg.Lookup(h)
//	p, ok := reg.Pair(e.ID)
//	...
//	reg.Unlink(id)
//
// Both handles of a pair are linked or neither is. None of the types here are
// safe for concurrent use; the reactor goroutine owns them.
package proxy
