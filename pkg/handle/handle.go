// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package handle issues the watch handles that name registered I/O sources.
package handle

import (
	"strconv"

	"github.com/bits-and-blooms/bitset"
)

// DefaultCapacity is the number of handles an Allocator issues by default.
const DefaultCapacity = 4096

// Handle identifies one registered I/O source. It is unique while claimed
// and may be reissued after release.
type Handle uint32

// Int returns the handle as an int, for logging and error context.
func (h Handle) Int() int {
	return int(h)
}

// String returns the decimal form of the handle.
func (h Handle) String() string {
	return strconv.FormatUint(uint64(h), 10)
}

// Allocator hands out handles from a fixed pool, always reusing the lowest
// free index first. Claims are O(capacity) in the worst case.
type Allocator struct {
	slots *bitset.BitSet
	cap   uint
	used  int
}

// NewAllocator creates an allocator with the given capacity.
func NewAllocator(capacity int) *Allocator {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Allocator{
		slots: bitset.New(uint(capacity)),
		cap:   uint(capacity),
	}
}

// Claim reserves the lowest free handle. It reports false when every slot is taken.
func (a *Allocator) Claim() (Handle, bool) {
	i, ok := a.slots.NextClear(0)
	if !ok || i >= a.cap {
		return 0, false
	}
	a.slots.Set(i)
	a.used++
	return Handle(i), true
}

// Release returns h to the pool. Releasing a free or out-of-range handle is a no-op.
func (a *Allocator) Release(h Handle) {
	i := uint(h)
	if i >= a.cap || !a.slots.Test(i) {
		return
	}
	a.slots.Clear(i)
	a.used--
}

// Claimed reports whether h is currently issued.
func (a *Allocator) Claimed(h Handle) bool {
	i := uint(h)
	return i < a.cap && a.slots.Test(i)
}

// InUse returns the number of issued handles.
func (a *Allocator) InUse() int {
	return a.used
}

// Cap returns the pool capacity.
func (a *Allocator) Cap() int {
	return int(a.cap)
}
