// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package buffer provides the growable staging area connections use for
// inbound and outbound bytes.
//
// A Buffer keeps one contiguous store with a read cursor and a write cursor.
// Staged bytes live in [r, w); free space is [w, cap). When every staged byte
// has been consumed both cursors go back to zero without releasing memory.
// A Buffer is owned by exactly one connection and is not safe for concurrent use.
package buffer

import "io"

// DefaultSize is the initial capacity used when a non-positive size is given.
const DefaultSize = 4096

// Buffer is a growable byte stage with separate read and write cursors.
type Buffer struct {
	store []byte
	grow  int
	r     int
	w     int
}

var (
	_ io.Reader = (*Buffer)(nil)
	_ io.Writer = (*Buffer)(nil)
)

// New creates a buffer whose growth increment equals its initial size.
func New(size int) *Buffer {
	return NewWithGrowth(size, size)
}

// NewWithGrowth creates a buffer with the given initial capacity and growth increment.
func NewWithGrowth(size, grow int) *Buffer {
	if size <= 0 {
		size = DefaultSize
	}
	if grow <= 0 {
		grow = size
	}
	return &Buffer{
		store: make([]byte, size),
		grow:  grow,
	}
}

// WriteSlice returns the free region of the store. When no free space is
// left, staged bytes are moved to the front, and if that does not help the
// store grows by the growth increment.
func (b *Buffer) WriteSlice() []byte {
	if b.w == len(b.store) {
		b.reserve(b.grow)
	}
	return b.store[b.w:]
}

// Commit marks n bytes at the start of the last write slice as staged.
func (b *Buffer) Commit(n int) {
	if n <= 0 {
		return
	}
	if b.w+n > len(b.store) {
		n = len(b.store) - b.w
	}
	b.w += n
}

// ReadSlice returns the staged, unread bytes. The slice stays valid until
// the next mutating call.
func (b *Buffer) ReadSlice() []byte {
	return b.store[b.r:b.w]
}

// Advance consumes n bytes from the front of the staged region.
func (b *Buffer) Advance(n int) {
	if n <= 0 {
		return
	}
	b.r += n
	if b.r >= b.w {
		b.r, b.w = 0, 0
	}
}

// Pending returns the number of staged, unread bytes.
func (b *Buffer) Pending() int {
	return b.w - b.r
}

// Cap returns the current capacity of the store.
func (b *Buffer) Cap() int {
	return len(b.store)
}

// Reset drops every staged byte.
func (b *Buffer) Reset() {
	b.r, b.w = 0, 0
}

// Read drains up to len(p) staged bytes into p. It returns 0, nil when
// nothing is staged and never blocks.
func (b *Buffer) Read(p []byte) (int, error) {
	n := copy(p, b.store[b.r:b.w])
	b.Advance(n)
	return n, nil
}

// Write appends p to the staged region, growing the store when needed.
func (b *Buffer) Write(p []byte) (int, error) {
	if free := len(b.store) - b.w; free < len(p) {
		need := len(p) - free
		if need < b.grow {
			need = b.grow
		}
		b.reserve(need)
	}
	n := copy(b.store[b.w:], p)
	b.w += n
	return n, nil
}

// ReadOnce performs a single Read from r into the free region and stages
// whatever arrived. Errors from r are returned untouched.
func (b *Buffer) ReadOnce(r io.Reader) (int, error) {
	n, err := r.Read(b.WriteSlice())
	if n > 0 {
		b.Commit(n)
	}
	return n, err
}

// WriteOnce performs a single Write of the staged bytes to w and consumes
// exactly what w accepted. Unwritten bytes stay staged in order.
func (b *Buffer) WriteOnce(w io.Writer) (int, error) {
	if b.Pending() == 0 {
		return 0, nil
	}
	n, err := w.Write(b.ReadSlice())
	if n > 0 {
		b.Advance(n)
	}
	return n, err
}

// reserve guarantees at least extra bytes of free space, first by sliding
// staged bytes to the front and then by reallocating.
func (b *Buffer) reserve(extra int) {
	if b.r > 0 {
		n := copy(b.store, b.store[b.r:b.w])
		b.r, b.w = 0, n
		if len(b.store)-b.w >= extra {
			return
		}
	}
	store := make([]byte, len(b.store)+extra)
	copy(store, b.store[:b.w])
	b.store = store
}
