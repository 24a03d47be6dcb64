// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"fmt"

	"github.com/absmach/evproxy/pkg/errors"
	"github.com/absmach/evproxy/pkg/handle"
)

// PairID names a slot of the registry arena. A stale ID stops resolving
// once its slot is reused.
type PairID struct {
	index int
	gen   uint32
}

// String returns the ID as index.generation.
func (id PairID) String() string {
	return fmt.Sprintf("%d.%d", id.index, id.gen)
}

// Entry is what a handle resolves to.
type Entry struct {
	Role Role
	ID   PairID
}

type slot struct {
	pair *Pair
	gen  uint32
}

// Registry maps watch handles to the pairs that own them. Pairs live in an
// arena; entries carry only the slot index and generation.
type Registry struct {
	slots   []slot
	free    []int
	entries map[handle.Handle]Entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[handle.Handle]Entry),
	}
}

// Link stores p and maps both of its handles to it.
// Neither handle is linked when an error is returned.
func (r *Registry) Link(p *Pair) (PairID, error) {
	down, up := p.Tokens()
	if down == up {
		return PairID{}, fmt.Errorf("%w: %s used by both sides", errors.ErrDuplicateHandle, down)
	}
	for _, h := range []handle.Handle{down, up} {
		if _, ok := r.entries[h]; ok {
			return PairID{}, fmt.Errorf("%w: %s", errors.ErrDuplicateHandle, h)
		}
	}

	var idx int
	if n := len(r.free); n > 0 {
		idx = r.free[n-1]
		r.free = r.free[:n-1]
	} else {
		idx = len(r.slots)
		r.slots = append(r.slots, slot{})
	}
	r.slots[idx].pair = p
	id := PairID{index: idx, gen: r.slots[idx].gen}

	r.entries[down] = Entry{Role: Downstream, ID: id}
	r.entries[up] = Entry{Role: Upstream, ID: id}
	return id, nil
}

// Lookup resolves h.
func (r *Registry) Lookup(h handle.Handle) (Entry, bool) {
	e, ok := r.entries[h]
	return e, ok
}

// Pair returns the pair stored under id.
func (r *Registry) Pair(id PairID) (*Pair, bool) {
	if id.index < 0 || id.index >= len(r.slots) {
		return nil, false
	}
	s := r.slots[id.index]
	if s.pair == nil || s.gen != id.gen {
		return nil, false
	}
	return s.pair, true
}

// Unlink removes both handles of the pair stored under id and frees its slot.
func (r *Registry) Unlink(id PairID) (*Pair, bool) {
	p, ok := r.Pair(id)
	if !ok {
		return nil, false
	}
	down, up := p.Tokens()
	delete(r.entries, down)
	delete(r.entries, up)

	s := &r.slots[id.index]
	s.pair = nil
	s.gen++
	r.free = append(r.free, id.index)
	return p, true
}

// Len returns the number of linked pairs.
func (r *Registry) Len() int {
	return len(r.slots) - len(r.free)
}

// Each calls fn for every linked pair. fn must not link or unlink.
func (r *Registry) Each(fn func(PairID, *Pair)) {
	for i, s := range r.slots {
		if s.pair != nil {
			fn(PairID{index: i, gen: s.gen}, s.pair)
		}
	}
}
