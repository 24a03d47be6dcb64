// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package tcp

import (
	"container/heap"
	"time"

	"github.com/absmach/evproxy/pkg/connection"
	"github.com/absmach/evproxy/pkg/handle"
	"github.com/absmach/evproxy/pkg/proxy"
)

// timerEntry is one scheduled tick. The pair ID makes entries of a torn
// down pair stale even when its handles were reissued.
type timerEntry struct {
	at    time.Time
	seq   uint64
	h     handle.Handle
	id    proxy.PairID
	timer connection.Timer
}

// timerQueue orders ticks by deadline, then by scheduling order.
type timerQueue struct {
	entries timerHeap
	seq     uint64
}

func (q *timerQueue) schedule(at time.Time, h handle.Handle, id proxy.PairID, t connection.Timer) {
	q.seq++
	heap.Push(&q.entries, &timerEntry{at: at, seq: q.seq, h: h, id: id, timer: t})
}

func (q *timerQueue) next() (time.Time, bool) {
	if len(q.entries) == 0 {
		return time.Time{}, false
	}
	return q.entries[0].at, true
}

func (q *timerQueue) popDue(now time.Time) (*timerEntry, bool) {
	if len(q.entries) == 0 || q.entries[0].at.After(now) {
		return nil, false
	}
	return heap.Pop(&q.entries).(*timerEntry), true
}

func (q *timerQueue) len() int {
	return len(q.entries)
}

type timerHeap []*timerEntry

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].seq < h[j].seq
	}
	return h[i].at.Before(h[j].at)
}

func (h timerHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *timerHeap) Push(x any) { *h = append(*h, x.(*timerEntry)) }

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}
