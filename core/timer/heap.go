// Package timer implements the idle-connection deadline heap.
package timer

import (
	"container/heap"
	"time"
)

// Callback runs when a timer expires or is forced
type Callback func()

type node struct {
	id      int
	expires time.Time
	cb      Callback
}

// nodeHeap is a min-heap on expiry that keeps ref in sync on every swap,
// so any id can be located in O(1) and repaired in O(log n).
type nodeHeap struct {
	nodes []node
	ref   map[int]int
}

func (h *nodeHeap) Len() int           { return len(h.nodes) }
func (h *nodeHeap) Less(i, j int) bool { return h.nodes[i].expires.Before(h.nodes[j].expires) }

func (h *nodeHeap) Swap(i, j int) {
	h.nodes[i], h.nodes[j] = h.nodes[j], h.nodes[i]
	h.ref[h.nodes[i].id] = i
	h.ref[h.nodes[j].id] = j
}

func (h *nodeHeap) Push(x any) {
	n := x.(node)
	h.ref[n.id] = len(h.nodes)
	h.nodes = append(h.nodes, n)
}

func (h *nodeHeap) Pop() any {
	last := len(h.nodes) - 1
	n := h.nodes[last]
	h.nodes[last] = node{}
	h.nodes = h.nodes[:last]
	delete(h.ref, n.id)
	return n
}

// HeapTimer is an indexed min-heap of per-id deadlines.
// It is owned by a single goroutine and does no locking.
type HeapTimer struct {
	h   nodeHeap
	now func() time.Time
}

// New creates an empty timer heap on the wall clock
func New() *HeapTimer {
	return NewWithClock(time.Now)
}

// NewWithClock creates an empty timer heap driven by now
func NewWithClock(now func() time.Time) *HeapTimer {
	return &HeapTimer{
		h: nodeHeap{
			nodes: make([]node, 0, 64),
			ref:   make(map[int]int),
		},
		now: now,
	}
}

// Add arms id to fire cb after timeout. A known id is updated in place.
func (t *HeapTimer) Add(id int, timeout time.Duration, cb Callback) {
	expires := t.now().Add(timeout)
	if i, ok := t.h.ref[id]; ok {
		t.h.nodes[i].expires = expires
		t.h.nodes[i].cb = cb
		heap.Fix(&t.h, i)
		return
	}
	heap.Push(&t.h, node{id: id, expires: expires, cb: cb})
}

// Adjust moves the deadline of id to now+timeout, keeping its callback.
// Unknown ids are ignored.
func (t *HeapTimer) Adjust(id int, timeout time.Duration) {
	i, ok := t.h.ref[id]
	if !ok {
		return
	}
	t.h.nodes[i].expires = t.now().Add(timeout)
	heap.Fix(&t.h, i)
}

// DoWork force-expires id: the entry is removed, then its callback runs.
func (t *HeapTimer) DoWork(id int) {
	i, ok := t.h.ref[id]
	if !ok {
		return
	}
	n := heap.Remove(&t.h, i).(node)
	if n.cb != nil {
		n.cb()
	}
}

// Cancel removes id without running its callback
func (t *HeapTimer) Cancel(id int) {
	if i, ok := t.h.ref[id]; ok {
		heap.Remove(&t.h, i)
	}
}

// Tick fires every entry whose deadline has passed, earliest first.
// It stops at the first root still in the future.
func (t *HeapTimer) Tick() {
	for len(t.h.nodes) > 0 {
		if t.h.nodes[0].expires.After(t.now()) {
			break
		}
		n := heap.Pop(&t.h).(node)
		if n.cb != nil {
			n.cb()
		}
	}
}

// Pop discards the earliest entry without firing it
func (t *HeapTimer) Pop() {
	if len(t.h.nodes) > 0 {
		heap.Pop(&t.h)
	}
}

// Clear drops every entry
func (t *HeapTimer) Clear() {
	t.h.nodes = t.h.nodes[:0]
	clear(t.h.ref)
}

// Len returns the number of armed entries
func (t *HeapTimer) Len() int {
	return len(t.h.nodes)
}

// Has reports whether id is armed
func (t *HeapTimer) Has(id int) bool {
	_, ok := t.h.ref[id]
	return ok
}

// NextTick runs Tick and returns the time until the next deadline,
// or -1 when nothing is armed.
func (t *HeapTimer) NextTick() time.Duration {
	t.Tick()
	if len(t.h.nodes) == 0 {
		return -1
	}
	d := t.h.nodes[0].expires.Sub(t.now())
	if d < 0 {
		d = 0
	}
	return d
}
