// Package edf implements the fixed-capacity binary min-heap described in
// spec.md §4.4, keyed by absolute deadline with ties broken by id. It is
// modeled on the teacher's EventQueue in sim/simulator.go (a container/heap
// implementation over a timestamp-ordered slice).
package edf

import "container/heap"

// Node is a single EDF queue entry: a server/graph id and its absolute
// deadline in nanoseconds.
type Node struct {
	ID       uint64
	Deadline int64
}

// innerHeap implements heap.Interface, ordering by deadline ascending with
// ties broken by ascending id (matching the scheduler's server-id tie-break
// in spec.md §4.7; the general-purpose heap adopts the same rule so both
// components agree on one ordering).
type innerHeap []Node

func (h innerHeap) Len() int { return len(h) }
func (h innerHeap) Less(i, j int) bool {
	if h[i].Deadline != h[j].Deadline {
		return h[i].Deadline < h[j].Deadline
	}
	return h[i].ID < h[j].ID
}
func (h innerHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *innerHeap) Push(x any) {
	*h = append(*h, x.(Node))
}

func (h *innerHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Heap is a fixed-capacity EDF priority queue.
type Heap struct {
	inner    innerHeap
	capacity int
}

// New constructs a Heap bounded at capacity entries (typical 16-64 per
// spec.md §4.4).
func New(capacity int) *Heap {
	h := &Heap{inner: make(innerHeap, 0, capacity), capacity: capacity}
	heap.Init(&h.inner)
	return h
}

// Push inserts node, returning false if the heap is already at capacity.
func (h *Heap) Push(node Node) bool {
	if len(h.inner) >= h.capacity {
		return false
	}
	heap.Push(&h.inner, node)
	return true
}

// Pop removes and returns the node with the smallest deadline.
func (h *Heap) Pop() (Node, bool) {
	if len(h.inner) == 0 {
		return Node{}, false
	}
	return heap.Pop(&h.inner).(Node), true
}

// Peek returns the node with the smallest deadline without removing it.
func (h *Heap) Peek() (Node, bool) {
	if len(h.inner) == 0 {
		return Node{}, false
	}
	return h.inner[0], true
}

// Len returns the number of queued entries.
func (h *Heap) Len() int { return len(h.inner) }

// Capacity returns the heap's fixed capacity.
func (h *Heap) Capacity() int { return h.capacity }
