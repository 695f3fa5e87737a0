// Package irq implements the IRQ-latency ring from spec.md §5: "Interrupt
// handlers append to a fixed-size, lock-free ring of timestamps used for
// IRQ-latency statistics; they never allocate and never wait." It reuses
// internal/kernel/channel.Ring's atomic head-counter mechanics (with no tail,
// since readers never remove samples), specialized to int64 latency-ns samples, with a non-destructive Snapshot
// so telemetry can read the ring without racing the single producer.
package irq

import (
	"sort"
	"sync/atomic"

	"gonum.org/v1/gonum/stat"
)

// Ring is a fixed-capacity, lock-free SPSC ring of interrupt-latency
// samples. One goroutine (the simulated interrupt handler) calls Append;
// any number of readers may call Snapshot/P99Ns/Len, matching the
// producer/telemetry-consumer split channel.Ring documents.
type Ring struct {
	buf      []int64
	capacity uint64

	head atomic.Uint64
}

// NewRing constructs a ring retaining up to capacity latency samples.
func NewRing(capacity int) *Ring {
	return &Ring{buf: make([]int64, capacity), capacity: uint64(capacity)}
}

// Append records one interrupt's entry-to-handler latency in nanoseconds.
// It never blocks and never allocates: once the ring is full, the oldest
// sample is silently overwritten, since a handler cannot wait on a
// consumer to drain.
func (r *Ring) Append(latencyNs int64) {
	h := r.head.Load()
	r.buf[h%r.capacity] = latencyNs
	r.head.Store(h + 1)
}

// Snapshot copies out every retained sample, oldest first, without
// consuming them.
func (r *Ring) Snapshot() []int64 {
	h := r.head.Load()
	n := h
	if n > r.capacity {
		n = r.capacity
	}
	out := make([]int64, n)
	start := h - n
	for i := uint64(0); i < n; i++ {
		out[i] = r.buf[(start+i)%r.capacity]
	}
	return out
}

// Len returns the number of retained samples.
func (r *Ring) Len() int {
	h := r.head.Load()
	if h > r.capacity {
		return int(r.capacity)
	}
	return int(h)
}

// P99Ns returns the 99th percentile of retained latency samples, for the
// irq_latency_p99_ns telemetry key.
func (r *Ring) P99Ns() int64 {
	samples := r.Snapshot()
	if len(samples) == 0 {
		return 0
	}
	fs := make([]float64, len(samples))
	for i, v := range samples {
		fs[i] = float64(v)
	}
	sort.Float64s(fs)
	return int64(stat.Quantile(0.99, stat.Empirical, fs, nil))
}
