// Package scheduler implements the CBS+EDF scheduler core described in
// spec.md §4.7: it replenishes servers, arbitrates between them by earliest
// absolute deadline, and accounts for budget consumption and jitter after
// each execution. Its event-loop shape is modeled on the teacher's
// Simulator.Run/Step in sim/simulator.go — a single-threaded loop that pops
// the next eligible unit of work, runs it, and records timing statistics.
package scheduler

import (
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/sis-kernel/core/internal/kernel/cbs"
	"github.com/sis-kernel/core/internal/kernel/edf"
)

// MaxJitterSamples bounds the jitter ring, per spec.md §6.
const MaxJitterSamples = 64

// Core owns the CBS servers and EDF queue for one kernel instance.
type Core struct {
	servers map[uint64]*cbs.Server
	queue   *edf.Heap

	jitter    [MaxJitterSamples]float64
	jitterLen int
	jitterPos int

	deadlineMissCount uint64
}

// New constructs a scheduler core with an EDF queue capacity of maxServers.
func New(maxServers int) *Core {
	return &Core{
		servers: make(map[uint64]*cbs.Server),
		queue:   edf.New(maxServers),
	}
}

// AddServer registers a CBS server with the core. Servers are looked up by
// ID during ScheduleNext/CompleteExecution.
func (c *Core) AddServer(s *cbs.Server) {
	c.servers[s.ID] = s
}

// Server returns the server registered under id, if any.
func (c *Core) Server(id uint64) (*cbs.Server, bool) {
	s, ok := c.servers[id]
	return s, ok
}

// ScheduleNext implements spec.md §4.7's schedule_next: replenish every
// server, push newly-active ones onto the EDF queue, then pop the
// earliest-deadline entry. A deadline already passed is counted as a miss
// but the graph id is still returned so the caller runs the job to
// completion and measures the overrun.
func (c *Core) ScheduleNext(nowNs int64) (graphID uint64, ok bool) {
	// Deterministic iteration order keeps the EDF push order (and therefore
	// tie-break behavior under the edf package's id tie-break) reproducible.
	ids := make([]uint64, 0, len(c.servers))
	for id := range c.servers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		s := c.servers[id]
		wasActive := s.Active()
		s.Replenish(uint64(nowNs))
		if !wasActive && s.RemainingBudgetNs > 0 && s.State() != cbs.StateActive {
			s.Activate()
			if s.Active() {
				c.queue.Push(edf.Node{ID: s.ID, Deadline: int64(s.DeadlineNs)})
			}
		}
	}

	node, popped := c.queue.Pop()
	if !popped {
		return 0, false
	}
	if nowNs > node.Deadline {
		c.deadlineMissCount++
	}
	s, found := c.servers[node.ID]
	if !found {
		return 0, false
	}
	return s.GraphID, true
}

// CompleteExecution accounts for one execution's actual runtime against its
// server's budget and records jitter against the expected duration, per
// spec.md §4.7.
func (c *Core) CompleteExecution(graphID uint64, actualRuntimeNs, expectedNs int64) {
	var s *cbs.Server
	for _, cand := range c.servers {
		if cand.GraphID == graphID {
			s = cand
			break
		}
	}
	if s == nil {
		return
	}
	s.ConsumeBudget(uint64(actualRuntimeNs))
	if s.Active() {
		if s.Type == cbs.TypeGraph {
			// A graph server keeps producing work every tick within its
			// period, so it stays on the EDF queue until its budget is
			// depleted or the period rolls over at the next replenishment.
			c.queue.Push(edf.Node{ID: s.ID, Deadline: int64(s.DeadlineNs)})
		} else if len(s.PendingJobIDs) == 0 {
			s.Quiesce()
		}
	}

	jitter := actualRuntimeNs - expectedNs
	if jitter < 0 {
		jitter = -jitter
	}
	c.recordJitter(float64(jitter))
}

func (c *Core) recordJitter(v float64) {
	c.jitter[c.jitterPos] = v
	c.jitterPos = (c.jitterPos + 1) % MaxJitterSamples
	if c.jitterLen < MaxJitterSamples {
		c.jitterLen++
	}
}

// DeadlineMissCount returns deterministic_deadline_miss_count (spec.md §6).
func (c *Core) DeadlineMissCount() uint64 { return c.deadlineMissCount }

// JitterP99Ns returns deterministic_jitter_p99_ns: the 99th percentile of the
// collected jitter samples, computed via gonum/stat.Quantile over a sorted
// copy of the ring (the ring write path itself never allocates).
func (c *Core) JitterP99Ns() uint64 {
	if c.jitterLen == 0 {
		return 0
	}
	samples := make([]float64, c.jitterLen)
	copy(samples, c.jitter[:c.jitterLen])
	sort.Float64s(samples)
	return uint64(stat.Quantile(0.99, stat.Empirical, samples, nil))
}
