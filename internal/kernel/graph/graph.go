// Package graph implements the operator/channel registry described in
// spec.md §4.3: a graph owns a set of typed operators and bounded channels,
// enforces construction-time invariants, and executes bounded ticks choosing
// the highest-priority runnable operator each step. Per-operator latency
// percentiles and the tick-execution discipline are modeled on the teacher's
// Simulator.Step in sim/simulator.go.
package graph

import (
	"errors"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/sis-kernel/core/internal/kernel/arena"
	"github.com/sis-kernel/core/internal/kernel/channel"
)

// Stage is a coarse pipeline classification for an operator (spec.md
// GLOSSARY).
type Stage uint8

const (
	StageAcquire Stage = iota
	StageClean
	StageExplore
	StageModel
	StageExplain
)

// Errors returned by graph construction.
var (
	ErrBadChannelCapacity = errors.New("graph: channel capacity out of range [1, 65535]")
	ErrUnknownChannel     = errors.New("graph: referenced channel does not exist")
)

const maxLatencySamples = 128

// Func is an operator's executable body. in is nil when the operator has no
// input channel; a nil returned handle means the operator produced nothing
// this tick.
type Func func(a *arena.Arena, in *arena.Handle) (*arena.Handle, error)

// OperatorSpec describes an operator at construction time.
type OperatorSpec struct {
	Func      Func
	Stage     Stage
	Priority  uint8
	InCh      *uint32 // channel id, nil if none
	OutCh     *uint32
	InSchema  *uint32
	OutSchema *uint32
}

// OperatorStats tracks execution counts and latency percentiles.
type OperatorStats struct {
	Runs    uint64
	TotalNs uint64

	samples    [maxLatencySamples]float64
	sampleLen  int
	samplePos  int
}

func (s *OperatorStats) record(elapsedNs int64) {
	s.Runs++
	s.TotalNs += uint64(elapsedNs)
	s.samples[s.samplePos] = float64(elapsedNs)
	s.samplePos = (s.samplePos + 1) % maxLatencySamples
	if s.sampleLen < maxLatencySamples {
		s.sampleLen++
	}
}

func (s *OperatorStats) percentile(p float64) uint64 {
	if s.sampleLen == 0 {
		return 0
	}
	buf := make([]float64, s.sampleLen)
	copy(buf, s.samples[:s.sampleLen])
	sort.Float64s(buf)
	return uint64(stat.Quantile(p, stat.Empirical, buf, nil))
}

// P50 returns the 50th percentile of recent execution latencies.
func (s *OperatorStats) P50() uint64 { return s.percentile(0.50) }

// P95 returns the 95th percentile of recent execution latencies.
func (s *OperatorStats) P95() uint64 { return s.percentile(0.95) }

// P99 returns the 99th percentile of recent execution latencies.
func (s *OperatorStats) P99() uint64 { return s.percentile(0.99) }

// Operator is a registered, executable node in the graph.
type Operator struct {
	ID        uint32
	Stage     Stage
	Func      Func
	Priority  uint8
	InCh      *uint32
	OutCh     *uint32
	InSchema  *uint32
	OutSchema *uint32
	Stats     OperatorStats
}

type channelEntry struct {
	id   uint32
	ring *channel.Ring[arena.Handle]
}

// Graph owns a fixed arena, a set of operators, and a set of channels.
type Graph struct {
	ID uint64

	Arena *arena.Arena

	Deterministic bool
	WCETNs        uint64
	PeriodNs      uint64
	DeadlineNs    uint64

	operators map[uint32]*Operator
	order     []uint32 // cached priority-desc/id-asc execution order
	channels  map[uint32]*channelEntry
	nextOpID  uint32
	nextChID  uint32

	started bool

	deadlineMissCount     uint64
	schemaMismatchCount   uint64
	NowFunc               func() int64 // overridable clock for deterministic tests
}

// New constructs an empty graph backed by an arena of arenaSize bytes.
func New(id uint64, arenaSize int) *Graph {
	return &Graph{
		ID:        id,
		Arena:     arena.New(arenaSize, arena.DefaultAlign),
		operators: make(map[uint32]*Operator),
		channels:  make(map[uint32]*channelEntry),
	}
}

// ConfigureDeterministic sets the graph's budget/period/deadline and marks it
// deterministic, corresponding to the ConfigureDeterministic control frame
// (spec.md §4.9).
func (g *Graph) ConfigureDeterministic(wcetNs, periodNs, deadlineNs uint64) {
	g.Deterministic = true
	g.WCETNs = wcetNs
	g.PeriodNs = periodNs
	g.DeadlineNs = deadlineNs
}

// AddChannel registers a new bounded channel with the given capacity,
// returning its id. Capacity must be in [1, 65535].
func (g *Graph) AddChannel(capacity int) (uint32, error) {
	if capacity < 1 || capacity > 65535 {
		return 0, ErrBadChannelCapacity
	}
	id := g.nextChID
	g.nextChID++
	g.channels[id] = &channelEntry{id: id, ring: channel.NewRing[arena.Handle](capacity)}
	return id, nil
}

// Channel returns the ring registered under id, if any.
func (g *Graph) Channel(id uint32) (*channel.Ring[arena.Handle], bool) {
	c, ok := g.channels[id]
	if !ok {
		return nil, false
	}
	return c.ring, true
}

// AddOperator registers a new operator and returns its id. If InCh/OutCh are
// specified they must reference existing channels.
func (g *Graph) AddOperator(spec OperatorSpec) (uint32, error) {
	if spec.InCh != nil {
		if _, ok := g.channels[*spec.InCh]; !ok {
			return 0, ErrUnknownChannel
		}
	}
	if spec.OutCh != nil {
		if _, ok := g.channels[*spec.OutCh]; !ok {
			return 0, ErrUnknownChannel
		}
	}
	id := g.nextOpID
	g.nextOpID++
	op := &Operator{
		ID:        id,
		Stage:     spec.Stage,
		Func:      spec.Func,
		Priority:  spec.Priority,
		InCh:      spec.InCh,
		OutCh:     spec.OutCh,
		InSchema:  spec.InSchema,
		OutSchema: spec.OutSchema,
	}
	g.operators[id] = op
	g.resortOrder()
	return id, nil
}

func (g *Graph) resortOrder() {
	order := make([]uint32, 0, len(g.operators))
	for id := range g.operators {
		order = append(order, id)
	}
	sort.Slice(order, func(i, j int) bool {
		oi, oj := g.operators[order[i]], g.operators[order[j]]
		if oi.Priority != oj.Priority {
			return oi.Priority > oj.Priority
		}
		return oi.ID < oj.ID
	})
	g.order = order
}

// OperatorCount returns the number of registered operators (ops counter).
func (g *Graph) OperatorCount() int { return len(g.operators) }

// ChannelCount returns the number of registered channels (channels counter).
func (g *Graph) ChannelCount() int { return len(g.channels) }

// DeadlineMissCount returns the graph-level deadline_miss_count counter.
func (g *Graph) DeadlineMissCount() uint64 { return g.deadlineMissCount }

// SchemaMismatchCount returns schema_mismatch_count (spec.md §4.2/§4.3).
func (g *Graph) SchemaMismatchCount() uint64 { return g.schemaMismatchCount }

// Operator returns operator id's current record.
func (g *Graph) Operator(id uint32) (*Operator, bool) {
	op, ok := g.operators[id]
	return op, ok
}

func (g *Graph) now() int64 {
	if g.NowFunc != nil {
		return g.NowFunc()
	}
	return nowMonotonic()
}

// RunSteps executes at most n scheduling ticks, returning the number actually
// executed. Each tick picks the highest-priority runnable operator (ties by
// lowest id) whose input channel is non-empty (or which has no input
// channel), executes its function once, and transfers any produced handle to
// its output channel.
func (g *Graph) RunSteps(n int) int {
	g.started = true
	executed := 0
	for i := 0; i < n; i++ {
		if !g.tick() {
			break
		}
		executed++
	}
	return executed
}

func (g *Graph) tick() bool {
	for _, id := range g.order {
		op := g.operators[id]

		var in *arena.Handle
		var inCh *channelEntry
		if op.InCh != nil {
			inCh = g.channels[*op.InCh]
			peeked, ok := inCh.ring.Peek()
			if !ok {
				continue // not runnable this tick
			}
			if op.InSchema != nil {
				hdr, err := g.Arena.Header(peeked)
				if err == nil && hdr.SchemaID != *op.InSchema {
					inCh.ring.TryDequeue() // handle rejected (spec §7): drop it, don't jam the channel head
					g.schemaMismatchCount++
					continue // skipped: no runs++ on this tick
				}
			}
			h, _ := inCh.ring.TryDequeue()
			in = &h
		}

		start := g.now()
		out, _ := op.Func(g.Arena, in)
		elapsed := g.now() - start
		op.Stats.record(elapsed)

		if out != nil && op.OutCh != nil {
			outCh := g.channels[*op.OutCh]
			outCh.ring.TryEnqueue(*out)
		}
		return true
	}
	return false
}
