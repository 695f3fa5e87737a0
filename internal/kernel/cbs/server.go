// Package cbs implements the Constant Bandwidth Server described in
// spec.md §4.6: per-graph or per-AI-task budget, period, deadline, and
// replenishment, enforcing that one workload's overrun is invisible to
// another. Its reserve/release discipline is modeled on the teacher's KV
// cache block budgeting in sim/kvcache.go (AllocateKVBlocks/ReleaseKVBlocks),
// adapted from block counts to nanosecond/cycle budgets.
package cbs

// Type distinguishes a plain graph server from one backing AI inference.
type Type int

const (
	TypeGraph Type = iota
	TypeAiInference
)

// State is the server's coarse lifecycle state (spec.md §4.6).
type State int

const (
	StateIdle State = iota
	StateActive
	StateDepleted
)

// Server is a single CBS budget holder.
type Server struct {
	ID      uint64
	GraphID uint64
	Type    Type

	BudgetNs          uint64
	PeriodNs          uint64
	RemainingBudgetNs uint64
	NextReplenishNs   uint64
	DeadlineNs        uint64
	state             State

	// AI-inference-only fields.
	AiBudgetCycles    uint64
	AiRemainingCycles uint64
	AiInferenceCount  uint64
	AiMaxInferences   uint64
	PendingJobIDs     []uint64
}

// New constructs a Graph-type server with the given WCET and period. The
// initial deadline and next replenishment both land at periodNs, matching
// spec.md §4.6's replenishment contract (deadline tracks next_replenish_ns).
func New(id, graphID uint64, wcetNs, periodNs uint64) *Server {
	return &Server{
		ID:                id,
		GraphID:           graphID,
		Type:              TypeGraph,
		BudgetNs:          wcetNs,
		PeriodNs:          periodNs,
		RemainingBudgetNs: wcetNs,
		NextReplenishNs:   periodNs,
		DeadlineNs:        periodNs,
		state:             StateIdle,
	}
}

// NewAiServer constructs an AI-inference server whose ns budget is
// wcetNs*maxInferences and whose cycle budget is wcetCycles*maxInferences,
// per spec.md §4.6.
func NewAiServer(id, graphID uint64, wcetCycles, wcetNs, periodNs, maxInferences uint64) *Server {
	budgetNs := wcetNs * maxInferences
	budgetCycles := wcetCycles * maxInferences
	return &Server{
		ID:                id,
		GraphID:           graphID,
		Type:              TypeAiInference,
		BudgetNs:          budgetNs,
		PeriodNs:          periodNs,
		RemainingBudgetNs: budgetNs,
		NextReplenishNs:   periodNs,
		DeadlineNs:        periodNs,
		state:             StateIdle,
		AiBudgetCycles:    budgetCycles,
		AiRemainingCycles: budgetCycles,
		AiMaxInferences:   maxInferences,
		PendingJobIDs:     make([]uint64, 0, maxInferences),
	}
}

// State returns the server's current lifecycle state.
func (s *Server) State() State { return s.state }

// Active reports whether the server is currently runnable.
func (s *Server) Active() bool { return s.state == StateActive }

// Replenish resets the budget and advances the replenishment schedule once
// nowNs crosses NextReplenishNs. It returns true iff a replenishment occurred.
func (s *Server) Replenish(nowNs uint64) bool {
	if nowNs < s.NextReplenishNs {
		return false
	}
	s.RemainingBudgetNs = s.BudgetNs
	s.NextReplenishNs += s.PeriodNs
	s.DeadlineNs = s.NextReplenishNs
	if s.Type == TypeAiInference {
		s.AiRemainingCycles = s.AiBudgetCycles
		s.AiInferenceCount = 0
		s.PendingJobIDs = s.PendingJobIDs[:0]
	}
	if s.state == StateDepleted {
		s.state = StateIdle
	}
	return true
}

// Activate transitions Idle->Active, for servers with budget and pending
// work; called by the scheduler after a (re)plenishment check.
func (s *Server) Activate() {
	if s.state == StateIdle && s.RemainingBudgetNs > 0 {
		s.state = StateActive
	}
}

// Quiesce transitions Active->Idle when a server has no pending work left
// but still holds budget.
func (s *Server) Quiesce() {
	if s.state == StateActive {
		s.state = StateIdle
	}
}

// ConsumeBudget subtracts ns from the remaining budget. On underflow the
// server is marked Depleted and ConsumeBudget returns false.
func (s *Server) ConsumeBudget(ns uint64) bool {
	if ns > s.RemainingBudgetNs {
		s.RemainingBudgetNs = 0
		s.state = StateDepleted
		return false
	}
	s.RemainingBudgetNs -= ns
	if s.RemainingBudgetNs == 0 {
		s.state = StateDepleted
		return true
	}
	return true
}

// CanAdmitAI reports whether an inference costing wcetCycles can still be
// reserved: both the cycle budget and the inference-count cap must hold,
// whichever is tighter (spec.md §9 open-question resolution).
func (s *Server) CanAdmitAI(wcetCycles uint64) bool {
	if s.Type != TypeAiInference {
		return false
	}
	if s.AiInferenceCount >= s.AiMaxInferences {
		return false
	}
	if wcetCycles > s.AiRemainingCycles {
		return false
	}
	if uint64(len(s.PendingJobIDs)) >= s.AiMaxInferences {
		return false
	}
	return true
}

// ReserveAI atomically reserves budget for jobID: on success it debits the
// cycle budget and the equivalent ns budget, increments the inference count,
// and appends jobID to the pending list.
func (s *Server) ReserveAI(wcetCycles, wcetNs uint64, jobID uint64) bool {
	if !s.CanAdmitAI(wcetCycles) {
		return false
	}
	s.AiRemainingCycles -= wcetCycles
	if wcetNs > s.RemainingBudgetNs {
		s.RemainingBudgetNs = 0
	} else {
		s.RemainingBudgetNs -= wcetNs
	}
	s.AiInferenceCount++
	s.PendingJobIDs = append(s.PendingJobIDs, jobID)
	return true
}

// CompleteAI removes jobID from the pending list if tracked. This
// implementation keeps reserved budget regardless of actual consumption
// (no slack stealing) — the open question in spec.md §9 resolved toward the
// simplest policy that keeps the RemainingBudgetNs invariants intact.
func (s *Server) CompleteAI(jobID uint64) bool {
	for i, id := range s.PendingJobIDs {
		if id == jobID {
			s.PendingJobIDs = append(s.PendingJobIDs[:i], s.PendingJobIDs[i+1:]...)
			return true
		}
	}
	return false
}
