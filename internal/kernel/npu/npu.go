// Package npu implements the NPU job lifecycle from spec.md §4.8: admission,
// submission against a CBS server's AI budget, and completion draining with
// deadline-miss accounting. The submission shim is a small swappable
// interface, following the teacher's pattern of constructing pluggable
// backends (KVStore, AdmissionPolicy, RoutingPolicy in sim/) behind a single
// method or two.
package npu

import (
	"errors"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/sis-kernel/core/internal/kernel/admission"
	"github.com/sis-kernel/core/internal/kernel/cbs"
)

// MaxAiCompletionSamples bounds the completion-cycle ring, per spec.md §6.
const MaxAiCompletionSamples = 32

// ErrCapacity is returned when a server cannot accept another in-flight
// inference (spec.md §4.8 "Pending job ids are bounded... capacity error").
var ErrCapacity = errors.New("npu: server at inference capacity")

// AiTaskSpec describes an AI inference workload, mirroring spec.md §3's
// CBS server inputs.
type AiTaskSpec struct {
	ID           uint32
	WcetCycles   uint64
	PeriodNs     uint64
	DeadlineNs   uint64
	Priority     uint8
	InputSize    int
	OutputSize   int
}

// Completion is a single drained result from the submission shim.
type Completion struct {
	JobID         uint64
	ExternalID    string // shim-minted external identifier (e.g. a uuid), for audit display
	ServerID      uint64
	ActualCycles  uint64
	SubmittedAtNs int64
	DeadlineNs    int64
	CompletedAtNs int64
}

// Shim abstracts the external NPU device/driver (out of scope per spec.md
// §1); the kernel core only depends on this interface.
type Shim interface {
	Submit(task AiTaskSpec, serverID uint64, nowNs int64) (jobID uint64, err error)
	PollCompletions(nowNs int64) []Completion
}

// Manager owns AI task registration, server creation, submission, and
// completion draining.
type Manager struct {
	admission *admission.Controller
	shim      Shim
	timerHz   uint64

	servers map[uint64]*cbs.Server
	tasks   []AiTaskSpec

	completionCycles   [MaxAiCompletionSamples]float64
	completionLen      int
	completionPos      int
	deadlineMisses     uint64
	nextServerID       uint64
}

// NewManager constructs a Manager backed by the given admission controller
// and submission shim.
func NewManager(ac *admission.Controller, shim Shim, timerHz uint64) *Manager {
	return &Manager{
		admission: ac,
		shim:      shim,
		timerHz:   timerHz,
		servers:   make(map[uint64]*cbs.Server),
	}
}

// RegisterAiTask passes task through admission and, if accepted, records it
// in the known-task list.
func (m *Manager) RegisterAiTask(task AiTaskSpec) bool {
	_, ok := m.admission.TryAdmitAI(task.WcetCycles, task.PeriodNs, m.timerHz)
	if !ok {
		return false
	}
	m.tasks = append(m.tasks, task)
	return true
}

// CreateAiServer passes the server's aggregate utilization through admission,
// then allocates a CBS AI server with room for maxInferences concurrent jobs.
func (m *Manager) CreateAiServer(graphID uint64, task AiTaskSpec, maxInferences uint64) (uint64, error) {
	wcetNs := admission.CyclesToNs(task.WcetCycles, m.timerHz)
	aggregateWcetNs := wcetNs * maxInferences
	_, ok := m.admission.TryAdmit(aggregateWcetNs, task.PeriodNs)
	if !ok {
		return 0, errors.New("npu: server utilization exceeds admission bound")
	}
	m.nextServerID++
	id := m.nextServerID
	s := cbs.NewAiServer(id, graphID, task.WcetCycles, wcetNs, task.PeriodNs, maxInferences)
	m.servers[id] = s
	return id, nil
}

// Server returns the AI server registered under id, if any.
func (m *Manager) Server(id uint64) (*cbs.Server, bool) {
	s, ok := m.servers[id]
	return s, ok
}

// SubmitAiToServer submits task against serverID's budget: if the server can
// admit it, the external shim is asked for a job id, then the budget is
// reserved under that id.
func (m *Manager) SubmitAiToServer(serverID uint64, task AiTaskSpec, nowNs int64) (uint64, error) {
	s, ok := m.servers[serverID]
	if !ok {
		return 0, errors.New("npu: unknown server")
	}
	if !s.CanAdmitAI(task.WcetCycles) {
		return 0, ErrCapacity
	}
	jobID, err := m.shim.Submit(task, serverID, nowNs)
	if err != nil {
		return 0, err
	}
	wcetNs := admission.CyclesToNs(task.WcetCycles, m.timerHz)
	if !s.ReserveAI(task.WcetCycles, wcetNs, jobID) {
		return 0, ErrCapacity
	}
	return jobID, nil
}

// ProcessAiJobs drains completions from the shim, removing each job from its
// server's pending list (the reserved budget stays spent, see
// cbs.Server.CompleteAI) and recording deadline-miss/percentile telemetry.
func (m *Manager) ProcessAiJobs(nowNs int64) []Completion {
	completions := m.shim.PollCompletions(nowNs)
	for _, c := range completions {
		s, ok := m.servers[c.ServerID]
		if !ok {
			continue
		}
		s.CompleteAI(c.JobID)
		if c.CompletedAtNs > c.DeadlineNs {
			m.deadlineMisses++
		}
		m.recordCompletionCycles(float64(c.ActualCycles))
	}
	return completions
}

func (m *Manager) recordCompletionCycles(v float64) {
	m.completionCycles[m.completionPos] = v
	m.completionPos = (m.completionPos + 1) % MaxAiCompletionSamples
	if m.completionLen < MaxAiCompletionSamples {
		m.completionLen++
	}
}

// AiInferenceDeadlineMisses returns ai_inference_deadline_misses.
func (m *Manager) AiInferenceDeadlineMisses() uint64 { return m.deadlineMisses }

// AiInferenceP99Cycles returns ai_inference_p99_cycles over the completion
// ring.
func (m *Manager) AiInferenceP99Cycles() uint64 {
	if m.completionLen == 0 {
		return 0
	}
	buf := make([]float64, m.completionLen)
	copy(buf, m.completionCycles[:m.completionLen])
	sort.Float64s(buf)
	return uint64(stat.Quantile(0.99, stat.Empirical, buf, nil))
}

// KnownTasks returns the registered AI task specs.
func (m *Manager) KnownTasks() []AiTaskSpec { return m.tasks }
