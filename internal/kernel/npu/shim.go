package npu

import (
	"github.com/google/uuid"

	"github.com/sis-kernel/core/internal/kernel/admission"
)

// pendingJob tracks an in-flight submission for the default shim.
type pendingJob struct {
	jobID      uint64
	serverID   uint64
	task       AiTaskSpec
	submitted  int64
	completeAt int64
}

// DefaultShim is an in-process stand-in for the external NPU driver (the
// real device is out of scope per spec.md §1). It completes a job after a
// fixed number of nanoseconds derived from the task's cycle budget. The
// internal bookkeeping key stays the plain uint64 counter the CBS server
// budget tracking already uses, but each submission is also minted a
// google/uuid external identifier — surfaced on Completion.ExternalID for
// audit_json display — matching the entity-id minting style used elsewhere
// in the pack (e.g. the ocx backend and tutu services).
type DefaultShim struct {
	timerHz uint64
	next    uint64
	pending []pendingJob
	ids     map[uint64]uuid.UUID
}

// NewDefaultShim constructs a DefaultShim converting cycles to ns at timerHz.
func NewDefaultShim(timerHz uint64) *DefaultShim {
	return &DefaultShim{timerHz: timerHz, ids: make(map[uint64]uuid.UUID)}
}

// Submit records a pending job that will complete after its WCET elapses.
func (d *DefaultShim) Submit(task AiTaskSpec, serverID uint64, nowNs int64) (uint64, error) {
	d.next++
	jobID := d.next
	d.ids[jobID] = uuid.New()
	wcetNs := int64(admission.CyclesToNs(task.WcetCycles, d.timerHz))
	d.pending = append(d.pending, pendingJob{
		jobID:      jobID,
		serverID:   serverID,
		task:       task,
		submitted:  nowNs,
		completeAt: nowNs + wcetNs,
	})
	return jobID, nil
}

// PollCompletions returns every pending job whose simulated completion time
// has elapsed, removing them from the pending set.
func (d *DefaultShim) PollCompletions(nowNs int64) []Completion {
	var done []Completion
	remaining := d.pending[:0]
	for _, p := range d.pending {
		if p.completeAt <= nowNs {
			done = append(done, Completion{
				JobID:         p.jobID,
				ExternalID:    d.ids[p.jobID].String(),
				ServerID:      p.serverID,
				ActualCycles:  p.task.WcetCycles,
				SubmittedAtNs: p.submitted,
				DeadlineNs:    p.submitted + int64(p.task.DeadlineNs),
				CompletedAtNs: p.completeAt,
			})
			delete(d.ids, p.jobID)
		} else {
			remaining = append(remaining, p)
		}
	}
	d.pending = remaining
	return done
}
