// Package admission implements the parts-per-million utilization ledger from
// spec.md §4.5. It decides whether a new CPU task or AI inference task would
// push total system utilization past a configured bound, using only integer
// arithmetic (ppm) to stay free of floating-point drift, as the teacher's
// AdmissionPolicy interface in sim/admission.go does for rate limiting —
// adapted here from request-rate gating to WCET/period utilization gating.
package admission

// TimerHz is the fixed timer frequency used to convert AI task cycle budgets
// to nanoseconds, matching spec.md §6's ARM_TIMER_FREQ_HZ default.
const TimerHz uint64 = 62_500_000

// Stats reports the controller's current ledger.
type Stats struct {
	BoundPpm uint64
	UsedPpm  uint64
	Accepted uint64
	Rejected uint64
}

// Controller tracks aggregate utilization against a bound and admits or
// rejects new task requests.
type Controller struct {
	boundPpm uint64
	usedPpm  uint64
	accepted uint64
	rejected uint64
}

// New constructs a Controller with the given utilization bound in ppm
// (e.g. 850_000 for 85%, spec.md's ADMISSION_BOUND_PPM default).
func New(boundPpm uint64) *Controller {
	return &Controller{boundPpm: boundPpm}
}

// UtilPpm computes floor(wcetNs * 1_000_000 / periodNs). A zero period is
// treated as infinite utilization (always rejected), per spec.md §4.5.
func UtilPpm(wcetNs, periodNs uint64) uint64 {
	if periodNs == 0 {
		return ^uint64(0)
	}
	return (wcetNs * 1_000_000) / periodNs
}

// CyclesToNs converts an AI task's cycle budget to nanoseconds using integer
// arithmetic: (cycles * 1_000_000_000) / timerHz, per spec.md §4.8.
func CyclesToNs(cycles, timerHz uint64) uint64 {
	if timerHz == 0 {
		timerHz = TimerHz
	}
	return (cycles * 1_000_000_000) / timerHz
}

// TryAdmit admits a CPU task with the given WCET and period if doing so
// would not exceed the bound. On success it debits the controller's used
// ppm and returns the utilization charged (so the caller can later Remove it).
func (c *Controller) TryAdmit(wcetNs, periodNs uint64) (utilPpm uint64, ok bool) {
	u := UtilPpm(wcetNs, periodNs)
	if c.usedPpm+u > c.boundPpm {
		c.rejected++
		return 0, false
	}
	c.usedPpm += u
	c.accepted++
	return u, true
}

// TryAdmitAI admits an AI task by first converting its cycle WCET to ns via
// the fixed timer frequency, then applying the same bound check as TryAdmit.
func (c *Controller) TryAdmitAI(wcetCycles, periodNs, timerHz uint64) (utilPpm uint64, ok bool) {
	wcetNs := CyclesToNs(wcetCycles, timerHz)
	return c.TryAdmit(wcetNs, periodNs)
}

// Remove revokes a previously admitted task's utilization charge, decrementing
// used ppm by exactly the amount TryAdmit/TryAdmitAI returned.
func (c *Controller) Remove(utilPpm uint64) {
	if utilPpm > c.usedPpm {
		c.usedPpm = 0
		return
	}
	c.usedPpm -= utilPpm
}

// Stats returns a snapshot of the controller's ledger.
func (c *Controller) Stats() Stats {
	return Stats{BoundPpm: c.boundPpm, UsedPpm: c.usedPpm, Accepted: c.accepted, Rejected: c.rejected}
}
