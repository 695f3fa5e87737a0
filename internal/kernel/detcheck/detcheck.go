// Package detcheck enforces the "no-alloc / no-block / bounded-loops"
// discipline spec.md §4.11 requires of operators scheduled under
// deterministic mode. It is grounded on original_source's
// crates/kernel/src/deterministic.rs ConstraintEnforcer and
// verify_deterministic_constraints, translated from a per-cycle counter
// struct into a small Go type operators call into at their boundaries.
package detcheck

// Enforcer tracks allocation, blocking-call, and loop-iteration checks for
// one deterministic execution cycle.
type Enforcer struct {
	maxLoopIterations uint32

	allocationCount uint32
	blockingCount   uint32
}

// NewEnforcer constructs an Enforcer bounding loop iterations at
// maxLoopIterations.
func NewEnforcer(maxLoopIterations uint32) *Enforcer {
	return &Enforcer{maxLoopIterations: maxLoopIterations}
}

// CheckAllocation records an attempted dynamic allocation. Deterministic
// operators must never allocate; the call always reports false and bumps
// check_allocation for later violation accounting.
func (e *Enforcer) CheckAllocation() bool {
	e.allocationCount++
	return false
}

// CheckBlockingCall records an attempted blocking call. Deterministic
// operators must never block; the call always reports false and bumps
// check_blocking_call.
func (e *Enforcer) CheckBlockingCall() bool {
	e.blockingCount++
	return false
}

// CheckLoopIteration reports whether iteration is still within the bound
// configured at construction.
func (e *Enforcer) CheckLoopIteration(iteration uint32) bool {
	return iteration < e.maxLoopIterations
}

// Reset clears the allocation/blocking counters for a new execution cycle,
// leaving the loop-iteration bound untouched.
func (e *Enforcer) Reset() {
	e.allocationCount = 0
	e.blockingCount = 0
}

// Stats returns (allocation attempts, blocking-call attempts) since the last
// Reset.
func (e *Enforcer) Stats() (allocations, blocking uint32) {
	return e.allocationCount, e.blockingCount
}

// Violation enumerates which constraint VerifyDeterministicConstraints found
// broken, for telemetry keying (det_constraint_violation_alloc /
// det_constraint_violation_block).
type Violation int

const (
	ViolationNone Violation = iota
	ViolationAllocation
	ViolationBlocking
)

// VerifyDeterministicConstraints checks e's accumulated counters and reports whether the operator satisfied deterministic-mode discipline,
// along with which violation (if any) to report.
func VerifyDeterministicConstraints(e *Enforcer) (ok bool, violation Violation) {
	allocs, blocks := e.Stats()
	if allocs > 0 {
		return false, ViolationAllocation
	}
	if blocks > 0 {
		return false, ViolationBlocking
	}
	return true, ViolationNone
}
