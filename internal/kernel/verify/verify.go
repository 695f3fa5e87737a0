// Package verify implements the runtime verification hooks of spec.md
// §4.12: fixed per-operation cycle ceilings with pre/post-condition flags
// around named critical sections. It is a direct generalization of
// original_source's arch/riscv64/verification.rs VerificationHookConfig /
// verification_hook / get_performance_bound, translated from its
// cfg-macro/static-global style into a stateful Hooks type.
package verify

// Operation names a critical section subject to verification hooks.
type Operation int

const (
	OpBoot Operation = iota
	OpHeapInit
	OpContextSwitch
	OpSyscallEntry
	OpSyscallExit
	OpInterruptEntry
	OpInterruptExit
	OpMemoryAlloc
	OpMemoryDealloc
	OpDeviceInit
	OpShellCommand
	OpArchInit
)

// cycleCeilings mirrors get_performance_bound's fixed table.
var cycleCeilings = map[Operation]uint64{
	OpBoot:           100_000,
	OpHeapInit:       50_000,
	OpContextSwitch:  1_000,
	OpSyscallEntry:   500,
	OpSyscallExit:    500,
	OpInterruptEntry: 200,
	OpInterruptExit:  200,
	OpMemoryAlloc:    2_000,
	OpMemoryDealloc:  1_500,
	OpDeviceInit:     10_000,
	OpShellCommand:   50_000,
	OpArchInit:       200_000,
}

// CycleCeiling returns the fixed cycle budget for op.
func CycleCeiling(op Operation) uint64 { return cycleCeilings[op] }

// Config mirrors VerificationHookConfig: which checks a given invocation of
// Hooks.Run should perform.
type Config struct {
	PreConditions       bool
	PostConditions       bool
	Invariants            bool
	PerformanceTracking bool
	LightweightMode       bool
}

// Result mirrors VerificationHookResult.
type Result int

const (
	ResultSuccess Result = iota
	ResultPreConditionFailed
	ResultPostConditionFailed
	ResultInvariantViolation
	ResultPerformanceBoundExceeded
	ResultDisabled
)

// Stats mirrors VerificationHookStats.
type Stats struct {
	TotalHooks              uint64
	SuccessfulVerifications uint64
	FailedVerifications     uint64
	DisabledHooks           uint64
	PerformanceViolations   uint64
}

// SuccessRate returns the fraction of executed (non-disabled) hooks that
// succeeded, for export alongside Stats.
func (s Stats) SuccessRate() float64 {
	executed := s.TotalHooks - s.DisabledHooks
	if executed == 0 {
		return 1
	}
	return float64(s.SuccessfulVerifications) / float64(executed)
}

// PreCondition and PostCondition let callers supply the operation-specific
// checks original_source's check_pre_conditions/check_post_conditions
// special-case per CriticalOperation (stack alignment, supervisor mode,
// etc). The kernel core has no such machine-level state to check, so a nil
// func always passes; callers wire in their own invariant as needed.
type PreCondition func(op Operation) (ok bool, reason string)
type PostCondition func(op Operation) (ok bool, reason string)
type InvariantCheck func() (ok bool, name string)

// Hooks runs verification hooks and accumulates Stats.
type Hooks struct {
	Pre        PreCondition
	Post       PostCondition
	Invariant  InvariantCheck
	ReadCycles func() uint64

	stats    Stats
	panicked bool
	panicWhy string
}

// Stats returns a snapshot of accumulated hook statistics.
func (h *Hooks) Stats() Stats { return h.stats }

// PanicLine is the single line halted execution writes to the telemetry
// transport, mirroring original_source's panic_handler (which prints the
// literal string "PANIC\n" over the UART before hanging).
const PanicLine = "PANIC\n"

// Panic marks an unrecoverable invariant violation outside a deterministic
// region (spec.md §7: "unrecoverable conditions... halt with a single PANIC
// line on the telemetry transport and an implementation-defined hang").
// Violations inside a deterministic region are recoverable — the scheduler
// flags the offending operator instead — so callers must only invoke this
// for non-deterministic-region failures.
func (h *Hooks) Panic(why string) {
	h.panicked = true
	h.panicWhy = why
}

// Panicked reports whether Panic has been called, and with what reason.
func (h *Hooks) Panicked() (bool, string) { return h.panicked, h.panicWhy }

// Run executes cfg's checks around fn for the named operation, mirroring
// verification_hook's enabled/pre/invariant/performance sequencing.
func (h *Hooks) Run(op Operation, enabled bool, cfg Config, fn func()) Result {
	h.stats.TotalHooks++

	if !enabled {
		h.stats.DisabledHooks++
		return ResultDisabled
	}

	var startCycles uint64
	tracking := cfg.PerformanceTracking && h.ReadCycles != nil
	if tracking {
		startCycles = h.ReadCycles()
	}

	if cfg.PreConditions && h.Pre != nil {
		if ok, _ := h.Pre(op); !ok {
			h.stats.FailedVerifications++
			return ResultPreConditionFailed
		}
	}

	if cfg.Invariants && !cfg.LightweightMode && h.Invariant != nil {
		if ok, _ := h.Invariant(); !ok {
			h.stats.FailedVerifications++
			return ResultInvariantViolation
		}
	}

	fn()

	if cfg.PostConditions && h.Post != nil {
		if ok, _ := h.Post(op); !ok {
			h.stats.FailedVerifications++
			return ResultPostConditionFailed
		}
	}

	if tracking {
		elapsed := h.ReadCycles() - startCycles
		if elapsed > CycleCeiling(op) {
			h.stats.PerformanceViolations++
			return ResultPerformanceBoundExceeded
		}
	}

	h.stats.SuccessfulVerifications++
	return ResultSuccess
}
