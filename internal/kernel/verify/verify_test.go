package verify

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCycleCeiling_MatchesFixedTable(t *testing.T) {
	require.Equal(t, uint64(1_000), CycleCeiling(OpContextSwitch))
	require.Equal(t, uint64(200), CycleCeiling(OpInterruptEntry))
	require.Equal(t, uint64(500), CycleCeiling(OpSyscallEntry))
}

func TestRun_DisabledHookShortCircuits(t *testing.T) {
	h := &Hooks{}
	ran := false
	result := h.Run(OpBoot, false, Config{}, func() { ran = true })
	require.Equal(t, ResultDisabled, result)
	require.False(t, ran)
	require.Equal(t, uint64(1), h.Stats().DisabledHooks)
}

func TestRun_PreConditionFailureSkipsBody(t *testing.T) {
	h := &Hooks{Pre: func(Operation) (bool, string) { return false, "not_in_supervisor_mode" }}
	ran := false
	result := h.Run(OpBoot, true, Config{PreConditions: true}, func() { ran = true })
	require.Equal(t, ResultPreConditionFailed, result)
	require.False(t, ran)
	require.Equal(t, uint64(1), h.Stats().FailedVerifications)
}

func TestRun_PerformanceBoundExceededReported(t *testing.T) {
	cycles := []uint64{0, 5_000} // exceeds the 1000-cycle context-switch ceiling
	i := 0
	h := &Hooks{ReadCycles: func() uint64 { v := cycles[i]; i++; return v }}
	result := h.Run(OpContextSwitch, true, Config{PerformanceTracking: true}, func() {})
	require.Equal(t, ResultPerformanceBoundExceeded, result)
	require.Equal(t, uint64(1), h.Stats().PerformanceViolations)
}

func TestRun_SuccessPathRunsBodyAndRecordsSuccess(t *testing.T) {
	h := &Hooks{}
	ran := false
	result := h.Run(OpShellCommand, true, Config{PreConditions: true, PostConditions: true, Invariants: true}, func() { ran = true })
	require.Equal(t, ResultSuccess, result)
	require.True(t, ran)
	require.Equal(t, uint64(1), h.Stats().SuccessfulVerifications)
}

func TestRun_LightweightModeSkipsInvariantCheck(t *testing.T) {
	invariantCalled := false
	h := &Hooks{Invariant: func() (bool, string) { invariantCalled = true; return false, "x" }}
	result := h.Run(OpContextSwitch, true, Config{Invariants: true, LightweightMode: true}, func() {})
	require.Equal(t, ResultSuccess, result)
	require.False(t, invariantCalled)
}

func TestStats_SuccessRateExcludesDisabledHooks(t *testing.T) {
	h := &Hooks{}
	h.Run(OpBoot, false, Config{}, func() {})
	h.Run(OpBoot, true, Config{}, func() {})
	require.Equal(t, 1.0, h.Stats().SuccessRate())
}

func TestPanic_SetsPanickedWithReason(t *testing.T) {
	h := &Hooks{}
	panicked, _ := h.Panicked()
	require.False(t, panicked)

	h.Panic("context_switch invariant violation")
	panicked, why := h.Panicked()
	require.True(t, panicked)
	require.Equal(t, "context_switch invariant violation", why)
}
