package scheduler

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sis-kernel/core/internal/kernel/cbs"
)

// TestScenarioD_DeadlineMissAccounting mirrors spec.md §8 Scenario D: a
// server whose deadline is already 5_000 is scheduled at now_ns=6_000,
// one tick late, and the miss must be counted exactly once.
func TestScenarioD_DeadlineMissAccounting(t *testing.T) {
	c := New(8)
	s := cbs.New(1, 100, 1_000, 1_000_000) // long period so replenish won't fire before now_ns=6_000
	s.DeadlineNs = 5_000                   // simulate a deadline already set mid-period
	c.AddServer(s)

	graphID, ok := c.ScheduleNext(6_000)
	require.True(t, ok)
	require.Equal(t, uint64(100), graphID)
	require.Equal(t, uint64(1), c.DeadlineMissCount())

	c.CompleteExecution(100, 1_000, 0)
	require.Equal(t, uint64(1_000), c.JitterP99Ns())
}

func TestScheduleNext_EDFArbitrationAcrossServers(t *testing.T) {
	c := New(8)
	s1 := cbs.New(1, 10, 1_000, 1_500_000)
	s2 := cbs.New(2, 20, 1_000, 1_000_000)
	s3 := cbs.New(3, 30, 1_000, 2_000_000)
	c.AddServer(s1)
	c.AddServer(s2)
	c.AddServer(s3)

	g, ok := c.ScheduleNext(0)
	require.True(t, ok)
	require.Equal(t, uint64(20), g, "server 2 has the earliest deadline")
}

func TestScheduleNext_EmptyReturnsNotOk(t *testing.T) {
	c := New(8)
	_, ok := c.ScheduleNext(0)
	require.False(t, ok)
}

func TestCompleteExecution_DepletedServerLeavesQueue(t *testing.T) {
	c := New(8)
	s := cbs.New(1, 100, 1_000, 5_000)
	c.AddServer(s)

	_, ok := c.ScheduleNext(0)
	require.True(t, ok)
	c.CompleteExecution(100, 1_000, 1_000) // exhausts the whole budget

	require.Equal(t, uint64(0), s.RemainingBudgetNs)
	_, ok = c.queue.Pop()
	require.False(t, ok, "depleted server must not remain queued")
}
