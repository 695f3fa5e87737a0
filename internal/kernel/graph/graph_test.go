package graph

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sis-kernel/core/internal/kernel/arena"
)

func fakeClock(steps ...int64) func() int64 {
	i := -1
	return func() int64 {
		i++
		if i >= len(steps) {
			return steps[len(steps)-1]
		}
		return steps[i]
	}
}

func TestAddChannel_RejectsOutOfRangeCapacity(t *testing.T) {
	g := New(1, 4096)
	_, err := g.AddChannel(0)
	require.ErrorIs(t, err, ErrBadChannelCapacity)

	_, err = g.AddChannel(65536)
	require.ErrorIs(t, err, ErrBadChannelCapacity)
}

func TestAddOperator_RejectsUnknownChannel(t *testing.T) {
	g := New(1, 4096)
	bogus := uint32(999)
	_, err := g.AddOperator(OperatorSpec{InCh: &bogus})
	require.ErrorIs(t, err, ErrUnknownChannel)
}

func TestCreateAddStart_RunnableWithZeroExecutions(t *testing.T) {
	g := New(1, 4096)
	_, err := g.AddOperator(OperatorSpec{
		Func: func(a *arena.Arena, in *arena.Handle) (*arena.Handle, error) { return nil, nil },
	})
	require.NoError(t, err)

	executed := g.RunSteps(0)
	require.Equal(t, 0, executed)
	require.Equal(t, 1, g.OperatorCount())
}

func TestRunSteps_PicksHighestPriorityThenLowestID(t *testing.T) {
	g := New(1, 4096)
	var calls []uint32
	mk := func(id *uint32) Func {
		return func(a *arena.Arena, in *arena.Handle) (*arena.Handle, error) {
			calls = append(calls, *id)
			return nil, nil
		}
	}
	var id0, id1, id2 uint32
	opFunc0 := mk(&id0)
	opFunc1 := mk(&id1)
	opFunc2 := mk(&id2)

	a0, _ := g.AddOperator(OperatorSpec{Func: opFunc0, Priority: 5})
	id0 = a0
	a1, _ := g.AddOperator(OperatorSpec{Func: opFunc1, Priority: 10})
	id1 = a1
	a2, _ := g.AddOperator(OperatorSpec{Func: opFunc2, Priority: 10})
	id2 = a2

	executed := g.RunSteps(1)
	require.Equal(t, 1, executed)
	require.Equal(t, []uint32{a1}, calls, "equal priority ties broken by lowest id")
}

func TestRunSteps_TransfersHandleAcrossChannels(t *testing.T) {
	g := New(1, 4096)
	g.NowFunc = fakeClock(0, 5)

	outCh, err := g.AddChannel(4)
	require.NoError(t, err)

	producer := func(a *arena.Arena, in *arena.Handle) (*arena.Handle, error) {
		h, err := a.AllocUninit(64, 0)
		if err != nil {
			return nil, err
		}
		return &h, nil
	}
	_, err = g.AddOperator(OperatorSpec{Func: producer, OutCh: &outCh, Priority: 1})
	require.NoError(t, err)

	executed := g.RunSteps(1)
	require.Equal(t, 1, executed)

	ring, _ := g.Channel(outCh)
	require.Equal(t, 1, ring.Depth())
}

func TestRunSteps_SchemaMismatchSkipsWithoutRun(t *testing.T) {
	g := New(1, 4096)
	inCh, _ := g.AddChannel(4)
	wantSchema := uint32(42)
	consumer := func(a *arena.Arena, in *arena.Handle) (*arena.Handle, error) { return nil, nil }
	opID, err := g.AddOperator(OperatorSpec{Func: consumer, InCh: &inCh, InSchema: &wantSchema})
	require.NoError(t, err)

	ring, _ := g.Channel(inCh)
	h, err := g.Arena.AllocUninit(8, 0)
	require.NoError(t, err)
	hdr, _ := g.Arena.HeaderMut(h)
	hdr.SchemaID = 7 // mismatched
	ring.TryEnqueue(h)

	executed := g.RunSteps(1)
	require.Equal(t, 0, executed)
	require.Equal(t, uint64(1), g.SchemaMismatchCount())

	op, _ := g.Operator(opID)
	require.Equal(t, uint64(0), op.Stats.Runs)
	require.Equal(t, 0, ring.Depth(), "rejected handle is dropped, not left jamming the channel head")
}

func TestRunSteps_SchemaMismatchDropsHandleSoNextItemIsNotBlocked(t *testing.T) {
	g := New(1, 4096)
	inCh, _ := g.AddChannel(4)
	wantSchema := uint32(42)
	ran := false
	consumer := func(a *arena.Arena, in *arena.Handle) (*arena.Handle, error) { ran = true; return nil, nil }
	opID, err := g.AddOperator(OperatorSpec{Func: consumer, InCh: &inCh, InSchema: &wantSchema})
	require.NoError(t, err)

	ring, _ := g.Channel(inCh)
	bad, err := g.Arena.AllocUninit(8, 0)
	require.NoError(t, err)
	badHdr, _ := g.Arena.HeaderMut(bad)
	badHdr.SchemaID = 7 // mismatched
	ring.TryEnqueue(bad)

	good, err := g.Arena.AllocUninit(8, 0)
	require.NoError(t, err)
	goodHdr, _ := g.Arena.HeaderMut(good)
	goodHdr.SchemaID = wantSchema
	ring.TryEnqueue(good)

	executed := g.RunSteps(1)
	require.Equal(t, 0, executed, "first tick rejects the mismatched handle")
	require.Equal(t, uint64(1), g.SchemaMismatchCount())
	require.False(t, ran)

	executed = g.RunSteps(1)
	require.Equal(t, 1, executed, "second tick reaches the matching handle behind it")
	require.True(t, ran)

	op, _ := g.Operator(opID)
	require.Equal(t, uint64(1), op.Stats.Runs)
	require.Equal(t, uint64(1), g.SchemaMismatchCount(), "no further mismatch is recorded once the bad handle is gone")
}

func TestRunSteps_NoInputChannelAlwaysRunnable(t *testing.T) {
	g := New(1, 4096)
	g.NowFunc = fakeClock(0, 1, 2, 3)
	count := 0
	_, err := g.AddOperator(OperatorSpec{Func: func(a *arena.Arena, in *arena.Handle) (*arena.Handle, error) {
		count++
		return nil, nil
	}})
	require.NoError(t, err)

	executed := g.RunSteps(3)
	require.Equal(t, 3, executed)
	require.Equal(t, 3, count)
}

func TestOperatorStats_PercentilesOverSamples(t *testing.T) {
	g := New(1, 4096)
	clockVals := []int64{0, 10, 10, 20, 20, 30, 30, 40}
	g.NowFunc = fakeClock(clockVals...)
	opID, err := g.AddOperator(OperatorSpec{Func: func(a *arena.Arena, in *arena.Handle) (*arena.Handle, error) {
		return nil, nil
	}})
	require.NoError(t, err)

	g.RunSteps(4)
	op, _ := g.Operator(opID)
	require.Equal(t, uint64(4), op.Stats.Runs)
	require.Greater(t, op.Stats.P50(), uint64(0))
}
