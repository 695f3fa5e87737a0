package channel

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTryEnqueue_FullNeverBlocks(t *testing.T) {
	r := NewRing[int](2)
	require.True(t, r.TryEnqueue(1))
	require.True(t, r.TryEnqueue(2))
	require.False(t, r.TryEnqueue(3))
	require.Equal(t, uint64(1), r.Drops())
}

func TestTryDequeue_EmptyNeverBlocks(t *testing.T) {
	r := NewRing[int](2)
	_, ok := r.TryDequeue()
	require.False(t, ok)
	require.Equal(t, uint64(1), r.Stalls())
}

func TestRing_FIFOOrderingAndDepth(t *testing.T) {
	r := NewRing[int](4)
	require.True(t, r.TryEnqueue(10))
	require.True(t, r.TryEnqueue(20))
	require.Equal(t, 2, r.Depth())

	v, ok := r.TryDequeue()
	require.True(t, ok)
	require.Equal(t, 10, v)

	v, ok = r.TryDequeue()
	require.True(t, ok)
	require.Equal(t, 20, v)

	require.Equal(t, 0, r.Depth())
}

func TestRing_PeekDoesNotConsumeOrCountStall(t *testing.T) {
	r := NewRing[int](2)
	_, ok := r.Peek()
	require.False(t, ok)
	require.Equal(t, uint64(0), r.Stalls(), "peek must not count as a stall")

	require.True(t, r.TryEnqueue(5))
	v, ok := r.Peek()
	require.True(t, ok)
	require.Equal(t, 5, v)
	require.Equal(t, 1, r.Depth(), "peek must not remove the item")
}

func TestRing_MaxDepthRetained(t *testing.T) {
	r := NewRing[int](4)
	r.TryEnqueue(1)
	r.TryEnqueue(2)
	r.TryEnqueue(3)
	r.TryDequeue()
	r.TryDequeue()
	require.Equal(t, uint64(3), r.MaxDepth())
}

func TestRing_NoDuplicationAcrossManyOps(t *testing.T) {
	r := NewRing[int](8)
	sent := 0
	received := 0
	for i := 0; i < 1000; i++ {
		if r.TryEnqueue(i) {
			sent++
		}
		if _, ok := r.TryDequeue(); ok {
			received++
		}
	}
	for {
		if _, ok := r.TryDequeue(); !ok {
			break
		}
		received++
	}
	require.Equal(t, sent, received)
}
