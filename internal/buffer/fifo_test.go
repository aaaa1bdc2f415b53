package buffer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFIFOPutGetOrder(t *testing.T) {
	f := NewFIFO(4)
	a, b, c := NewByteBuffer(1), NewByteBuffer(1), NewByteBuffer(1)

	require.True(t, f.Put(a))
	require.True(t, f.Put(b))
	require.True(t, f.Put(c))
	require.Equal(t, 3, f.Len())

	require.Equal(t, a, f.Peek())
	require.Equal(t, a, f.Get())
	require.Equal(t, b, f.Get())
	require.Equal(t, c, f.Get())
	require.Nil(t, f.Get())
}

func TestFIFOFullRejectsPut(t *testing.T) {
	f := NewFIFO(2)
	require.True(t, f.Put(NewByteBuffer(1)))
	require.True(t, f.Put(NewByteBuffer(1)))
	require.False(t, f.Put(NewByteBuffer(1)))
	require.True(t, f.Full())
}

func TestFIFOWrapsAroundRing(t *testing.T) {
	f := NewFIFO(2)
	for i := 0; i < 10; i++ {
		b := NewByteBuffer(i)
		require.True(t, f.Put(b))
		got := f.Get()
		require.Equal(t, b, got)
		require.LessOrEqual(t, f.insertions-f.removals, f.mask+1)
	}
}

func TestFIFOCancelAllPreservesOrderAndMarksCancelled(t *testing.T) {
	f := NewFIFO(4)
	bufs := []*Buffer{NewByteBuffer(1), NewByteBuffer(1), NewByteBuffer(1)}
	for _, b := range bufs {
		require.True(t, f.Put(b))
	}

	var seen []*Buffer
	f.CancelAll(func(b *Buffer) {
		seen = append(seen, b)
	})

	require.Equal(t, bufs, seen)
	for _, b := range bufs {
		require.True(t, b.Ctx.Cancelled)
	}
	// Cancel-all does not dequeue; order is preserved for later match.
	require.Equal(t, bufs[0], f.Get())
}

func TestFIFOPanicsOnNonPowerOfTwo(t *testing.T) {
	require.Panics(t, func() { NewFIFO(3) })
}

func TestFIFOPeekAt(t *testing.T) {
	f := NewFIFO(4)
	a, b := NewByteBuffer(1), NewByteBuffer(1)
	f.Put(a)
	f.Put(b)
	require.Equal(t, a, f.PeekAt(0))
	require.Equal(t, b, f.PeekAt(1))
	require.Nil(t, f.PeekAt(2))
}
