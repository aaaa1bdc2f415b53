package buffer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFreeListCyclesDeterministicSizes(t *testing.T) {
	fl := NewFreeList()
	want := []int{23, 29, 31, 37, 23, 29}
	for _, w := range want {
		b := fl.Get()
		require.Equal(t, w, b.Capacity)
		require.Len(t, b.Data, w)
	}
}

func TestFreeListReusesPutBuffers(t *testing.T) {
	fl := NewFreeList()
	b := fl.Get()
	b.Used = 10
	b.Ctx.Cancelled = true
	fl.Put(b)

	require.Equal(t, 1, fl.Len())
	got := fl.Get()
	require.Same(t, b, got)
	require.Equal(t, 0, got.Used)
	require.False(t, got.Ctx.Cancelled)
}

func TestFragmentPoolRewiresParentAndOffset(t *testing.T) {
	fp := NewFragmentPool()
	parent := NewByteBuffer(37)

	frag := fp.Get(parent, 5)
	require.Equal(t, KindFragment, frag.Kind)
	require.Same(t, parent, frag.Parent)
	require.Equal(t, 5, frag.Offset)
	require.Equal(t, 0, frag.Capacity)

	fp.Put(frag)
	require.Nil(t, frag.Parent)

	reused := fp.Get(parent, 9)
	require.Same(t, frag, reused)
	require.Equal(t, 9, reused.Offset)
}
