package mr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func sum(xs []int) int {
	s := 0
	for _, x := range xs {
		s += x
	}
	return s
}

func TestFibonacciIOVSetupSumsToLength(t *testing.T) {
	for _, tc := range []struct {
		length, k int
	}{
		{23, 4}, {29, 4}, {31, 4}, {37, 4}, {100, 12}, {5, 1}, {5, 12},
	} {
		segs := FibonacciIOVSetup(tc.length, tc.k)
		require.Equal(t, tc.length, sum(segs), "length=%d k=%d segs=%v", tc.length, tc.k, segs)
		require.LessOrEqual(t, len(segs), tc.k)
	}
}

func TestFibonacciIOVSetupUsesFibonacciPrefix(t *testing.T) {
	segs := FibonacciIOVSetup(23, 4)
	require.Equal(t, []int{1, 1, 2, 19}, segs)
}

func TestFibonacciIOVSetupSingleSegmentWhenKIsOne(t *testing.T) {
	require.Equal(t, []int{42}, FibonacciIOVSetup(42, 1))
}
