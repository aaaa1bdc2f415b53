package workerpool

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMarkLoadFoldsOnceEvery65536Passes(t *testing.T) {
	w := newWorker(0, 4)

	for i := 0; i < 65535; i++ {
		w.markLoad(2)
	}
	require.Equal(t, uint32(0), w.LoadAverage(), "average must not update before the mark period elapses")

	w.markLoad(2)
	require.NotEqual(t, uint32(0), w.LoadAverage(), "average must update once 65536 passes have accumulated")
	require.Equal(t, uint64(0), w.ctxsAccum, "accumulator must reset after folding")
}

func TestMarkLoadAccumulatesAcrossPasses(t *testing.T) {
	w := newWorker(0, 4)

	for i := 0; i < 65536; i++ {
		w.markLoad(1)
	}
	// 65536 passes of 1 serviced context each: scaled = 256*65536/65536 = 256.
	require.Equal(t, uint32(128), w.LoadAverage())
}
