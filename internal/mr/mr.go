// Package mr implements the memory-region registration helper (spec
// §4.2): splitting an n-segment I/O vector into ceil(n/maxsegs)
// provider registrations, and the Fibonacci segment-length generator
// used to build deterministically multi-segment test vectors.
package mr

import "github.com/fabtsuite/fabtsuite/internal/fabric"

// RegisterSegmented registers bufs as one or more memory regions, each
// covering at most maxSegs segments (the provider-reported per-call
// limit). All segments within one registration share one region
// handle and one NIC descriptor, but each segment still records its
// own zero-based offset as its remote address (spec §4.2). On any
// failure mid-way, regions already registered by this call are closed
// before the error is returned.
func RegisterSegmented(ep fabric.Endpoint, bufs [][]byte, access fabric.AccessMode, maxSegs int) ([]fabric.MemoryRegion, error) {
	if maxSegs <= 0 {
		maxSegs = len(bufs)
	}
	if len(bufs) == 0 {
		return nil, nil
	}

	var regions []fabric.MemoryRegion
	for i := 0; i < len(bufs); i += maxSegs {
		end := i + maxSegs
		if end > len(bufs) {
			end = len(bufs)
		}
		region, err := ep.RegisterMR(bufs[i:end], access)
		if err != nil {
			for _, r := range regions {
				r.Close()
			}
			return nil, err
		}
		regions = append(regions, region)
	}
	return regions, nil
}

// FibonacciIOVSetup slices a buffer of length L into up to k segments
// whose lengths follow the Fibonacci sequence {1,1,2,3,5,8,...}
// truncated to k-1 entries, with the final segment absorbing whatever
// remains (spec §4.2 fibonacci_iov_setup). This deterministically
// produces multi-segment vectors with varied lengths, exercising the
// same interior-fragmentation paths the free-list's size cycle does.
func FibonacciIOVSetup(length, k int) []int {
	if length <= 0 {
		return nil
	}
	if k <= 1 {
		return []int{length}
	}

	segs := make([]int, 0, k)
	a, b := 1, 1
	remaining := length
	for len(segs) < k-1 && a < remaining {
		segs = append(segs, a)
		remaining -= a
		a, b = b, a+b
	}
	segs = append(segs, remaining)
	return segs
}
