// Package keysource implements the monotonic 64-bit memory-region key
// allocator (spec §2 Key source, §5 Shared state). A single
// process-wide atomic counter is striped into per-connection blocks so
// that concurrent sessions almost never contend on the same cache
// line.
package keysource

import "sync/atomic"

// DefaultStride is the block width each Source consumes from the pool
// at a time (spec: "striped from a process-wide pool in blocks of
// 256").
const DefaultStride = 256

// pool is the process-wide atomic counter (spec §5: "next_key_pool —
// one process-wide atomic counter"). It is package-level rather than
// exported so that every Source in the process shares exactly one
// counter with no re-entrancy or re-initialization path, matching the
// spec's "Global counters ... no re-entrancy" design note.
var pool uint64

// Source hands out unique keys to one connection, drawing from the
// shared pool in Stride-sized blocks under relaxed atomic ordering
// (spec §5).
type Source struct {
	stride uint64
	next   uint64
	limit  uint64
}

// New creates a key source using the default stride.
func New() *Source {
	return NewWithStride(DefaultStride)
}

// NewWithStride creates a key source that draws blocks of the given
// width from the shared pool; exposed mainly so tests can use a small
// stride and force refills deterministically.
func NewWithStride(stride uint64) *Source {
	if stride == 0 {
		stride = DefaultStride
	}
	return &Source{stride: stride}
}

// Next returns the next unique 64-bit key for this source, refilling
// its local block from the process-wide pool when exhausted.
func (s *Source) Next() uint64 {
	if s.next >= s.limit {
		s.next = atomic.AddUint64(&pool, s.stride) - s.stride
		s.limit = s.next + s.stride
	}
	k := s.next
	s.next++
	return k
}
