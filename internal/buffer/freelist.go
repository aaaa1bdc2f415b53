package buffer

import "github.com/fabtsuite/fabtsuite/internal/constants"

// FreeList is a stack of unused KindByte buffers paired with a lazy
// replenisher: when empty, Get allocates a new payload buffer sized by
// the next entry of the deterministic cycle {23,29,31,37} bytes (spec
// §3 Free-list), chosen upstream to force interior fragmentation and
// exercise multi-segment RDMA paths. Registration with the fabric is
// not performed here — the memory-region helper (internal/mr) owns
// that, since its timing depends on static-vs-re-register mode (spec
// §3 Ownership and lifetime) which the free-list itself is agnostic
// to.
type FreeList struct {
	stack    []*Buffer
	cycleIdx int
}

// NewFreeList creates an empty free-list.
func NewFreeList() *FreeList {
	return &FreeList{}
}

// Get pops an unused buffer, allocating a new one from the size cycle
// if the stack is empty.
func (fl *FreeList) Get() *Buffer {
	if n := len(fl.stack); n > 0 {
		b := fl.stack[n-1]
		fl.stack = fl.stack[:n-1]
		return b
	}
	size := constants.PayloadBufferSizeCycle[fl.cycleIdx%len(constants.PayloadBufferSizeCycle)]
	fl.cycleIdx++
	return NewByteBuffer(size)
}

// Put returns b to the free-list after resetting its transfer state.
func (fl *FreeList) Put(b *Buffer) {
	b.Reset()
	fl.stack = append(fl.stack, b)
}

// Len reports the number of buffers currently idle in the free-list.
func (fl *FreeList) Len() int {
	return len(fl.stack)
}

// FragmentPool is the transmitter's pool of reusable KindFragment
// placeholders (spec §3 Transmitter: "a fragment pool"). Fragments
// carry no payload, so recycling them only needs to rewire the
// parent/offset pair.
type FragmentPool struct {
	stack []*Buffer
}

// NewFragmentPool creates an empty fragment pool.
func NewFragmentPool() *FragmentPool {
	return &FragmentPool{}
}

// Get returns a fragment pointed at (parent, offset), reusing a
// pooled placeholder when available.
func (fp *FragmentPool) Get(parent *Buffer, offset int) *Buffer {
	if n := len(fp.stack); n > 0 {
		b := fp.stack[n-1]
		fp.stack = fp.stack[:n-1]
		b.Reset()
		b.Parent = parent
		b.Offset = offset
		return b
	}
	return NewFragment(parent, offset)
}

// Put returns a fragment to the pool, clearing its parent reference so
// it cannot accidentally outlive the parent it pointed to.
func (fp *FragmentPool) Put(b *Buffer) {
	b.Parent = nil
	b.Offset = 0
	fp.stack = append(fp.stack, b)
}
