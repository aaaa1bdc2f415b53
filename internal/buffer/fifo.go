package buffer

// FIFO is a fixed power-of-two-capacity, single-producer/
// single-consumer ring of buffer pointers (spec §3, §4.1, §8 invariant
// 1: 0 <= insertions - removals <= capacity). It is not internally
// synchronized: the concurrency model (spec §5) guarantees a session's
// FIFOs are only ever touched by the one worker currently holding that
// session's half-mutex, so a lock here would be pure overhead.
type FIFO struct {
	slots      []*Buffer
	mask       uint64
	insertions uint64
	removals   uint64
}

// NewFIFO creates a FIFO of the given power-of-two capacity. It
// panics if capacity is not a power of two.
func NewFIFO(capacity int) *FIFO {
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		panic("buffer: FIFO capacity must be a power of two")
	}
	return &FIFO{
		slots: make([]*Buffer, capacity),
		mask:  uint64(capacity - 1),
	}
}

// Len returns the number of live elements.
func (f *FIFO) Len() int {
	return int(f.insertions - f.removals)
}

// Cap returns the FIFO's fixed capacity.
func (f *FIFO) Cap() int {
	return len(f.slots)
}

// Full reports whether the FIFO has no room for another Put.
func (f *FIFO) Full() bool {
	return f.Len() == len(f.slots)
}

// Put enqueues b, returning false if the FIFO is full.
func (f *FIFO) Put(b *Buffer) bool {
	if f.Full() {
		return false
	}
	f.slots[f.insertions&f.mask] = b
	f.insertions++
	return true
}

// Get dequeues and returns the oldest element, or nil if empty.
func (f *FIFO) Get() *Buffer {
	if f.Len() == 0 {
		return nil
	}
	idx := f.removals & f.mask
	b := f.slots[idx]
	f.slots[idx] = nil
	f.removals++
	return b
}

// Peek returns the oldest element without removing it, or nil if
// empty.
func (f *FIFO) Peek() *Buffer {
	if f.Len() == 0 {
		return nil
	}
	return f.slots[f.removals&f.mask]
}

// PeekAt returns the i'th-from-oldest live element (0 == Peek), or nil
// if out of range, for inspecting more than the head without dequeuing.
func (f *FIFO) PeekAt(i int) *Buffer {
	if i < 0 || i >= f.Len() {
		return nil
	}
	return f.slots[(f.removals+uint64(i))&f.mask]
}

// CancelAll walks the live window oldest-to-newest, invoking cancel on
// each element's context and marking it cancelled, preserving FIFO
// order so later completions carrying ECANCELED match the same order
// they were originally posted in (spec §4.1 Cancel-all, §5
// Cancellation semantics).
func (f *FIFO) CancelAll(cancel func(*Buffer)) {
	n := f.Len()
	for i := 0; i < n; i++ {
		b := f.slots[(f.removals+uint64(i))&f.mask]
		if b == nil || b.Ctx.Cancelled {
			continue
		}
		b.Ctx.Cancelled = true
		cancel(b)
	}
}
