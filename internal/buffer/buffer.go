// Package buffer implements the fixed-capacity FIFO, the payload
// free-list, and the typed communication buffers that carry an
// embedded NIC completion context (spec §3, §4.1).
package buffer

import (
	"github.com/fabtsuite/fabtsuite/internal/constants"
	"github.com/fabtsuite/fabtsuite/internal/fabric"
	"github.com/fabtsuite/fabtsuite/internal/wire"
)

// Kind discriminates the four buffer families (spec §3 Buffer
// families).
type Kind int

const (
	KindByte Kind = iota
	KindProgress
	KindVector
	KindFragment
)

// Header is the common prefix every buffer family begins with:
// capacity, used length, registered remote address, NIC descriptor,
// memory-region handle, and the transfer-context tag (spec §3).
type Header struct {
	Capacity int
	Used     int

	// RemoteAddr is the zero-based offset this buffer was registered
	// at (spec §4.2); meaningful once MR != nil.
	RemoteAddr uint64
	Desc       fabric.Desc
	MR         fabric.MemoryRegion
	MRSegment  int // which segment of MR this buffer occupies

	Ctx fabric.Context
}

// Buffer is the tagged union of the four buffer families described in
// spec §3. A single concrete type (rather than four distinct ones
// behind an interface) keeps the FIFO and free-list simple and keeps
// the fragment's non-owning back-reference an ordinary struct field
// instead of requiring a type switch on every dequeue.
type Buffer struct {
	Header
	Kind Kind

	// Data backs KindByte buffers.
	Data []byte

	// Raw is wire-encode/decode scratch space for KindProgress /
	// KindVector buffers, sized generously enough for the largest
	// message of that kind up front so posting a recv never needs a
	// hot-path allocation.
	Raw []byte

	// Progress/Vector carry their decoded message for KindProgress /
	// KindVector buffers.
	Progress wire.Progress
	Vector   wire.Vector

	// Parent/Offset are set for KindFragment buffers: a non-owning
	// back-reference to the payload buffer being split, plus the byte
	// offset this fragment covers (spec §9 Cyclic references — the
	// parent owns storage, the fragment is a weak reference plus an
	// offset, and Parent.NChildren is the only lifetime-controlling
	// count).
	Parent *Buffer
	Offset int

	// WriteOffset tracks how many of a KindByte buffer's Used bytes the
	// transmitter has already written to the remote side across one or
	// more earlier fragment writes, so a split buffer left at the head
	// of ready_for_cxn resumes from the right point next pass (spec §9
	// "fragment.offset advanced").
	WriteOffset int
}

// NewByteBuffer allocates a KindByte buffer of the given size.
func NewByteBuffer(size int) *Buffer {
	return &Buffer{
		Header: Header{Capacity: size, MRSegment: -1},
		Kind:   KindByte,
		Data:   make([]byte, size),
	}
}

// NewProgressBuffer allocates a buffer that carries exactly one
// progress message.
func NewProgressBuffer() *Buffer {
	return &Buffer{
		Header: Header{MRSegment: -1},
		Kind:   KindProgress,
		Raw:    make([]byte, constants.ProgressMsgSize),
	}
}

// NewVectorBuffer allocates a buffer that carries one vector message.
func NewVectorBuffer() *Buffer {
	return &Buffer{
		Header: Header{MRSegment: -1},
		Kind:   KindVector,
		Raw:    make([]byte, constants.MaxVectorMsgSize),
	}
}

// NewFragment allocates a zero-length placeholder referring to parent
// at the given offset. Per spec §9's noted bug in the reference
// implementation, a fragment carries no payload of its own, so its
// Capacity is 0 (not sizeof(header)-derived) — fixed here rather than
// reproduced.
func NewFragment(parent *Buffer, offset int) *Buffer {
	return &Buffer{
		Header: Header{Capacity: 0, MRSegment: -1},
		Kind:   KindFragment,
		Parent: parent,
		Offset: offset,
	}
}

// Reset clears a buffer's used length and transfer context so it can
// be returned to a free-list or pool for reuse. MR/Desc are left
// untouched — it is the caller's responsibility to release the
// registration first in re-register mode (spec §3 Ownership and
// lifetime).
func (b *Buffer) Reset() {
	b.Used = 0
	b.WriteOffset = 0
	b.Ctx = fabric.Context{}
}
