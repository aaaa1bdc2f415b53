// Package ctrlstream implements the rx/tx control blocks that keep
// progress and vector control buffers posted to the fabric and match
// their completions back to FIFO heads in strict order (spec §4.3).
package ctrlstream

import (
	"errors"

	"github.com/fabtsuite/fabtsuite/internal/buffer"
	"github.com/fabtsuite/fabtsuite/internal/constants"
	"github.com/fabtsuite/fabtsuite/internal/fabric"
)

// ErrUnexpectedCompletion signals a completion whose flags or context
// don't match what Rx/Tx control is prepared to match against the head
// of its posted FIFO.
var ErrUnexpectedCompletion = errors.New("ctrlstream: unexpected completion")

// RxControl keeps a steady supply of progress/vector recv buffers
// posted to an endpoint and hands back completed ones in post order
// (spec §4.3).
type RxControl struct {
	ep     fabric.Endpoint
	posted *buffer.FIFO
	rcvd   *buffer.FIFO
}

// NewRxControl creates Rx control sized to queueDepth outstanding
// posts.
func NewRxControl(ep fabric.Endpoint, queueDepth int) *RxControl {
	return &RxControl{
		ep:     ep,
		posted: buffer.NewFIFO(queueDepth),
		rcvd:   buffer.NewFIFO(queueDepth),
	}
}

// Post posts b for a recv and enqueues it onto posted. It returns
// fabric.ErrRingFull rather than blocking when posted has no room.
func (r *RxControl) Post(b *buffer.Buffer) error {
	if r.posted.Full() {
		return fabric.ErrRingFull
	}
	b.Ctx.Owner = fabric.OwnerNIC
	if err := r.ep.Recv(b.Raw, &b.Ctx); err != nil {
		return err
	}
	r.posted.Put(b)
	return nil
}

// Complete matches a RECV|MSG completion against the head of posted.
// It fails fast unless the completion carries both flags or the head
// was already marked cancelled; otherwise it dequeues the head,
// asserts it is the same context the completion reports, records the
// received length, and returns the buffer (spec §4.3).
func (r *RxControl) Complete(cmpl fabric.Completion) (*buffer.Buffer, error) {
	wantFlags := fabric.FlagRecv | fabric.FlagMsg
	head := r.posted.Peek()
	if head == nil {
		return nil, ErrUnexpectedCompletion
	}
	if cmpl.Flags&wantFlags != wantFlags && !head.Ctx.Cancelled {
		return nil, ErrUnexpectedCompletion
	}
	if cmpl.Ctx != &head.Ctx {
		return nil, ErrUnexpectedCompletion
	}
	b := r.posted.Get()
	b.Used = int(cmpl.Len)
	b.Ctx.Owner = fabric.OwnerProgram
	r.rcvd.Put(b)
	return b, nil
}

// Take dequeues the oldest completed-and-received buffer, or nil if
// none are ready yet.
func (r *RxControl) Take() *buffer.Buffer {
	return r.rcvd.Get()
}

// Cancel requests cancellation of every buffer still posted, in FIFO
// order (spec §5 Cancellation semantics).
func (r *RxControl) Cancel(cq fabric.CompletionQueue) {
	r.posted.CancelAll(func(b *buffer.Buffer) {
		_ = cq.Cancel(&b.Ctx)
	})
}

// Posted reports how many recvs are currently outstanding.
func (r *RxControl) Posted() int {
	return r.posted.Len()
}

// DefaultQueueDepth re-exports the engine's fixed control-buffer queue
// depth (constants.DefaultQueueDepth) for callers of NewRxControl and
// NewTxControl; Params has no field that overrides it.
const DefaultQueueDepth = constants.DefaultQueueDepth
