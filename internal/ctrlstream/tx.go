package ctrlstream

import (
	"errors"

	"github.com/fabtsuite/fabtsuite/internal/buffer"
	"github.com/fabtsuite/fabtsuite/internal/fabric"
)

// TxControl drains a ready queue of outgoing control buffers into
// fabric sends, tracks what's posted, and returns completed buffers to
// a spare pool (spec §4.3).
type TxControl struct {
	ep     fabric.Endpoint
	ready  *buffer.FIFO
	posted *buffer.FIFO
	pool   *Pool
}

// NewTxControl creates Tx control sized to queueDepth outstanding
// posts, drawing spare buffers from pool.
func NewTxControl(ep fabric.Endpoint, queueDepth int, pool *Pool) *TxControl {
	return &TxControl{
		ep:     ep,
		ready:  buffer.NewFIFO(queueDepth),
		posted: buffer.NewFIFO(queueDepth),
		pool:   pool,
	}
}

// Enqueue makes b available for a future Transmit call.
func (t *TxControl) Enqueue(b *buffer.Buffer) error {
	if t.ready.Full() {
		return fabric.ErrRingFull
	}
	t.ready.Put(b)
	return nil
}

// Transmit drains ready into fabric send calls while posted has room,
// stopping as soon as a send reports the ring is full rather than
// blocking (spec §4.3 "drains ready into fabric send calls while
// posted has room, stopping on EAGAIN").
func (t *TxControl) Transmit(peer fabric.PeerAddr) error {
	for !t.posted.Full() {
		b := t.ready.Peek()
		if b == nil {
			return nil
		}
		b.Ctx.Owner = fabric.OwnerNIC
		payload := b.Raw
		if b.Used > 0 && b.Used <= len(b.Raw) {
			payload = b.Raw[:b.Used]
		}
		if err := t.ep.Send(payload, peer, &b.Ctx); err != nil {
			if errors.Is(err, fabric.ErrRingFull) {
				return nil
			}
			return err
		}
		t.ready.Get()
		t.posted.Put(b)
	}
	return nil
}

// Complete matches a SEND|MSG completion against the head of posted
// and returns the buffer to the spare pool (spec §4.3).
func (t *TxControl) Complete(cmpl fabric.Completion) error {
	wantFlags := fabric.FlagSend | fabric.FlagMsg
	head := t.posted.Peek()
	if head == nil {
		return ErrUnexpectedCompletion
	}
	if cmpl.Flags&wantFlags != wantFlags && !head.Ctx.Cancelled {
		return ErrUnexpectedCompletion
	}
	if cmpl.Ctx != &head.Ctx {
		return ErrUnexpectedCompletion
	}
	b := t.posted.Get()
	b.Ctx.Owner = fabric.OwnerProgram
	t.pool.Put(b)
	return nil
}

// Cancel requests cancellation of every buffer still posted, in FIFO
// order.
func (t *TxControl) Cancel(cq fabric.CompletionQueue) {
	t.posted.CancelAll(func(b *buffer.Buffer) {
		_ = cq.Cancel(&b.Ctx)
	})
}

// Ready reports how many buffers are queued awaiting transmission.
func (t *TxControl) Ready() int {
	return t.ready.Len()
}

// Posted reports how many sends are currently outstanding.
func (t *TxControl) Posted() int {
	return t.posted.Len()
}
