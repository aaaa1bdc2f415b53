package session

import (
	"context"
	"fmt"

	"github.com/fabtsuite/fabtsuite/internal/buffer"
	"github.com/fabtsuite/fabtsuite/internal/constants"
	"github.com/fabtsuite/fabtsuite/internal/ctrlstream"
	"github.com/fabtsuite/fabtsuite/internal/fabric"
	"github.com/fabtsuite/fabtsuite/internal/keysource"
	"github.com/fabtsuite/fabtsuite/internal/logging"
	"github.com/fabtsuite/fabtsuite/internal/mr"
	"github.com/fabtsuite/fabtsuite/internal/terminal"
	"github.com/fabtsuite/fabtsuite/internal/wire"
)

// Receiver is the "get" personality's connection state machine (spec
// §4.4): it advertises RDMA target buffers via vector messages,
// consumes progress messages from the transmitter, and hands filled
// buffers to a sink.
type Receiver struct {
	ep   fabric.Endpoint
	peer fabric.PeerAddr
	keys *keysource.Source
	sink *terminal.Sink
	log  *logging.Logger

	metrics Metrics

	mrMode MRMode

	eof       EOF
	cancelled bool

	progressRx *ctrlstream.RxControl
	vecTx      *ctrlstream.TxControl
	vecPool    *ctrlstream.Pool

	freeList *buffer.FreeList

	readyForCxn      *buffer.FIFO // payload buffers available to be advertised
	tgtposted        *buffer.FIFO // advertised buffers awaiting RDMA fill
	readyForTerminal *buffer.FIFO // filled buffers awaiting sink verification

	nfull uint64
}

// NewReceiver constructs a receiver bound to an already-accepted
// endpoint/peer, pre-filling ready_for_cxn with bufCount payload
// buffers from the free-list size cycle (spec §4.4 "pre-fill the
// session's ready_for_cxn with payload buffers totaling the
// reference-text size").
func NewReceiver(ep fabric.Endpoint, peer fabric.PeerAddr, sink *terminal.Sink, mrMode MRMode, bufCount int) (*Receiver, error) {
	r := &Receiver{
		ep:     ep,
		peer:   peer,
		keys:   keysource.New(),
		sink:    sink,
		log:     logging.Default().With("session", uint64(peer), "role", "get"),
		metrics: noopMetrics{},
		mrMode:  mrMode,

		vecPool: ctrlstream.NewPool(constants.DefaultQueueDepth, buffer.NewVectorBuffer),

		freeList: buffer.NewFreeList(),

		readyForCxn:      buffer.NewFIFO(constants.DefaultFIFOCapacity),
		tgtposted:        buffer.NewFIFO(constants.DefaultFIFOCapacity),
		readyForTerminal: buffer.NewFIFO(constants.DefaultFIFOCapacity),
	}
	r.progressRx = ctrlstream.NewRxControl(ep, constants.DefaultQueueDepth)
	r.vecTx = ctrlstream.NewTxControl(ep, constants.DefaultQueueDepth, r.vecPool)

	for i := 0; i < bufCount; i++ {
		b := r.freeList.Get()
		if r.mrMode == MRModeStatic {
			if err := r.registerBuffer(b); err != nil {
				return nil, err
			}
		}
		if !r.readyForCxn.Put(b) {
			return nil, fmt.Errorf("session: ready_for_cxn overflowed during receiver start")
		}
	}

	for i := 0; i < constants.DefaultQueueDepth; i++ {
		if err := r.progressRx.Post(buffer.NewProgressBuffer()); err != nil {
			return nil, fmt.Errorf("session: posting progress rx pool: %w", err)
		}
	}

	return r, nil
}

func (r *Receiver) registerBuffer(b *buffer.Buffer) error {
	region, err := mr.RegisterSegmented(r.ep, [][]byte{b.Data}, fabric.AccessRemoteWrite, constants.ContiguousRMAMaxSegs)
	if err != nil {
		return err
	}
	b.MR = region[0]
	b.MRSegment = 0
	b.Desc = region[0].Desc(0)
	return nil
}

func (r *Receiver) unregisterBuffer(b *buffer.Buffer) {
	if r.mrMode == MRModeReRegister && b.MR != nil {
		b.MR.Close()
		b.MR = nil
	}
}

// registerBatch registers every not-yet-registered buffer in bufs as
// one or more memory regions of up to constants.DefaultMaxMRSegs
// segments each (spec §4.2): a vector advertisement of up to
// MaxVectorIovs targets is the natural unit to register together,
// since it is sent as one message anyway. When len(bufs) exceeds the
// per-registration cap this splits into multiple fabric.RegisterMR
// calls via mr.RegisterSegmented instead of one per buffer.
func (r *Receiver) registerBatch(bufs []*buffer.Buffer) error {
	pending := bufs[:0:0]
	for _, b := range bufs {
		if b.MR == nil {
			pending = append(pending, b)
		}
	}
	if len(pending) == 0 {
		return nil
	}
	data := make([][]byte, len(pending))
	for i, b := range pending {
		data[i] = b.Data
	}
	regions, err := mr.RegisterSegmented(r.ep, data, fabric.AccessRemoteWrite, constants.DefaultMaxMRSegs)
	if err != nil {
		return err
	}
	idx := 0
	for _, region := range regions {
		n := constants.DefaultMaxMRSegs
		if idx+n > len(pending) {
			n = len(pending) - idx
		}
		for s := 0; s < n; s++ {
			b := pending[idx+s]
			b.MR = region
			b.MRSegment = s
			b.Desc = region.Desc(s)
		}
		idx += n
	}
	return nil
}

// SetMetrics swaps in a non-default metrics sink; see Config.Metrics.
func (r *Receiver) SetMetrics(m Metrics) { r.metrics = m }

func (r *Receiver) CQ() fabric.CompletionQueue { return r.ep.CQ() }

func (r *Receiver) Cancel() {
	r.progressRx.Cancel(r.ep.CQ())
	r.vecTx.Cancel(r.ep.CQ())
}

func (r *Receiver) Close() error { return r.ep.Close() }

// Stats exposes the sink's verification progress for diagnostics and
// tests.
func (r *Receiver) Stats() map[string]any { return r.sink.Stats() }

// Pass runs one inner-loop step (spec §4.4 Per-poll steps).
func (r *Receiver) Pass(ctx context.Context) (Status, error) {
	if err := r.drainOne(); err != nil {
		return StatusError, err
	}

	select {
	case <-ctx.Done():
		if !r.cancelled {
			r.cancelled = true
			r.Cancel()
		}
	default:
	}

	verifiedBefore := r.sink.Verified()
	sinkEOF, err := r.sink.Trade(r.readyForTerminal, r.readyForCxn)
	if err != nil {
		return StatusError, err
	}
	if delta := r.sink.Verified() - verifiedBefore; delta > 0 {
		r.metrics.ObserveVerify(uint64(delta))
	}

	if err := r.updateVectors(); err != nil {
		return StatusError, err
	}
	if err := r.vecTx.Transmit(r.peer); err != nil {
		return StatusError, err
	}
	r.drainTargets()

	if sinkEOF && r.readyForTerminal.Len() == 0 &&
		r.eof.Local && r.eof.Remote &&
		r.vecTx.Posted() == 0 && r.vecTx.Ready() == 0 {
		return StatusEnd, nil
	}
	return StatusContinue, nil
}

func (r *Receiver) drainOne() error {
	cmpls, err := r.ep.CQ().Read(1)
	if err != nil {
		return err
	}
	if len(cmpls) == 0 {
		return nil
	}
	cmpl := cmpls[0]
	switch cmpl.Ctx.Type {
	case fabric.MsgProgress:
		b, err := r.progressRx.Complete(cmpl)
		if err != nil {
			return err
		}
		r.progressRx.Take()
		if b.Ctx.Cancelled {
			return nil
		}
		if msg, err := wire.DecodeProgress(b.Raw[:b.Used]); err != nil {
			r.log.Warnf("dropping malformed progress message: %v", err)
			r.metrics.ObserveMalformed()
		} else {
			r.nfull += msg.NFilled
			if msg.NLeftover == 0 {
				r.eof.Remote = true
			}
		}
		b.Ctx.Type = fabric.MsgProgress
		return r.progressRx.Post(b)
	case fabric.MsgVector:
		return r.vecTx.Complete(cmpl)
	default:
		return fmt.Errorf("session: receiver got unexpected completion type %v", cmpl.Ctx.Type)
	}
}

func (r *Receiver) updateVectors() error {
	if r.eof.Remote && !r.eof.Local {
		b := r.vecPool.Get()
		b.Kind = buffer.KindVector
		b.Ctx = fabric.Context{Type: fabric.MsgVector}
		copy(b.Raw, wire.EncodeVector(&wire.Vector{}))
		b.Used = len(wire.EncodeVector(&wire.Vector{}))
		if err := r.vecTx.Enqueue(b); err != nil {
			return err
		}
		r.metrics.ObserveVectorSent()
		r.eof.Local = true
		return nil
	}

	for r.vecTx.Ready() < constants.DefaultQueueDepth && r.readyForCxn.Len() > 0 {
		var taken []*buffer.Buffer
		for len(taken) < constants.MaxVectorIovs && r.readyForCxn.Len() > 0 {
			taken = append(taken, r.readyForCxn.Get())
		}
		if len(taken) == 0 {
			break
		}
		if r.mrMode == MRModeReRegister {
			if err := r.registerBatch(taken); err != nil {
				return err
			}
		}
		triples := make([]wire.VectorTriple, len(taken))
		for i, b := range taken {
			triples[i] = wire.VectorTriple{Addr: b.MR.Offset(b.MRSegment), Len: uint64(b.Capacity), Key: b.MR.Key(b.MRSegment)}
		}
		vb := r.vecPool.Get()
		vb.Kind = buffer.KindVector
		vb.Ctx = fabric.Context{Type: fabric.MsgVector}
		encoded := wire.EncodeVector(&wire.Vector{IOVs: triples})
		copy(vb.Raw, encoded)
		vb.Used = len(encoded)
		if err := r.vecTx.Enqueue(vb); err != nil {
			return err
		}
		r.metrics.ObserveVectorSent()
		for _, b := range taken {
			b.Used = 0
			if !r.tgtposted.Put(b) {
				return fmt.Errorf("session: tgtposted overflow")
			}
		}
	}
	return nil
}

func (r *Receiver) drainTargets() {
	for r.nfull > 0 {
		head := r.tgtposted.Peek()
		if head == nil {
			break
		}
		room := head.Capacity - head.Used
		n := r.nfull
		if n > uint64(room) {
			n = uint64(room)
		}
		head.Used += int(n)
		r.nfull -= n

		if head.Used >= head.Capacity {
			r.tgtposted.Get()
			r.unregisterBuffer(head)
			r.readyForTerminal.Put(head)
			continue
		}
		if n == 0 {
			break
		}
	}
	if r.eof.Remote {
		if head := r.tgtposted.Peek(); head != nil && head.Used > 0 {
			r.tgtposted.Get()
			r.unregisterBuffer(head)
			r.readyForTerminal.Put(head)
		}
	}
}
