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

// remoteTarget is one unconsumed slice of the receiver's advertised
// RDMA region (spec §4.5 "the remote-vector array riov[]").
type remoteTarget struct {
	Addr, Len, Key uint64
}

// Transmitter is the "put" personality's connection state machine
// (spec §4.5): it consumes advertised RDMA targets, batches local
// payload buffers (segmenting/fragmenting as needed) into scatter/
// gather RDMA writes, emits progress messages, and performs the EOF
// handshake.
//
// writeTargets batches as many leading ready_for_cxn buffers as the
// current remote-vector capacity allows into one WriteRMA call sharing
// a single completion Context, exactly as spec §4.5 step 5 describes.
// The one piece of the reference design this drops is the phase-bit
// double-buffered staging array it uses to build the *next* batch
// while the *current* one is still in flight on an asynchronous NIC:
// the loopback fabric's WriteRMA executes synchronously and its
// completion is already enqueued by the time the call returns, so
// there is no in-flight window left to overlap, and the double buffer
// would do nothing but copy. One batch is built and submitted per
// pass instead; the observable states (fragment split points, progress
// totals, EOF sequencing, batch place bits) match the reference.
type Transmitter struct {
	ep   fabric.Endpoint
	peer fabric.PeerAddr
	keys *keysource.Source
	src  *terminal.Source
	log  *logging.Logger

	metrics Metrics

	mrMode     MRMode
	rmaMaxSegs int

	eof       EOF
	cancelled bool

	vecRx       *ctrlstream.RxControl
	progressTx  *ctrlstream.TxControl
	progressPool *ctrlstream.Pool

	freeList     *buffer.FreeList
	fragmentPool *buffer.FragmentPool

	readyForTerminal *buffer.FIFO // empty buffers awaiting the source to fill
	readyForCxn      *buffer.FIFO // filled buffers awaiting an RDMA write
	wrposted         *buffer.FIFO // buffers/fragments posted to the fabric, awaiting completion

	remote []remoteTarget

	bytesProgress uint64
}

// NewTransmitter constructs a transmitter bound to an already-connected
// endpoint/peer. rmaMaxSegs bounds how many remote vector targets one
// write may consume at once (1 in -g contiguous mode, spec §6.3).
func NewTransmitter(ep fabric.Endpoint, peer fabric.PeerAddr, src *terminal.Source, mrMode MRMode, rmaMaxSegs int, bufCount int) (*Transmitter, error) {
	if rmaMaxSegs <= 0 {
		rmaMaxSegs = constants.DefaultRMAMaxSegs
	}
	tx := &Transmitter{
		ep:         ep,
		peer:       peer,
		keys:       keysource.New(),
		src:        src,
		log:        logging.Default().With("session", uint64(peer), "role", "put"),
		metrics:    noopMetrics{},
		mrMode:     mrMode,
		rmaMaxSegs: rmaMaxSegs,

		freeList:     buffer.NewFreeList(),
		fragmentPool: buffer.NewFragmentPool(),

		readyForTerminal: buffer.NewFIFO(constants.DefaultFIFOCapacity),
		readyForCxn:      buffer.NewFIFO(constants.DefaultFIFOCapacity),
		wrposted:         buffer.NewFIFO(constants.DefaultFIFOCapacity),
	}
	tx.progressPool = ctrlstream.NewPool(constants.DefaultQueueDepth, buffer.NewProgressBuffer)
	tx.vecRx = ctrlstream.NewRxControl(ep, constants.DefaultQueueDepth)
	tx.progressTx = ctrlstream.NewTxControl(ep, constants.DefaultQueueDepth, tx.progressPool)

	for i := 0; i < bufCount; i++ {
		b := tx.freeList.Get()
		if mrMode == MRModeStatic {
			if err := tx.registerBuffer(b); err != nil {
				return nil, err
			}
		}
		if !tx.readyForTerminal.Put(b) {
			return nil, fmt.Errorf("session: ready_for_terminal overflowed during transmitter start")
		}
	}
	for i := 0; i < constants.DefaultQueueDepth; i++ {
		if err := tx.vecRx.Post(buffer.NewVectorBuffer()); err != nil {
			return nil, fmt.Errorf("session: posting vector rx pool: %w", err)
		}
	}
	return tx, nil
}

// SetMetrics swaps in a non-default metrics sink; see Config.Metrics.
func (tx *Transmitter) SetMetrics(m Metrics) { tx.metrics = m }

func (tx *Transmitter) CQ() fabric.CompletionQueue { return tx.ep.CQ() }

func (tx *Transmitter) Cancel() {
	tx.vecRx.Cancel(tx.ep.CQ())
	tx.progressTx.Cancel(tx.ep.CQ())
}

func (tx *Transmitter) Close() error { return tx.ep.Close() }

// Stats exposes the source's emission progress for diagnostics and
// tests.
func (tx *Transmitter) Stats() map[string]any { return tx.src.Stats() }

// Pass runs one inner-loop step (spec §4.5 Per-poll steps).
func (tx *Transmitter) Pass(ctx context.Context) (Status, error) {
	if err := tx.drainOne(); err != nil {
		return StatusError, err
	}

	select {
	case <-ctx.Done():
		if !tx.cancelled {
			tx.cancelled = true
			tx.Cancel()
		}
	default:
	}

	tx.unloadVectors()

	if _, err := tx.src.Trade(tx.readyForTerminal, tx.readyForCxn); err != nil {
		return StatusError, err
	}

	if err := tx.writeTargets(); err != nil {
		return StatusError, err
	}
	tx.updateProgress()
	if err := tx.progressTx.Transmit(tx.peer); err != nil {
		return StatusError, err
	}

	if tx.eof.Local && tx.eof.Remote &&
		tx.progressTx.Posted() == 0 && tx.progressTx.Ready() == 0 &&
		tx.wrposted.Len() == 0 {
		return StatusEnd, nil
	}
	return StatusContinue, nil
}

func (tx *Transmitter) drainOne() error {
	cmpls, err := tx.ep.CQ().Read(1)
	if err != nil {
		return err
	}
	if len(cmpls) == 0 {
		return nil
	}
	cmpl := cmpls[0]
	switch cmpl.Ctx.Type {
	case fabric.MsgVector:
		b, err := tx.vecRx.Complete(cmpl)
		if err != nil {
			return err
		}
		tx.vecRx.Take()
		if b.Ctx.Cancelled {
			return tx.vecRx.Post(b)
		}
		vec, err := wire.DecodeVector(b.Raw[:b.Used])
		if err != nil {
			tx.log.Warnf("dropping malformed vector message: %v", err)
			tx.metrics.ObserveMalformed()
			b.Ctx.Type = fabric.MsgVector
			return tx.vecRx.Post(b)
		}
		if len(vec.IOVs) == 0 {
			tx.eof.Remote = true
		}
		for _, t := range vec.IOVs {
			tx.remote = append(tx.remote, remoteTarget{Addr: t.Addr, Len: t.Len, Key: t.Key})
		}
		b.Ctx.Type = fabric.MsgVector
		return tx.vecRx.Post(b)

	case fabric.MsgRDMAWrite, fabric.MsgFragment:
		return tx.releaseBatch(cmpl)

	case fabric.MsgProgress:
		return tx.progressTx.Complete(cmpl)
	default:
		return fmt.Errorf("session: transmitter got unexpected completion type %v", cmpl.Ctx.Type)
	}
}

// unloadVectors pops buffered vector decodes (already merged into
// tx.remote by drainOne) — a no-op placeholder kept for symmetry with
// the reference design's explicit "unload" step; all merging happens
// eagerly in drainOne here since Go's append makes eager accumulation
// simpler than a bounded riov[] array.
func (tx *Transmitter) unloadVectors() {}

func (tx *Transmitter) registerBuffer(b *buffer.Buffer) error {
	region, err := mr.RegisterSegmented(tx.ep, [][]byte{b.Data}, fabric.AccessLocalRead, constants.ContiguousRMAMaxSegs)
	if err != nil {
		return err
	}
	b.MR = region[0]
	b.MRSegment = 0
	b.Desc = region[0].Desc(0)
	return nil
}

// registerBatch registers every not-yet-registered buffer in bufs
// together as one or more memory regions of up to
// constants.DefaultMaxMRSegs segments each (spec §4.2): a single
// write's worth of batched payload buffers is the natural unit to
// register together, since they are about to be handed to WriteRMA in
// one call anyway. When len(bufs) exceeds the per-registration cap
// this splits into multiple fabric.RegisterMR calls via
// mr.RegisterSegmented instead of one per buffer.
func (tx *Transmitter) registerBatch(bufs []*buffer.Buffer) error {
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
	regions, err := mr.RegisterSegmented(tx.ep, data, fabric.AccessLocalRead, constants.DefaultMaxMRSegs)
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

func (tx *Transmitter) unregisterBuffer(b *buffer.Buffer) {
	if tx.mrMode == MRModeReRegister && b.MR != nil {
		b.MR.Close()
		b.MR = nil
	}
}

// releaseBatch handles the one NIC completion a batched WriteRMA call
// raises: it always matches the head of wrposted, which the
// batch-head invariant guarantees carries place&first. From there it
// walks forward releasing every member of that same batch — the
// completion covers all of them, since they traveled in one physical
// write — stopping at the member carrying place&last, or sooner if
// wrposted runs out (spec §4.5 step 2, §3 invariant "wrposted head
// always carries place&first").
func (tx *Transmitter) releaseBatch(cmpl fabric.Completion) error {
	first := tx.wrposted.Peek()
	if first == nil || cmpl.Ctx != &first.Ctx {
		if first != nil && first.Ctx.Cancelled {
			tx.wrposted.Get()
			return nil
		}
		return fmt.Errorf("session: rdma write completion does not match wrposted batch head")
	}
	if first.Ctx.Place&fabric.PlaceFirst == 0 {
		return fmt.Errorf("session: wrposted head completed without carrying place&first")
	}

	for {
		member := tx.wrposted.Peek()
		if member == nil {
			return fmt.Errorf("session: batch completed without reaching its place&last member")
		}
		if member != first && member.Ctx.Place&fabric.PlaceFirst != 0 {
			return fmt.Errorf("session: next batch's head reached before this batch's place&last member")
		}

		tx.wrposted.Get()
		last := member.Ctx.Place&fabric.PlaceLast != 0
		member.Ctx.Owner = fabric.OwnerProgram

		if member.Kind == buffer.KindFragment {
			parent := member.Parent
			parent.Ctx.NChildren--
			tx.fragmentPool.Put(member)
		} else {
			if member.Ctx.NChildren != 0 {
				return fmt.Errorf("session: rdma write released with %d outstanding fragments", member.Ctx.NChildren)
			}
			tx.bytesProgress += uint64(member.Used)
			tx.metrics.ObserveTransmit(uint64(member.Used))
			tx.unregisterBuffer(member)
			member.WriteOffset = 0
			if !tx.readyForTerminal.Put(member) {
				return fmt.Errorf("session: ready_for_terminal overflowed")
			}
		}

		if last {
			return nil
		}
	}
}

// batchMember is one payload buffer (or fragment of one) about to be
// folded into a single scatter/gather write by writeTargets.
type batchMember struct {
	parent   *buffer.Buffer // the ready_for_cxn buffer owning the data/MR
	member   *buffer.Buffer // the wrposted entry: parent itself, or a fragment placeholder
	offset   int
	n        uint64
	fragment bool
}

// writeTargets implements the central algorithm of spec §4.5 step 5:
// walk payload buffers from the head of ready_for_cxn, batching as
// many as fit into the current remote-vector capacity into one
// scatter/gather write. A buffer that does not fit the remaining
// budget is split into a fragment only when the remote vectors on hand
// already reach rmaMaxSegs (one write could not use more); otherwise
// the batch stops before it and waits for more vectors. Every member
// is enqueued onto wrposted in submission order with Place bits
// marking the batch's first and last entries; only the first member's
// Context is handed to WriteRMA; drainOne releases the whole batch
// when that one completion arrives.
func (tx *Transmitter) writeTargets() error {
	if len(tx.remote) == 0 {
		return nil
	}

	segs := tx.rmaMaxSegs
	if segs > len(tx.remote) {
		segs = len(tx.remote)
	}
	var maxbytes uint64
	for i := 0; i < segs; i++ {
		maxbytes += tx.remote[i].Len
	}
	riovsMaxedOut := len(tx.remote) >= tx.rmaMaxSegs

	var items []batchMember
	var total uint64

	for {
		head := tx.readyForCxn.Peek()
		if head == nil {
			break
		}
		remaining := head.Used - head.WriteOffset
		if remaining <= 0 {
			tx.readyForCxn.Get()
			continue
		}

		budget := maxbytes - total
		var n uint64
		var fragment bool
		switch {
		case uint64(remaining) <= budget:
			n = uint64(remaining)
		case riovsMaxedOut:
			n = budget
			fragment = true
		default:
			// More remote vectors may arrive on a later pass;
			// stop growing the batch rather than fragmenting early.
		}
		if n == 0 {
			break
		}

		offset := head.WriteOffset
		var member *buffer.Buffer
		if fragment {
			member = tx.fragmentPool.Get(head, offset)
			member.Used = int(n)
			head.Ctx.NChildren++
			head.WriteOffset += int(n)
		} else {
			tx.readyForCxn.Get()
			member = head
		}
		items = append(items, batchMember{parent: head, member: member, offset: offset, n: n, fragment: fragment})
		total += n

		if fragment {
			break
		}
		if total >= maxbytes {
			break
		}
	}

	if len(items) == 0 {
		return nil
	}

	if tx.mrMode == MRModeReRegister {
		var parents []*buffer.Buffer
		seen := make(map[*buffer.Buffer]bool, len(items))
		for _, it := range items {
			if !seen[it.parent] {
				seen[it.parent] = true
				parents = append(parents, it.parent)
			}
		}
		if err := tx.registerBatch(parents); err != nil {
			return err
		}
	}

	remoteIOVs, err := tx.consumeRemote(total)
	if err != nil {
		return err
	}

	localIOVs := make([]fabric.IOVecDesc, len(items))
	for i, it := range items {
		localIOVs[i] = fabric.IOVecDesc{
			Buf:  it.parent.Data[it.offset : it.offset+int(it.n)],
			Desc: it.parent.Desc,
		}
	}

	for i, it := range items {
		place := fabric.Place(0)
		if i == 0 {
			place |= fabric.PlaceFirst
		}
		if i == len(items)-1 {
			place |= fabric.PlaceLast
		}
		msgType := fabric.MsgRDMAWrite
		if it.fragment {
			msgType = fabric.MsgFragment
		}
		it.member.Ctx = fabric.Context{Type: msgType, Owner: fabric.OwnerNIC, Place: place}
		if !tx.wrposted.Put(it.member) {
			return fmt.Errorf("session: wrposted overflow")
		}
	}

	batchCtx := &items[0].member.Ctx
	if _, err := tx.ep.WriteRMA(localIOVs, remoteIOVs, tx.peer, batchCtx); err != nil {
		return err
	}
	tx.metrics.ObserveRDMAWrite()
	return nil
}

// consumeRemote slices n bytes off the front of tx.remote into RMA
// target triples, shrinking or dropping fully consumed targets in
// order (spec §4.5 "the remote-vector array riov[]").
func (tx *Transmitter) consumeRemote(n uint64) ([]fabric.RMAIOV, error) {
	var remoteIOVs []fabric.RMAIOV
	left := n
	for left > 0 {
		if len(tx.remote) == 0 {
			return nil, fmt.Errorf("session: remote vector exhausted mid-batch")
		}
		t := &tx.remote[0]
		take := t.Len
		if take > left {
			take = left
		}
		remoteIOVs = append(remoteIOVs, fabric.RMAIOV{Addr: t.Addr, Len: take, Key: t.Key})
		t.Addr += take
		t.Len -= take
		left -= take
		if t.Len == 0 {
			tx.remote = tx.remote[1:]
		}
	}
	return remoteIOVs, nil
}

func (tx *Transmitter) updateProgress() {
	sendEOF := tx.src.Done() &&
		tx.readyForCxn.Len() == 0 && tx.wrposted.Len() == 0 &&
		!tx.eof.Local

	if tx.bytesProgress == 0 && !sendEOF {
		return
	}

	b := tx.progressPool.Get()
	b.Kind = buffer.KindProgress
	nleftover := uint64(1)
	if sendEOF {
		nleftover = 0
	}
	encoded := wire.EncodeProgress(&wire.Progress{NFilled: tx.bytesProgress, NLeftover: nleftover})
	copy(b.Raw, encoded)
	b.Used = len(encoded)
	b.Ctx = fabric.Context{Type: fabric.MsgProgress}
	if err := tx.progressTx.Enqueue(b); err != nil {
		tx.log.Warnf("progress send queue full, will retry next pass: %v", err)
		return
	}
	tx.metrics.ObserveProgressSent()
	tx.bytesProgress = 0
	if sendEOF {
		tx.eof.Local = true
	}
}

