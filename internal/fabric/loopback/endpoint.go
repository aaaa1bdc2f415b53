package loopback

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/fabtsuite/fabtsuite/internal/fabric"
)

// pendingRecv is a posted-but-unmatched Recv call.
type pendingRecv struct {
	buf []byte
	ctx *fabric.Context
}

// pendingSend is a delivered-but-unmatched message awaiting a Recv.
type pendingSend struct {
	data []byte
	ctx  *fabric.Context
}

// Endpoint is a loopback reliable-datagram endpoint: a mailbox of
// posted recvs and delivered-but-unmatched sends, a completion queue,
// an event queue, and an address vector, all bound to one Domain.
type Endpoint struct {
	domain  *Domain
	localID uint64

	eq *eventQueue
	cq *completionQueue
	av *addressVector

	mu       sync.Mutex
	recvs    []pendingRecv
	inbox    []pendingSend
	bindAddr string
}

// LocalAddr encodes this endpoint's identity as an 8-byte big-endian
// ID, the same encoding ConnReq.PeerAddr and the wire initial/ack
// address fields carry for loopback endpoints.
func (e *Endpoint) LocalAddr() []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, e.localID)
	return b
}

// Listen registers this endpoint as the rendezvous target for
// bindAddr.
func (e *Endpoint) Listen(ctx context.Context, bindAddr string) error {
	e.bindAddr = bindAddr
	return e.domain.listen(bindAddr, e)
}

// Accept waits for the next inbound connect request (or consumes req
// if already supplied) and returns a peer handle resolved to the
// dialer.
func (e *Endpoint) Accept(ctx context.Context, req *fabric.ConnReq) (fabric.PeerAddr, error) {
	if req == nil {
		var err error
		req, err = e.eq.ReadConnReq(ctx)
		if err != nil {
			return 0, err
		}
	}
	return e.av.Insert(req.PeerAddr)
}

// Connect dials the listening endpoint registered under the bindAddr
// carried in peer, delivers a connect-request event to it, and
// returns a bootstrap peer handle resolved directly to it.
func (e *Endpoint) Connect(ctx context.Context, peer []byte) (fabric.PeerAddr, error) {
	target, ok := e.domain.dial(string(peer))
	if !ok {
		return 0, fmt.Errorf("loopback: no listener at %q", string(peer))
	}
	select {
	case target.eq.connReqs <- &fabric.ConnReq{PeerAddr: e.LocalAddr()}:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	select {
	case e.eq.connected <- struct{}{}:
	default:
	}
	return e.av.insertEndpoint(target), nil
}

// Send hands buf to target's mailbox: if target already has a posted
// recv waiting, the match happens immediately and a RECV|MSG
// completion is pushed to target's CQ; otherwise the message waits in
// target's inbox for a future Recv. Either way a SEND|MSG completion
// is pushed to this endpoint's own CQ once the data has been handed
// off.
func (e *Endpoint) Send(buf []byte, peer fabric.PeerAddr, ctx *fabric.Context) error {
	target, ok := e.av.resolve(peer)
	if !ok {
		return fmt.Errorf("loopback: send to unresolved peer %d", peer)
	}
	cp := make([]byte, len(buf))
	copy(cp, buf)

	target.mu.Lock()
	if len(target.recvs) > 0 {
		slot := target.recvs[0]
		target.recvs = target.recvs[1:]
		target.mu.Unlock()
		n := copy(slot.buf, cp)
		target.cq.push(fabric.Completion{Ctx: slot.ctx, Flags: fabric.FlagRecv | fabric.FlagMsg, Len: uint64(n)})
	} else {
		target.inbox = append(target.inbox, pendingSend{data: cp, ctx: ctx})
		target.mu.Unlock()
	}

	e.cq.push(fabric.Completion{Ctx: ctx, Flags: fabric.FlagSend | fabric.FlagMsg, Len: uint64(len(buf))})
	return nil
}

// Recv posts buf to receive the next message addressed to this
// endpoint, matching immediately against a queued inbox message if one
// is already waiting.
func (e *Endpoint) Recv(buf []byte, ctx *fabric.Context) error {
	e.mu.Lock()
	if len(e.inbox) > 0 {
		msg := e.inbox[0]
		e.inbox = e.inbox[1:]
		e.mu.Unlock()
		n := copy(buf, msg.data)
		e.cq.push(fabric.Completion{Ctx: ctx, Flags: fabric.FlagRecv | fabric.FlagMsg, Len: uint64(n)})
		return nil
	}
	e.recvs = append(e.recvs, pendingRecv{buf: buf, ctx: ctx})
	e.mu.Unlock()
	return nil
}

// WriteRMA copies bytes gathered from local across the remote targets
// in order, resolving each remote.Key against the domain's segment
// registry and writing at remote.Addr within that segment's backing
// slice — the offset-based addressing the core requires (spec §6.1).
func (e *Endpoint) WriteRMA(local []fabric.IOVecDesc, remote []fabric.RMAIOV, peer fabric.PeerAddr, ctx *fabric.Context) (uint64, error) {
	var total uint64
	localIdx, localOff := 0, 0

	for _, r := range remote {
		remaining := r.Len
		for remaining > 0 {
			if localIdx >= len(local) {
				e.cq.push(fabric.Completion{Ctx: ctx, Flags: fabric.FlagWrite | fabric.FlagRMA, Len: total})
				return total, nil
			}
			seg, ok := e.domain.lookupSegment(r.Key)
			if !ok {
				return total, fmt.Errorf("loopback: write to unregistered key %d", r.Key)
			}
			src := local[localIdx].Buf[localOff:]
			n := uint64(len(src))
			if n > remaining {
				n = remaining
			}
			dstOff := r.Addr + (r.Len - remaining)
			if dstOff+n > uint64(len(seg.buf)) {
				return total, fmt.Errorf("loopback: RMA write out of bounds (off=%d len=%d seg=%d)", dstOff, n, len(seg.buf))
			}
			copy(seg.buf[dstOff:dstOff+n], src[:n])

			total += n
			remaining -= n
			localOff += int(n)
			if localOff >= len(local[localIdx].Buf) {
				localIdx++
				localOff = 0
			}
		}
	}

	e.cq.push(fabric.Completion{Ctx: ctx, Flags: fabric.FlagWrite | fabric.FlagRMA, Len: total})
	return total, nil
}

// RegisterMR registers each of bufs as its own independently-keyed
// segment.
func (e *Endpoint) RegisterMR(bufs [][]byte, access fabric.AccessMode) (fabric.MemoryRegion, error) {
	mr := &memoryRegion{domain: e.domain}
	for _, buf := range bufs {
		mr.segments = append(mr.segments, e.domain.registerSegment(buf, access))
	}
	return mr, nil
}

func (e *Endpoint) CQ() fabric.CompletionQueue { return e.cq }
func (e *Endpoint) EQ() fabric.EventQueue       { return e.eq }
func (e *Endpoint) AV() fabric.AddressVector    { return e.av }

// Close releases no resources of its own; registered segments are
// released independently via MemoryRegion.Close.
func (e *Endpoint) Close() error {
	return nil
}
