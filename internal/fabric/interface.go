// Package fabric defines the provider contract the transport engine
// consumes. The fabric library itself — endpoint, domain,
// completion-queue, and memory-region operations — is out of scope for
// this repository; only the interface shape the core needs is
// specified here: the endpoint/domain/AV/EQ/CQ/poll-set vocabulary an
// OpenFabrics-style provider exposes.
//
// internal/fabric/loopback provides the one concrete implementation
// in this repository: an in-process, hardware-free pair of endpoints
// used by tests (and by cmd/fabtsuite's -local-demo mode) in place of
// a real RDMA-capable NIC.
package fabric

import (
	"context"
	"errors"
	"time"
)

// ErrRingFull is the back-pressure signal: a send or a control-buffer
// post that would exceed the posted-queue depth returns this rather
// than blocking.
var ErrRingFull = errors.New("fabric: submission queue full")

// MsgType classifies a posted buffer's transfer context.
type MsgType int

const (
	MsgProgress MsgType = iota
	MsgRDMAWrite
	MsgVector
	MsgFragment
)

func (t MsgType) String() string {
	switch t {
	case MsgProgress:
		return "progress"
	case MsgRDMAWrite:
		return "rdma_write"
	case MsgVector:
		return "vector"
	case MsgFragment:
		return "fragment"
	default:
		return "unknown"
	}
}

// Owner tracks which side of the NIC boundary currently owns a buffer
// (spec §3 Ownership and lifetime).
type Owner int

const (
	OwnerProgram Owner = iota
	OwnerNIC
)

// Place is a bitset marking batch boundaries within a multi-buffer
// RDMA write (spec §3).
type Place uint8

const (
	PlaceFirst Place = 1 << iota
	PlaceLast
)

// Context is the per-operation completion context every posted buffer
// carries. The fabric provider reserves the leading bytes of such a
// context for its own bookkeeping (spec §9); in Go there is no
// downcast to perform; the *Context pointer handed to a fabric Send/
// Recv/WriteRMA call is the same pointer returned from the matching
// Completion.Ctx.
type Context struct {
	Type      MsgType
	Owner     Owner
	Place     Place
	NChildren uint8
	Cancelled bool
}

// AccessMode bounds what a memory registration may be used for.
type AccessMode uint32

const (
	AccessLocalRead AccessMode = 1 << iota
	AccessLocalWrite
	AccessRemoteWrite
)

// Desc is an opaque, provider-specific local-memory descriptor
// returned alongside a registration, passed back into scatter/gather
// operations verbatim.
type Desc any

// MemoryRegion is a registered span of local memory usable as an RDMA
// source/target, identified per-segment by a remote-offset/key pair
// (spec GLOSSARY, §4.2 — the MR model is offset-based, never a
// virtual address).
type MemoryRegion interface {
	NumSegments() int
	Desc(segment int) Desc
	Key(segment int) uint64
	Offset(segment int) uint64
	Close() error
}

// PeerAddr is an address-vector-resolved peer handle.
type PeerAddr uint64

// AddressVector resolves opaque peer addresses to routing info (spec
// GLOSSARY).
type AddressVector interface {
	Insert(addr []byte) (PeerAddr, error)
	Remove(PeerAddr) error
}

// ConnReq is a passive-side connection-request event.
type ConnReq struct {
	PeerAddr []byte
}

// EventQueue surfaces connection-management events during bring-up
// (spec §4's connection setup, §6.2).
type EventQueue interface {
	// ReadConnReq blocks (interruptibly via ctx) for the next inbound
	// connection request.
	ReadConnReq(ctx context.Context) (*ConnReq, error)
	// ReadConnected blocks until an active endpoint's connect
	// completes.
	ReadConnected(ctx context.Context) error
}

// Completion is one fabric completion descriptor (spec GLOSSARY CQ).
type Completion struct {
	Ctx   *Context
	Flags uint64
	Len   uint64
	Err   error
}

// Completion flags the core inspects (spec §4.3, §4.4, §4.5); these
// mirror libfabric's FI_* completion flags closely enough for the
// core's classification logic to read the same way.
const (
	FlagRecv uint64 = 1 << iota
	FlagSend
	FlagMsg
	FlagRMA
	FlagWrite
)

// CompletionQueue is drained by a worker's poll loop.
type CompletionQueue interface {
	// Read returns up to max completions without blocking; an empty,
	// nil-error result means no work is ready yet.
	Read(max int) ([]Completion, error)
	// Cancel requests fabric cancellation of the operation identified
	// by ctx; the eventual completion carries Err != nil and the
	// caller is expected to have already set ctx.Cancelled.
	Cancel(ctx *Context) error
}

// PollSet multiplexes many completion queues for one worker (spec
// §4.7, GLOSSARY). Its return value is deliberately informational only
// (spec §4.7 inner loop) — callers must still drain each CQ
// themselves.
type PollSet interface {
	Add(cq CompletionQueue) error
	Del(cq CompletionQueue) error
	Poll(timeout time.Duration) (int, error)
}

// IOVecDesc pairs a local buffer with the Desc its registration
// produced, ready for a scatter/gather operation.
type IOVecDesc struct {
	Buf  []byte
	Desc Desc
}

// RMAIOV is one remote-memory target (spec §3 Vector message triple).
type RMAIOV struct {
	Addr uint64
	Len  uint64
	Key  uint64
}

// Endpoint is a bidirectional, reliable-datagram communication handle
// bound to an address vector and completion queue (spec §6.1,
// GLOSSARY).
type Endpoint interface {
	// Listen binds a passive endpoint to bindAddr and begins accepting.
	Listen(ctx context.Context, bindAddr string) error
	// Accept completes bring-up for the first inbound peer observed on
	// the endpoint's event queue.
	Accept(ctx context.Context, req *ConnReq) (PeerAddr, error)
	// Connect actively connects to peer (an encoded fabric address).
	Connect(ctx context.Context, peer []byte) (PeerAddr, error)

	// LocalAddr returns this endpoint's own encoded fabric address,
	// exchanged during the initial/ack handshake (spec §6.2).
	LocalAddr() []byte

	Send(buf []byte, peer PeerAddr, ctx *Context) error
	Recv(buf []byte, ctx *Context) error

	// WriteRMA issues one scatter/gather RDMA write with
	// FI_COMPLETION|FI_DELIVERY_COMPLETE semantics (spec §4.5 step 5);
	// it returns the number of bytes actually written, which may be
	// less than the sum of local/remote lengths when they differ (the
	// session's write_fully helper handles the remainder).
	WriteRMA(local []IOVecDesc, remote []RMAIOV, peer PeerAddr, ctx *Context) (uint64, error)

	RegisterMR(bufs [][]byte, access AccessMode) (MemoryRegion, error)

	CQ() CompletionQueue
	EQ() EventQueue
	AV() AddressVector

	Close() error
}

// Domain creates endpoints sharing a provider context (spec §6.1).
type Domain interface {
	NewEndpoint(ctx context.Context) (Endpoint, error)
	Close() error
}
