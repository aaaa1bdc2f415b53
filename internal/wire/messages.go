// Package wire defines the fixed-layout control messages exchanged on
// the reliable messaging channel (spec §3, §6.2) and their big-endian
// marshaling. The four message types are fixed-size or bounded-size
// and are never extended; decoding rejects anything malformed rather
// than trying to interpret it leniently (spec §8 boundary behaviors).
package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/fabtsuite/fabtsuite/internal/constants"
)

// Initial is the transmitter's opening handshake message.
type Initial struct {
	Nonce    [constants.NonceLen]byte
	NSources uint32 // reserved; core always sets 1 (spec §1 Non-goals)
	ID       uint32 // reserved; core always sets 0
	AddrLen  uint32
	Addr     [constants.AddrLen]byte
}

// InitialSize is the encoded size of an Initial message.
const InitialSize = constants.NonceLen + 4 + 4 + 4 + constants.AddrLen

// Ack is the receiver's reply, carrying the address the transmitter
// should use in place of the bootstrap peer address.
type Ack struct {
	AddrLen uint32
	Addr    [constants.AddrLen]byte
}

// AckSize is the encoded size of an Ack message.
const AckSize = 4 + constants.AddrLen

// VectorTriple names one RDMA target: a byte offset into the
// receiver's registered region, its length, and the MR key the peer
// must cite (spec §3; the MR model is offset-based, never a virtual
// address, per spec §6.1).
type VectorTriple struct {
	Addr uint64
	Len  uint64
	Key  uint64
}

// Vector advertises up to MaxVectorIovs RDMA targets. A Vector with
// zero triples is the EOF marker (spec §4.4 step 4, §4.5 step 3).
type Vector struct {
	IOVs []VectorTriple
}

// Progress reports bytes placed by RDMA writes and whether more is
// expected (spec §3, §4.5 step 6).
type Progress struct {
	NFilled   uint64
	NLeftover uint64
}

// EncodeInitial serializes an Initial message.
func EncodeInitial(m *Initial) []byte {
	buf := make([]byte, InitialSize)
	off := 0
	copy(buf[off:off+constants.NonceLen], m.Nonce[:])
	off += constants.NonceLen
	binary.BigEndian.PutUint32(buf[off:], m.NSources)
	off += 4
	binary.BigEndian.PutUint32(buf[off:], m.ID)
	off += 4
	binary.BigEndian.PutUint32(buf[off:], m.AddrLen)
	off += 4
	copy(buf[off:off+constants.AddrLen], m.Addr[:])
	return buf
}

// DecodeInitial parses an Initial message, rejecting anything the
// wrong size.
func DecodeInitial(data []byte) (*Initial, error) {
	if len(data) != InitialSize {
		return nil, fmt.Errorf("wire: initial message has wrong size %d (want %d)", len(data), InitialSize)
	}
	m := &Initial{}
	off := 0
	copy(m.Nonce[:], data[off:off+constants.NonceLen])
	off += constants.NonceLen
	m.NSources = binary.BigEndian.Uint32(data[off:])
	off += 4
	m.ID = binary.BigEndian.Uint32(data[off:])
	off += 4
	m.AddrLen = binary.BigEndian.Uint32(data[off:])
	off += 4
	if int(m.AddrLen) > constants.AddrLen {
		return nil, fmt.Errorf("wire: initial addrlen %d exceeds %d", m.AddrLen, constants.AddrLen)
	}
	copy(m.Addr[:], data[off:off+constants.AddrLen])
	return m, nil
}

// EncodeAck serializes an Ack message.
func EncodeAck(m *Ack) []byte {
	buf := make([]byte, AckSize)
	binary.BigEndian.PutUint32(buf[0:], m.AddrLen)
	copy(buf[4:4+constants.AddrLen], m.Addr[:])
	return buf
}

// DecodeAck parses an Ack message.
func DecodeAck(data []byte) (*Ack, error) {
	if len(data) != AckSize {
		return nil, fmt.Errorf("wire: ack message has wrong size %d (want %d)", len(data), AckSize)
	}
	m := &Ack{}
	m.AddrLen = binary.BigEndian.Uint32(data[0:])
	if int(m.AddrLen) > constants.AddrLen {
		return nil, fmt.Errorf("wire: ack addrlen %d exceeds %d", m.AddrLen, constants.AddrLen)
	}
	copy(m.Addr[:], data[4:4+constants.AddrLen])
	return m, nil
}

// EncodeVector serializes a Vector message. Callers are responsible
// for keeping len(m.IOVs) <= MaxVectorIovs; EncodeVector does not
// re-validate the invariant that DecodeVector enforces on the wire.
func EncodeVector(m *Vector) []byte {
	buf := make([]byte, 4+len(m.IOVs)*constants.VectorTripleSize)
	binary.BigEndian.PutUint32(buf[0:], uint32(len(m.IOVs)))
	off := 4
	for _, t := range m.IOVs {
		binary.BigEndian.PutUint64(buf[off:], t.Addr)
		binary.BigEndian.PutUint64(buf[off+8:], t.Len)
		binary.BigEndian.PutUint64(buf[off+16:], t.Key)
		off += constants.VectorTripleSize
	}
	return buf
}

// DecodeVector parses and validates a Vector message against the
// rules in spec §8: total length below the 4-byte header is rejected,
// a trailing-byte count that isn't a multiple of 24 is rejected, and
// niovs > MaxVectorIovs (12) is rejected, so 13 triples fail. A zero-triple message
// decodes successfully and signals EOF to the caller.
func DecodeVector(data []byte) (*Vector, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("wire: vector message too short (%d bytes)", len(data))
	}
	niovs := binary.BigEndian.Uint32(data[0:4])
	rest := data[4:]
	if len(rest)%constants.VectorTripleSize != 0 {
		return nil, fmt.Errorf("wire: vector payload %d bytes is not a multiple of %d", len(rest), constants.VectorTripleSize)
	}
	if int(niovs) != len(rest)/constants.VectorTripleSize {
		return nil, fmt.Errorf("wire: vector niovs=%d does not match payload length %d", niovs, len(rest))
	}
	if niovs > constants.MaxVectorIovs {
		return nil, fmt.Errorf("wire: vector niovs=%d exceeds max %d", niovs, constants.MaxVectorIovs)
	}
	m := &Vector{IOVs: make([]VectorTriple, niovs)}
	off := 0
	for i := range m.IOVs {
		m.IOVs[i].Addr = binary.BigEndian.Uint64(rest[off:])
		m.IOVs[i].Len = binary.BigEndian.Uint64(rest[off+8:])
		m.IOVs[i].Key = binary.BigEndian.Uint64(rest[off+16:])
		off += constants.VectorTripleSize
	}
	return m, nil
}

// EncodeProgress serializes a Progress message.
func EncodeProgress(m *Progress) []byte {
	buf := make([]byte, constants.ProgressMsgSize)
	binary.BigEndian.PutUint64(buf[0:], m.NFilled)
	binary.BigEndian.PutUint64(buf[8:], m.NLeftover)
	return buf
}

// DecodeProgress parses a Progress message. A wrong-size message is
// "malformed but recoverable" (spec §7): callers log and repost
// without changing state rather than treating it as session-fatal.
func DecodeProgress(data []byte) (*Progress, error) {
	if len(data) != constants.ProgressMsgSize {
		return nil, fmt.Errorf("wire: progress message has wrong size %d (want %d)", len(data), constants.ProgressMsgSize)
	}
	return &Progress{
		NFilled:   binary.BigEndian.Uint64(data[0:]),
		NLeftover: binary.BigEndian.Uint64(data[8:]),
	}, nil
}
