// Package session implements the two connection state machines — the
// receiver ("get" personality) and the transmitter ("put" personality)
// — their shared EOF/cancellation bookkeeping, and the initial/ack
// handshake that hands a freshly connected endpoint to one of them
// (spec §4.4, §4.5, §6.2).
//
// The design-notes alternative of a single tagged-union connection
// type was set aside in favor of two distinct types behind a shared
// Conn capability set (spec §9 "Polymorphic loops"), which reads more
// naturally in Go and avoids a type switch in the worker's hot path.
package session

import (
	"context"

	"github.com/fabtsuite/fabtsuite/internal/fabric"
)

// Status is the 3-valued result of one Pass (spec §7 Propagation):
// loop_continue, loop_end, or loop_error.
type Status int

const (
	StatusContinue Status = iota
	StatusEnd
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusContinue:
		return "continue"
	case StatusEnd:
		return "end"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// MRMode selects whether a session's payload buffers are registered
// with the NIC once (Static) or re-registered every time they re-enter
// the data plane (ReRegister) — the `-r` flag (spec §6.3).
type MRMode int

const (
	MRModeStatic MRMode = iota
	MRModeReRegister
)

// EOF tracks a session's bidirectional end-of-file handshake (spec §3
// Connection, §6.2): each side signals its own EOF once and waits for
// the peer's.
type EOF struct {
	Local  bool
	Remote bool
}

// Metrics is the set of counter updates a session reports into, if
// Config.Metrics supplies one. A nil Config.Metrics leaves every
// session using noopMetrics, so wiring one in is opt-in.
type Metrics interface {
	ObserveTransmit(bytes uint64)
	ObserveVerify(bytes uint64)
	ObserveRDMAWrite()
	ObserveVectorSent()
	ObserveProgressSent()
	ObserveMalformed()
}

type noopMetrics struct{}

func (noopMetrics) ObserveTransmit(uint64) {}
func (noopMetrics) ObserveVerify(uint64)   {}
func (noopMetrics) ObserveRDMAWrite()      {}
func (noopMetrics) ObserveVectorSent()     {}
func (noopMetrics) ObserveProgressSent()   {}
func (noopMetrics) ObserveMalformed()      {}

// Conn is the capability set the worker pool drives every session
// through, regardless of which personality it is (spec §9).
type Conn interface {
	// Pass runs one inner-loop step for this session (spec §4.7 Inner
	// loop): drain a completion, update state, invoke the terminal,
	// and push pending sends. ctx carries only cancellation; a session
	// never blocks within a Pass (spec §5 Suspension points).
	Pass(ctx context.Context) (Status, error)
	// Cancel requests cancellation of every buffer this session still
	// has posted to the fabric (spec §5 Cancellation semantics).
	Cancel()
	// Close releases the session's endpoint.
	Close() error
	// CQ exposes the completion queue the worker's poll-set registers.
	CQ() fabric.CompletionQueue
}
