package fabtsuite

import (
	"errors"
	"fmt"
	"syscall"
)

// ErrCode categorizes an Error into the three kinds the engine
// distinguishes during propagation: fatal-immediate aborts the
// process, per-session fatal tears down one session, and
// malformed-recoverable just drops a message and reposts the buffer.
type ErrCode string

const (
	// Fatal-immediate: fabric setup failures, allocation failures,
	// invariant violations. Logged and the process terminates.
	ErrCodeFabricSetup        ErrCode = "fabric setup failed"
	ErrCodeAllocationFailed   ErrCode = "buffer allocation failed"
	ErrCodeInvariantViolation ErrCode = "invariant violation"

	// Per-session fatal: the session's endpoint is closed, the
	// session is removed from its worker, and the worker is marked
	// failed.
	ErrCodeUnexpectedCompletion ErrCode = "unexpected completion type"
	ErrCodeTerminalFailed       ErrCode = "terminal returned loop_error"
	ErrCodeHandshakeFailed      ErrCode = "handshake failed"

	// Malformed but recoverable: logged, buffer reposted unchanged.
	ErrCodeMalformedMessage ErrCode = "malformed wire message"

	// Soft/expected conditions absorbed without propagating as errors
	// at all, named here only so IsCode has something to compare
	// against in tests that assert on absorption paths.
	ErrCodeRetryable ErrCode = "retryable (EAGAIN)"
	ErrCodeCancelled ErrCode = "operation cancelled"
)

// Error is the engine's structured error type: an operation name, a
// high-level code, and an optional wrapped syscall errno or inner
// error for errors.Is/As chains.
type Error struct {
	Op      string
	Code    ErrCode
	SessionAddr string // peer address, if the error is session-scoped
	Errno   syscall.Errno
	Msg     string
	Inner   error
}

func (e *Error) Error() string {
	var parts []string
	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.SessionAddr != "" {
		parts = append(parts, fmt.Sprintf("peer=%s", e.SessionAddr))
	}
	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("errno=%d", e.Errno))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}
	if len(parts) > 0 {
		return fmt.Sprintf("fabtsuite: %s (%s)", msg, parts[0])
	}
	return fmt.Sprintf("fabtsuite: %s", msg)
}

func (e *Error) Unwrap() error { return e.Inner }

func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == te.Code
}

// NewError creates a structured error with no session or errno
// context.
func NewError(op string, code ErrCode, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// NewErrnoError wraps a syscall errno under a given operation and
// code, using the errno's own text as the message.
func NewErrnoError(op string, code ErrCode, errno syscall.Errno) *Error {
	return &Error{Op: op, Code: code, Errno: errno, Msg: errno.Error()}
}

// NewSessionError tags an error with the peer address of the session
// it tore down (§7 Per-session fatal).
func NewSessionError(op, peerAddr string, code ErrCode, msg string) *Error {
	return &Error{Op: op, SessionAddr: peerAddr, Code: code, Msg: msg}
}

// WrapError folds an arbitrary error into the structured form, mapping
// known syscall errnos to a code via mapErrnoToCode and defaulting
// everything else to ErrCodeInvariantViolation.
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}
	if fe, ok := inner.(*Error); ok {
		return &Error{Op: op, Code: fe.Code, SessionAddr: fe.SessionAddr, Errno: fe.Errno, Msg: fe.Msg, Inner: fe.Inner}
	}
	if errno, ok := inner.(syscall.Errno); ok {
		return &Error{Op: op, Code: mapErrnoToCode(errno), Errno: errno, Msg: errno.Error(), Inner: inner}
	}
	return &Error{Op: op, Code: ErrCodeInvariantViolation, Msg: inner.Error(), Inner: inner}
}

func mapErrnoToCode(errno syscall.Errno) ErrCode {
	switch errno {
	case syscall.EAGAIN:
		return ErrCodeRetryable
	case syscall.ECANCELED:
		return ErrCodeCancelled
	case syscall.ENOMEM, syscall.ENOSPC:
		return ErrCodeAllocationFailed
	default:
		return ErrCodeFabricSetup
	}
}

// IsCode reports whether err is an *Error carrying code.
func IsCode(err error, code ErrCode) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code == code
	}
	return false
}

// IsErrno reports whether err is an *Error wrapping errno.
func IsErrno(err error, errno syscall.Errno) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Errno == errno
	}
	return false
}
