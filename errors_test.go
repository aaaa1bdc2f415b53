package fabtsuite

import (
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStructuredError(t *testing.T) {
	err := NewError("connect", ErrCodeHandshakeFailed, "ack timed out")

	require.Equal(t, "connect", err.Op)
	require.Equal(t, ErrCodeHandshakeFailed, err.Code)
	require.Equal(t, "fabtsuite: ack timed out (op=connect)", err.Error())
}

func TestErrnoError(t *testing.T) {
	err := NewErrnoError("write_rma", ErrCodeFabricSetup, syscall.EPERM)

	require.Equal(t, syscall.EPERM, err.Errno)
	require.Equal(t, ErrCodeFabricSetup, err.Code)
}

func TestSessionError(t *testing.T) {
	err := NewSessionError("drain_targets", "peer-123", ErrCodeMalformedMessage, "progress size mismatch")

	require.Equal(t, "peer-123", err.SessionAddr)
	require.Equal(t, "fabtsuite: progress size mismatch (op=drain_targets)", err.Error())
}

func TestWrapError(t *testing.T) {
	err := WrapError("listen", syscall.ECANCELED)

	require.Equal(t, ErrCodeCancelled, err.Code)
	require.Equal(t, syscall.ECANCELED, err.Errno)
}

func TestWrapErrorPreservesStructuredError(t *testing.T) {
	inner := NewSessionError("drain_targets", "peer-1", ErrCodeMalformedMessage, "bad vector")
	wrapped := WrapError("pass", inner)

	require.Equal(t, ErrCodeMalformedMessage, wrapped.Code)
	require.Equal(t, "peer-1", wrapped.SessionAddr)
}

func TestWrapErrorNilIsNil(t *testing.T) {
	require.Nil(t, WrapError("noop", nil))
}

func TestIsCode(t *testing.T) {
	err := NewError("test", ErrCodeTerminalFailed, "sink rejected a chunk")

	require.True(t, IsCode(err, ErrCodeTerminalFailed))
	require.False(t, IsCode(err, ErrCodeMalformedMessage))
	require.False(t, IsCode(nil, ErrCodeTerminalFailed))
}

func TestIsErrno(t *testing.T) {
	err := NewErrnoError("test", ErrCodeFabricSetup, syscall.EIO)

	require.True(t, IsErrno(err, syscall.EIO))
	require.False(t, IsErrno(err, syscall.EPERM))
	require.False(t, IsErrno(nil, syscall.EIO))
}

func TestErrnoMapping(t *testing.T) {
	cases := []struct {
		errno    syscall.Errno
		expected ErrCode
	}{
		{syscall.EAGAIN, ErrCodeRetryable},
		{syscall.ECANCELED, ErrCodeCancelled},
		{syscall.ENOMEM, ErrCodeAllocationFailed},
		{syscall.ENOSPC, ErrCodeAllocationFailed},
		{syscall.EIO, ErrCodeFabricSetup},
	}
	for _, tc := range cases {
		require.Equal(t, tc.expected, mapErrnoToCode(tc.errno))
	}
}
