package terminal

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSourceFillProducesRollingReferenceText(t *testing.T) {
	src := NewSource(3)
	require.Equal(t, int64(len(ReferenceText)*3), src.TotalBytes())

	buf := make([]byte, 200)
	n, eof := src.Fill(buf)
	require.False(t, eof)
	require.Equal(t, 200, n)

	n2, eof2 := src.Fill(buf)
	require.True(t, eof2)
	require.Equal(t, len(ReferenceText)*3-200, n2)

	n3, eof3 := src.Fill(buf)
	require.Equal(t, 0, n3)
	require.True(t, eof3)
}

func TestSourceSinkRoundTrip(t *testing.T) {
	src := NewSource(10000)
	sink := NewSink(10000)

	buf := make([]byte, 997) // deliberately not a multiple of len(ReferenceText)
	for {
		n, srcEOF := src.Fill(buf)
		sinkEOF, err := sink.Verify(buf[:n])
		require.NoError(t, err)
		if srcEOF {
			require.True(t, sinkEOF)
			break
		}
	}
	require.Equal(t, src.TotalBytes(), sink.TotalBytes())
}

func TestSinkRejectsCorruptedByte(t *testing.T) {
	sink := NewSink(1)
	buf := []byte(ReferenceText)
	buf[5] ^= 0xFF

	_, err := sink.Verify(buf)
	require.ErrorIs(t, err, ErrVerifyFailed)
}

func TestSinkRejectsBytesPastEOF(t *testing.T) {
	sink := NewSink(1)
	_, err := sink.Verify([]byte(ReferenceText))
	require.NoError(t, err)

	_, err = sink.Verify([]byte{'x'})
	require.ErrorIs(t, err, ErrPastEOF)
}

func TestSourceAndSinkStats(t *testing.T) {
	src := NewSource(2)
	sink := NewSink(2)
	require.Equal(t, "source", src.Stats()["type"])
	require.Equal(t, "sink", sink.Stats()["type"])
}
