package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitialRoundTrip(t *testing.T) {
	m := &Initial{NSources: 1, ID: 0, AddrLen: 6}
	copy(m.Nonce[:], "0123456789abcdef")
	copy(m.Addr[:], "peer12")

	got, err := DecodeInitial(EncodeInitial(m))
	require.NoError(t, err)
	require.Equal(t, m.Nonce, got.Nonce)
	require.Equal(t, m.NSources, got.NSources)
	require.Equal(t, m.AddrLen, got.AddrLen)
	require.Equal(t, m.Addr, got.Addr)
}

func TestAckRoundTrip(t *testing.T) {
	m := &Ack{AddrLen: 4}
	copy(m.Addr[:], "xyzw")

	got, err := DecodeAck(EncodeAck(m))
	require.NoError(t, err)
	require.Equal(t, m.AddrLen, got.AddrLen)
	require.Equal(t, m.Addr, got.Addr)
}

func TestProgressRoundTrip(t *testing.T) {
	m := &Progress{NFilled: 1234, NLeftover: 1}
	got, err := DecodeProgress(EncodeProgress(m))
	require.NoError(t, err)
	require.Equal(t, *m, *got)
}

func TestProgressWrongSize(t *testing.T) {
	_, err := DecodeProgress(make([]byte, 15))
	require.Error(t, err)
	_, err = DecodeProgress(make([]byte, 17))
	require.Error(t, err)
}

func TestVectorRoundTripEmpty(t *testing.T) {
	m := &Vector{}
	got, err := DecodeVector(EncodeVector(m))
	require.NoError(t, err)
	require.Empty(t, got.IOVs)
}

func TestVectorRoundTripFull(t *testing.T) {
	m := &Vector{IOVs: make([]VectorTriple, 12)}
	for i := range m.IOVs {
		m.IOVs[i] = VectorTriple{Addr: uint64(i), Len: uint64(i * 2), Key: uint64(i * 3)}
	}
	got, err := DecodeVector(EncodeVector(m))
	require.NoError(t, err)
	require.Equal(t, m.IOVs, got.IOVs)
}

func TestVectorRejectsTooManyIovs(t *testing.T) {
	m := &Vector{IOVs: make([]VectorTriple, 13)}
	_, err := DecodeVector(EncodeVector(m))
	require.Error(t, err)
}

func TestVectorRejectsTrailingBytes(t *testing.T) {
	buf := EncodeVector(&Vector{IOVs: make([]VectorTriple, 1)})
	buf = append(buf, 0x01) // not a multiple of 24 once header is stripped
	_, err := DecodeVector(buf)
	require.Error(t, err)
}

func TestVectorRejectsShortHeader(t *testing.T) {
	_, err := DecodeVector([]byte{0x00, 0x00, 0x00})
	require.Error(t, err)
}
