package ctrlstream

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fabtsuite/fabtsuite/internal/buffer"
	"github.com/fabtsuite/fabtsuite/internal/fabric"
)

// fakeEndpoint is a minimal fabric.Endpoint stub exercising only the
// Send/Recv/RegisterMR paths ctrlstream needs; the remaining methods
// are unused by these tests and panic if reached.
type fakeEndpoint struct {
	recvFull, sendFull bool
	recvd, sent        []*fabric.Context
}

func (f *fakeEndpoint) Listen(context.Context, string) error                     { panic("unused") }
func (f *fakeEndpoint) Accept(context.Context, *fabric.ConnReq) (fabric.PeerAddr, error) { panic("unused") }
func (f *fakeEndpoint) Connect(context.Context, []byte) (fabric.PeerAddr, error) { panic("unused") }
func (f *fakeEndpoint) LocalAddr() []byte                                        { panic("unused") }

func (f *fakeEndpoint) Send(buf []byte, peer fabric.PeerAddr, ctx *fabric.Context) error {
	if f.sendFull {
		return fabric.ErrRingFull
	}
	f.sent = append(f.sent, ctx)
	return nil
}

func (f *fakeEndpoint) Recv(buf []byte, ctx *fabric.Context) error {
	if f.recvFull {
		return fabric.ErrRingFull
	}
	f.recvd = append(f.recvd, ctx)
	return nil
}

func (f *fakeEndpoint) WriteRMA([]fabric.IOVecDesc, []fabric.RMAIOV, fabric.PeerAddr, *fabric.Context) (uint64, error) {
	panic("unused")
}
func (f *fakeEndpoint) RegisterMR([][]byte, fabric.AccessMode) (fabric.MemoryRegion, error) {
	panic("unused")
}
func (f *fakeEndpoint) CQ() fabric.CompletionQueue { panic("unused") }
func (f *fakeEndpoint) EQ() fabric.EventQueue       { panic("unused") }
func (f *fakeEndpoint) AV() fabric.AddressVector    { panic("unused") }
func (f *fakeEndpoint) Close() error                { return nil }

func TestRxControlPostAndComplete(t *testing.T) {
	ep := &fakeEndpoint{}
	rx := NewRxControl(ep, 4)

	b := buffer.NewProgressBuffer()
	require.NoError(t, rx.Post(b))
	require.Equal(t, 1, rx.Posted())

	got, err := rx.Complete(fabric.Completion{
		Ctx:   &b.Ctx,
		Flags: fabric.FlagRecv | fabric.FlagMsg,
		Len:   16,
	})
	require.NoError(t, err)
	require.Same(t, b, got)
	require.Equal(t, 0, rx.Posted())
	require.Same(t, b, rx.Take())
	require.Nil(t, rx.Take())
}

func TestRxControlPostReturnsErrRingFullWhenSaturated(t *testing.T) {
	ep := &fakeEndpoint{}
	rx := NewRxControl(ep, 1)
	require.NoError(t, rx.Post(buffer.NewProgressBuffer()))
	require.ErrorIs(t, rx.Post(buffer.NewProgressBuffer()), fabric.ErrRingFull)
}

func TestRxControlCompleteRejectsMismatchedContext(t *testing.T) {
	ep := &fakeEndpoint{}
	rx := NewRxControl(ep, 4)
	b := buffer.NewProgressBuffer()
	require.NoError(t, rx.Post(b))

	other := fabric.Context{}
	_, err := rx.Complete(fabric.Completion{Ctx: &other, Flags: fabric.FlagRecv | fabric.FlagMsg})
	require.ErrorIs(t, err, ErrUnexpectedCompletion)
}

func TestRxControlCompleteRejectsWrongFlags(t *testing.T) {
	ep := &fakeEndpoint{}
	rx := NewRxControl(ep, 4)
	b := buffer.NewProgressBuffer()
	require.NoError(t, rx.Post(b))

	_, err := rx.Complete(fabric.Completion{Ctx: &b.Ctx, Flags: fabric.FlagRecv})
	require.ErrorIs(t, err, ErrUnexpectedCompletion)
}

func TestRxControlCompleteAcceptsCancelledRegardlessOfFlags(t *testing.T) {
	ep := &fakeEndpoint{}
	rx := NewRxControl(ep, 4)
	b := buffer.NewProgressBuffer()
	require.NoError(t, rx.Post(b))
	b.Ctx.Cancelled = true

	got, err := rx.Complete(fabric.Completion{Ctx: &b.Ctx, Flags: 0, Err: context.Canceled})
	require.NoError(t, err)
	require.Same(t, b, got)
}

func TestTxControlTransmitDrainsReadyWhilePostedHasRoom(t *testing.T) {
	ep := &fakeEndpoint{}
	pool := NewPool(0, buffer.NewVectorBuffer)
	tx := NewTxControl(ep, 2, pool)

	a, b, c := buffer.NewVectorBuffer(), buffer.NewVectorBuffer(), buffer.NewVectorBuffer()
	require.NoError(t, tx.Enqueue(a))
	require.NoError(t, tx.Enqueue(b))
	require.NoError(t, tx.Transmit(fabric.PeerAddr(1)))
	require.NoError(t, tx.Enqueue(c))

	require.NoError(t, tx.Transmit(fabric.PeerAddr(1)))
	require.Equal(t, 2, tx.Posted())
	require.Equal(t, 1, tx.Ready())
}

func TestTxControlTransmitStopsOnRingFullWithoutError(t *testing.T) {
	ep := &fakeEndpoint{sendFull: true}
	pool := NewPool(0, buffer.NewVectorBuffer)
	tx := NewTxControl(ep, 4, pool)
	require.NoError(t, tx.Enqueue(buffer.NewVectorBuffer()))

	require.NoError(t, tx.Transmit(fabric.PeerAddr(1)))
	require.Equal(t, 1, tx.Ready())
	require.Equal(t, 0, tx.Posted())
}

func TestTxControlCompleteReturnsBufferToPool(t *testing.T) {
	ep := &fakeEndpoint{}
	pool := NewPool(0, buffer.NewVectorBuffer)
	tx := NewTxControl(ep, 4, pool)

	b := buffer.NewVectorBuffer()
	require.NoError(t, tx.Enqueue(b))
	require.NoError(t, tx.Transmit(fabric.PeerAddr(1)))

	require.Equal(t, 0, pool.Len())
	err := tx.Complete(fabric.Completion{Ctx: &b.Ctx, Flags: fabric.FlagSend | fabric.FlagMsg})
	require.NoError(t, err)
	require.Equal(t, 1, pool.Len())
	require.Same(t, b, pool.Get())
}

func TestTxControlCompleteRejectsMismatchedContext(t *testing.T) {
	ep := &fakeEndpoint{}
	pool := NewPool(0, buffer.NewVectorBuffer)
	tx := NewTxControl(ep, 4, pool)

	b := buffer.NewVectorBuffer()
	require.NoError(t, tx.Enqueue(b))
	require.NoError(t, tx.Transmit(fabric.PeerAddr(1)))

	other := fabric.Context{}
	err := tx.Complete(fabric.Completion{Ctx: &other, Flags: fabric.FlagSend | fabric.FlagMsg})
	require.ErrorIs(t, err, ErrUnexpectedCompletion)
}

func TestPoolGetAllocatesWhenEmptyAndReusesAfterPut(t *testing.T) {
	calls := 0
	pool := NewPool(1, func() *buffer.Buffer {
		calls++
		return buffer.NewProgressBuffer()
	})
	require.Equal(t, 1, calls)

	first := pool.Get()
	require.Equal(t, 0, pool.Len())

	second := pool.Get()
	require.Equal(t, 2, calls)
	require.NotSame(t, first, second)

	pool.Put(first)
	require.Equal(t, 1, pool.Len())
	require.Same(t, first, pool.Get())
}
