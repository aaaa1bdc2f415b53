package workerpool_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fabtsuite/fabtsuite/internal/fabric"
	"github.com/fabtsuite/fabtsuite/internal/fabric/loopback"
	"github.com/fabtsuite/fabtsuite/internal/session"
	"github.com/fabtsuite/fabtsuite/internal/workerpool"
)

// fakeConn is a minimal session.Conn double that counts passes and
// ends itself after a fixed number, letting tests drive the pool
// without standing up real endpoints on both sides of a handshake.
type fakeConn struct {
	cq         fabric.CompletionQueue
	passesLeft int32
	failOn     int32
	passes     atomic.Int32
}

func newFakeConn(dom *loopback.Domain, passes int) *fakeConn {
	ep, err := dom.NewEndpoint(context.Background())
	if err != nil {
		panic(err)
	}
	return &fakeConn{cq: ep.CQ(), passesLeft: int32(passes), failOn: -1}
}

func (f *fakeConn) Pass(ctx context.Context) (session.Status, error) {
	f.passes.Add(1)
	if f.failOn >= 0 && f.passes.Load() == f.failOn {
		return session.StatusError, errors.New("fake session failure")
	}
	left := atomic.AddInt32(&f.passesLeft, -1)
	if left <= 0 {
		return session.StatusEnd, nil
	}
	return session.StatusContinue, nil
}

func (f *fakeConn) Cancel()                    {}
func (f *fakeConn) Close() error               { return nil }
func (f *fakeConn) CQ() fabric.CompletionQueue { return f.cq }

func TestAssignPlacesSessionAndJoinAllDrainsIt(t *testing.T) {
	dom := loopback.NewDomain()
	pool := workerpool.NewPoolSized(4, 2)

	conn := newFakeConn(dom, 5)
	require.NoError(t, pool.Assign(conn))
	require.Equal(t, 1, pool.NWorkersRunning())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, pool.JoinAll(ctx))
	require.GreaterOrEqual(t, conn.passes.Load(), int32(5))
}

func TestAssignFillsHalvesBeforeStartingNewWorkers(t *testing.T) {
	dom := loopback.NewDomain()
	pool := workerpool.NewPoolSized(4, 2)

	var conns []*fakeConn
	for i := 0; i < 4; i++ {
		c := newFakeConn(dom, 1000)
		conns = append(conns, c)
		require.NoError(t, pool.Assign(c))
	}
	require.Equal(t, 1, pool.NWorkersRunning(), "4 sessions should fit in one worker's two halves of 2")

	for _, c := range conns {
		atomic.StoreInt32(&c.passesLeft, 0)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, pool.JoinAll(ctx))
}

func TestAssignReturnsErrPoolFullWhenExhausted(t *testing.T) {
	dom := loopback.NewDomain()
	pool := workerpool.NewPoolSized(1, 1)

	c1 := newFakeConn(dom, 1000)
	require.NoError(t, pool.Assign(c1))

	c2 := newFakeConn(dom, 1000)
	require.NoError(t, pool.Assign(c2), "one worker's two halves of 1 slot hold 2 sessions")

	c3 := newFakeConn(dom, 1000)
	err := pool.Assign(c3)
	require.ErrorIs(t, err, workerpool.ErrPoolFull)

	atomic.StoreInt32(&c1.passesLeft, 0)
	atomic.StoreInt32(&c2.passesLeft, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, pool.JoinAll(ctx))
}

func TestJoinAllSuspendsFurtherAssignment(t *testing.T) {
	dom := loopback.NewDomain()
	pool := workerpool.NewPoolSized(4, 2)

	c := newFakeConn(dom, 0)
	require.NoError(t, pool.Assign(c))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		require.NoError(t, pool.JoinAll(ctx))
	}()
	wg.Wait()

	late := newFakeConn(dom, 1)
	require.ErrorIs(t, pool.Assign(late), workerpool.ErrAssignmentSuspended)
}
