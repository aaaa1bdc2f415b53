package session_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fabtsuite/fabtsuite/internal/fabric"
	"github.com/fabtsuite/fabtsuite/internal/fabric/loopback"
	"github.com/fabtsuite/fabtsuite/internal/session"
)

// writeRMACounts records the local-vector length of every WriteRMA
// call issued through it, so a test can tell a genuinely batched
// scatter/gather write (len > 1) from a one-buffer-per-write fallback.
type writeRMACounts struct {
	mu      sync.Mutex
	batches []int
}

func (c *writeRMACounts) record(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, n)
}

func (c *writeRMACounts) maxBatch() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	max := 0
	for _, n := range c.batches {
		if n > max {
			max = n
		}
	}
	return max
}

// recordingDomain/recordingEndpoint wrap loopback.Domain to intercept
// every WriteRMA call without changing its behavior, so the transport
// under test is the real loopback fabric, not a stub.
type recordingDomain struct {
	inner fabric.Domain
	rec   *writeRMACounts
}

func (d *recordingDomain) NewEndpoint(ctx context.Context) (fabric.Endpoint, error) {
	ep, err := d.inner.NewEndpoint(ctx)
	if err != nil {
		return nil, err
	}
	return &recordingEndpoint{Endpoint: ep, rec: d.rec}, nil
}

func (d *recordingDomain) Close() error { return d.inner.Close() }

type recordingEndpoint struct {
	fabric.Endpoint
	rec *writeRMACounts
}

func (e *recordingEndpoint) WriteRMA(local []fabric.IOVecDesc, remote []fabric.RMAIOV, peer fabric.PeerAddr, ctx *fabric.Context) (uint64, error) {
	e.rec.record(len(local))
	return e.Endpoint.WriteRMA(local, remote, peer, ctx)
}

func dialListenPairRecording(t *testing.T, cfg session.Config) (*session.Receiver, *session.Transmitter, *writeRMACounts) {
	t.Helper()
	rec := &writeRMACounts{}
	dom := &recordingDomain{inner: loopback.NewDomain(), rec: rec}
	ctx := context.Background()

	var rx *session.Receiver
	var rxErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		rx, rxErr = session.ListenGet(ctx, dom, cfg)
	}()

	time.Sleep(20 * time.Millisecond)

	tx, txErr := session.DialPut(ctx, dom, cfg)
	require.NoError(t, txErr)
	require.NotNil(t, tx)

	<-done
	require.NoError(t, rxErr)
	require.NotNil(t, rx)
	return rx, tx, rec
}

// TestWriteTargetsBatchesMultipleBuffersPerWrite drives a real session
// with enough payload buffers in flight at once that writeTargets has
// more than one ready_for_cxn buffer to choose from on at least one
// pass, and asserts that at least one WriteRMA call actually combined
// more than one local IOVec into a single scatter/gather write — the
// behavior a one-write-per-buffer fallback could never produce, since
// every one of its calls would carry exactly one local IOVec.
func TestWriteTargetsBatchesMultipleBuffersPerWrite(t *testing.T) {
	ctx := context.Background()
	cfg := session.Config{
		BindAddr: "batching-test-addr",
		PeerAddr: "batching-test-addr",
		BufCount: 16,
		Repeats:  200,
	}
	rx, tx, rec := dialListenPairRecording(t, cfg)
	t.Cleanup(func() { rx.Close(); tx.Close() })

	runRoundTrip(t, ctx, rx, tx)

	require.Greater(t, rec.maxBatch(), 1,
		"expected at least one WriteRMA call to batch more than one payload buffer, got per-call sizes %v", rec.batches)

	sinkStats := rx.Stats()
	srcStats := tx.Stats()
	require.Equal(t, srcStats["emitted"], sinkStats["verified"])
}
