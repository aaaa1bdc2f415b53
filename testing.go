package fabtsuite

import (
	"context"
	"fmt"
	"time"

	"github.com/fabtsuite/fabtsuite/internal/fabric/loopback"
	"github.com/fabtsuite/fabtsuite/internal/session"
)

// NewLoopbackSessionPair spins up a hardware-free Receiver/Transmitter
// pair over a fresh internal/fabric/loopback domain, performing the
// real DialPut/ListenGet handshake between them. It is the package's
// mock-backend equivalent for callers exercising the public API
// without a real fabric provider: ListenGet runs in a background
// goroutine (mirroring a server that is already listening before a
// client dials in), and this function blocks until both sides have
// completed their handshake or ctx is done.
func NewLoopbackSessionPair(ctx context.Context, cfg session.Config) (*session.Receiver, *session.Transmitter, error) {
	dom := loopback.NewDomain()

	type listenResult struct {
		rx  *session.Receiver
		err error
	}
	resultCh := make(chan listenResult, 1)
	go func() {
		rx, err := session.ListenGet(ctx, dom, cfg)
		resultCh <- listenResult{rx, err}
	}()

	// Give the listener a moment to register its bind address before
	// dialing, the same way a real peer would find an already-running
	// server rather than racing its startup.
	select {
	case <-time.After(20 * time.Millisecond):
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}

	tx, err := session.DialPut(ctx, dom, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("fabtsuite: test dial failed: %w", err)
	}

	select {
	case res := <-resultCh:
		if res.err != nil {
			tx.Close()
			return nil, nil, fmt.Errorf("fabtsuite: test listen failed: %w", res.err)
		}
		return res.rx, tx, nil
	case <-ctx.Done():
		tx.Close()
		return nil, nil, ctx.Err()
	}
}

// DrainSession runs conn.Pass until it reaches session.StatusEnd or
// maxPasses is exhausted, returning an error in the latter case. It
// exists so external callers can
// drive a session to completion without reimplementing a worker's
// inner loop.
func DrainSession(ctx context.Context, conn session.Conn, maxPasses int) error {
	for i := 0; i < maxPasses; i++ {
		status, err := conn.Pass(ctx)
		if err != nil {
			return err
		}
		if status == session.StatusEnd {
			return nil
		}
	}
	return fmt.Errorf("fabtsuite: session did not reach loop_end within %d passes", maxPasses)
}
