package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fabtsuite/fabtsuite/internal/fabric/loopback"
	"github.com/fabtsuite/fabtsuite/internal/session"
)

// dialListenPair starts ListenGet in the background, gives it a moment
// to register its passive endpoint (a real listener would already be
// up well before a peer dials it), then DialPuts against the same
// address and waits for the accept side to finish its half of the
// handshake too.
func dialListenPair(t *testing.T, cfg session.Config) (*session.Receiver, *session.Transmitter) {
	t.Helper()
	dom := loopback.NewDomain()
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
	return rx, tx
}

func TestDialPutListenGetHandshakeResolvesPeers(t *testing.T) {
	cfg := session.Config{BindAddr: "session-test-addr", PeerAddr: "session-test-addr", BufCount: 4, Repeats: 2}
	rx, tx := dialListenPair(t, cfg)
	t.Cleanup(func() { rx.Close(); tx.Close() })
}

func TestListenGetRejectsSecondListenerOnSameAddress(t *testing.T) {
	dom := loopback.NewDomain()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	cfg := session.Config{BindAddr: "dup-addr", PeerAddr: "dup-addr", BufCount: 4, Repeats: 1}

	go session.ListenGet(ctx, dom, cfg)
	time.Sleep(20 * time.Millisecond)

	_, err := session.ListenGet(ctx, dom, cfg)
	require.Error(t, err)
}
