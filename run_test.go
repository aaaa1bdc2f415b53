package fabtsuite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fabtsuite/fabtsuite/internal/fabric/loopback"
)

func TestRunDialPutListenGetRoundTrip(t *testing.T) {
	dom := loopback.NewDomain()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	getParams := DefaultParams()
	getParams.Personality = PersonalityGet
	getParams.BindAddr = "run-test-addr"
	getParams.PeerAddr = "run-test-addr"
	getParams.Repeats = 5

	putParams := getParams
	putParams.Personality = PersonalityPut

	getDone := make(chan struct{})
	var getHandle *Handle
	var getErr error
	go func() {
		defer close(getDone)
		getHandle, getErr = Run(ctx, dom, getParams, nil)
	}()

	time.Sleep(20 * time.Millisecond)

	putHandle, err := Run(ctx, dom, putParams, nil)
	require.NoError(t, err)

	<-getDone
	require.NoError(t, getErr)

	require.NoError(t, putHandle.Wait())
	require.NoError(t, getHandle.Wait())
}

func TestRunRejectsUnknownPersonality(t *testing.T) {
	dom := loopback.NewDomain()
	params := DefaultParams()
	params.Personality = Personality(99)

	_, err := Run(context.Background(), dom, params, nil)
	require.Error(t, err)
	require.True(t, IsCode(err, ErrCodeFabricSetup))
}
