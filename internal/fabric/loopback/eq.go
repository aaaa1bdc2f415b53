package loopback

import (
	"context"
	"errors"

	"github.com/fabtsuite/fabtsuite/internal/fabric"
)

var errCancelled = errors.New("loopback: operation cancelled")

// eventQueue surfaces connection-management events: inbound connect
// requests on the passive side, and the active side's own connect
// completion.
type eventQueue struct {
	connReqs  chan *fabric.ConnReq
	connected chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		connReqs:  make(chan *fabric.ConnReq, 16),
		connected: make(chan struct{}, 1),
	}
}

func (e *eventQueue) ReadConnReq(ctx context.Context) (*fabric.ConnReq, error) {
	select {
	case req := <-e.connReqs:
		return req, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *eventQueue) ReadConnected(ctx context.Context) error {
	select {
	case <-e.connected:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
