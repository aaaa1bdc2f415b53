package loopback

import "github.com/fabtsuite/fabtsuite/internal/fabric"

// completionQueue is an unbounded FIFO of completions, drained
// non-blockingly by Read the way a worker's poll loop expects.
type completionQueue struct {
	pending chan fabric.Completion
}

func newCompletionQueue() *completionQueue {
	return &completionQueue{pending: make(chan fabric.Completion, 4096)}
}

func (c *completionQueue) push(cmpl fabric.Completion) {
	c.pending <- cmpl
}

// Read drains up to max completions without blocking.
func (c *completionQueue) Read(max int) ([]fabric.Completion, error) {
	var out []fabric.Completion
	for len(out) < max {
		select {
		case cmpl := <-c.pending:
			out = append(out, cmpl)
		default:
			return out, nil
		}
	}
	return out, nil
}

// Cancel posts a synthetic cancelled completion for ctx. A real
// provider would race this against an in-flight completion; the
// loopback fabric only ever calls Cancel on contexts the caller has
// already marked cancelled, so a single synthetic completion is
// sufficient here.
func (c *completionQueue) Cancel(ctx *fabric.Context) error {
	c.push(fabric.Completion{Ctx: ctx, Err: errCancelled})
	return nil
}
