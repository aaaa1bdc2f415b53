package loopback

import (
	"fmt"
	"time"

	"github.com/fabtsuite/fabtsuite/internal/fabric"
)

// PollSet multiplexes a set of completion queues for one worker half
// (spec §4.7). Because loopback completion queues are just buffered
// channels, Poll's only job is to report whether any of them has
// something ready within timeout; per the fabric contract its return
// value is purely informational and callers still drain each CQ
// themselves.
type PollSet struct {
	cqs map[*completionQueue]struct{}
}

// NewPollSet creates an empty poll-set.
func NewPollSet() *PollSet {
	return &PollSet{cqs: make(map[*completionQueue]struct{})}
}

func (p *PollSet) Add(cq fabric.CompletionQueue) error {
	lcq, ok := cq.(*completionQueue)
	if !ok {
		return errUnsupportedCQ
	}
	p.cqs[lcq] = struct{}{}
	return nil
}

func (p *PollSet) Del(cq fabric.CompletionQueue) error {
	if lcq, ok := cq.(*completionQueue); ok {
		delete(p.cqs, lcq)
	}
	return nil
}

func (p *PollSet) Poll(timeout time.Duration) (int, error) {
	deadline := time.Now().Add(timeout)
	for {
		ready := 0
		for cq := range p.cqs {
			if len(cq.pending) > 0 {
				ready++
			}
		}
		if ready > 0 || timeout <= 0 || time.Now().After(deadline) {
			return ready, nil
		}
		time.Sleep(time.Millisecond)
	}
}

var errUnsupportedCQ = fmt.Errorf("loopback: poll-set only accepts loopback completion queues")
