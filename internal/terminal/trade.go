package terminal

import (
	"errors"

	"github.com/fabtsuite/fabtsuite/internal/buffer"
)

// ErrCompletedFull signals that a Trade call's completed FIFO had no
// room for a buffer it needed to hand back — a capacity-planning bug
// upstream rather than a data error.
var ErrCompletedFull = errors.New("terminal: completed queue full")

// Trade implements the terminal contract's sink half (spec §4.6):
// drain every filled payload buffer on ready, verify its used bytes
// against the rolling reference-text position, reset it, and hand it
// back on completed for reuse. It returns true once the configured
// total byte count has been verified.
func (s *Sink) Trade(ready, completed *buffer.FIFO) (eof bool, err error) {
	for {
		b := ready.Get()
		if b == nil {
			break
		}
		if eof, err = s.Verify(b.Data[:b.Used]); err != nil {
			return false, err
		}
		b.Reset()
		if !completed.Put(b) {
			return eof, ErrCompletedFull
		}
	}
	return s.verified >= s.total, nil
}

// Trade implements the terminal contract's source half (spec §4.6):
// drain empty payload buffers from ready, fill each from the rolling
// reference-text position, and hand the filled buffer back on
// completed. Once the source has emitted its whole configured total,
// remaining empty buffers in ready are left untouched rather than
// forced through empty.
func (s *Source) Trade(ready, completed *buffer.FIFO) (eof bool, err error) {
	for ready.Len() > 0 {
		if s.emitted >= s.total {
			break
		}
		b := ready.Get()
		n, _ := s.Fill(b.Data)
		b.Used = n
		if !completed.Put(b) {
			return false, ErrCompletedFull
		}
	}
	return s.emitted >= s.total, nil
}
