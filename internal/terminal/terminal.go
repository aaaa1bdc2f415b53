// Package terminal implements the source and sink contract: the
// innermost leg of a session, producing or verifying a deterministic
// byte stream against a short repeating reference text.
package terminal

import (
	"errors"
	"fmt"
)

// ReferenceText is the 78-byte pattern the source emits and the sink
// verifies against (spec §8 "A round-trip of the fixed reference text
// ... when |txbuf|=78").
const ReferenceText = "the quick brown fox jumps over the lazy dog, 0123456789 ABCDEFGHIJKLMNOPQRSTUV"

// DefaultRepeats is how many times the reference text is produced or
// verified end to end (spec §2 "consumed/verified 10,000 times").
const DefaultRepeats = 10000

// ErrVerifyFailed is returned by a Sink when received bytes don't
// match the expected reference-text position.
var ErrVerifyFailed = errors.New("terminal: verification failed against reference text")

// ErrPastEOF is returned by a Sink when bytes arrive after the
// configured total byte count has already been reached.
var ErrPastEOF = errors.New("terminal: bytes received past eof")

// Source fills buffers from a rolling index into ReferenceText,
// repeated Repeats times, until TotalBytes() have been produced.
type Source struct {
	repeats int
	total   int64
	emitted int64
}

// NewSource creates a Source that will emit repeats copies of
// ReferenceText.
func NewSource(repeats int) *Source {
	return &Source{
		repeats: repeats,
		total:   int64(repeats) * int64(len(ReferenceText)),
	}
}

// TotalBytes reports the total byte count this source will ever
// produce.
func (s *Source) TotalBytes() int64 {
	return s.total
}

// Done reports whether this source has emitted its full configured
// total.
func (s *Source) Done() bool {
	return s.emitted >= s.total
}

// Fill writes up to len(p) bytes of reference text at the source's
// current rolling position and advances it. It returns the number of
// bytes written and whether the source has now emitted its full
// configured total.
func (s *Source) Fill(p []byte) (n int, eof bool) {
	remaining := s.total - s.emitted
	if remaining <= 0 {
		return 0, true
	}
	if int64(len(p)) > remaining {
		p = p[:remaining]
	}
	L := int64(len(ReferenceText))
	for n < len(p) {
		pos := (s.emitted + int64(n)) % L
		run := p[n:]
		avail := L - pos
		if int64(len(run)) > avail {
			run = run[:avail]
		}
		copy(run, ReferenceText[pos:])
		n += len(run)
	}
	s.emitted += int64(n)
	return n, s.emitted >= s.total
}

// Sink verifies bytes arriving against the same rolling reference-text
// position a matching Source would have produced them at.
type Sink struct {
	total    int64
	verified int64
}

// NewSink creates a Sink expecting exactly repeats copies of
// ReferenceText before EOF.
func NewSink(repeats int) *Sink {
	return &Sink{total: int64(repeats) * int64(len(ReferenceText))}
}

// TotalBytes reports the total byte count this sink expects before
// EOF.
func (s *Sink) TotalBytes() int64 {
	return s.total
}

// Verify checks p against the expected reference-text bytes starting
// at the sink's current position and advances it. It returns whether
// the configured total has now been reached, or an error if p fails
// to match or would run past the total (spec §4.6 "Sink returns
// loop_error if verification fails or extra bytes arrive past EOF").
func (s *Sink) Verify(p []byte) (eof bool, err error) {
	if s.verified+int64(len(p)) > s.total {
		return false, fmt.Errorf("%w: have %d verified, total %d, got %d more bytes",
			ErrPastEOF, s.verified, s.total, len(p))
	}
	L := int64(len(ReferenceText))
	for i, b := range p {
		pos := (s.verified + int64(i)) % L
		if b != ReferenceText[pos] {
			return false, fmt.Errorf("%w: byte %d at stream offset %d",
				ErrVerifyFailed, b, s.verified+int64(i))
		}
	}
	s.verified += int64(len(p))
	return s.verified >= s.total, nil
}

// Verified reports how many bytes this sink has verified so far, for
// a caller that wants the running total without a Stats() map lookup.
func (s *Sink) Verified() int64 { return s.verified }

// Stats reports diagnostic counters for logging and tests.
func (s *Sink) Stats() map[string]any {
	return map[string]any{
		"type":     "sink",
		"total":    s.total,
		"verified": s.verified,
	}
}

// Stats reports diagnostic counters for logging and tests.
func (s *Source) Stats() map[string]any {
	return map[string]any{
		"type":    "source",
		"total":   s.total,
		"emitted": s.emitted,
	}
}
