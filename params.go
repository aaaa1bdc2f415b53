package fabtsuite

import (
	"github.com/fabtsuite/fabtsuite/internal/constants"
	"github.com/fabtsuite/fabtsuite/internal/session"
	"github.com/fabtsuite/fabtsuite/internal/terminal"
)

// Personality selects which of the two connection roles a Run call
// takes (spec §6.3): put dials out and transmits, get listens and
// receives.
type Personality int

const (
	PersonalityPut Personality = iota
	PersonalityGet
)

func (p Personality) String() string {
	if p == PersonalityGet {
		return "get"
	}
	return "put"
}

// Params describes one side of the transport's configuration:
// which personality to run and the transfer's tuning knobs.
type Params struct {
	// Personality chooses DialPut vs ListenGet.
	Personality Personality

	// BindAddr is the passive listen address (-b); PeerAddr is the
	// positional peer address a put dials.
	BindAddr string
	PeerAddr string

	// MRMode selects static vs re-register memory registration (-r).
	MRMode session.MRMode

	// RMAMaxSegs is the provider-reported max RMA segments per write;
	// ContiguousRMAMaxSegs (1) when -g is set.
	RMAMaxSegs int

	// BufCount is how many payload buffers pre-fill the session.
	BufCount int

	// Repeats is how many times the reference text is produced or
	// verified (spec §2).
	Repeats int

	// MaxWorkers / SessionsPerHalf bound the worker pool this session
	// is assigned into (spec §4.7).
	MaxWorkers      int
	SessionsPerHalf int
}

// DefaultParams returns sensible defaults for every knob except the
// addresses and personality, which the caller must set.
func DefaultParams() Params {
	return Params{
		Personality:     PersonalityPut,
		RMAMaxSegs:      constants.DefaultRMAMaxSegs,
		BufCount:        constants.DefaultFIFOCapacity,
		Repeats:         terminal.DefaultRepeats,
		MaxWorkers:      constants.DefaultMaxWorkers,
		SessionsPerHalf: constants.DefaultSessionsPerHalf,
	}
}

func (p Params) sessionConfig() session.Config {
	return session.Config{
		BindAddr:   p.BindAddr,
		PeerAddr:   p.PeerAddr,
		MRMode:     p.MRMode,
		RMAMaxSegs: p.RMAMaxSegs,
		BufCount:   p.BufCount,
		Repeats:    p.Repeats,
	}
}
