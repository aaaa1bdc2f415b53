package fabtsuite

import (
	"github.com/fabtsuite/fabtsuite/internal/constants"
	"github.com/fabtsuite/fabtsuite/internal/terminal"
)

// Re-exported tuning constants for callers of the public API who want
// the engine's defaults without reaching into internal packages.
const (
	DefaultQueueDepth      = constants.DefaultQueueDepth
	DefaultFIFOCapacity    = constants.DefaultFIFOCapacity
	DefaultRMAMaxSegs      = constants.DefaultRMAMaxSegs
	ContiguousRMAMaxSegs   = constants.ContiguousRMAMaxSegs
	DefaultMaxWorkers      = constants.DefaultMaxWorkers
	DefaultSessionsPerHalf = constants.DefaultSessionsPerHalf
	DefaultServiceName     = constants.DefaultServiceName
	MaxVectorIovs          = constants.MaxVectorIovs
	DefaultRepeats         = terminal.DefaultRepeats
)
