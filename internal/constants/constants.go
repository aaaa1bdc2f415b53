// Package constants holds tunables shared across the transport engine.
package constants

import "time"

// Wire protocol limits (spec §3, §6.2).
const (
	NonceLen = 16
	AddrLen  = 512

	// MaxVectorIovs bounds the number of RDMA target triples a single
	// vector message may carry. 13 is rejected as malformed.
	MaxVectorIovs = 12

	VectorTripleSize = 24 // addr:u64 + len:u64 + key:u64
	ProgressMsgSize  = 16 // nfilled:u64 + nleftover:u64

	// MaxVectorMsgSize bounds the scratch buffer a vector control
	// buffer needs: a 4-byte header plus MaxVectorIovs triples.
	MaxVectorMsgSize = 4 + MaxVectorIovs*VectorTripleSize
)

// Free-list replenisher cycle (spec §3): deterministic sizes chosen to
// force interior fragmentation and exercise multi-segment paths.
var PayloadBufferSizeCycle = [4]int{23, 29, 31, 37}

// Default configuration constants.
const (
	// DefaultQueueDepth bounds how many control buffers (progress/vector)
	// each side keeps posted to the fabric at once.
	DefaultQueueDepth = 64

	// DefaultFIFOCapacity is the ready_for_cxn / ready_for_terminal size
	// (spec §3 Session: "two FIFOs of 64 slots each").
	DefaultFIFOCapacity = 64

	// DefaultKeyPoolStride is the block size each key source strides
	// from the process-wide atomic pool (spec §2 Key source).
	DefaultKeyPoolStride = 256

	// DefaultRMAMaxSegs is the provider-reported maximum number of
	// remote RMA segments consumable per write when not in contiguous
	// (-g) mode.
	DefaultRMAMaxSegs = MaxVectorIovs

	// ContiguousRMAMaxSegs is the -g (RDMA-contiguous) override.
	ContiguousRMAMaxSegs = 1

	// DefaultMaxWorkers / DefaultSessionsPerHalf together bound the pool
	// at 128 workers * 2 halves * 32 slots = 8192 sessions (spec §4.7).
	DefaultMaxWorkers       = 128
	DefaultSessionsPerHalf  = 32
	DefaultMaxMRSegs        = 16 // per-registration segment cap (spec §4.2)
)

// Timing constants for connection bring-up.
//
// The handshake paths block with an effectively infinite deadline,
// interruptible only by cancellation (spec §5 Timeouts); these values
// bound the polling cadence used while waiting on events that the
// loopback fabric implementation surfaces asynchronously.
const (
	// HandshakePollInterval is how often ListenGet/DialPut re-check for
	// a pending connection-request or ack event between context checks.
	HandshakePollInterval = 2 * time.Millisecond

	// WorkerIdleCheckInterval is how long a worker's outer loop sleeps
	// between polls of its own idleness while draining toward shutdown.
	WorkerIdleCheckInterval = 5 * time.Millisecond
)

// DefaultServiceName is the rendezvous port used by both personalities
// (spec §6.3).
const DefaultServiceName = "4242"
