package fabtsuite

import (
	"context"

	"github.com/fabtsuite/fabtsuite/internal/fabric"
	"github.com/fabtsuite/fabtsuite/internal/logging"
	"github.com/fabtsuite/fabtsuite/internal/session"
	"github.com/fabtsuite/fabtsuite/internal/workerpool"
)

// Handle is the object Run hands back: it carries everything
// Wait/Cancel need to shut the session down cleanly.
type Handle struct {
	conn    session.Conn
	pool    *workerpool.Pool
	metrics *Metrics
	log     *logging.Logger
	ctx     context.Context
	cancel  context.CancelFunc
}

// Run performs connection bring-up against dom per params.Personality
// (DialPut or ListenGet), assigns the resulting session to a freshly
// created worker pool sized by params.MaxWorkers/SessionsPerHalf, and
// returns a Handle the caller drives to completion with Wait.
//
// dom is caller-supplied because this repo ships exactly one concrete
// fabric.Domain implementation, internal/fabric/loopback, and nothing
// else: there is no real network provider to default to (see
// DESIGN.md). cmd/fabtsuite wires loopback.NewDomain for its local
// demo/test mode; a real deployment would plug a network-backed
// fabric.Domain in here instead.
func Run(ctx context.Context, dom fabric.Domain, params Params, options *Options) (*Handle, error) {
	if options == nil {
		options = &Options{}
	}
	if options.Context != nil {
		ctx = options.Context
	}

	log := options.Logger
	if log == nil {
		log = logging.Default()
	}
	metrics := options.Metrics
	if metrics == nil {
		metrics = NewMetrics(options.Registry)
	}

	runCtx, cancel := context.WithCancel(ctx)

	cfg := params.sessionConfig()
	cfg.Metrics = metrics

	var conn session.Conn
	var err error
	switch params.Personality {
	case PersonalityPut:
		conn, err = session.DialPut(runCtx, dom, cfg)
	case PersonalityGet:
		conn, err = session.ListenGet(runCtx, dom, cfg)
	default:
		cancel()
		return nil, NewError("run", ErrCodeFabricSetup, "unknown personality")
	}
	if err != nil {
		cancel()
		return nil, WrapError("run", err)
	}

	pool := workerpool.NewPoolSized(params.MaxWorkers, params.SessionsPerHalf)
	pool.SetLoadObserver(metrics)
	if err := pool.Assign(conn); err != nil {
		conn.Close()
		cancel()
		return nil, WrapError("run", err)
	}
	metrics.SessionsActive.Set(1)
	metrics.WorkersRunning.Set(float64(pool.NWorkersRunning()))

	log.Infof("session established: personality=%s bind=%s peer=%s", params.Personality, params.BindAddr, params.PeerAddr)

	return &Handle{conn: conn, pool: pool, metrics: metrics, log: log, ctx: runCtx, cancel: cancel}, nil
}

// Wait blocks until the session drains to loop_end or loop_error and
// the worker pool has joined, then releases the endpoint (spec §6.3
// exit codes: non-zero on any fabric, assignment, or worker failure).
func (h *Handle) Wait() error {
	defer h.cancel()
	joinErr := h.pool.JoinAll(h.ctx)
	h.metrics.SessionsActive.Set(0)
	h.metrics.WorkersRunning.Set(0)
	closeErr := h.conn.Close()
	if joinErr != nil {
		return WrapError("wait", joinErr)
	}
	if closeErr != nil {
		return WrapError("wait", closeErr)
	}
	return nil
}

// Cancel requests cooperative shutdown (spec §6.4 Signals): in-flight
// sessions cancel cleanly rather than being torn down mid-transfer.
func (h *Handle) Cancel() {
	h.conn.Cancel()
	h.cancel()
}

// Metrics returns the handle's metrics set, e.g. for a -metrics-addr
// HTTP handler to export.
func (h *Handle) Metrics() *Metrics { return h.metrics }
