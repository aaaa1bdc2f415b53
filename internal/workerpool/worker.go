package workerpool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fabtsuite/fabtsuite/internal/constants"
	"github.com/fabtsuite/fabtsuite/internal/fabric/loopback"
	"github.com/fabtsuite/fabtsuite/internal/session"
)

// half is one of a worker's two independent session groups (spec
// §4.7: "each worker owns two halves, each with its own mutex and
// poll-set"). Splitting a worker this way lets one half's try-lock
// contention never stall the other's.
type half struct {
	mu      sync.Mutex
	pollset *loopback.PollSet
	slots   []session.Conn
	n       int
}

func newHalf(nslots int) *half {
	return &half{pollset: loopback.NewPollSet(), slots: make([]session.Conn, nslots)}
}

// tryAssign attempts to place conn into an empty slot without
// blocking; it returns false if the half is locked or full.
func (h *half) tryAssign(conn session.Conn) bool {
	if !h.mu.TryLock() {
		return false
	}
	defer h.mu.Unlock()
	for i := range h.slots {
		if h.slots[i] == nil {
			h.slots[i] = conn
			h.n++
			_ = h.pollset.Add(conn.CQ())
			return true
		}
	}
	return false
}

// step try-locks the half and, if acquired, polls and advances every
// occupied slot once, removing sessions that reach loop_end or
// loop_error. It returns the number of sessions serviced and whether
// any of them failed.
func (h *half) step(ctx context.Context) (serviced int, failed bool, err error) {
	if !h.mu.TryLock() {
		return 0, false, nil
	}
	defer h.mu.Unlock()
	if h.n == 0 {
		return 0, false, nil
	}

	_, _ = h.pollset.Poll(0)

	for i := range h.slots {
		conn := h.slots[i]
		if conn == nil {
			continue
		}
		status, perr := conn.Pass(ctx)
		serviced++
		if perr != nil {
			_ = h.pollset.Del(conn.CQ())
			h.slots[i] = nil
			h.n--
			failed = true
			err = perr
			continue
		}
		if status == session.StatusEnd {
			_ = h.pollset.Del(conn.CQ())
			h.slots[i] = nil
			h.n--
		}
	}
	return serviced, failed, err
}

func (h *half) isEmpty() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.n == 0
}

// worker is one pool slot: two halves, a saturating load average, and
// the cancellation/completion signaling runWorker needs.
type worker struct {
	idx    int
	halves [2]*half

	cancelled atomic.Bool
	failed    atomic.Bool
	done      chan struct{}

	// loadAverage is a Q8.8 fixed-point exponential moving average of
	// contexts serviced, folded in once every 65536 passes (spec §4.7
	// load average: "average := (average + 256*ctxs_serviced/(UINT16_MAX+1))
	// / 2"), where ctxs_serviced is the running total accumulated over
	// that mark period. ctxsAccum and loopsSinceMark are only ever
	// touched by this worker's own runInner goroutine; loadAverage is
	// atomic because LoadAverage() may be read concurrently.
	loadAverage    uint32
	ctxsAccum      uint64
	loopsSinceMark uint16
}

func newWorker(idx, sessionsPerHalf int) *worker {
	if sessionsPerHalf <= 0 {
		sessionsPerHalf = constants.DefaultSessionsPerHalf
	}
	w := &worker{idx: idx, done: make(chan struct{})}
	w.halves[0] = newHalf(sessionsPerHalf)
	w.halves[1] = newHalf(sessionsPerHalf)
	return w
}

func (w *worker) tryAssign(conn session.Conn) bool {
	for _, h := range w.halves {
		if h.tryAssign(conn) {
			return true
		}
	}
	return false
}

func (w *worker) requestCancel() { w.cancelled.Store(true) }

func (w *worker) isIdle() bool {
	return w.halves[0].isEmpty() && w.halves[1].isEmpty()
}

// isTail reports whether w is the last running worker, the only
// position from which a worker is allowed to retire back to sleep
// (spec §4.7: nworkers_running always covers a contiguous prefix).
func (w *worker) isTail(p *Pool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return w.idx == p.nworkersRunning-1
}

// runInner is a worker's inner loop (spec §4.7 Inner loop): step both
// halves every pass, update the load average, and keep going until
// this worker is both idle and the tail, at which point it gives back
// its running slot and returns to the outer loop's sleep.
func (w *worker) runInner(p *Pool) {
	ctx := context.Background()
	observer := p.loadObserverSnapshot()
	for {
		if w.cancelled.Load() {
			if w.isIdle() {
				return
			}
		}

		serviced := 0
		for _, h := range w.halves {
			n, failed, err := h.step(ctx)
			serviced += n
			if failed {
				w.failed.Store(true)
				_ = err
			}
		}
		w.markLoad(serviced)
		observer.ObserveWorkerLoad(w.LoadAverage())

		if w.isIdle() {
			if w.cancelled.Load() {
				return
			}
			if w.isTail(p) {
				p.mu.Lock()
				if w.idx == p.nworkersRunning-1 {
					p.nworkersRunning--
					p.cond.Broadcast()
					p.mu.Unlock()
					return
				}
				p.mu.Unlock()
				continue
			}
			time.Sleep(constants.WorkerIdleCheckInterval)
		}
	}
}

// markLoad accumulates ctxsServiced and, once 65536 passes (UINT16_MAX+1,
// the full range of a wrapping uint16 pass counter) have elapsed since
// the last fold, updates the Q8.8 moving average from the accumulated
// total and resets the accumulator (spec §4.7 load average).
func (w *worker) markLoad(ctxsServiced int) {
	w.ctxsAccum += uint64(ctxsServiced)
	w.loopsSinceMark++
	if w.loopsSinceMark != 0 {
		return
	}
	scaled := uint32(256 * w.ctxsAccum / 65536)
	prev := atomic.LoadUint32(&w.loadAverage)
	next := (prev + scaled) / 2
	atomic.StoreUint32(&w.loadAverage, next)
	w.ctxsAccum = 0
}

// LoadAverage returns the worker's current Q8.8 load average, mostly
// for diagnostics.
func (w *worker) LoadAverage() uint32 { return atomic.LoadUint32(&w.loadAverage) }
