// Package workerpool implements the fixed-upper-bound worker pool that
// drives every session's inner loop: a bounded set of goroutines, each
// owning two independent "halves" of session slots, assigned by a
// most-recently-started-backward policy and joined via
// golang.org/x/sync/errgroup.
package workerpool

import (
	"context"
	"errors"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/fabtsuite/fabtsuite/internal/constants"
	"github.com/fabtsuite/fabtsuite/internal/logging"
	"github.com/fabtsuite/fabtsuite/internal/session"
)

// ErrPoolFull is returned by Assign when the pool has already reached
// its fixed upper bound of workers, each fully loaded.
var ErrPoolFull = errors.New("workerpool: pool is at capacity")

// ErrAssignmentSuspended is returned by Assign once JoinAll has begun
// draining the pool.
var ErrAssignmentSuspended = errors.New("workerpool: assignment suspended, pool is draining")

// LoadObserver receives a worker's most recent Q8.8 load average every
// time it is recomputed (spec §4.7 load average), so a caller can
// export it as a metric. Defaults to a no-op.
type LoadObserver interface {
	ObserveWorkerLoad(q8_8 uint32)
}

type noopLoadObserver struct{}

func (noopLoadObserver) ObserveWorkerLoad(uint32) {}

// ErrWorkerFailed is returned by JoinAll if any worker observed a
// session's loop_error during its lifetime (spec §7 Per-session
// fatal: "the worker is marked failed and the process exits non-zero
// after join").
var ErrWorkerFailed = errors.New("workerpool: one or more workers failed")

// Pool bounds the number of workers at maxWorkers, each with two halves
// of sessionsPerHalf slots (spec §4.7: "128 workers x 64 sessions =
// 8192 sessions").
type Pool struct {
	mu   sync.Mutex
	cond *sync.Cond
	log  *logging.Logger

	maxWorkers      int
	sessionsPerHalf int

	workers             []*worker
	nworkersRunning     int
	assignmentSuspended bool

	cpuAffinity []int // round-robin CPU pinning for worker OS threads, nil = no affinity

	loadObserver LoadObserver
}

// NewPool creates a pool with the default size bounds (spec §4.7).
func NewPool() *Pool {
	return NewPoolSized(constants.DefaultMaxWorkers, constants.DefaultSessionsPerHalf)
}

// NewPoolSized creates a pool with explicit bounds, mainly so tests can
// exercise pool-full and reassignment behavior without spinning up 128
// workers.
func NewPoolSized(maxWorkers, sessionsPerHalf int) *Pool {
	p := &Pool{
		maxWorkers:      maxWorkers,
		sessionsPerHalf: sessionsPerHalf,
		log:             logging.Default(),
		loadObserver:    noopLoadObserver{},
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Assign binds conn to a worker under the pool mutex (spec §4.7
// workers_assign_session): first every running worker is tried from
// the most-recently-started backward (later workers are assumed
// least-loaded); failing that, the first allocated-but-idle worker is
// woken; failing that, a new worker is created if under maxWorkers.
func (p *Pool) Assign(conn session.Conn) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.assignmentSuspended {
		return ErrAssignmentSuspended
	}

	for i := p.nworkersRunning - 1; i >= 0; i-- {
		if p.workers[i].tryAssign(conn) {
			return nil
		}
	}

	if p.nworkersRunning < len(p.workers) {
		w := p.workers[p.nworkersRunning]
		if !w.tryAssign(conn) {
			return errors.New("workerpool: freshly woken worker unexpectedly has no free slot")
		}
		p.nworkersRunning++
		p.cond.Broadcast()
		return nil
	}

	if len(p.workers) >= p.maxWorkers {
		return ErrPoolFull
	}

	w := newWorker(len(p.workers), p.sessionsPerHalf)
	p.workers = append(p.workers, w)
	if !w.tryAssign(conn) {
		return errors.New("workerpool: freshly created worker unexpectedly has no free slot")
	}
	p.nworkersRunning++
	go p.runWorker(w)
	p.cond.Broadcast()
	return nil
}

// SetCPUAffinity configures round-robin CPU pinning for worker OS
// threads: worker N pins to cpus[N % len(cpus)] via
// runtime.LockOSThread plus unix.SchedSetaffinity. Must be called
// before any worker is created.
func (p *Pool) SetCPUAffinity(cpus []int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cpuAffinity = cpus
}

// SetLoadObserver wires in a non-default LoadObserver. Must be called
// before any worker is created, like SetCPUAffinity.
func (p *Pool) SetLoadObserver(o LoadObserver) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loadObserver = o
}

func (p *Pool) loadObserverSnapshot() LoadObserver {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loadObserver
}

// NWorkersRunning reports how many workers are currently active,
// mainly for tests and diagnostics.
func (p *Pool) NWorkersRunning() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nworkersRunning
}

// NWorkersAllocated reports how many worker structures (running or
// idle) have been created so far.
func (p *Pool) NWorkersAllocated() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// JoinAll suspends new assignments, waits for every session to drain
// to loop_end/loop_error, cancels every worker's goroutine, and joins
// them via an errgroup (spec §4.7 Join-all).
func (p *Pool) JoinAll(ctx context.Context) error {
	p.mu.Lock()
	p.assignmentSuspended = true
	for p.nworkersRunning > 0 {
		p.cond.Wait()
	}
	workers := append([]*worker(nil), p.workers...)
	p.mu.Unlock()

	for _, w := range workers {
		w.requestCancel()
	}
	p.mu.Lock()
	p.cond.Broadcast()
	p.mu.Unlock()

	g, _ := errgroup.WithContext(ctx)
	var mu sync.Mutex
	anyFailed := false
	for _, w := range workers {
		w := w
		g.Go(func() error {
			<-w.done
			if w.failed.Load() {
				mu.Lock()
				anyFailed = true
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if anyFailed {
		return ErrWorkerFailed
	}
	return nil
}

// runWorker is a worker's outer loop (spec §4.7 Outer loop): sleep on
// the pool condition variable while this worker's index is beyond
// nworkersRunning; once awoken, run the inner loop until it reports
// idle-and-tail, then sleep again; cancellation lifts it out of sleep
// permanently.
func (p *Pool) runWorker(w *worker) {
	defer close(w.done)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	wlog := p.log.With("worker", w.idx)
	p.mu.Lock()
	cpus := p.cpuAffinity
	p.mu.Unlock()
	if len(cpus) > 0 {
		cpuIdx := cpus[w.idx%len(cpus)]
		var mask unix.CPUSet
		mask.Set(cpuIdx)
		if err := unix.SchedSetaffinity(0, &mask); err != nil {
			wlog.Warnf("failed to set CPU affinity to %d: %v", cpuIdx, err)
		} else {
			wlog.Debugf("pinned to CPU %d", cpuIdx)
		}
	}

	p.mu.Lock()
	for {
		for w.idx >= p.nworkersRunning && !w.cancelled.Load() {
			p.cond.Wait()
		}
		if w.cancelled.Load() {
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()

		w.runInner(p)

		p.mu.Lock()
	}
}
