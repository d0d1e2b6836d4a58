package cache

import (
	"context"
	"sync"
	"time"

	"github.com/ckhsu1225/vvmviz/internal/frame"
)

// LoadFunc realizes a frame bundle for a request. The context is cancelled
// when the prefetch is superseded; implementations may ignore it, in which
// case the load simply runs to completion.
type LoadFunc func(ctx context.Context, req frame.Request) (*frame.Bundle, error)

// Outcome is the terminal state of a prefetch.
type Outcome int

const (
	// OutcomePending means the prefetch has not finished yet.
	OutcomePending Outcome = iota
	// OutcomeCompleted means the bundle was loaded and stored.
	OutcomeCompleted
	// OutcomeSkipped means the key was already cached when the job ran.
	OutcomeSkipped
	// OutcomeCancelled means the job was superseded before loading began.
	OutcomeCancelled
	// OutcomeFailed means the loader returned an error.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomeCompleted:
		return "completed"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Prefetch is the observable handle for one scheduled prefetch.
type Prefetch struct {
	done chan struct{}

	mu      sync.Mutex
	outcome Outcome
	once    sync.Once
}

func newPrefetch() *Prefetch {
	return &Prefetch{done: make(chan struct{})}
}

// Done is closed when the prefetch reaches a terminal state.
func (p *Prefetch) Done() <-chan struct{} { return p.done }

// Outcome returns the terminal state, or OutcomePending before Done closes.
func (p *Prefetch) Outcome() Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outcome
}

func (p *Prefetch) resolve(o Outcome) {
	p.once.Do(func() {
		p.mu.Lock()
		p.outcome = o
		p.mu.Unlock()
		close(p.done)
	})
}

// prefetchJob is one unit of work for the worker.
type prefetchJob struct {
	req    frame.Request
	key    frame.Key
	load   LoadFunc
	ctx    context.Context
	cancel context.CancelFunc
	handle *Prefetch
}

// PrefetchAsync schedules a background load for req. It returns nil without
// scheduling anything when prefetching is disabled, the cache is closed, or
// the key is already cached. A job still waiting in the slot is superseded:
// it will never run and counts as cancelled. A job the worker has already
// taken is cancelled best-effort: cancellation is only observed at the
// preemption point before its loader call begins, so a load in progress runs
// to completion and is counted normally. PrefetchAsync never returns an
// error; loader failures are logged, counted and swallowed by the worker.
func (m *Manager) PrefetchAsync(req frame.Request, load LoadFunc) *Prefetch {
	if load == nil {
		return nil
	}
	key := req.Key()

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.prefetchEnabled || m.closed {
		return nil
	}
	if _, ok := m.items[key]; ok {
		return nil
	}

	if m.pending != nil {
		// The slot holds a job the worker never started; it will not run.
		m.pending.cancel()
		m.prefetchCancelled++
		m.pending.handle.resolve(OutcomeCancelled)
		m.log.Debug("prefetch superseded: %s t=[%d,%d]", m.pending.key.Var, m.pending.key.Time.Start, m.pending.key.Time.End)
	} else if m.running != nil {
		// Best effort: only honored if the worker has not begun loading.
		m.running.cancel()
	}

	ctx, cancel := context.WithCancel(context.Background())
	job := &prefetchJob{
		req:    req,
		key:    key,
		load:   load,
		ctx:    ctx,
		cancel: cancel,
		handle: newPrefetch(),
	}
	m.pending = job
	m.cond.Signal()

	m.log.Debug("prefetch scheduled: %s t=[%d,%d]", key.Var, key.Time.Start, key.Time.End)
	return job.handle
}

// prefetchWorker is the single background goroutine draining the slot. It
// exits once the manager is closed and the slot is empty; a job waiting at
// close time still runs.
func (m *Manager) prefetchWorker() {
	defer close(m.workerDone)

	for {
		m.mu.Lock()
		for m.pending == nil && !m.closed {
			m.cond.Wait()
		}
		if m.pending == nil {
			m.mu.Unlock()
			return
		}
		job := m.pending
		m.pending = nil
		m.running = job
		m.mu.Unlock()

		m.runJob(job)

		m.mu.Lock()
		m.running = nil
		m.mu.Unlock()
	}
}

func (m *Manager) runJob(job *prefetchJob) {
	defer job.cancel()

	// Preemption point: the only place cancellation is honored.
	select {
	case <-job.ctx.Done():
		m.mu.Lock()
		m.prefetchCancelled++
		m.mu.Unlock()
		job.handle.resolve(OutcomeCancelled)
		return
	default:
	}

	// The interactive path may have loaded this key synchronously while
	// the job sat in the slot.
	m.mu.Lock()
	_, cached := m.items[job.key]
	m.mu.Unlock()
	if cached {
		job.handle.resolve(OutcomeSkipped)
		return
	}

	start := time.Now()
	bundle, err := job.load(job.ctx, job.req)
	elapsed := time.Since(start)

	if err != nil {
		m.mu.Lock()
		m.prefetchFailure++
		m.mu.Unlock()
		m.log.Error("prefetch load failed: %s t=[%d,%d]: %v", job.key.Var, job.key.Time.Start, job.key.Time.End, err)
		job.handle.resolve(OutcomeFailed)
		return
	}

	m.Put(job.key, bundle)

	m.mu.Lock()
	m.prefetchSuccess++
	m.totalLoadTime += elapsed
	m.mu.Unlock()

	m.log.Debug("prefetch completed: %s t=[%d,%d] in %s", job.key.Var, job.key.Time.Start, job.key.Time.End, elapsed)
	job.handle.resolve(OutcomeCompleted)
}
