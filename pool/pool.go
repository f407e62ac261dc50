// Package pool provides named fixed-size worker pools with an unbounded FIFO
// queue, and the set of stage pools the pipeline runs on.
//
// Tasks run exactly once, in submission order per pool. There is no task
// cancellation: once submitted a task runs to completion, including during
// Shutdown, which drains the queue before joining the workers.
package pool

import (
	"context"
	"sync"

	"github.com/pithecene-io/packetline/log"
)

// task is one queued unit of work. run never panics; Submit and Go wrap the
// caller's function with panic recovery.
type task struct {
	run func() error
}

// Pool is a named fixed-size worker pool.
type Pool struct {
	name    string
	workers int
	logger  *log.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []task
	active   int
	stopping bool

	submitted uint64
	executed  uint64
	failed    uint64
	panicked  uint64

	wg   sync.WaitGroup
	done chan struct{}
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the logger used for task errors and panics.
func WithLogger(l *log.Logger) Option {
	return func(p *Pool) {
		p.logger = l
	}
}

// New creates a pool and starts its workers immediately.
// A worker count below 1 is coerced to 1.
func New(name string, workers int, opts ...Option) *Pool {
	if workers < 1 {
		workers = 1
	}
	p := &Pool{
		name:    name,
		workers: workers,
		done:    make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(map[string]any{"pool": name})

	p.wg.Add(workers)
	for i := range workers {
		go p.worker(i)
	}
	go func() {
		p.wg.Wait()
		close(p.done)
	}()
	return p
}

// Go submits fn without a typed handle. A returned error or panic is logged
// at the worker boundary and counted as a failure.
// Returns ErrPoolStopped once shutdown has begun.
func (p *Pool) Go(fn func() error) error {
	return p.enqueue(func() error {
		return protect(fn)
	})
}

func (p *Pool) enqueue(run func() error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopping {
		return ErrPoolStopped
	}
	p.queue = append(p.queue, task{run: run})
	p.submitted++
	p.cond.Signal()
	return nil
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.stopping {
			p.cond.Wait()
		}
		if len(p.queue) == 0 {
			// Stopping with nothing left to drain.
			p.mu.Unlock()
			return
		}
		t := p.queue[0]
		p.queue[0] = task{}
		p.queue = p.queue[1:]
		p.active++
		p.mu.Unlock()

		err := t.run()

		p.mu.Lock()
		p.active--
		p.executed++
		if err != nil {
			p.failed++
		}
		pe, isPanic := asPanic(err)
		if isPanic {
			p.panicked++
		}
		p.mu.Unlock()

		switch {
		case isPanic:
			p.logger.Error("task panicked", map[string]any{
				"worker": id,
				"panic":  pe.Value,
				"stack":  string(pe.Stack),
			})
		case err != nil:
			p.logger.Warn("task failed", map[string]any{
				"worker": id,
				"error":  err.Error(),
			})
		}
	}
}

// Shutdown stops intake immediately, lets the workers drain every queued
// task, then waits for all workers to exit. Safe to call more than once.
// Must not be called from inside one of the pool's own tasks.
func (p *Pool) Shutdown() {
	p.stop()
	<-p.done
}

// ShutdownContext begins shutdown and waits for the drain to finish.
// Returns ctx.Err() if ctx is done first; the workers keep draining.
func (p *Pool) ShutdownContext(ctx context.Context) error {
	p.stop()
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) stop() {
	p.mu.Lock()
	p.stopping = true
	p.cond.Broadcast()
	p.mu.Unlock()
}

// Name returns the pool name.
func (p *Pool) Name() string {
	return p.name
}

// Workers returns the fixed worker count.
func (p *Pool) Workers() int {
	return p.workers
}

// QueueDepth returns the number of tasks waiting for a worker.
func (p *Pool) QueueDepth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// ActiveCount returns the number of tasks currently running.
func (p *Pool) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// TotalExecuted returns the number of tasks that finished running.
func (p *Pool) TotalExecuted() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.executed
}

// TotalSubmitted returns the number of tasks accepted by the pool.
func (p *Pool) TotalSubmitted() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.submitted
}

// Utilization returns the fraction of workers currently busy, 0 to 1.
func (p *Pool) Utilization() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return float64(p.active) / float64(p.workers)
}

// Stopped reports whether shutdown has begun.
func (p *Pool) Stopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopping
}

// Stats is a point-in-time view of a pool.
type Stats struct {
	Name               string  `json:"name" yaml:"name"`
	Workers            int     `json:"workers" yaml:"workers"`
	QueueDepth         int     `json:"queue_depth" yaml:"queue_depth"`
	Active             int     `json:"active" yaml:"active"`
	Submitted          uint64  `json:"submitted" yaml:"submitted"`
	Executed           uint64  `json:"executed" yaml:"executed"`
	Failed             uint64  `json:"failed" yaml:"failed"`
	Panicked           uint64  `json:"panicked" yaml:"panicked"`
	Utilization        float64 `json:"utilization" yaml:"utilization"`
	UtilizationPercent float64 `json:"utilization_percent" yaml:"utilization_percent"`
	Stopped            bool    `json:"stopped" yaml:"stopped"`
}

// Stats returns a consistent snapshot of every counter.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	util := float64(p.active) / float64(p.workers)
	return Stats{
		Name:               p.name,
		Workers:            p.workers,
		QueueDepth:         len(p.queue),
		Active:             p.active,
		Submitted:          p.submitted,
		Executed:           p.executed,
		Failed:             p.failed,
		Panicked:           p.panicked,
		Utilization:        util,
		UtilizationPercent: util * 100,
		Stopped:            p.stopping,
	}
}
