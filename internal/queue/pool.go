// Package queue runs catalog indexing jobs on a fixed set of workers.
package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrBusy     = errors.New("queue: all workers busy")
	ErrShutdown = errors.New("queue: shut down")
)

// Config sizes a Pool. Backlog is the number of jobs that may wait for a worker.
type Config struct {
	Workers int
	Backlog int
}

// Job is a named unit of work.
type Job struct {
	Name string
	Fn   func(context.Context) error
}

// Result reports the outcome of one Job.
type Result struct {
	Name     string
	Err      error
	Duration time.Duration
}

// Pool executes submitted functions on a fixed number of goroutines.
type Pool struct {
	jobs     chan task
	wg       sync.WaitGroup
	inflight sync.WaitGroup

	// mu guards sends on jobs against its close.
	mu        sync.RWMutex
	closeOnce sync.Once
	closed    chan struct{}

	workers int32
	active  atomic.Int32
}

type task struct {
	ctx    context.Context
	fn     func(context.Context) error
	result chan error
}

// NewPool starts cfg.Workers workers.
func NewPool(cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Backlog < 0 {
		cfg.Backlog = 0
	}

	p := &Pool{
		jobs:    make(chan task, cfg.Backlog),
		closed:  make(chan struct{}),
		workers: int32(cfg.Workers),
	}
	for range cfg.Workers {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Submit runs fn on a worker and returns its error. It waits for a free
// worker or backlog slot until ctx is done.
func (p *Pool) Submit(ctx context.Context, fn func(context.Context) error) error {
	t, err := p.enqueue(ctx, fn, true)
	if err != nil {
		return err
	}
	return p.await(ctx, t)
}

// TrySubmit is like Submit but fails with ErrBusy instead of waiting for capacity.
func (p *Pool) TrySubmit(ctx context.Context, fn func(context.Context) error) error {
	t, err := p.enqueue(ctx, fn, false)
	if err != nil {
		return err
	}
	return p.await(ctx, t)
}

func (p *Pool) enqueue(ctx context.Context, fn func(context.Context) error, wait bool) (task, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	select {
	case <-p.closed:
		return task{}, ErrShutdown
	default:
	}

	t := task{ctx: ctx, fn: fn, result: make(chan error, 1)}
	if !wait {
		if cap(p.jobs) == 0 && p.active.Load() >= p.workers {
			return task{}, ErrBusy
		}
		select {
		case p.jobs <- t:
			return t, nil
		case <-p.closed:
			return task{}, ErrShutdown
		default:
			return task{}, ErrBusy
		}
	}

	select {
	case p.jobs <- t:
		return t, nil
	case <-p.closed:
		return task{}, ErrShutdown
	case <-ctx.Done():
		return task{}, ctx.Err()
	}
}

func (p *Pool) await(ctx context.Context, t task) error {
	select {
	case err := <-t.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunAll submits every job and waits for all of them. Results are returned
// in the order of jobs.
func (p *Pool) RunAll(ctx context.Context, jobs []Job) []Result {
	results := make([]Result, len(jobs))
	var wg sync.WaitGroup
	for i, j := range jobs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			err := p.Submit(ctx, j.Fn)
			results[i] = Result{Name: j.Name, Err: err, Duration: time.Since(start)}
		}()
	}
	wg.Wait()
	return results
}

// Active reports how many jobs are running.
func (p *Pool) Active() int {
	return int(p.active.Load())
}

// Shutdown stops accepting jobs and waits for running ones until ctx is done.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.closeOnce.Do(func() {
		close(p.closed)
		p.mu.Lock()
		close(p.jobs)
		p.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		p.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for t := range p.jobs {
		p.inflight.Add(1)
		p.active.Add(1)
		if err := t.ctx.Err(); err != nil {
			t.result <- err
		} else {
			t.result <- t.fn(t.ctx)
		}
		p.active.Add(-1)
		p.inflight.Done()
	}
}
