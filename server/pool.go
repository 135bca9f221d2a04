package server

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
)

// ErrPoolStopped is returned by Do after Stop.
var ErrPoolStopped = errors.New("worker pool stopped")

// poolJob is a unit of work executed on one of the pool goroutines.
type poolJob struct {
	fn   func() (any, error)
	done chan poolResult
}

// poolResult holds the return value from a job.
type poolResult struct {
	value any
	err   error
}

// Pool runs jobs on a fixed number of worker goroutines. A sasm VM is
// single-threaded, so every job builds its own VM and nothing is shared
// between jobs.
type Pool struct {
	jobs chan poolJob
	quit chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// NewPool creates a Pool and starts its workers. n <= 0 uses GOMAXPROCS.
func NewPool(n int) *Pool {
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}
	p := &Pool{
		jobs: make(chan poolJob),
		quit: make(chan struct{}),
	}
	p.wg.Add(n)
	for range n {
		go p.loop()
	}
	return p
}

// loop processes jobs until the pool is stopped.
func (p *Pool) loop() {
	defer p.wg.Done()
	for {
		select {
		case job := <-p.jobs:
			job.done <- p.execute(job.fn)
		case <-p.quit:
			return
		}
	}
}

// execute runs a job, recovering from panics.
func (p *Pool) execute(fn func() (any, error)) (result poolResult) {
	defer func() {
		if r := recover(); r != nil {
			result.err = fmt.Errorf("worker panic: %v", r)
		}
	}()
	result.value, result.err = fn()
	return result
}

// Do submits fn and blocks until a worker has run it. If ctx ends while the
// job is still queued, Do gives up without running it; a job that has
// started is expected to watch ctx itself.
func (p *Pool) Do(ctx context.Context, fn func() (any, error)) (any, error) {
	job := poolJob{fn: fn, done: make(chan poolResult, 1)}
	select {
	case p.jobs <- job:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.quit:
		return nil, ErrPoolStopped
	}
	result := <-job.done
	return result.value, result.err
}

// Stop shuts down the workers and waits for running jobs to finish.
func (p *Pool) Stop() {
	p.once.Do(func() { close(p.quit) })
	p.wg.Wait()
}
