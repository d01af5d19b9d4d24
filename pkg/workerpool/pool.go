// Package workerpool provides a bounded worker pool used to fan scan work
// out over crawl pages and injectable parameters without spawning a
// goroutine per task.
package workerpool

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
)

// Pool runs submitted tasks on a fixed set of worker goroutines. Workers
// are started eagerly by New and live until Close. A panicking task is
// recovered so one bad payload cannot take the pool down.
type Pool struct {
	mu      sync.RWMutex
	tasks   chan func()
	closed  bool
	wg      sync.WaitGroup
	workers int

	active atomic.Int64
	done   atomic.Int64
}

// New creates a pool with the given number of workers. Sizes below one
// fall back to GOMAXPROCS.
func New(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	p := &Pool{
		workers: workers,
		tasks:   make(chan func(), workers*4),
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

// Default returns a pool sized for request-bound scan work. The rate
// limiter paces actual traffic, so the pool only needs enough workers to
// keep the limiter busy.
func Default() *Pool {
	n := runtime.GOMAXPROCS(0) * 2
	if n < 4 {
		n = 4
	}
	if n > 64 {
		n = 64
	}
	return New(n)
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		p.run(task)
	}
}

func (p *Pool) run(task func()) {
	p.active.Add(1)
	defer func() {
		recover()
		p.active.Add(-1)
		p.done.Add(1)
	}()
	task()
}

// Submit queues a task for execution. It blocks while the queue is full
// and reports false once the pool is closed.
func (p *Pool) Submit(task func()) bool {
	if task == nil {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	p.tasks <- task
	return true
}

// ForEach runs fn for every index in [0, n) on the pool and waits for
// all started tasks to finish. Scheduling stops once ctx is cancelled;
// tasks already running are left to complete. The returned error is
// ctx.Err when the loop was cut short.
func (p *Pool) ForEach(ctx context.Context, n int, fn func(i int)) error {
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			break
		}
		i := i
		wg.Add(1)
		if !p.Submit(func() {
			defer wg.Done()
			fn(i)
		}) {
			wg.Done()
			break
		}
	}
	wg.Wait()
	return ctx.Err()
}

// Workers returns the configured worker count.
func (p *Pool) Workers() int { return p.workers }

// Active returns the number of tasks executing right now.
func (p *Pool) Active() int { return int(p.active.Load()) }

// Completed returns the number of tasks that have finished.
func (p *Pool) Completed() int64 { return p.done.Load() }

// Close stops accepting new tasks, drains the queue and waits for the
// workers to exit. It is safe to call more than once.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()
	p.wg.Wait()
}
