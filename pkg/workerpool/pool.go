// Package workerpool provides the bounded goroutine pool that batch
// scans run on. A fixed worker count keeps N-target scans at the
// configured parallelism (scanner.parallel) instead of spawning one
// goroutine per target.
package workerpool

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// Pool manages a fixed set of worker goroutines. Workers start lazily
// on first submit and are reused across tasks.
type Pool struct {
	workers int32
	tasks   chan func()
	running int32
	closed  int32
	wg      sync.WaitGroup
}

var (
	defaultPool *Pool
	defaultOnce sync.Once
)

// Default returns a shared pool sized for I/O-bound scan work.
func Default() *Pool {
	defaultOnce.Do(func() {
		workers := runtime.GOMAXPROCS(0) * 4
		if workers < 16 {
			workers = 16
		}
		defaultPool = New(workers)
	})
	return defaultPool
}

// New creates a pool with the given worker count. Non-positive counts
// fall back to GOMAXPROCS.
func New(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Pool{
		workers: int32(workers),
		tasks:   make(chan func(), workers*4),
	}
}

// Submit queues a task for execution. Blocks when the queue is full,
// which is what bounds a batch scan's parallelism. Returns false if
// the pool is closed.
func (p *Pool) Submit(task func()) bool {
	if atomic.LoadInt32(&p.closed) == 1 {
		return false
	}

	for {
		running := atomic.LoadInt32(&p.running)
		if running >= p.workers {
			break
		}
		if atomic.CompareAndSwapInt32(&p.running, running, running+1) {
			p.wg.Add(1)
			go p.worker()
			break
		}
	}

	p.tasks <- task
	return true
}

func (p *Pool) worker() {
	defer func() {
		// A panicking task must not shrink the pool.
		if r := recover(); r != nil {
			if atomic.LoadInt32(&p.closed) == 0 {
				go p.worker()
				return
			}
		}
		atomic.AddInt32(&p.running, -1)
		p.wg.Done()
	}()

	for task := range p.tasks {
		if task != nil {
			task()
		}
	}
}

// Running returns the current worker count.
func (p *Pool) Running() int { return int(atomic.LoadInt32(&p.running)) }

// Cap returns the configured worker capacity.
func (p *Pool) Cap() int { return int(atomic.LoadInt32(&p.workers)) }

// Close drains pending tasks and stops the workers.
func (p *Pool) Close() {
	if !atomic.CompareAndSwapInt32(&p.closed, 0, 1) {
		return
	}
	close(p.tasks)
	p.wg.Wait()
}

// Map applies fn to every item on the pool and returns results in input
// order, regardless of completion order. This is the batch-scan
// primitive: each item is one isolated target.
func Map[T, R any](p *Pool, items []T, fn func(T) R) []R {
	results := make([]R, len(items))
	var wg sync.WaitGroup
	wg.Add(len(items))

	for i, item := range items {
		idx, val := i, item
		if !p.Submit(func() {
			defer wg.Done()
			results[idx] = fn(val)
		}) {
			wg.Done()
		}
	}

	wg.Wait()
	return results
}
