package phys

import (
	"runtime"
	"sync"
)

// Pool is a fixed set of worker goroutines fed by an unbuffered task
// channel. The world reuses one pool across frames so the per-frame fan-out
// costs no goroutine churn.
type Pool struct {
	tasks   chan func()
	workers int
}

// NewPool starts workers goroutines; workers <= 0 means runtime.NumCPU().
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	p := &Pool{
		tasks:   make(chan func()),
		workers: workers,
	}
	for i := 0; i < workers; i++ {
		go func() {
			for task := range p.tasks {
				task()
			}
		}()
	}
	return p
}

// Workers reports the pool size.
func (p *Pool) Workers() int { return p.workers }

// Submit runs fn on a worker and signals done when it returns.
func (p *Pool) Submit(fn func(), done *sync.WaitGroup) {
	done.Add(1)
	p.tasks <- func() {
		defer done.Done()
		fn()
	}
}

// ParallelFor splits [0,n) into contiguous chunks, one per worker, runs
// fn(start, end) for each chunk and blocks until all chunks finish. The
// barrier makes each pipeline stage observe every write of the previous one.
func (p *Pool) ParallelFor(n int, fn func(start, end int)) {
	if n <= 0 {
		return
	}
	chunk := (n + p.workers - 1) / p.workers
	var wg sync.WaitGroup
	for start := 0; start < n; start += chunk {
		end := start + chunk
		if end > n {
			end = n
		}
		s, e := start, end
		p.Submit(func() { fn(s, e) }, &wg)
	}
	wg.Wait()
}

// Close stops the workers. The pool must not be used afterwards.
func (p *Pool) Close() {
	close(p.tasks)
}
