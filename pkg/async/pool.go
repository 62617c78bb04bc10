package async

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
)

const poolLogPrefix = "async:pool"

// submitRetries bounds the spin-yield loop of Submit on a full queue.
const submitRetries = 100

// Stats is a snapshot of pool counters.
type Stats struct {
	Workers   int   `json:"workers"`
	Queued    int   `json:"queued"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Rejected  int64 `json:"rejected"`
	Panics    int64 `json:"panics"`
}

// Pool runs submitted functions on a fixed number of goroutines fed by a
// bounded queue. A running function is never interrupted.
type Pool struct {
	tasks   chan func()
	workers int

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	active    atomic.Int64
	completed atomic.Int64
	rejected  atomic.Int64
	panics    atomic.Int64
}

// NewPool starts workers goroutines reading a queue of the given size.
// Non-positive values default to 1 worker and a queue of 64.
func NewPool(workers, queue int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queue <= 0 {
		queue = 64
	}
	p := &Pool{tasks: make(chan func(), queue), workers: workers}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.loop()
	}
	return p
}

func (p *Pool) loop() {
	defer p.wg.Done()
	for fn := range p.tasks {
		p.run(fn)
	}
}

func (p *Pool) run(fn func()) {
	p.active.Add(1)
	defer func() {
		p.active.Add(-1)
		p.completed.Add(1)
		if r := recover(); r != nil {
			p.panics.Add(1)
			slog.Error(fmt.Sprintf("%s - work item panicked: %v", poolLogPrefix, r))
		}
	}()
	fn()
}

// Submit queues fn. When the queue is full it yields briefly and then gives
// up with ErrPoolExhausted.
func (p *Pool) Submit(fn func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	for i := 0; ; i++ {
		select {
		case p.tasks <- fn:
			return nil
		default:
		}
		if i >= submitRetries {
			p.rejected.Add(1)
			slog.Warn(fmt.Sprintf("%s - queue full (%d workers, %d queued), work rejected", poolLogPrefix, p.workers, len(p.tasks)))
			return ErrPoolExhausted
		}
		runtime.Gosched()
	}
}

// Stats returns the current counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Workers:   p.workers,
		Queued:    len(p.tasks),
		Active:    p.active.Load(),
		Completed: p.completed.Load(),
		Rejected:  p.rejected.Load(),
		Panics:    p.panics.Load(),
	}
}

// Close stops accepting work, runs what is queued and waits for the workers.
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
