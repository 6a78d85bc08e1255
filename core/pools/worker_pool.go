package pools

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
	"golang.org/x/sys/cpu"
)

// ErrExecutorClosed is returned by Submit after Close
var ErrExecutorClosed = errors.New("pools: executor closed")

// WorkerPool runs submitted tasks on a fixed set of goroutines.
//
// The backlog is an unbounded FIFO: Submit never blocks, never drops and
// never runs a task on the caller's goroutine.
type WorkerPool struct {
	numWorkers int

	mu      sync.Mutex
	cond    *sync.Cond
	backlog *queue.Queue
	closed  bool
	wg      sync.WaitGroup

	// Statistics, kept on separate cache lines since submitters and
	// workers update them from different cores
	stats struct {
		tasksSubmitted atomic.Uint64
		_              cpu.CacheLinePad
		tasksCompleted atomic.Uint64
		_              cpu.CacheLinePad
		maxBacklog     atomic.Uint64
	}
}

// NewWorkerPool creates a pool with numWorkers goroutines (NumCPU when <= 0)
func NewWorkerPool(numWorkers int) *WorkerPool {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}

	pool := &WorkerPool{
		numWorkers: numWorkers,
		backlog:    queue.New(),
	}
	pool.cond = sync.NewCond(&pool.mu)

	pool.wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go pool.run()
	}

	return pool
}

// Submit queues task for execution
func (p *WorkerPool) Submit(task func()) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrExecutorClosed
	}
	p.backlog.Add(task)
	if n := uint64(p.backlog.Length()); n > p.stats.maxBacklog.Load() {
		p.stats.maxBacklog.Store(n)
	}
	p.mu.Unlock()

	p.stats.tasksSubmitted.Add(1)
	p.cond.Signal()
	return nil
}

// run is the main loop of a worker goroutine
func (p *WorkerPool) run() {
	defer p.wg.Done()

	for {
		p.mu.Lock()
		for p.backlog.Length() == 0 && !p.closed {
			p.cond.Wait()
		}
		if p.backlog.Length() == 0 {
			// closed and drained
			p.mu.Unlock()
			return
		}
		task := p.backlog.Remove().(func())
		p.mu.Unlock()

		task()
		p.stats.tasksCompleted.Add(1)
	}
}

// Close stops accepting tasks, lets the workers finish the backlog and
// waits for them to exit
func (p *WorkerPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.cond.Broadcast()
	p.wg.Wait()
}

// Stats returns pool statistics
func (p *WorkerPool) Stats() WorkerPoolStats {
	p.mu.Lock()
	pending := p.backlog.Length()
	p.mu.Unlock()

	return WorkerPoolStats{
		NumWorkers:     p.numWorkers,
		TasksSubmitted: p.stats.tasksSubmitted.Load(),
		TasksCompleted: p.stats.tasksCompleted.Load(),
		TasksQueued:    uint64(pending),
		MaxBacklog:     p.stats.maxBacklog.Load(),
	}
}

// WorkerPoolStats contains pool statistics
type WorkerPoolStats struct {
	NumWorkers     int    `json:"num_workers"`
	TasksSubmitted uint64 `json:"tasks_submitted"`
	TasksCompleted uint64 `json:"tasks_completed"`
	TasksQueued    uint64 `json:"tasks_queued"`
	MaxBacklog     uint64 `json:"max_backlog"`
}
