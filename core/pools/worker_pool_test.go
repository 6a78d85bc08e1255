package pools

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestWorkerPool_Basic(t *testing.T) {
	pool := NewWorkerPool(4)

	var counter atomic.Int64
	for i := 0; i < 100; i++ {
		if err := pool.Submit(func() {
			counter.Add(1)
		}); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}

	// Close drains the backlog
	pool.Close()

	if counter.Load() != 100 {
		t.Errorf("Expected 100 tasks completed, got %d", counter.Load())
	}
	stats := pool.Stats()
	if stats.TasksSubmitted != 100 || stats.TasksCompleted != 100 {
		t.Errorf("Expected 100/100 submitted/completed, got %d/%d", stats.TasksSubmitted, stats.TasksCompleted)
	}
	if stats.TasksQueued != 0 {
		t.Errorf("Expected empty backlog, got %d", stats.TasksQueued)
	}
}

func TestWorkerPool_ExactlyOnce(t *testing.T) {
	pool := NewWorkerPool(8)

	const n = 2000
	var runs [n]atomic.Int32
	for i := 0; i < n; i++ {
		i := i
		pool.Submit(func() { runs[i].Add(1) })
	}
	pool.Close()

	for i := range runs {
		if got := runs[i].Load(); got != 1 {
			t.Fatalf("task %d: Expected 1 run, got %d", i, got)
		}
	}
}

func TestWorkerPool_NeverInline(t *testing.T) {
	pool := NewWorkerPool(1)
	defer pool.Close()

	// occupy the only worker so the next tasks have to queue
	release := make(chan struct{})
	started := make(chan struct{})
	pool.Submit(func() {
		close(started)
		<-release
	})
	<-started

	var ran atomic.Bool
	for i := 0; i < 10; i++ {
		if err := pool.Submit(func() { ran.Store(true) }); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	if ran.Load() {
		t.Error("Expected queued tasks not to run on the submitter")
	}
	if queued := pool.Stats().TasksQueued; queued != 10 {
		t.Errorf("Expected 10 queued tasks, got %d", queued)
	}
	close(release)
}

func TestWorkerPool_FIFO(t *testing.T) {
	pool := NewWorkerPool(1)

	var mu sync.Mutex
	var order []int
	for i := 0; i < 50; i++ {
		i := i
		pool.Submit(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}
	pool.Close()

	for i, v := range order {
		if v != i {
			t.Fatalf("Expected task %d at position %d, got %d", i, i, v)
		}
	}
}

func TestWorkerPool_SubmitAfterClose(t *testing.T) {
	pool := NewWorkerPool(2)
	pool.Close()
	pool.Close()

	if err := pool.Submit(func() {}); !errors.Is(err, ErrExecutorClosed) {
		t.Errorf("Expected ErrExecutorClosed, got %v", err)
	}
}

func BenchmarkWorkerPool_Submit(b *testing.B) {
	pool := NewWorkerPool(8)
	defer pool.Close()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			pool.Submit(func() {
				_ = 1 + 1
			})
		}
	})

	for {
		stats := pool.Stats()
		if stats.TasksCompleted >= uint64(b.N) {
			break
		}
		time.Sleep(1 * time.Millisecond)
	}
}
