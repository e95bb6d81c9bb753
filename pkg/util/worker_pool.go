package util

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// Task represents a unit of work to be executed
type Task func()

// WorkerPool runs submitted tasks on a bounded set of goroutines.
// The pipeline uses it to audit many transcripts concurrently without
// spawning one goroutine per transcript.
type WorkerPool struct {
	workers   int
	taskQueue chan Task
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	stats     poolStats
	startOnce sync.Once
}

type poolStats struct {
	submitted int64
	completed int64
	active    int32
}

// PoolStats is a snapshot of pool activity.
type PoolStats struct {
	TasksSubmitted int64
	TasksCompleted int64
	ActiveWorkers  int32
	QueueLength    int32
}

// NewWorkerPool creates a pool with the given worker count and queue size.
func NewWorkerPool(workers, queueSize int) *WorkerPool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if queueSize <= 0 {
		queueSize = workers * 10
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{
		workers:   workers,
		taskQueue: make(chan Task, queueSize),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the worker goroutines. Calling Start twice is a no-op.
func (p *WorkerPool) Start() {
	p.startOnce.Do(func() {
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go p.worker()
		}
	})
}

// Submit queues a task, blocking while the queue is full. It returns
// false once the pool is shut down.
func (p *WorkerPool) Submit(task Task) bool {
	if task == nil {
		return false
	}
	select {
	case p.taskQueue <- task:
		atomic.AddInt64(&p.stats.submitted, 1)
		return true
	case <-p.ctx.Done():
		return false
	}
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()

	for {
		select {
		case task := <-p.taskQueue:
			if task == nil {
				continue
			}
			atomic.AddInt32(&p.stats.active, 1)
			func() {
				defer func() {
					recover()
					atomic.AddInt32(&p.stats.active, -1)
					atomic.AddInt64(&p.stats.completed, 1)
				}()
				task()
			}()
		case <-p.ctx.Done():
			return
		}
	}
}

// GetStats returns a snapshot of pool activity.
func (p *WorkerPool) GetStats() PoolStats {
	return PoolStats{
		TasksSubmitted: atomic.LoadInt64(&p.stats.submitted),
		TasksCompleted: atomic.LoadInt64(&p.stats.completed),
		ActiveWorkers:  atomic.LoadInt32(&p.stats.active),
		QueueLength:    int32(len(p.taskQueue)),
	}
}

// Wait blocks until every submitted task has completed or the timeout
// elapses. It returns false on timeout.
func (p *WorkerPool) Wait(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		s := p.GetStats()
		if s.TasksCompleted == s.TasksSubmitted && s.QueueLength == 0 {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

// Shutdown stops the workers, waiting up to timeout for in-flight
// tasks to finish.
func (p *WorkerPool) Shutdown(timeout time.Duration) {
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
	}
}
