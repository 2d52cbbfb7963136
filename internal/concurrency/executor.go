// File: internal/concurrency/executor.go
// Package concurrency implements the bounded task executor.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Executor dispatches tasks to a fixed set of worker goroutines through a
// bounded queue. Submit never blocks: a full queue is reported to the caller,
// which turns it into a pipeline failure instead of stalling an event loop.

package concurrency

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-hclog"
)

// TaskFunc is a unit of work to execute.
type TaskFunc func()

// Executor manages a pool of worker goroutines.
type Executor struct {
	queue   chan TaskFunc
	closeCh chan struct{}
	closed  atomic.Bool
	mu      sync.RWMutex // orders Submit against Close
	wg      sync.WaitGroup
	logger  hclog.Logger

	numWorkers int

	// statistics
	totalTasks     atomic.Int64
	completedTasks atomic.Int64
	rejectedTasks  atomic.Int64
	panics         atomic.Int64
}

// NewExecutor creates an Executor with numWorkers goroutines and room for
// queueSize waiting tasks. If numWorkers <= 0, defaults to runtime.NumCPU();
// queueSize <= 0 defaults to 64 per worker.
func NewExecutor(numWorkers, queueSize int, logger hclog.Logger) *Executor {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	if queueSize <= 0 {
		queueSize = numWorkers * 64
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	e := &Executor{
		queue:      make(chan TaskFunc, queueSize),
		closeCh:    make(chan struct{}),
		logger:     logger,
		numWorkers: numWorkers,
	}
	e.wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go e.run(i)
	}
	return e
}

// Submit enqueues a task for execution. It returns ErrQueueFull when the
// backlog is at capacity and ErrExecutorClosed after Close.
func (e *Executor) Submit(task func()) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed.Load() {
		return ErrExecutorClosed
	}
	select {
	case e.queue <- task:
		e.totalTasks.Add(1)
		return nil
	default:
		e.rejectedTasks.Add(1)
		return ErrQueueFull
	}
}

// NumWorkers returns the number of worker goroutines.
func (e *Executor) NumWorkers() int {
	return e.numWorkers
}

// Close stops accepting tasks, lets workers finish what is queued and waits
// for them to exit.
func (e *Executor) Close() {
	e.mu.Lock()
	if e.closed.Swap(true) {
		e.mu.Unlock()
		e.wg.Wait()
		return
	}
	close(e.closeCh)
	e.mu.Unlock()
	e.wg.Wait()
}

// Stats returns basic executor metrics.
func (e *Executor) Stats() map[string]int64 {
	total := e.totalTasks.Load()
	done := e.completedTasks.Load()
	return map[string]int64{
		"total_tasks":     total,
		"completed_tasks": done,
		"pending_tasks":   total - done,
		"rejected_tasks":  e.rejectedTasks.Load(),
		"panics":          e.panics.Load(),
		"num_workers":     int64(e.numWorkers),
	}
}

// run is the main loop for a worker.
func (e *Executor) run(id int) {
	defer e.wg.Done()
	for {
		select {
		case task := <-e.queue:
			e.execute(id, task)
		case <-e.closeCh:
			for {
				select {
				case task := <-e.queue:
					e.execute(id, task)
				default:
					return
				}
			}
		}
	}
}

// execute runs the task and updates statistics, recovering from panics.
func (e *Executor) execute(id int, task TaskFunc) {
	defer func() {
		if r := recover(); r != nil {
			e.panics.Add(1)
			e.logger.Error("task panicked", "worker", id, "panic", r)
		}
		e.completedTasks.Add(1)
	}()
	task()
}
