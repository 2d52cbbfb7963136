// File: internal/concurrency/taskqueue.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// TaskQueue is the mailbox of an event loop: any goroutine may Push, only
// the owning loop drains.

package concurrency

import (
	"sync"

	"github.com/eapache/queue"
)

// TaskQueue is an unbounded FIFO of closures with a wake hook.
type TaskQueue struct {
	mu     sync.Mutex
	q      *queue.Queue
	wake   func()
	closed bool
}

// NewTaskQueue creates a queue that calls wake after a push into an empty
// queue. wake may be nil.
func NewTaskQueue(wake func()) *TaskQueue {
	return &TaskQueue{q: queue.New(), wake: wake}
}

// Push appends fn. It returns false once the queue has been closed.
func (t *TaskQueue) Push(fn func()) bool {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return false
	}
	first := t.q.Length() == 0
	t.q.Add(fn)
	t.mu.Unlock()
	if first && t.wake != nil {
		t.wake()
	}
	return true
}

// Drain runs every queued task in order, including tasks pushed while
// draining, and returns how many ran.
func (t *TaskQueue) Drain() int {
	ran := 0
	for {
		t.mu.Lock()
		if t.q.Length() == 0 {
			t.mu.Unlock()
			return ran
		}
		fn := t.q.Remove().(func())
		t.mu.Unlock()
		fn()
		ran++
	}
}

// Len returns the number of queued tasks.
func (t *TaskQueue) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.q.Length()
}

// Close rejects further pushes. Queued tasks remain drainable.
func (t *TaskQueue) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
}
