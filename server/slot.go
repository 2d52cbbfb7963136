// File: server/slot.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// A slot is one entry of a connection's response FIFO. The handler side
// appends encoded bytes, the event loop takes them in request order.

package server

import (
	"context"
	"sync"
	"time"
)

// slotHighWater is how many unwritten bytes a producer may queue before it
// waits for the loop to catch up.
const slotHighWater = 256 << 10

type slot struct {
	mu   sync.Mutex
	cond sync.Cond

	pending    []byte
	done       bool // no more bytes will be appended
	headSent   bool
	failed     bool // truncated after the head; the connection must close
	closeAfter bool
	abandoned  bool // the loop no longer wants bytes
	notified   bool // a wakeup is already on its way to the loop

	upgrade     MessageHandler
	subprotocol string

	// Loop-owned fields.
	interim    bool // 100 Continue, not a response of its own
	resumeRead bool // reading was held for a possible upgrade
	started    time.Time
	cancel     context.CancelFunc
	wake       func()
}

func newSlot(wake func()) *slot {
	s := &slot{wake: wake}
	s.cond.L = &s.mu
	return s
}

// doneSlot returns a slot that already holds a complete response.
func doneSlot(b []byte, closeAfter bool) *slot {
	s := newSlot(nil)
	s.pending, s.done, s.headSent, s.closeAfter = b, true, true, closeAfter
	return s
}

// write appends through fn, waiting while the loop is behind. It returns
// false once the slot was abandoned.
func (s *slot) write(head bool, fn func(dst []byte) []byte) bool {
	s.mu.Lock()
	for len(s.pending) >= slotHighWater && !s.abandoned {
		s.cond.Wait()
	}
	if s.abandoned || s.done {
		s.mu.Unlock()
		return false
	}
	s.pending = fn(s.pending)
	if head {
		s.headSent = true
	}
	notify := !s.notified
	s.notified = true
	s.mu.Unlock()
	if notify && s.wake != nil {
		s.wake()
	}
	return true
}

// finish marks the response complete.
func (s *slot) finish(closeAfter bool) {
	s.complete(func() { s.closeAfter = closeAfter })
}

// fail marks the response truncated.
func (s *slot) fail() {
	s.complete(func() { s.failed = true })
}

// finishUpgrade stores the 101 head and the handler taking over.
func (s *slot) finishUpgrade(head []byte, h MessageHandler, subprotocol string) bool {
	ok := false
	s.complete(func() {
		s.pending = append(s.pending, head...)
		s.headSent = true
		s.upgrade, s.subprotocol = h, subprotocol
		ok = true
	})
	return ok
}

func (s *slot) complete(set func()) {
	s.mu.Lock()
	if s.done || s.abandoned {
		s.mu.Unlock()
		return
	}
	set()
	s.done = true
	s.notified = true
	s.mu.Unlock()
	if s.wake != nil {
		s.wake()
	}
}

// take hands the queued bytes to the loop and returns spare to the slot
// for reuse.
func (s *slot) take(spare []byte) ([]byte, bool) {
	s.mu.Lock()
	data := s.pending
	s.pending = spare[:0]
	s.notified = false
	done := s.done
	s.cond.Broadcast()
	s.mu.Unlock()
	return data, done
}

// abandon releases a producer blocked in write and makes further writes
// fail.
func (s *slot) abandon() {
	s.mu.Lock()
	s.abandoned = true
	s.cond.Broadcast()
	s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

// expire ends a response that ran past its deadline. If nothing was
// written yet, fallback replaces it and true is returned; otherwise the
// response is cut short.
func (s *slot) expire(fallback []byte) bool {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return false
	}
	replaced := !s.headSent
	if replaced {
		s.pending = append(s.pending[:0], fallback...)
		s.headSent, s.closeAfter = true, true
	} else {
		s.failed = true
	}
	s.done, s.abandoned = true, true
	s.cond.Broadcast()
	s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	return replaced
}
