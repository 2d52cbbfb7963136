// File: server/conn_write.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Write side of a connection: draining the response FIFO in request order,
// resuming partial writes and poller interest.

package server

import (
	"errors"
	"time"

	"github.com/momentics/hioload-http/api"
	"github.com/momentics/hioload-http/reactor"
)

// flush writes as much pending output as the transport accepts. Responses
// leave strictly in FIFO order; a slot still being produced blocks the
// ones behind it.
func (c *conn) flush() {
	if c.closed {
		return
	}
	for {
		if c.woff < len(c.wbuf) {
			n, err := c.tr.Write(c.wbuf[c.woff:])
			if n > 0 {
				c.woff += n
				c.lastWrite = time.Now()
				c.lastActivity = c.lastWrite
			}
			if err != nil {
				if errors.Is(err, api.ErrWouldBlock) {
					break
				}
				c.closeNow(err)
				return
			}
			continue
		}
		c.wbuf, c.woff = c.wbuf[:0], 0
		if c.ws != nil || !c.nextSlot() {
			break
		}
	}
	if c.closed {
		return
	}
	if c.flusher != nil {
		switch err := c.flusher.Flush(); {
		case err == nil:
			c.flushBlocked = false
		case errors.Is(err, api.ErrWouldBlock):
			c.flushBlocked = true
		default:
			c.closeNow(err)
			return
		}
	}
	if c.closeAfterDrain && c.woff >= len(c.wbuf) && !c.flushBlocked && c.slots.Length() == 0 {
		c.closeNow(nil)
		return
	}
	if c.ws == nil && c.woff >= len(c.wbuf) && c.slots.Length() == 0 && !c.closeAfterDrain &&
		c.head == nil && c.readStart.IsZero() {
		c.phase = api.PhaseKeepAlive
	}
	c.updateInterest()
}

// nextSlot moves the head slot's bytes into wbuf. Completed slots are
// retired on the way. It returns false when nothing can be written now.
func (c *conn) nextSlot() bool {
	for c.slots.Length() > 0 {
		s := c.slots.Peek().(*slot)
		data, done := s.take(c.wbuf)
		c.wbuf, c.woff = data, 0
		if len(data) > 0 {
			c.lastWrite = time.Now()
			if s.upgrade != nil {
				c.phase = api.PhaseUpgrading
			} else if !s.interim {
				c.phase = api.PhaseWritingResponse
			}
			return true
		}
		if !done {
			return false
		}
		c.slots.Remove()
		c.completeSlot(s)
		if c.closed || c.ws != nil {
			return false
		}
	}
	return false
}

// completeSlot applies what a fully written response decided for the
// connection.
func (c *conn) completeSlot(s *slot) {
	if s.interim {
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	if !s.started.IsZero() {
		c.l.srv.metrics.Since(s.started, keyHTTPDuration...)
	}
	switch {
	case s.failed || s.closeAfter:
		c.stopReading = true
		c.closeAfterDrain = true
		c.phase = api.PhaseClosing
		c.abandonSlots()
	case s.upgrade != nil:
		c.enterWebSocket(s.upgrade, s.subprotocol)
	case s.resumeRead:
		c.stopReading = false
		c.kick()
	case !c.stopReading && (len(c.inbuf) > 0 || c.slots.Length()+1 >= c.l.cfg.MaxPipelineDepth):
		c.kick()
	}
}

// updateInterest syncs the poller with what the connection waits for.
func (c *conn) updateInterest() {
	if c.closed {
		return
	}
	read := c.readWanted()
	write := c.woff < len(c.wbuf) || c.flushBlocked
	if read == c.readOn && write == c.writeOn {
		return
	}
	var ev reactor.Events
	if read {
		ev |= reactor.EventRead
	}
	if write {
		ev |= reactor.EventWrite
	}
	if err := c.l.poller.Modify(c.tr.Fd(), c.h.index(), ev); err != nil {
		c.closeNow(err)
		return
	}
	c.readOn, c.writeOn = read, write
}
