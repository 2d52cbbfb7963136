// File: server/loop.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Event loop: one goroutine owning a poller, the connections registered
// with it and a task queue other goroutines use to reach those connections.

package server

import (
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/momentics/hioload-http/affinity"
	"github.com/momentics/hioload-http/api"
	"github.com/momentics/hioload-http/internal/concurrency"
	"github.com/momentics/hioload-http/reactor"
	"github.com/momentics/hioload-http/transport"
)

const maxEventsPerWait = 256

type loop struct {
	id     int
	srv    *Server
	cfg    *Config
	logger hclog.Logger
	poller reactor.Poller
	tasks  *concurrency.TaskQueue

	conns   arena
	events  []reactor.Event
	scratch []byte

	// active counts connections admitted to this loop, including ones the
	// acceptor reserved but whose registration is still queued.
	active atomic.Int64

	draining    bool
	drainedOnce bool
	stopping    atomic.Bool
	drained     chan struct{}
	done        chan struct{}
}

func newLoop(id int, srv *Server, p reactor.Poller) *loop {
	l := &loop{
		id:      id,
		srv:     srv,
		cfg:     srv.cfg,
		logger:  srv.logger.Named("loop").With("loop", id),
		poller:  p,
		events:  make([]reactor.Event, maxEventsPerWait),
		scratch: make([]byte, srv.cfg.ReadBufferSize),
		drained: make(chan struct{}),
		done:    make(chan struct{}),
	}
	l.tasks = concurrency.NewTaskQueue(func() { _ = p.Wake() })
	return l
}

func (l *loop) run() {
	defer close(l.done)
	if l.cfg.PinLoops {
		if err := affinity.Pin(l.id); err != nil {
			l.logger.Warn("cpu pinning failed", "error", err)
		}
	}
	interval := l.cfg.sweepInterval()
	nextSweep := time.Now().Add(interval)
	for !l.stopping.Load() {
		wait := time.Until(nextSweep)
		if wait < 0 {
			wait = 0
		}
		n, err := l.poller.Wait(l.events, wait)
		if err != nil {
			l.logger.Error("poller wait failed", "error", err)
			break
		}
		for i := 0; i < n; i++ {
			l.dispatch(l.events[i])
		}
		l.tasks.Drain()
		if now := time.Now(); !now.Before(nextSweep) {
			l.sweep(now)
			nextSweep = now.Add(interval)
		}
		l.checkDrained()
	}
	l.teardown()
}

// post runs fn on the loop if the connection behind h still exists.
// It is safe from any goroutine and returns false once the loop stopped.
func (l *loop) post(h handle, fn func(c *conn)) bool {
	return l.tasks.Push(func() {
		if c := l.conns.get(h); c != nil && !c.closed {
			fn(c)
		}
	})
}

func (l *loop) dispatch(ev reactor.Event) {
	c := l.conns.at(ev.Token)
	if c == nil || c.closed || c.tr.Fd() != ev.Fd {
		return
	}
	if ev.Events&(reactor.EventRead|reactor.EventHangup|reactor.EventError) != 0 {
		if c.readOn {
			c.onReadable()
		} else if ev.Events&(reactor.EventHangup|reactor.EventError) != 0 {
			c.closeNow(errPeerGone)
			return
		}
	}
	if !c.closed && ev.Events.Has(reactor.EventWrite) {
		c.flush()
	}
}

// register adopts an accepted transport. The admission slot was already
// reserved in l.active.
func (l *loop) register(raw api.Transport) {
	if l.stopping.Load() || l.draining {
		raw.Close()
		l.release()
		return
	}
	c := newConn(l, raw)
	c.h = l.conns.insert(c)
	if l.cfg.TLS != nil {
		tt := transport.NewTLSTransport(raw, l.cfg.TLS)
		h := c.h
		tt.SetNotify(func() { l.post(h, (*conn).onTLSProgress) })
		c.tr, c.flusher, c.tlsTr = tt, tt, tt
	}
	if err := l.poller.Add(raw.Fd(), c.h.index(), reactor.EventRead); err != nil {
		l.logger.Warn("cannot watch connection", "error", err)
		l.srv.metrics.Incr(keyConnRejected...)
		l.conns.remove(c.h)
		c.closed = true
		c.tr.Close()
		l.release()
		return
	}
	c.readOn = true
	c.logger.Trace("connection registered", "remote", c.remote)
	l.srv.metrics.Gauge(float32(l.srv.GetActiveConnections()), keyConnActive...)
}

// detach unregisters and closes c.
func (l *loop) detach(c *conn) {
	if err := l.poller.Remove(c.tr.Fd()); err != nil {
		c.logger.Trace("poller remove failed", "error", err)
	}
	if err := c.tr.Close(); err != nil {
		c.logger.Trace("transport close failed", "error", err)
	}
	l.conns.remove(c.h)
	l.srv.metrics.Incr(keyConnClosed...)
	l.release()
}

func (l *loop) release() {
	l.active.Add(-1)
	l.srv.connReleased()
}

func (l *loop) sweep(now time.Time) {
	l.conns.each(func(c *conn) {
		if !c.closed {
			c.sweep(now)
		}
	})
}

// beginDrain stops taking new requests and closes connections as soon as
// their in-flight responses are written.
func (l *loop) beginDrain() {
	l.draining = true
	l.conns.each(func(c *conn) {
		if !c.closed {
			c.drain()
		}
	})
	l.checkDrained()
}

func (l *loop) checkDrained() {
	if l.draining && !l.drainedOnce && l.conns.len() == 0 {
		l.drainedOnce = true
		close(l.drained)
	}
}

// stop makes run return after closing every connection.
func (l *loop) stop() {
	l.stopping.Store(true)
	_ = l.poller.Wake()
}

func (l *loop) teardown() {
	l.tasks.Close()
	l.conns.each(func(c *conn) { c.closeNow(api.ErrServerClosed) })
	l.tasks.Drain()
	l.draining = true
	l.checkDrained()
	if err := l.poller.Close(); err != nil {
		l.logger.Debug("poller close failed", "error", err)
	}
}
