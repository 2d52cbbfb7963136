// File: server/acceptor.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Acceptor: listening sockets in a poller of their own. New connections go
// to the least loaded loop; while every loop is full the listeners are taken
// out of the poller and the kernel backlog holds further clients.

package server

import (
	"errors"
	"sync/atomic"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/momentics/hioload-http/api"
	"github.com/momentics/hioload-http/reactor"
	"github.com/momentics/hioload-http/transport"
)

type acceptor struct {
	s      *Server
	lns    []*transport.Listener
	poller reactor.Poller
	logger hclog.Logger

	paused     bool
	pausedFlag atomic.Bool
	stopping   atomic.Bool
	done       chan struct{}
}

func newAcceptor(s *Server, lns []*transport.Listener) (*acceptor, error) {
	p, err := reactor.NewPoller()
	if err != nil {
		return nil, err
	}
	a := &acceptor{
		s:      s,
		lns:    lns,
		poller: p,
		logger: s.logger.Named("acceptor"),
		done:   make(chan struct{}),
	}
	if err := a.watch(); err != nil {
		p.Close()
		return nil, err
	}
	return a, nil
}

func (a *acceptor) watch() error {
	for i, ln := range a.lns {
		if err := a.poller.Add(ln.Fd(), uint32(i), reactor.EventRead); err != nil {
			return err
		}
	}
	return nil
}

func (a *acceptor) run() {
	defer close(a.done)
	events := make([]reactor.Event, len(a.lns)+1)
	for {
		n, err := a.poller.Wait(events, -1)
		if a.stopping.Load() {
			return
		}
		if err != nil {
			a.logger.Error("acceptor wait failed", "error", err)
			return
		}
		if a.paused {
			a.resume()
		}
		for i := 0; i < n && !a.paused; i++ {
			a.acceptFrom(a.lns[events[i].Token])
		}
	}
}

// acceptFrom accepts until the backlog is empty or no loop has room.
func (a *acceptor) acceptFrom(ln *transport.Listener) {
	for {
		l := a.s.reserve()
		if l == nil {
			a.pause()
			return
		}
		tr, err := ln.Accept()
		if err != nil {
			l.active.Add(-1)
			if !errors.Is(err, api.ErrWouldBlock) {
				a.logger.Warn("accept failed", "addr", ln.Addr(), "error", err)
			}
			return
		}
		a.s.metrics.Incr(keyConnAccepted...)
		if !l.tasks.Push(func() { l.register(tr) }) {
			tr.Close()
			l.active.Add(-1)
			return
		}
	}
}

func (a *acceptor) pause() {
	if a.paused {
		return
	}
	for _, ln := range a.lns {
		if err := a.poller.Remove(ln.Fd()); err != nil {
			a.logger.Debug("pause listener", "addr", ln.Addr(), "error", err)
		}
	}
	a.paused = true
	a.pausedFlag.Store(true)
	a.logger.Debug("all loops at capacity, accepting paused")
	// A connection may have closed before the flag was visible.
	if a.s.hasCapacity() {
		a.resume()
	}
}

func (a *acceptor) resume() {
	if !a.s.hasCapacity() {
		return
	}
	if err := a.watch(); err != nil {
		a.logger.Error("resume listeners", "error", err)
		return
	}
	a.paused = false
	a.pausedFlag.Store(false)
	a.logger.Debug("accepting resumed")
}

// notifyCapacity is called by loops after a connection closed.
func (a *acceptor) notifyCapacity() {
	if a.pausedFlag.Load() {
		_ = a.poller.Wake()
	}
}

// close stops the acceptor goroutine and closes the listeners.
func (a *acceptor) close() error {
	a.stopping.Store(true)
	_ = a.poller.Wake()
	<-a.done
	var result *multierror.Error
	for _, ln := range a.lns {
		if err := ln.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := a.poller.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}
