// File: server/server.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Server ties the listeners, the event loops and the handler pool together.

package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/momentics/hioload-http/api"
	"github.com/momentics/hioload-http/control"
	"github.com/momentics/hioload-http/internal/concurrency"
	"github.com/momentics/hioload-http/pool"
	"github.com/momentics/hioload-http/reactor"
	"github.com/momentics/hioload-http/transport"
)

// executorGrace bounds how long Shutdown waits for handlers once their
// contexts are cancelled.
const executorGrace = time.Second

type serverState int

const (
	stateNew serverState = iota
	stateRunning
	stateClosed
)

// Server is an HTTP/1.x and WebSocket server.
type Server struct {
	cfg        *Config
	handler    Handler
	middleware []Middleware
	logger     hclog.Logger
	metrics    *control.Metrics
	control    *control.Registry

	exec    api.Executor
	ownExec bool
	bufs    *pool.BytePool

	loops []*loop
	acc   *acceptor
	addrs []net.Addr

	baseCtx context.Context
	cancel  context.CancelFunc

	mu    sync.Mutex
	state serverState
}

// NewServer creates a server running h. cfg is copied; nil selects
// DefaultConfig.
func NewServer(cfg *Config, h Handler, opts ...ServerOption) (*Server, error) {
	if h == nil {
		return nil, fmt.Errorf("nil handler: %w", api.ErrInvalidArgument)
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := *cfg
	s := &Server{cfg: &c}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.cfg.Validate(); err != nil {
		return nil, err
	}

	s.logger = s.cfg.Logger
	if s.logger == nil {
		s.logger = hclog.New(&hclog.LoggerOptions{Name: "hioload", Level: hclog.Info})
	}
	m, err := control.NewMetrics("hioload", s.cfg.MetricsSink)
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	s.metrics = m
	s.handler = Chain(h, s.middleware...)
	s.bufs = pool.NewBytePool(s.cfg.ReadBufferSize)

	probes := control.NewDebugProbes()
	control.RegisterRuntimeProbes(probes)
	probes.RegisterProbe("server.active_connections", func() any { return s.GetActiveConnections() })
	probes.RegisterProbe("server.loops", func() any { return s.loopLoads() })
	probes.RegisterProbe("server.read_buffers", func() any {
		gets, allocs := s.bufs.Stats()
		return map[string]int64{"gets": gets, "allocs": allocs}
	})
	probes.RegisterProbe("server.executor", func() any { return s.executorStats() })
	probes.RegisterProbe("server.addrs", func() any {
		var out []string
		for _, a := range s.Addrs() {
			out = append(out, a.String())
		}
		return out
	})
	s.control = &control.Registry{Metrics: m, Probes: probes}
	s.baseCtx, s.cancel = context.WithCancel(context.Background())
	return s, nil
}

// Start binds every listen address and starts serving. It returns once
// the server accepts connections.
func (s *Server) Start(ctx context.Context) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case stateRunning:
		return ErrAlreadyStarted
	case stateClosed:
		return ErrServerClosed
	}

	var lns []*transport.Listener
	var pollers []reactor.Poller
	defer func() {
		if err == nil {
			return
		}
		for _, ln := range lns {
			ln.Close()
		}
		for _, p := range pollers {
			p.Close()
		}
	}()
	for _, addr := range s.cfg.ListenAddrs {
		ln, lerr := transport.Listen(ctx, addr, s.cfg.Backlog)
		if lerr != nil {
			return fmt.Errorf("listen %s: %w", addr, lerr)
		}
		lns = append(lns, ln)
	}
	for i := 0; i < s.cfg.NumWorkers; i++ {
		p, perr := reactor.NewPoller()
		if perr != nil {
			return fmt.Errorf("event loop %d: %w", i, perr)
		}
		pollers = append(pollers, p)
	}
	acc, err := newAcceptor(s, lns)
	if err != nil {
		return fmt.Errorf("acceptor: %w", err)
	}

	if s.exec == nil {
		s.exec = concurrency.NewExecutor(s.cfg.ExecutorWorkers, s.cfg.ExecutorQueue, s.logger.Named("executor"))
		s.ownExec = true
	}
	for i, p := range pollers {
		s.loops = append(s.loops, newLoop(i, s, p))
	}
	s.acc = acc
	for _, ln := range lns {
		s.addrs = append(s.addrs, ln.Addr())
	}
	for _, l := range s.loops {
		go l.run()
	}
	go acc.run()
	s.state = stateRunning
	s.logger.Info("server started", "addrs", s.addrs, "loops", len(s.loops), "tls", s.cfg.TLS != nil)
	return nil
}

// Run starts the server, blocks until ctx is cancelled and then shuts
// down within Config.ShutdownTimeout.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	sctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	return s.Shutdown(sctx)
}

// Shutdown stops accepting, lets in-flight responses finish and closes
// every connection. Connections still open when ctx ends are closed
// forcibly.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	prev := s.state
	s.state = stateClosed
	s.mu.Unlock()
	switch prev {
	case stateClosed:
		return ErrServerClosed
	case stateNew:
		s.cancel()
		return nil
	}

	var result *multierror.Error
	if err := s.acc.close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close listeners: %w", err))
	}
	for _, l := range s.loops {
		l.tasks.Push(l.beginDrain)
	}
	for _, l := range s.loops {
		select {
		case <-l.drained:
		case <-ctx.Done():
		}
	}
	if err := ctx.Err(); err != nil {
		s.logger.Warn("shutdown deadline reached, closing remaining connections", "active", s.GetActiveConnections())
		result = multierror.Append(result, err)
	}
	s.cancel()
	for _, l := range s.loops {
		l.stop()
	}
	for _, l := range s.loops {
		<-l.done
	}
	if s.ownExec {
		// Handlers saw their contexts cancelled above; give them a moment to
		// return even when ctx is already spent.
		wait := executorGrace
		if dl, ok := ctx.Deadline(); ok {
			if left := time.Until(dl); left > wait {
				wait = left
			}
		}
		done := make(chan struct{})
		go func() {
			s.exec.Close()
			close(done)
		}()
		timer := time.NewTimer(wait)
		select {
		case <-done:
		case <-timer.C:
			result = multierror.Append(result, fmt.Errorf("handlers still running after %s: %w", wait, api.ErrOperationTimeout))
		}
		timer.Stop()
	}
	s.logger.Info("server stopped")
	return result.ErrorOrNil()
}

// Addrs returns the bound listener addresses.
func (s *Server) Addrs() []net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]net.Addr, len(s.addrs))
	copy(out, s.addrs)
	return out
}

// GetActiveConnections returns the number of admitted connections.
func (s *Server) GetActiveConnections() int64 {
	var n int64
	for _, l := range s.loops {
		n += l.active.Load()
	}
	return n
}

// GetControl exposes metrics and debug probes.
func (s *Server) GetControl() *control.Registry {
	return s.control
}

// Metrics returns the server's metrics collector.
func (s *Server) Metrics() *control.Metrics {
	return s.metrics
}

func (s *Server) executorStats() map[string]int64 {
	s.mu.Lock()
	ex := s.exec
	s.mu.Unlock()
	if st, ok := ex.(interface{ Stats() map[string]int64 }); ok {
		return st.Stats()
	}
	return nil
}

func (s *Server) loopLoads() []int64 {
	out := make([]int64, len(s.loops))
	for i, l := range s.loops {
		out[i] = l.active.Load()
	}
	return out
}

// reserve admits one connection on the least loaded loop with room.
func (s *Server) reserve() *loop {
	limit := int64(s.cfg.MaxConnsPerWorker)
	for {
		var best *loop
		bestN := limit
		for _, l := range s.loops {
			if n := l.active.Load(); n < bestN {
				best, bestN = l, n
			}
		}
		if best == nil {
			return nil
		}
		if best.active.CompareAndSwap(bestN, bestN+1) {
			return best
		}
	}
}

func (s *Server) hasCapacity() bool {
	limit := int64(s.cfg.MaxConnsPerWorker)
	for _, l := range s.loops {
		if l.active.Load() < limit {
			return true
		}
	}
	return false
}

// connReleased is called by a loop after a connection left it.
func (s *Server) connReleased() {
	s.metrics.Gauge(float32(s.GetActiveConnections()), keyConnActive...)
	if s.acc != nil {
		s.acc.notifyCapacity()
	}
}
