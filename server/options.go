// File: server/options.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Functional options for NewServer.

package server

import (
	"crypto/tls"

	metrics "github.com/armon/go-metrics"
	"github.com/hashicorp/go-hclog"
	"github.com/momentics/hioload-http/api"
)

// ServerOption configures a Server before it starts.
type ServerOption func(*Server)

// WithMiddleware wraps the handler. The first middleware is outermost.
func WithMiddleware(mw ...Middleware) ServerOption {
	return func(s *Server) {
		s.middleware = append(s.middleware, mw...)
	}
}

// WithLogger overrides Config.Logger.
func WithLogger(l hclog.Logger) ServerOption {
	return func(s *Server) {
		s.cfg.Logger = l
	}
}

// WithTLS serves every listener over TLS.
func WithTLS(cfg *tls.Config) ServerOption {
	return func(s *Server) {
		s.cfg.TLS = cfg
	}
}

// WithMetricsSink overrides Config.MetricsSink.
func WithMetricsSink(sink metrics.MetricSink) ServerOption {
	return func(s *Server) {
		s.cfg.MetricsSink = sink
	}
}

// WithListenAddrs overrides Config.ListenAddrs.
func WithListenAddrs(addrs ...string) ServerOption {
	return func(s *Server) {
		s.cfg.ListenAddrs = addrs
	}
}

// WithNumWorkers overrides the number of event loops.
func WithNumWorkers(n int) ServerOption {
	return func(s *Server) {
		s.cfg.NumWorkers = n
	}
}

// WithExecutorWorkers overrides the size of the handler pool.
func WithExecutorWorkers(n int) ServerOption {
	return func(s *Server) {
		s.cfg.ExecutorWorkers = n
	}
}

// WithExecutor runs handlers on e instead of a pool owned by the server.
// The server does not close an executor it did not create.
func WithExecutor(e api.Executor) ServerOption {
	return func(s *Server) {
		s.exec = e
	}
}
