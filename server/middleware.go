// File: server/middleware.go
// Author: momentics <momentics@gmail.com>
//
// Built-in middleware.

package server

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/momentics/hioload-http/control"
)

// LoggingMiddleware logs every request at Debug and failures at Warn.
func LoggingMiddleware(logger hclog.Logger) Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(req *Request) Outcome {
			start := time.Now()
			out := next.Serve(req)
			args := []any{
				"conn_id", req.ConnID,
				"method", req.Head.Method,
				"target", req.Head.Target,
				"duration", time.Since(start),
			}
			switch out.kind {
			case outcomeFail:
				logger.Warn("request failed", append(args, "error", out.err)...)
			case outcomeUpgrade:
				logger.Debug("request upgraded", args...)
			default:
				if out.resp != nil {
					args = append(args, "status", out.resp.Status)
				}
				logger.Debug("request served", args...)
			}
			return out
		})
	}
}

// RecoveryMiddleware turns a handler panic into a Fail outcome and logs it
// with the request that caused it.
func RecoveryMiddleware(logger hclog.Logger) Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(req *Request) (out Outcome) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("handler panicked", "method", req.Head.Method, "target", req.Head.Target, "panic", r)
					out = Fail(fmt.Errorf("%w: %v", ErrHandlerPanic, r))
				}
			}()
			return next.Serve(req)
		})
	}
}

// MetricsMiddleware counts outcomes under http.responses.<class>, where
// class is 2xx..5xx, upgrade or fail.
func MetricsMiddleware(m *control.Metrics) Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(req *Request) Outcome {
			out := next.Serve(req)
			class := "fail"
			switch {
			case out.kind == outcomeUpgrade:
				class = "upgrade"
			case out.kind == outcomeRespond && out.resp != nil:
				status := out.resp.Status
				if status == 0 {
					status = 200
				}
				class = fmt.Sprintf("%dxx", status/100)
			}
			m.Incr("http", "responses", class)
			return out
		})
	}
}
