// File: server/pipeline.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The pipeline contract: what a handler receives and what it may return.

package server

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"time"

	"github.com/momentics/hioload-http/protocol/http1"
)

// Request is one parsed request with its fully received body.
type Request struct {
	Head    *http1.RequestHead
	Body    io.Reader
	Trailer http1.Header

	RemoteAddr net.Addr
	ConnID     string
	// TLS is set for connections served over TLS.
	TLS *tls.ConnectionState

	// Received is when the request head was complete.
	Received time.Time

	ctx context.Context
}

// Context is cancelled when the connection goes away or the request
// exceeds Config.MaxRequestDuration.
func (r *Request) Context() context.Context {
	if r.ctx == nil {
		return context.Background()
	}
	return r.ctx
}

// Response describes a response to be written. A nil Body sends no content.
type Response struct {
	Status int
	Reason string
	Header http1.Header
	Body   BodyProducer

	// Transform rewrites body bytes on the way out, for example to
	// compress them. Its output length is unknown, so it forces chunked
	// framing for HTTP/1.1 peers and close-delimited framing otherwise.
	Transform Transform
}

// NewResponse returns a response with the given status and body.
func NewResponse(status int, body BodyProducer) *Response {
	return &Response{Status: status, Body: body}
}

type outcomeKind uint8

const (
	outcomeRespond outcomeKind = iota
	outcomeUpgrade
	outcomeFail
)

// Outcome is the result of a handler: a response, a protocol switch or a
// failure. Build it with Respond, Upgrade or Fail.
type Outcome struct {
	kind    outcomeKind
	resp    *Response
	head    *http1.ResponseHead
	handler MessageHandler
	err     error
}

// Respond completes the exchange with r.
func Respond(r *Response) Outcome {
	return Outcome{kind: outcomeRespond, resp: r}
}

// Upgrade switches the connection to WebSocket framing once head (a 101)
// has been written. h then receives every message on the event loop that
// owns the connection.
func Upgrade(head *http1.ResponseHead, h MessageHandler) Outcome {
	return Outcome{kind: outcomeUpgrade, head: head, handler: h}
}

// Fail aborts the exchange. If nothing was written yet the client gets a
// 500 and the connection is closed.
func Fail(err error) Outcome {
	return Outcome{kind: outcomeFail, err: err}
}

// Err returns the error of a Fail outcome.
func (o Outcome) Err() error { return o.err }

// Handler serves one request.
type Handler interface {
	Serve(req *Request) Outcome
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(req *Request) Outcome

// Serve calls f(req).
func (f HandlerFunc) Serve(req *Request) Outcome { return f(req) }

// Middleware decorates a Handler.
type Middleware func(Handler) Handler

// Chain wraps base with mw. The first middleware is the outermost.
func Chain(base Handler, mw ...Middleware) Handler {
	h := base
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}
