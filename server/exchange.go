// File: server/exchange.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// exchange runs one request through the handler on the executor and
// encodes the outcome into the request's slot.

package server

import (
	"errors"
	"fmt"
	"io"

	"github.com/hashicorp/go-hclog"
	"github.com/momentics/hioload-http/protocol/http1"
)

var errAbandoned = errors.New("response abandoned")

type exchange struct {
	slot    *slot
	req     *Request
	handler Handler
	logger  hclog.Logger

	// keepAlive is false when the client, the request budget or a
	// shutdown already rule out another request on this connection.
	keepAlive bool
	headSent  bool
}

func (x *exchange) run() {
	out := x.serve()
	switch out.kind {
	case outcomeUpgrade:
		if !upgradeHead(out.head) || out.handler == nil {
			x.fail(ErrBadUpgrade)
			return
		}
		head := http1.AppendResponseHead(nil, out.head, http1.Framing{Mode: http1.None})
		x.slot.finishUpgrade(head, out.handler, out.head.Header.Get("Sec-WebSocket-Protocol"))
	case outcomeFail:
		x.fail(out.err)
	default:
		if out.resp == nil {
			x.fail(errors.New("handler returned a nil response"))
			return
		}
		x.respond(out.resp)
	}
}

func (x *exchange) serve() (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = Fail(fmt.Errorf("%w: %v", ErrHandlerPanic, r))
		}
	}()
	return x.handler.Serve(x.req)
}

// fail answers 500 and closes, or cuts the connection when part of the
// response is already out.
func (x *exchange) fail(err error) {
	if errors.Is(err, errAbandoned) {
		return
	}
	x.logger.Debug("request failed", "method", x.req.Head.Method, "target", x.req.Head.Target, "error", err)
	if x.headSent {
		x.slot.fail()
		return
	}
	resp := simpleResponse(500, "", true, nil)
	if x.slot.write(true, func(dst []byte) []byte { return append(dst, resp...) }) {
		x.slot.finish(true)
	}
}

func (x *exchange) respond(resp *Response) {
	status := resp.Status
	if status == 0 {
		status = 200
	}
	if status < 200 || status > 999 {
		x.fail(fmt.Errorf("invalid final status %d", status))
		return
	}
	head := &http1.ResponseHead{
		Version: http1.HTTP11,
		Status:  status,
		Reason:  resp.Reason,
		Header:  resp.Header.Clone(),
	}

	size := int64(0)
	if resp.Body != nil {
		size = -1
		if s, ok := resp.Body.(Sizer); ok {
			size = s.Size()
		}
	}
	peer := x.req.Head.Version
	framing := http1.ChooseFraming(peer, head.Header, size, resp.Transform != nil)
	bodyless := x.req.Head.Method == "HEAD" || status == 204 || status == 304
	if status == 204 || status == 304 {
		framing = http1.Framing{Mode: http1.None}
	} else if x.req.Head.Method == "HEAD" && framing.Mode == http1.UntilClose {
		framing = http1.Framing{Mode: http1.None}
	}

	keep := x.keepAlive && !head.Close() && framing.Mode != http1.UntilClose
	if !keep && !head.Close() {
		head.Header.Add("Connection", "close")
	} else if keep && !peer.AtLeast(1, 1) {
		head.Header.Set("Connection", "keep-alive")
	}

	if !x.slot.write(true, func(dst []byte) []byte {
		return http1.AppendResponseHead(dst, head, framing)
	}) {
		return
	}
	x.headSent = true
	if !bodyless {
		if err := x.writeBody(resp, framing); err != nil {
			x.fail(err)
			return
		}
	}
	x.slot.finish(!keep)
}

func (x *exchange) writeBody(resp *Response, framing http1.Framing) error {
	remaining := framing.Length
	emit := func(p []byte) error {
		if len(p) == 0 {
			return nil
		}
		switch framing.Mode {
		case http1.Fixed:
			if int64(len(p)) > remaining {
				return ErrBodyLength
			}
			remaining -= int64(len(p))
		case http1.Chunked:
			if !x.slot.write(false, func(dst []byte) []byte { return http1.AppendChunk(dst, p) }) {
				return errAbandoned
			}
			return nil
		}
		if !x.slot.write(false, func(dst []byte) []byte { return append(dst, p...) }) {
			return errAbandoned
		}
		return nil
	}

	ctx := x.req.Context()
	if resp.Body != nil {
		for {
			p, err := resp.Body.Next(ctx)
			if len(p) > 0 && resp.Transform != nil {
				var terr error
				if p, terr = resp.Transform.Transform(p); terr != nil {
					return terr
				}
			}
			if eerr := emit(p); eerr != nil {
				return eerr
			}
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return err
			}
		}
	}
	if resp.Transform != nil {
		tail, err := resp.Transform.Finish()
		if err != nil {
			return err
		}
		if err := emit(tail); err != nil {
			return err
		}
	}
	switch framing.Mode {
	case http1.Fixed:
		if remaining != 0 {
			return ErrBodyLength
		}
	case http1.Chunked:
		if !x.slot.write(false, func(dst []byte) []byte { return http1.AppendLastChunk(dst, nil) }) {
			return errAbandoned
		}
	}
	return nil
}

// simpleResponse encodes a short text response generated by the server.
func simpleResponse(status int, msg string, closeConn bool, extra http1.Header) []byte {
	if msg == "" {
		msg = http1.StatusText(status)
	}
	body := msg + "\n"
	head := &http1.ResponseHead{Version: http1.HTTP11, Status: status, Header: extra.Clone()}
	head.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if closeConn {
		head.Header.Set("Connection", "close")
	}
	b := http1.AppendResponseHead(nil, head, http1.Framing{Mode: http1.Fixed, Length: int64(len(body))})
	return append(b, body...)
}
