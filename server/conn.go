// File: server/conn.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Per-connection state machine, read side. Every method runs on the owning
// loop goroutine.

package server

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"time"

	"github.com/eapache/queue"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/momentics/hioload-http/api"
	"github.com/momentics/hioload-http/protocol"
	"github.com/momentics/hioload-http/protocol/http1"
	"github.com/momentics/hioload-http/transport"
)

var (
	errPeerGone     = errors.New("peer hung up")
	errWriteTimeout = errors.New("write timeout")
	errIdleTimeout  = errors.New("idle timeout")
)

// readBudgetFactor bounds how much input one readiness event may pull in,
// in multiples of the read buffer.
const readBudgetFactor = 4

const continueResponse = "HTTP/1.1 100 Continue\r\n\r\n"

type conn struct {
	l       *loop
	h       handle
	id      string
	tr      api.Transport
	flusher api.Flusher
	tlsTr   *transport.TLSTransport
	remote  net.Addr
	logger  hclog.Logger

	phase  api.ConnPhase
	closed bool

	// Read side. inbuf is nil while no input is buffered; otherwise it
	// starts out in rbuf, a buffer borrowed from the server's read pool.
	inbuf       []byte
	rbuf        []byte
	parser      http1.HeadParser
	head        *http1.RequestHead
	body        *http1.BodyDecoder
	bodyBuf     []byte
	readStart   time.Time
	stopReading bool
	peerEOF     bool
	requests    int
	kicked      bool

	// Write side. wbuf[woff:] is the output not yet accepted by the
	// transport.
	slots           *queue.Queue
	wbuf            []byte
	woff            int
	flushBlocked    bool
	closeAfterDrain bool
	lastWrite       time.Time
	lastActivity    time.Time

	// Registered poller interest.
	readOn, writeOn bool

	ws *wsConn
}

func newConn(l *loop, tr api.Transport) *conn {
	now := time.Now()
	c := &conn{
		l:            l,
		tr:           tr,
		id:           uuid.NewString(),
		slots:        queue.New(),
		phase:        api.PhaseAwaitingRequest,
		lastWrite:    now,
		lastActivity: now,
	}
	if a, ok := tr.(interface{ RemoteAddr() net.Addr }); ok {
		c.remote = a.RemoteAddr()
	}
	c.parser.Limits = l.cfg.headLimits()
	c.logger = l.logger.With("conn_id", c.id)
	return c
}

// onReadable pulls available input and advances the state machine.
func (c *conn) onReadable() {
	c.kicked = false
	if c.ws != nil {
		c.wsOnReadable()
		return
	}
	if c.readWanted() && !c.fill() {
		return
	}
	c.process()
	if !c.closed && c.peerEOF {
		c.onPeerEOF()
	}
	if !c.closed {
		c.updateInterest()
	}
}

// onTLSProgress runs when the handshake produced output or finished.
func (c *conn) onTLSProgress() {
	c.flush()
	if !c.closed && c.readWanted() {
		c.onReadable()
	}
}

// kick schedules another onReadable, for input that is buffered above the
// socket and would not raise readiness again.
func (c *conn) kick() {
	if c.kicked || c.closed {
		return
	}
	c.kicked = true
	c.l.post(c.h, (*conn).onReadable)
}

// fill reads until the transport runs dry, the peer closes or the read
// budget is used. It returns false if the connection was closed.
func (c *conn) fill() bool {
	buf := c.l.scratch
	budget := readBudgetFactor * len(buf)
	for got := 0; got < budget; {
		n, err := c.tr.Read(buf)
		if n > 0 {
			if c.inbuf == nil {
				c.rbuf = c.l.srv.bufs.GetEmpty()
				c.inbuf = c.rbuf
			}
			c.inbuf = append(c.inbuf, buf[:n]...)
			c.lastActivity = time.Now()
			got += n
		}
		switch {
		case err == nil:
			if n == 0 {
				return true
			}
		case errors.Is(err, api.ErrWouldBlock):
			return true
		case errors.Is(err, io.EOF):
			c.peerEOF = true
			return true
		default:
			c.closeNow(err)
			return false
		}
	}
	c.kick()
	return true
}

// readWanted reports whether the connection should take more input now.
func (c *conn) readWanted() bool {
	if c.closed || c.peerEOF {
		return false
	}
	if c.ws != nil {
		return !c.ws.closeReceived && !c.ws.failed
	}
	return !c.stopReading && c.slots.Length() < c.l.cfg.MaxPipelineDepth
}

// process parses as many complete requests from inbuf as the pipeline
// depth allows and dispatches them.
func (c *conn) process() {
	cfg := c.l.cfg
	for !c.closed && !c.stopReading && c.ws == nil {
		if c.slots.Length() >= cfg.MaxPipelineDepth {
			return
		}
		if c.head == nil {
			if len(c.inbuf) == 0 {
				return
			}
			if c.readStart.IsZero() {
				c.readStart = time.Now()
				c.phase = api.PhaseReadingHead
			}
			head, n, err := c.parser.ParseRequest(c.inbuf)
			if err != nil {
				c.malformed(err)
				return
			}
			if head == nil {
				return
			}
			c.consume(n)
			framing, err := http1.RequestFraming(head)
			if err != nil {
				c.malformed(err)
				return
			}
			if framing.Mode == http1.Fixed && framing.Length > cfg.MaxBodyBytes {
				c.malformed(http1.ErrBodyTooLarge)
				return
			}
			c.head = head
			c.body = http1.NewBodyDecoder(framing, cfg.headLimits())
			c.bodyBuf = nil
			c.phase = api.PhaseReadingBody
			if head.ExpectsContinue() && !c.body.Done() && len(c.inbuf) == 0 && c.slots.Length() == 0 {
				s := doneSlot([]byte(continueResponse), false)
				s.interim = true
				c.slots.Add(s)
				c.flush()
				if c.closed {
					return
				}
			}
		}
		for !c.body.Done() {
			ch, n, err := c.body.Next(c.inbuf)
			if err != nil {
				c.malformed(err)
				return
			}
			if int64(len(c.bodyBuf)+len(ch.Data)) > cfg.MaxBodyBytes {
				c.malformed(http1.ErrBodyTooLarge)
				return
			}
			c.bodyBuf = append(c.bodyBuf, ch.Data...)
			c.consume(n)
			if n == 0 && !ch.Final {
				return
			}
		}
		head, body, trailer := c.head, c.bodyBuf, c.body.Trailer()
		c.head, c.body, c.bodyBuf = nil, nil, nil
		c.readStart = time.Time{}
		c.dispatch(head, body, trailer)
	}
}

func (c *conn) consume(n int) {
	if n > len(c.inbuf) {
		n = len(c.inbuf)
	}
	c.inbuf = c.inbuf[n:]
	if len(c.inbuf) == 0 {
		c.dropInput()
	}
}

// dropInput discards buffered input and returns the borrowed read buffer.
// Nothing handed out of inbuf aliases it: heads, bodies and messages are
// copied before they leave the connection.
func (c *conn) dropInput() {
	c.inbuf = nil
	if c.rbuf != nil {
		c.l.srv.bufs.Put(c.rbuf)
		c.rbuf = nil
	}
}

// dispatch queues a response slot for the request and hands the request to
// the executor.
func (c *conn) dispatch(head *http1.RequestHead, body []byte, trailer http1.Header) {
	l := c.l
	now := time.Now()
	c.requests++
	last := l.cfg.MaxRequestsPerConn > 0 && c.requests >= l.cfg.MaxRequestsPerConn
	keep := head.KeepAlive() && !last && !l.draining
	if !keep {
		c.stopReading = true
	}

	h := c.h
	s := newSlot(func() { l.post(h, (*conn).flush) })
	if keep && head.IsUpgrade() {
		c.stopReading = true
		s.resumeRead = true
	}
	ctx, cancel := context.WithCancel(l.srv.baseCtx)
	s.started, s.cancel = now, cancel
	c.slots.Add(s)
	c.phase = api.PhaseDispatched

	req := &Request{
		Head:       head,
		Body:       bytes.NewReader(body),
		Trailer:    trailer,
		RemoteAddr: c.remote,
		ConnID:     c.id,
		TLS:        c.tlsState(),
		Received:   now,
		ctx:        ctx,
	}
	l.srv.metrics.Incr(keyHTTPRequests...)
	x := &exchange{slot: s, req: req, handler: l.srv.handler, logger: c.logger, keepAlive: keep}
	if err := l.srv.exec.Submit(x.run); err != nil {
		c.logger.Debug("request rejected", "error", err)
		l.srv.metrics.Incr(keyHTTPRejected...)
		resp := simpleResponse(503, "", true, nil)
		if s.write(true, func(dst []byte) []byte { return append(dst, resp...) }) {
			s.finish(true)
		}
	}
}

func (c *conn) tlsState() *tls.ConnectionState {
	if c.tlsTr == nil {
		return nil
	}
	st := c.tlsTr.ConnectionState()
	return &st
}

// malformed stops reading. With nothing in flight the client gets an error
// response; otherwise the connection closes once earlier responses are out.
func (c *conn) malformed(err error) {
	c.l.srv.metrics.Incr(keyHTTPMalformed...)
	c.logger.Debug("malformed request", "error", err)
	c.resetRead()
	if c.slots.Length() == 0 {
		status := 400
		var pe *http1.ProtocolError
		if errors.As(err, &pe) {
			status = pe.Status
		}
		c.slots.Add(doneSlot(simpleResponse(status, "", true, nil), true))
	}
	c.flush()
}

// readTimedOut answers 408 when no response is pending and closes.
func (c *conn) readTimedOut() {
	c.logger.Debug("read timeout", "phase", c.phase)
	c.resetRead()
	if c.slots.Length() == 0 {
		c.slots.Add(doneSlot(simpleResponse(408, "", true, nil), true))
	}
	c.flush()
}

// resetRead drops any partial request and marks the connection to close
// after its pending output.
func (c *conn) resetRead() {
	c.stopReading = true
	c.closeAfterDrain = true
	c.head, c.body, c.bodyBuf = nil, nil, nil
	c.dropInput()
	c.readStart = time.Time{}
	c.parser.Reset()
	c.phase = api.PhaseClosing
}

// onPeerEOF handles a half-closed peer: finish what is in flight, then
// close. A request cut short is dropped.
func (c *conn) onPeerEOF() {
	if c.head != nil || len(c.inbuf) > 0 {
		c.logger.Trace("peer closed mid-request")
	}
	c.resetRead()
	c.flush()
}

// drain is the graceful shutdown path.
func (c *conn) drain() {
	if c.ws != nil {
		c.wsClose(protocol.CloseGoingAway, "server shutting down")
		return
	}
	c.resetRead()
	c.flush()
}

// idle reports a connection with nothing read, queued or written.
func (c *conn) idle() bool {
	return c.ws == nil && c.head == nil && len(c.inbuf) == 0 &&
		c.slots.Length() == 0 && c.woff >= len(c.wbuf) && !c.flushBlocked
}

// sweep applies the timeouts.
func (c *conn) sweep(now time.Time) {
	cfg := c.l.cfg
	if (c.woff < len(c.wbuf) || c.flushBlocked) && cfg.WriteTimeout > 0 &&
		now.Sub(c.lastWrite) > cfg.WriteTimeout {
		c.closeNow(errWriteTimeout)
		return
	}
	if c.ws != nil {
		c.wsSweep(now)
		return
	}
	if cfg.MaxRequestDuration > 0 {
		c.expireSlots(now)
		if c.closed {
			return
		}
	}
	if cfg.ReadTimeout > 0 && !c.readStart.IsZero() && now.Sub(c.readStart) > cfg.ReadTimeout {
		c.readTimedOut()
		return
	}
	if cfg.IdleTimeout > 0 && c.idle() && now.Sub(c.lastActivity) > cfg.IdleTimeout {
		c.closeNow(errIdleTimeout)
	}
}

// expireSlots ends responses that ran past Config.MaxRequestDuration.
func (c *conn) expireSlots(now time.Time) {
	limit := c.l.cfg.MaxRequestDuration
	expired := false
	for i := 0; i < c.slots.Length(); i++ {
		s := c.slots.Get(i).(*slot)
		if s.interim || s.started.IsZero() || now.Sub(s.started) <= limit {
			continue
		}
		if s.expire(simpleResponse(503, "", true, nil)) {
			c.logger.Debug("request exceeded max duration")
		}
		expired = true
	}
	if expired {
		c.flush()
	}
}

// closeNow tears the connection down without waiting for pending output.
func (c *conn) closeNow(err error) {
	if c.closed {
		return
	}
	if err != nil {
		c.logger.Debug("connection closed", "error", err, "phase", c.phase)
	} else {
		c.logger.Trace("connection closed", "requests", c.requests)
	}
	c.closed = true
	c.phase = api.PhaseClosed
	if c.ws != nil {
		c.wsNotifyClose(protocol.CloseAbnormalClosure, "")
	}
	c.abandonSlots()
	c.dropInput()
	c.l.detach(c)
}

func (c *conn) abandonSlots() {
	for c.slots.Length() > 0 {
		c.slots.Remove().(*slot).abandon()
	}
}
