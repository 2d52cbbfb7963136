// File: server/conn_ws.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// WebSocket phase of a connection: frame parsing, control frames, the
// closing handshake and heartbeats.

package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/momentics/hioload-http/api"
	"github.com/momentics/hioload-http/protocol"
	"golang.org/x/time/rate"
)

var (
	errCloseTimeout     = errors.New("websocket close handshake timed out")
	errHeartbeatTimeout = errors.New("websocket heartbeat timed out")
	errSlowConsumer     = errors.New("websocket output backlog exceeded")
	errRateLimited      = &protocol.FrameError{Code: protocol.ClosePolicyViolation, Reason: "message rate exceeded"}
)

type wsConn struct {
	handler MessageHandler
	sock    *WebSocket
	asm     protocol.Assembler
	limiter *rate.Limiter

	closeSent     bool
	closeSentAt   time.Time
	closeReceived bool
	failed        bool
	notified      bool

	lastFrame time.Time
	lastPing  time.Time
}

// enterWebSocket switches the connection to frames once the 101 is out.
// Bytes read after the upgrade request are kept and parsed as frames.
func (c *conn) enterWebSocket(h MessageHandler, subprotocol string) {
	cfg := c.l.cfg
	now := time.Now()
	ws := &wsConn{
		handler:   h,
		asm:       protocol.Assembler{MaxMessage: cfg.WSMaxMessageBytes},
		lastFrame: now,
		lastPing:  now,
	}
	if cfg.WSRateLimit > 0 {
		ws.limiter = rate.NewLimiter(rate.Limit(cfg.WSRateLimit), cfg.WSRateBurst)
	}
	ws.sock = &WebSocket{l: c.l, h: c.h, id: c.id, subprotocol: subprotocol, remote: c.remote}
	c.ws = ws
	c.stopReading = false
	c.phase = api.PhaseWebSocketActive
	c.l.srv.metrics.Incr(keyWSUpgrades...)
	c.logger.Debug("websocket established", "subprotocol", subprotocol)
	c.wsCall(func() { h.OnOpen(ws.sock) })
	c.kick()
}

func (c *conn) wsOnReadable() {
	if c.readWanted() && !c.fill() {
		return
	}
	c.wsProcess()
	if !c.closed && c.peerEOF {
		// The peer went away without finishing the closing handshake.
		c.closeNow(errPeerGone)
		return
	}
	if !c.closed {
		c.updateInterest()
	}
}

// wsProcess handles every complete frame in inbuf.
func (c *conn) wsProcess() {
	ws := c.ws
	lim := protocol.FrameLimits{MaxPayload: c.l.cfg.WSMaxFrameBytes, RequireMask: true}
	for !c.closed && !ws.closeReceived && !ws.failed {
		f, n, err := protocol.ParseFrame(c.inbuf, lim)
		if err != nil {
			c.wsFail(err)
			return
		}
		if f == nil {
			return
		}
		ws.lastFrame = time.Now()
		switch f.Opcode {
		case protocol.OpcodePing:
			if !ws.closeSent {
				c.wsAppend(protocol.AppendFrame(nil, protocol.OpcodePong, true, f.Payload))
			}
		case protocol.OpcodePong:
		case protocol.OpcodeClose:
			code, reason, perr := protocol.ParseClosePayload(f.Payload)
			c.consume(n)
			if perr != nil {
				c.wsFail(perr)
				return
			}
			c.wsPeerClosed(code, reason)
			return
		default:
			msg, complete, aerr := ws.asm.Push(f)
			if aerr != nil {
				c.wsFail(aerr)
				return
			}
			if complete && !ws.closeSent {
				if ws.limiter != nil && !ws.limiter.Allow() {
					c.wsFail(errRateLimited)
					return
				}
				c.l.srv.metrics.Incr(keyWSMessages...)
				c.wsCall(func() { ws.handler.OnMessage(ws.sock, msg.Opcode, msg.Data) })
				if c.closed || ws.failed {
					return
				}
			}
		}
		c.consume(n)
	}
}

// wsPeerClosed echoes the peer's close and closes once the echo is out.
func (c *conn) wsPeerClosed(code uint16, reason string) {
	ws := c.ws
	ws.closeReceived = true
	if !ws.closeSent {
		ws.closeSent, ws.closeSentAt = true, time.Now()
		c.wsAppend(protocol.AppendCloseFrame(nil, code, ""))
	}
	c.wsNotifyClose(code, reason)
	c.closeAfterDrain = true
	c.phase = api.PhaseClosing
	c.flush()
}

// wsFail sends a close frame carrying the violation's code and drops the
// connection after it.
func (c *conn) wsFail(err error) {
	ws := c.ws
	code := uint16(protocol.CloseProtocolError)
	var fe *protocol.FrameError
	if errors.As(err, &fe) {
		code = fe.Code
	}
	c.logger.Debug("websocket failed", "error", err, "code", code)
	ws.failed = true
	c.dropInput()
	if !ws.closeSent {
		ws.closeSent, ws.closeSentAt = true, time.Now()
		c.wsAppend(protocol.AppendCloseFrame(nil, code, ""))
	}
	c.wsNotifyClose(code, err.Error())
	c.closeAfterDrain = true
	c.phase = api.PhaseClosing
	c.flush()
}

// wsClose starts a server-initiated closing handshake.
func (c *conn) wsClose(code uint16, reason string) {
	ws := c.ws
	if ws == nil || ws.closeSent {
		return
	}
	ws.sock.closed.Store(true)
	ws.closeSent, ws.closeSentAt = true, time.Now()
	c.wsAppend(protocol.AppendCloseFrame(nil, code, reason))
	c.phase = api.PhaseClosing
	c.flush()
}

// wsWrite queues an encoded data or ping frame from the handle.
func (c *conn) wsWrite(frame []byte) {
	if c.ws == nil || c.ws.closeSent {
		return
	}
	c.wsAppend(frame)
	if c.closed {
		return
	}
	c.flush()
}

func (c *conn) wsAppend(frame []byte) {
	if c.woff >= len(c.wbuf) {
		c.lastWrite = time.Now()
	}
	c.wbuf = append(c.wbuf, frame...)
	if limit := c.l.cfg.WSMaxBuffered; limit > 0 && len(c.wbuf)-c.woff > limit {
		c.closeNow(errSlowConsumer)
	}
}

// wsNotifyClose delivers OnClose once.
func (c *conn) wsNotifyClose(code uint16, reason string) {
	ws := c.ws
	if ws.notified {
		return
	}
	ws.notified = true
	ws.sock.closed.Store(true)
	c.wsCall(func() { ws.handler.OnClose(ws.sock, code, reason) })
}

// wsCall runs a handler callback; a panic fails the connection with 1011.
func (c *conn) wsCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("websocket handler panicked", "panic", r)
			if !c.closed && !c.ws.failed {
				c.wsFail(&protocol.FrameError{
					Code:   protocol.CloseInternalServerErr,
					Reason: fmt.Sprint("handler panic: ", r),
				})
			}
		}
	}()
	fn()
}

func (c *conn) wsSweep(now time.Time) {
	ws, cfg := c.ws, c.l.cfg
	if ws.closeSent {
		if cfg.WSCloseTimeout > 0 && now.Sub(ws.closeSentAt) > cfg.WSCloseTimeout {
			c.closeNow(errCloseTimeout)
		}
		return
	}
	if cfg.WSPingInterval <= 0 {
		return
	}
	if now.Sub(ws.lastFrame) > 2*cfg.WSPingInterval {
		c.closeNow(errHeartbeatTimeout)
		return
	}
	if now.Sub(ws.lastPing) >= cfg.WSPingInterval {
		ws.lastPing = now
		c.wsWrite(protocol.AppendFrame(nil, protocol.OpcodePing, true, nil))
	}
}
