// File: server/websocket.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// WebSocket message handling after an upgrade.

package server

import (
	"net"
	"sync/atomic"

	"github.com/momentics/hioload-http/protocol"
	"github.com/momentics/hioload-http/protocol/http1"
)

// MessageHandler receives the events of one upgraded connection. All
// methods run on the event loop owning the connection and must not block.
type MessageHandler interface {
	OnOpen(ws *WebSocket)
	OnMessage(ws *WebSocket, op protocol.Opcode, data []byte)
	// OnClose is called exactly once. code is the peer's close code, the
	// code the server closed with, or 1006 when the connection dropped.
	OnClose(ws *WebSocket, code uint16, reason string)
}

// MessageHandlerFuncs implements MessageHandler with optional callbacks.
type MessageHandlerFuncs struct {
	Open    func(ws *WebSocket)
	Message func(ws *WebSocket, op protocol.Opcode, data []byte)
	Close   func(ws *WebSocket, code uint16, reason string)
}

func (f MessageHandlerFuncs) OnOpen(ws *WebSocket) {
	if f.Open != nil {
		f.Open(ws)
	}
}

func (f MessageHandlerFuncs) OnMessage(ws *WebSocket, op protocol.Opcode, data []byte) {
	if f.Message != nil {
		f.Message(ws, op, data)
	}
}

func (f MessageHandlerFuncs) OnClose(ws *WebSocket, code uint16, reason string) {
	if f.Close != nil {
		f.Close(ws, code, reason)
	}
}

// UpgradeWebSocket validates req as a WebSocket handshake. On success the
// outcome switches protocols and hands messages to h; otherwise it is the
// matching 4xx response. supported lists acceptable subprotocols in order
// of preference.
func UpgradeWebSocket(req *Request, h MessageHandler, supported ...string) Outcome {
	head, err := protocol.UpgradeResponse(req.Head, supported)
	if err != nil {
		status := 400
		if he, ok := err.(*protocol.HandshakeError); ok {
			status = he.Status
		}
		resp := &Response{
			Status: status,
			Header: protocol.RejectHeader(err),
			Body:   StringBody(err.Error() + "\n"),
		}
		resp.Header.Set("Content-Type", "text/plain; charset=utf-8")
		return Respond(resp)
	}
	return Upgrade(head, h)
}

// WebSocket is the handle of an upgraded connection. It is safe to use
// from any goroutine; writes are queued to the owning event loop.
type WebSocket struct {
	l           *loop
	h           handle
	id          string
	subprotocol string
	remote      net.Addr
	closed      atomic.Bool
}

// ID returns the connection ID.
func (ws *WebSocket) ID() string { return ws.id }

// Subprotocol returns the negotiated subprotocol, if any.
func (ws *WebSocket) Subprotocol() string { return ws.subprotocol }

// RemoteAddr returns the peer address.
func (ws *WebSocket) RemoteAddr() net.Addr { return ws.remote }

// Send queues one unfragmented message.
func (ws *WebSocket) Send(op protocol.Opcode, data []byte) error {
	if op != protocol.OpcodeText && op != protocol.OpcodeBinary {
		return protocol.ErrReservedOpcode
	}
	return ws.queue(op, data)
}

// SendText queues a text message.
func (ws *WebSocket) SendText(s string) error {
	return ws.queue(protocol.OpcodeText, []byte(s))
}

// SendBinary queues a binary message.
func (ws *WebSocket) SendBinary(b []byte) error {
	return ws.queue(protocol.OpcodeBinary, b)
}

// Ping queues a ping with payload p.
func (ws *WebSocket) Ping(p []byte) error {
	if len(p) > protocol.MaxControlPayloadLen {
		return protocol.ErrControlTooLong
	}
	return ws.queue(protocol.OpcodePing, p)
}

// Close starts the closing handshake. The connection is dropped when the
// peer answers or Config.WSCloseTimeout elapses.
func (ws *WebSocket) Close(code uint16, reason string) error {
	if !ws.closed.CompareAndSwap(false, true) {
		return ErrWebSocketClosed
	}
	if !ws.l.post(ws.h, func(c *conn) { c.wsClose(code, reason) }) {
		return ErrWebSocketClosed
	}
	return nil
}

func (ws *WebSocket) queue(op protocol.Opcode, data []byte) error {
	if ws.closed.Load() {
		return ErrWebSocketClosed
	}
	frame := protocol.AppendFrame(make([]byte, 0, len(data)+10), op, true, data)
	if !ws.l.post(ws.h, func(c *conn) { c.wsWrite(frame) }) {
		return ErrWebSocketClosed
	}
	return nil
}

// upgradeHead reports whether head can complete an upgrade.
func upgradeHead(head *http1.ResponseHead) bool {
	return head != nil && head.Status == 101
}
