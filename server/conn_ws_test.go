package server

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/momentics/hioload-http/api"
	"github.com/momentics/hioload-http/fake"
	"github.com/momentics/hioload-http/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const upgradeReq = "GET /ws HTTP/1.1\r\nHost: x\r\nUpgrade: websocket\r\nConnection: Upgrade\r\n" +
	"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\nSec-WebSocket-Version: 13\r\n\r\n"

type wsRecorder struct {
	mu        sync.Mutex
	sock      *WebSocket
	opened    int
	msgs      []string
	closes    int
	closeCode uint16
}

func (r *wsRecorder) handler(echo bool) MessageHandler {
	return MessageHandlerFuncs{
		Open: func(ws *WebSocket) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.sock = ws
			r.opened++
		},
		Message: func(ws *WebSocket, op protocol.Opcode, data []byte) {
			r.mu.Lock()
			r.msgs = append(r.msgs, string(data))
			r.mu.Unlock()
			if echo {
				ws.Send(op, data)
			}
		},
		Close: func(_ *WebSocket, code uint16, _ string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.closes++
			r.closeCode = code
		},
	}
}

func clientFrame(op protocol.Opcode, fin bool, payload []byte) string {
	return string(protocol.AppendMaskedFrame(nil, op, fin, payload, [4]byte{0x11, 0x22, 0x33, 0x44}))
}

func clientText(s string) string { return clientFrame(protocol.OpcodeText, true, []byte(s)) }

func clientClose(code uint16, reason string) string {
	return clientFrame(protocol.OpcodeClose, true, protocol.AppendClosePayload(nil, code, reason))
}

func wsHarness(t *testing.T, rec *wsRecorder, echo bool, mutate func(*Config)) (*harness, *fake.Transport, *conn) {
	handler := HandlerFunc(func(req *Request) Outcome {
		if req.Head.IsUpgrade() {
			return UpgradeWebSocket(req, rec.handler(echo), "chat")
		}
		return Respond(NewResponse(200, StringBody(req.Head.Target)))
	})
	h := newHarness(t, handler, mutate)
	tr, c := h.connect()
	return h, tr, c
}

func TestWebSocketUpgradeHandsOffBufferedFrames(t *testing.T) {
	rec := &wsRecorder{}
	h, tr, c := wsHarness(t, rec, true, nil)

	h.send(tr, c, upgradeReq+clientText("hi"))
	require.Equal(t, 1, h.exec.pending())
	h.pump()

	out := string(tr.SentData())
	assert.True(t, strings.HasPrefix(out, "HTTP/1.1 101 Switching Protocols\r\n"), out)
	assert.Contains(t, out, "Sec-WebSocket-Accept: s3pPLMBiTxaQ9kYGzzhZRbK+xOo=\r\n")
	assert.True(t, strings.HasSuffix(out, "\r\n\r\n\x81\x02hi"), out)
	assert.Equal(t, api.PhaseWebSocketActive, c.phase)
	assert.Equal(t, 1, rec.opened)
	assert.Equal(t, []string{"hi"}, rec.msgs)
	assert.EqualValues(t, 1, counter(h.srv, "hioload.ws.upgrades"))

	tr.ClearSentData()
	h.send(tr, c, clientClose(protocol.CloseNormalClosure, "bye"))
	assert.Equal(t, "\x88\x02\x03\xe8", string(tr.SentData()), "close is echoed")
	assert.True(t, tr.Closed())
	assert.Equal(t, 1, rec.closes)
	assert.EqualValues(t, protocol.CloseNormalClosure, rec.closeCode)
}

func TestWebSocketControlFrames(t *testing.T) {
	rec := &wsRecorder{}
	h, tr, c := wsHarness(t, rec, false, nil)
	h.send(tr, c, upgradeReq)
	h.pump()
	tr.ClearSentData()

	h.send(tr, c, clientFrame(protocol.OpcodeText, false, []byte("he"))+
		clientFrame(protocol.OpcodePing, true, []byte("p"))+
		clientFrame(protocol.OpcodeContinuation, true, []byte("llo")))
	assert.Equal(t, "\x8a\x01p", string(tr.SentData()))
	assert.Equal(t, []string{"hello"}, rec.msgs)
	assert.False(t, tr.Closed())
}

func TestWebSocketViolations(t *testing.T) {
	cases := []struct {
		name  string
		input string
		close string
		code  uint16
		cfg   func(*Config)
	}{
		{
			name:  "unmasked",
			input: string(protocol.AppendFrame(nil, protocol.OpcodeText, true, []byte("x"))),
			close: "\x88\x02\x03\xea",
			code:  protocol.CloseProtocolError,
		},
		{
			name:  "invalid utf8",
			input: clientText("\xff\xfe"),
			close: "\x88\x02\x03\xef",
			code:  protocol.CloseInvalidPayloadData,
		},
		{
			name:  "too large",
			input: clientText(strings.Repeat("a", 200)),
			close: "\x88\x02\x03\xf1",
			code:  protocol.CloseMessageTooBig,
			cfg:   func(c *Config) { c.WSMaxFrameBytes = 100 },
		},
		{
			name:  "rate limited",
			input: clientText("a") + clientText("b"),
			close: "\x88\x02\x03\xf0",
			code:  protocol.ClosePolicyViolation,
			cfg: func(c *Config) {
				c.WSRateLimit = 1
				c.WSRateBurst = 1
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := &wsRecorder{}
			h, tr, c := wsHarness(t, rec, false, tc.cfg)
			h.send(tr, c, upgradeReq)
			h.pump()
			tr.ClearSentData()

			h.send(tr, c, tc.input)
			assert.Equal(t, tc.close, string(tr.SentData()))
			assert.True(t, tr.Closed())
			assert.Equal(t, 1, rec.closes)
			assert.Equal(t, tc.code, rec.closeCode)
		})
	}
}

func TestWebSocketRejectedUpgradeKeepsHTTP(t *testing.T) {
	rec := &wsRecorder{}
	h, tr, c := wsHarness(t, rec, false, nil)
	bad := strings.Replace(upgradeReq, "Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n", "", 1)

	h.send(tr, c, bad+getA)
	require.Equal(t, 1, h.exec.pending(), "reading waits for the upgrade outcome")
	h.pump()

	out := string(tr.SentData())
	assert.True(t, strings.HasPrefix(out, "HTTP/1.1 400 Bad Request\r\n"), out)
	assert.True(t, strings.HasSuffix(out, okA), out)
	assert.False(t, tr.Closed())
	assert.Zero(t, rec.opened)
}

func TestWebSocketServerClose(t *testing.T) {
	rec := &wsRecorder{}
	h, tr, c := wsHarness(t, rec, false, func(cfg *Config) { cfg.WSCloseTimeout = time.Second })
	h.send(tr, c, upgradeReq)
	h.pump()
	tr.ClearSentData()
	require.NotNil(t, rec.sock)

	require.NoError(t, rec.sock.SendText("last"))
	require.NoError(t, rec.sock.Close(protocol.CloseNormalClosure, "done"))
	assert.ErrorIs(t, rec.sock.SendText("late"), ErrWebSocketClosed)
	assert.ErrorIs(t, rec.sock.Close(protocol.CloseNormalClosure, ""), ErrWebSocketClosed)
	h.loop.tasks.Drain()

	assert.Equal(t, "\x81\x04last\x88\x06\x03\xe8done", string(tr.SentData()))
	assert.False(t, tr.Closed(), "waits for the peer's close")

	h.loop.sweep(time.Now().Add(2 * time.Second))
	assert.True(t, tr.Closed())
	assert.Equal(t, 1, rec.closes)
	assert.EqualValues(t, protocol.CloseAbnormalClosure, rec.closeCode)
}

func TestWebSocketHeartbeat(t *testing.T) {
	rec := &wsRecorder{}
	h, tr, c := wsHarness(t, rec, false, func(cfg *Config) { cfg.WSPingInterval = time.Second })
	h.send(tr, c, upgradeReq)
	h.pump()
	tr.ClearSentData()

	now := time.Now()
	h.loop.sweep(now.Add(1500 * time.Millisecond))
	assert.Equal(t, "\x89\x00", string(tr.SentData()))
	assert.False(t, tr.Closed())

	h.loop.sweep(now.Add(3 * time.Second))
	assert.True(t, tr.Closed())
	assert.EqualValues(t, protocol.CloseAbnormalClosure, rec.closeCode)
}

func TestWebSocketHandleAfterConnectionGone(t *testing.T) {
	rec := &wsRecorder{}
	h, tr, c := wsHarness(t, rec, false, nil)
	h.send(tr, c, upgradeReq)
	h.pump()
	sock := rec.sock
	require.NotNil(t, sock)

	c.closeNow(nil)
	assert.ErrorIs(t, sock.SendText("x"), ErrWebSocketClosed)

	// A new connection reusing the arena slot must not receive it.
	tr2, c2 := h.connect()
	assert.Equal(t, c.h.index(), c2.h.index())
	h.loop.post(sock.h, func(c *conn) { c.wsWrite([]byte("stale")) })
	h.loop.tasks.Drain()
	assert.Empty(t, tr2.SentData())
}

func TestWebSocketHandlerPanicClosesOnlyItsConnection(t *testing.T) {
	var closeCode uint16
	handler := HandlerFunc(func(req *Request) Outcome {
		if req.Head.IsUpgrade() {
			return UpgradeWebSocket(req, MessageHandlerFuncs{
				Message: func(*WebSocket, protocol.Opcode, []byte) { panic("boom") },
				Close:   func(_ *WebSocket, code uint16, _ string) { closeCode = code },
			})
		}
		return Respond(NewResponse(200, StringBody(req.Head.Target)))
	})
	h := newHarness(t, handler, nil)
	tr, c := h.connect()
	h.send(tr, c, upgradeReq)
	h.pump()
	tr.ClearSentData()

	require.NotPanics(t, func() { h.send(tr, c, clientText("hi")+clientText("again")) })
	assert.Equal(t, "\x88\x02\x03\xf3", string(tr.SentData()))
	assert.True(t, tr.Closed())
	assert.EqualValues(t, protocol.CloseInternalServerErr, closeCode)

	other, oc := h.connect()
	h.send(other, oc, getA)
	h.pump()
	assert.Equal(t, okA, string(other.SentData()))
}
