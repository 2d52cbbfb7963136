package server

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/momentics/hioload-http/api"
	"github.com/momentics/hioload-http/protocol/http1"
	"github.com/momentics/hioload-http/reactor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	getA = "GET /a HTTP/1.1\r\nHost: x\r\n\r\n"
	getB = "GET /b HTTP/1.1\r\nHost: x\r\n\r\n"

	okA = "HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\n/a"
	okB = "HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\n/b"
)

func TestConnKeepAlive(t *testing.T) {
	h := newHarness(t, targetHandler(), nil)
	tr, c := h.connect()

	h.send(tr, c, getA)
	assert.Equal(t, api.PhaseDispatched, c.phase)
	h.pump()
	assert.Equal(t, okA, string(tr.SentData()))
	assert.Equal(t, api.PhaseKeepAlive, c.phase)

	tr.ClearSentData()
	h.send(tr, c, getB)
	h.pump()
	assert.Equal(t, okB, string(tr.SentData()))
	assert.False(t, tr.Closed())
	assert.Equal(t, 2, c.requests)
}

func TestConnPipelinedResponsesKeepRequestOrder(t *testing.T) {
	h := newHarness(t, targetHandler(), nil)
	tr, c := h.connect()

	h.send(tr, c, getA+getB)
	require.Equal(t, 2, h.exec.pending())

	// B finishes first; nothing may be written before A.
	h.exec.runAt(1)
	h.loop.tasks.Drain()
	assert.Empty(t, tr.SentData())

	h.exec.runAt(0)
	h.loop.tasks.Drain()
	assert.Equal(t, okA+okB, string(tr.SentData()))
	assert.False(t, tr.Closed())
}

func TestConnPipelinedInSingleBytes(t *testing.T) {
	h := newHarness(t, targetHandler(), nil)
	tr, c := h.connect()

	for _, b := range []byte(getA + getB) {
		h.send(tr, c, string(b))
	}
	h.pump()
	assert.Equal(t, okA+okB, string(tr.SentData()))
}

func TestConnRequestBody(t *testing.T) {
	var got []string
	handler := HandlerFunc(func(req *Request) Outcome {
		b, err := io.ReadAll(req.Body)
		require.NoError(t, err)
		got = append(got, string(b))
		return Respond(NewResponse(204, nil))
	})
	h := newHarness(t, handler, nil)
	tr, c := h.connect()

	h.send(tr, c, "POST / HTTP/1.1\r\nContent-Length: 5\r\n\r\nhel")
	assert.Equal(t, api.PhaseReadingBody, c.phase)
	h.send(tr, c, "lo"+"POST / HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n3\r\nabc\r\n0\r\n\r\n")
	h.pump()

	assert.Equal(t, []string{"hello", "abc"}, got)
	assert.Equal(t, strings.Repeat("HTTP/1.1 204 No Content\r\n\r\n", 2), string(tr.SentData()))
}

func TestConnCloseRequested(t *testing.T) {
	h := newHarness(t, targetHandler(), nil)
	tr, c := h.connect()

	h.send(tr, c, "GET /a HTTP/1.1\r\nConnection: close\r\n\r\n"+getB)
	require.Equal(t, 1, h.exec.pending(), "nothing is read after a closing request")
	h.pump()

	assert.Equal(t, "HTTP/1.1 200 OK\r\nConnection: close\r\nContent-Length: 2\r\n\r\n/a", string(tr.SentData()))
	assert.True(t, tr.Closed())
	assert.True(t, c.closed)
	assert.Equal(t, 0, h.loop.conns.len())
	assert.EqualValues(t, 0, h.loop.active.Load())
}

func TestConnResponseRequestsClose(t *testing.T) {
	handler := HandlerFunc(func(*Request) Outcome {
		r := NewResponse(200, StringBody("x"))
		r.Header.Set("Connection", "close")
		return Respond(r)
	})
	h := newHarness(t, handler, nil)
	tr, c := h.connect()

	h.send(tr, c, getA+getB)
	h.pump()
	out := string(tr.SentData())
	assert.Equal(t, 1, strings.Count(out, "HTTP/1.1 200"), "second response is dropped")
	assert.True(t, tr.Closed())
}

func TestConnHTTP10(t *testing.T) {
	stream := HandlerFunc(func(*Request) Outcome {
		ch := make(chan []byte, 2)
		ch <- []byte("ab")
		ch <- []byte("cd")
		close(ch)
		return Respond(NewResponse(200, StreamBody(ch)))
	})

	t.Run("close delimited", func(t *testing.T) {
		h := newHarness(t, stream, nil)
		tr, c := h.connect()
		h.send(tr, c, "GET / HTTP/1.0\r\nConnection: keep-alive\r\n\r\n")
		h.pump()
		assert.Equal(t, "HTTP/1.1 200 OK\r\nConnection: close\r\n\r\nabcd", string(tr.SentData()))
		assert.True(t, tr.Closed())
	})

	t.Run("keep-alive with length", func(t *testing.T) {
		h := newHarness(t, textHandler("ok"), nil)
		tr, c := h.connect()
		h.send(tr, c, "GET / HTTP/1.0\r\nConnection: keep-alive\r\n\r\n")
		h.pump()
		assert.Equal(t, "HTTP/1.1 200 OK\r\nConnection: keep-alive\r\nContent-Length: 2\r\n\r\nok", string(tr.SentData()))
		assert.False(t, tr.Closed())
	})

	t.Run("no keep-alive", func(t *testing.T) {
		h := newHarness(t, textHandler("ok"), nil)
		tr, c := h.connect()
		h.send(tr, c, "GET / HTTP/1.0\r\n\r\n")
		h.pump()
		assert.Contains(t, string(tr.SentData()), "Connection: close\r\n")
		assert.True(t, tr.Closed())
	})
}

func TestConnChunkedStream(t *testing.T) {
	handler := HandlerFunc(func(*Request) Outcome {
		ch := make(chan []byte, 3)
		ch <- []byte("ab")
		ch <- nil
		ch <- []byte("cde")
		close(ch)
		return Respond(NewResponse(200, StreamBody(ch)))
	})
	h := newHarness(t, handler, nil)
	tr, c := h.connect()
	h.send(tr, c, getA)
	h.pump()
	assert.Equal(t, "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n2\r\nab\r\n3\r\ncde\r\n0\r\n\r\n", string(tr.SentData()))
	assert.False(t, tr.Closed())
}

type upperTransform struct{ finished bool }

func (u *upperTransform) Transform(p []byte) ([]byte, error) {
	return []byte(strings.ToUpper(string(p))), nil
}

func (u *upperTransform) Finish() ([]byte, error) {
	u.finished = true
	return []byte("!"), nil
}

func TestConnTransformForcesChunked(t *testing.T) {
	tf := &upperTransform{}
	handler := HandlerFunc(func(*Request) Outcome {
		r := NewResponse(200, StringBody("hi"))
		r.Transform = tf
		return Respond(r)
	})
	h := newHarness(t, handler, nil)
	tr, c := h.connect()
	h.send(tr, c, getA)
	h.pump()
	assert.Equal(t, "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n2\r\nHI\r\n1\r\n!\r\n0\r\n\r\n", string(tr.SentData()))
	assert.True(t, tf.finished)
}

func TestConnHeadResponseHasNoBody(t *testing.T) {
	h := newHarness(t, textHandler("hello"), nil)
	tr, c := h.connect()
	h.send(tr, c, "HEAD / HTTP/1.1\r\n\r\n"+getA)
	h.pump()
	assert.Equal(t, "HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\n"+
		"HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhello", string(tr.SentData()))
}

func TestConnMalformedWithNothingInFlight(t *testing.T) {
	h := newHarness(t, targetHandler(), nil)
	tr, c := h.connect()

	h.send(tr, c, "GET / HTTP/1.1\nHost: x\r\n\r\n")
	out := string(tr.SentData())
	assert.True(t, strings.HasPrefix(out, "HTTP/1.1 400 Bad Request\r\n"), out)
	assert.Contains(t, out, "Connection: close\r\n")
	assert.True(t, tr.Closed())
	assert.Zero(t, h.exec.pending())
	assert.EqualValues(t, 1, counter(h.srv, "hioload.http.malformed"))
}

func TestConnMalformedStatusCodes(t *testing.T) {
	cases := map[string]string{
		"GET / HTTP/2.0\r\n\r\n":                                          "HTTP/1.1 505 ",
		"POST / HTTP/1.1\r\nContent-Length: 1\r\nContent-Length: 2\r\n\r\n": "HTTP/1.1 400 ",
		"POST / HTTP/1.1\r\nTransfer-Encoding: gzip\r\n\r\n":               "HTTP/1.1 501 ",
		"POST / HTTP/1.1\r\nContent-Length: 99999999\r\n\r\n":              "HTTP/1.1 413 ",
	}
	for in, want := range cases {
		h := newHarness(t, targetHandler(), func(c *Config) { c.MaxBodyBytes = 1024 })
		tr, c := h.connect()
		h.send(tr, c, in)
		assert.True(t, strings.HasPrefix(string(tr.SentData()), want), "%q -> %q", in, tr.SentData())
		assert.True(t, tr.Closed())
	}
}

func TestConnMalformedAfterInFlight(t *testing.T) {
	h := newHarness(t, targetHandler(), nil)
	tr, c := h.connect()

	h.send(tr, c, getA+"BROKEN\r\n\r\n")
	require.Equal(t, 1, h.exec.pending())
	assert.Empty(t, tr.SentData())
	assert.False(t, tr.Closed())

	h.pump()
	assert.Equal(t, okA, string(tr.SentData()), "no error response follows")
	assert.True(t, tr.Closed())
}

func TestConnFailOutcome(t *testing.T) {
	handler := HandlerFunc(func(req *Request) Outcome {
		if req.Head.Target == "/panic" {
			panic("boom")
		}
		return Fail(errors.New("backend down"))
	})
	for _, target := range []string{"/fail", "/panic"} {
		h := newHarness(t, handler, nil)
		tr, c := h.connect()
		h.send(tr, c, "GET "+target+" HTTP/1.1\r\n\r\n"+getB)
		h.pump()
		out := string(tr.SentData())
		assert.True(t, strings.HasPrefix(out, "HTTP/1.1 500 Internal Server Error\r\n"), out)
		assert.Equal(t, 1, strings.Count(out, "HTTP/1.1 "))
		assert.True(t, tr.Closed())
	}
}

func TestConnBodyErrorAfterHeadCutsConnection(t *testing.T) {
	handler := HandlerFunc(func(*Request) Outcome {
		calls := 0
		return Respond(NewResponse(200, BodyFunc(func(context.Context) ([]byte, error) {
			calls++
			if calls == 1 {
				return []byte("part"), nil
			}
			return nil, errors.New("disk gone")
		})))
	})
	h := newHarness(t, handler, nil)
	tr, c := h.connect()
	h.send(tr, c, getA)
	h.pump()
	out := string(tr.SentData())
	assert.Equal(t, "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n4\r\npart\r\n", out)
	assert.True(t, tr.Closed())
}

func TestConnContentLengthMismatch(t *testing.T) {
	handler := HandlerFunc(func(*Request) Outcome {
		r := NewResponse(200, ReaderBody(strings.NewReader("abc"), -1))
		r.Header.Set("Content-Length", "5")
		return Respond(r)
	})
	h := newHarness(t, handler, nil)
	tr, c := h.connect()
	h.send(tr, c, getA)
	h.pump()
	assert.Equal(t, "HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nabc", string(tr.SentData()))
	assert.True(t, tr.Closed())
}

func TestConnExpectContinue(t *testing.T) {
	h := newHarness(t, textHandler("done"), nil)
	tr, c := h.connect()

	h.send(tr, c, "PUT / HTTP/1.1\r\nExpect: 100-continue\r\nContent-Length: 4\r\n\r\n")
	assert.Equal(t, continueResponse, string(tr.SentData()))
	assert.Zero(t, h.exec.pending())

	tr.ClearSentData()
	h.send(tr, c, "data")
	h.pump()
	assert.Equal(t, "HTTP/1.1 200 OK\r\nContent-Length: 4\r\n\r\ndone", string(tr.SentData()))
}

func TestConnExpectContinueSkippedWhileBusy(t *testing.T) {
	h := newHarness(t, textHandler("x"), nil)
	tr, c := h.connect()

	h.send(tr, c, getA+"PUT / HTTP/1.1\r\nExpect: 100-continue\r\nContent-Length: 4\r\n\r\n")
	assert.Empty(t, tr.SentData())
	h.send(tr, c, "data")
	h.pump()
	assert.NotContains(t, string(tr.SentData()), "100 Continue")
}

func TestConnPartialWriteResumes(t *testing.T) {
	body := strings.Repeat("z", 1000)
	h := newHarness(t, textHandler(body), nil)
	tr, c := h.connect()
	tr.SetWriteLimit(10)

	h.send(tr, c, getA)
	h.pump()
	assert.Len(t, tr.SentData(), 10)
	ev, _ := h.poller.get(tr.Fd())
	assert.True(t, ev.Has(reactor.EventWrite), "waits for writability")
	assert.Equal(t, api.PhaseWritingResponse, c.phase)

	tr.SetWriteLimit(-1)
	h.writable(c)
	assert.True(t, strings.HasSuffix(string(tr.SentData()), body))
	ev, _ = h.poller.get(tr.Fd())
	assert.False(t, ev.Has(reactor.EventWrite))
	assert.True(t, ev.Has(reactor.EventRead))
}

func TestConnPipelineDepth(t *testing.T) {
	h := newHarness(t, targetHandler(), func(c *Config) { c.MaxPipelineDepth = 2 })
	tr, c := h.connect()

	h.send(tr, c, getA+getB+"GET /c HTTP/1.1\r\n\r\n")
	assert.Equal(t, 2, h.exec.pending())
	ev, _ := h.poller.get(tr.Fd())
	assert.False(t, ev.Has(reactor.EventRead), "reading paused at depth")

	h.pump()
	assert.Equal(t, okA+okB+"HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\n/c", string(tr.SentData()))
	ev, _ = h.poller.get(tr.Fd())
	assert.True(t, ev.Has(reactor.EventRead))
}

func TestConnMaxRequestsPerConn(t *testing.T) {
	h := newHarness(t, targetHandler(), func(c *Config) { c.MaxRequestsPerConn = 1 })
	tr, c := h.connect()
	h.send(tr, c, getA+getB)
	h.pump()
	assert.Equal(t, "HTTP/1.1 200 OK\r\nConnection: close\r\nContent-Length: 2\r\n\r\n/a", string(tr.SentData()))
	assert.True(t, tr.Closed())
}

func TestConnExecutorFull(t *testing.T) {
	h := newHarness(t, targetHandler(), nil)
	h.exec.reject = api.ErrResourceExhausted
	tr, c := h.connect()
	h.send(tr, c, getA)
	out := string(tr.SentData())
	assert.True(t, strings.HasPrefix(out, "HTTP/1.1 503 Service Unavailable\r\n"), out)
	assert.True(t, tr.Closed())
}

func TestConnPeerHalfClose(t *testing.T) {
	h := newHarness(t, targetHandler(), nil)
	tr, c := h.connect()
	tr.AddRecvData([]byte(getA))
	tr.SetEOF()
	h.readable(c)
	assert.False(t, tr.Closed(), "response still owed")
	h.pump()
	assert.Equal(t, okA, string(tr.SentData()))
	assert.True(t, tr.Closed())
}

func TestConnTimeouts(t *testing.T) {
	t.Run("idle", func(t *testing.T) {
		h := newHarness(t, targetHandler(), func(c *Config) { c.IdleTimeout = time.Second })
		tr, _ := h.connect()
		h.loop.sweep(time.Now())
		assert.False(t, tr.Closed())
		h.loop.sweep(time.Now().Add(2 * time.Second))
		assert.True(t, tr.Closed())
		assert.Empty(t, tr.SentData())
	})

	t.Run("slow request", func(t *testing.T) {
		h := newHarness(t, targetHandler(), func(c *Config) { c.ReadTimeout = time.Second })
		tr, c := h.connect()
		h.send(tr, c, "GET / HTTP/1.1\r\nHost")
		h.loop.sweep(time.Now().Add(2 * time.Second))
		assert.True(t, strings.HasPrefix(string(tr.SentData()), "HTTP/1.1 408 "))
		assert.True(t, tr.Closed())
	})

	t.Run("max request duration", func(t *testing.T) {
		h := newHarness(t, targetHandler(), func(c *Config) { c.MaxRequestDuration = time.Second })
		tr, c := h.connect()
		h.send(tr, c, getA)
		h.loop.sweep(time.Now().Add(2 * time.Second))
		assert.True(t, strings.HasPrefix(string(tr.SentData()), "HTTP/1.1 503 "))
		assert.True(t, tr.Closed())

		// The late handler result goes nowhere.
		before := len(tr.SentData())
		h.pump()
		assert.Len(t, tr.SentData(), before)
	})

	t.Run("write stall", func(t *testing.T) {
		h := newHarness(t, textHandler(strings.Repeat("x", 100)), func(c *Config) { c.WriteTimeout = time.Second })
		tr, c := h.connect()
		tr.SetWriteLimit(0)
		h.send(tr, c, getA)
		h.pump()
		assert.False(t, tr.Closed())
		h.loop.sweep(time.Now().Add(2 * time.Second))
		assert.True(t, tr.Closed())
	})
}

func TestConnRequestContextCancelledOnClose(t *testing.T) {
	var req *Request
	handler := HandlerFunc(func(r *Request) Outcome {
		req = r
		return Respond(NewResponse(200, nil))
	})
	h := newHarness(t, handler, nil)
	tr, c := h.connect()
	h.send(tr, c, getA)
	h.exec.runAll()
	require.NotNil(t, req)
	assert.NoError(t, req.Context().Err())
	assert.Equal(t, c.id, req.ConnID)

	c.closeNow(nil)
	assert.ErrorIs(t, req.Context().Err(), context.Canceled)
}

func TestConnTrailerAndHeaders(t *testing.T) {
	var got *Request
	handler := HandlerFunc(func(r *Request) Outcome {
		got = r
		return Respond(NewResponse(200, nil))
	})
	h := newHarness(t, handler, nil)
	tr, c := h.connect()
	h.send(tr, c, "POST /up HTTP/1.1\r\nX-Id: 7\r\nTransfer-Encoding: chunked\r\n\r\n0\r\nX-Sum: 9\r\n\r\n")
	h.pump()
	require.NotNil(t, got)
	assert.Equal(t, "7", got.Head.Header.Get("x-id"))
	assert.Equal(t, http1.Header{{Name: "X-Sum", Value: "9"}}, got.Trailer)
	assert.Equal(t, "HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n", string(tr.SentData()))
}

func TestConnReadBufferReturnedToPool(t *testing.T) {
	h := newHarness(t, targetHandler(), nil)
	tr, c := h.connect()

	h.send(tr, c, getA)
	h.pump()
	assert.Equal(t, okA, string(tr.SentData()))
	assert.Nil(t, c.inbuf)
	assert.Nil(t, c.rbuf, "buffer goes back once input is consumed")
	gets, _ := h.srv.bufs.Stats()
	assert.EqualValues(t, 1, gets)

	h.send(tr, c, "GET /b HTTP/1.1\r\nHo")
	require.NotNil(t, c.rbuf)
	assert.Equal(t, "GET /b HTTP/1.1\r\nHo", string(c.inbuf))
	gets, _ = h.srv.bufs.Stats()
	assert.EqualValues(t, 2, gets)

	c.closeNow(nil)
	assert.Nil(t, c.rbuf, "buffer goes back when the connection closes")
	assert.Nil(t, c.inbuf)
}

func counter(s *Server, name string) float64 {
	m := s.metrics.GetSnapshot()
	v, _ := m[name].(float64)
	return v
}
