// File: protocol/http1/encode_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package http1

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponseRoundTrip(t *testing.T) {
	head := &ResponseHead{
		Status: 200,
		Header: Header{{"Content-Type", "text/plain"}, {"Content-Length", "999"}},
	}
	wire := AppendResponseHead(nil, head, Framing{Mode: Fixed, Length: 5})
	wire = append(wire, "hello"...)
	assert.Equal(t, "HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\nContent-Length: 5\r\n\r\nhello", string(wire))

	var p HeadParser
	got, n, err := p.ParseResponse(wire)
	require.NoError(t, err)
	assert.Equal(t, 200, got.Status)
	assert.Equal(t, "OK", got.Reason)
	f, err := ResponseFraming("GET", got)
	require.NoError(t, err)
	assert.Equal(t, Framing{Mode: Fixed, Length: 5}, f)
	assert.Equal(t, "hello", string(wire[n:]))
}

func TestRequestRoundTrip(t *testing.T) {
	head := &RequestHead{Method: "PUT", Target: "/x", Version: HTTP11, Header: Header{{"Host", "h"}}}
	wire := AppendRequestHead(nil, head, Framing{Mode: Chunked})
	wire = AppendChunk(wire, []byte("abc"))
	wire = AppendLastChunk(wire, nil)

	var p HeadParser
	got, n, err := p.ParseRequest(wire)
	require.NoError(t, err)
	assert.Equal(t, "PUT", got.Method)
	assert.Equal(t, "/x", got.Target)
	f, err := RequestFraming(got)
	require.NoError(t, err)
	require.Equal(t, Chunked, f.Mode)

	d := NewBodyDecoder(f, Limits{})
	body, used := drain(t, d, wire[n:], 0)
	assert.Equal(t, "abc", string(body))
	assert.Equal(t, len(wire)-n, used)
}

func TestInformationalHeadHasNoFraming(t *testing.T) {
	wire := AppendResponseHead(nil, &ResponseHead{Status: 101, Header: Header{{"Upgrade", "websocket"}}},
		Framing{Mode: Chunked})
	assert.Equal(t, "HTTP/1.1 101 Switching Protocols\r\nUpgrade: websocket\r\n\r\n", string(wire))
}

func TestDeclaredFramingKeepsPosition(t *testing.T) {
	head := &ResponseHead{Status: 200, Header: Header{{"Content-Length", "5"}, {"X-A", "1"}}}
	wire := AppendResponseHead(nil, head, Framing{Mode: Fixed, Length: 5})
	assert.Equal(t, "HTTP/1.1 200 OK\r\nContent-Length: 5\r\nX-A: 1\r\n\r\n", string(wire))

	var p HeadParser
	got, _, err := p.ParseResponse(wire)
	require.NoError(t, err)
	assert.Equal(t, head.Header, got.Header)
	again := AppendResponseHead(nil, got, Framing{Mode: Fixed, Length: 5})
	assert.Equal(t, string(wire), string(again))
}

func TestDeclaredTransferEncoding(t *testing.T) {
	cases := []struct {
		name    string
		header  Header
		framing Framing
		want    string
	}{
		{
			name:    "gzip then chunked kept",
			header:  Header{{"Transfer-Encoding", "gzip, chunked"}, {"X-A", "1"}},
			framing: Framing{Mode: Chunked},
			want:    "Transfer-Encoding: gzip, chunked\r\nX-A: 1\r\n\r\n",
		},
		{
			name:    "chunked not last replaced",
			header:  Header{{"Transfer-Encoding", "chunked, gzip"}, {"X-A", "1"}},
			framing: Framing{Mode: Chunked},
			want:    "X-A: 1\r\nTransfer-Encoding: chunked\r\n\r\n",
		},
		{
			name:    "coding kept for close delimited",
			header:  Header{{"Transfer-Encoding", "gzip"}},
			framing: Framing{Mode: UntilClose},
			want:    "Transfer-Encoding: gzip\r\n\r\n",
		},
		{
			name:    "length dropped under chunked",
			header:  Header{{"Content-Length", "5"}, {"X-A", "1"}},
			framing: Framing{Mode: Chunked},
			want:    "X-A: 1\r\nTransfer-Encoding: chunked\r\n\r\n",
		},
		{
			name:    "transfer encoding dropped under fixed",
			header:  Header{{"Transfer-Encoding", "gzip"}, {"Content-Length", "2"}},
			framing: Framing{Mode: Fixed, Length: 2},
			want:    "Content-Length: 2\r\n\r\n",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wire := AppendResponseHead(nil, &ResponseHead{Status: 200, Header: tc.header}, tc.framing)
			assert.Equal(t, "HTTP/1.1 200 OK\r\n"+tc.want, string(wire))
		})
	}
}
