// File: protocol/http1/body.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Incremental body decoder for the three framing modes.

package http1

import (
	"bytes"
	"io"
)

// maxChunkLine bounds a chunk-size line including extensions.
const maxChunkLine = 4096

// Chunk is a span of body bytes. Data aliases the buffer passed to Next and
// is valid until that buffer is reused. Final marks the end of the body.
type Chunk struct {
	Data  []byte
	Final bool
}

type chunkState uint8

const (
	stSize chunkState = iota
	stData
	stDataCRLF
	stTrailer
	stDone
)

// BodyDecoder decodes one message body.
type BodyDecoder struct {
	framing   Framing
	limits    Limits
	state     chunkState
	remaining int64
	trailer   Header
	trailerN  int
}

// NewBodyDecoder returns a decoder for a body framed by f.
func NewBodyDecoder(f Framing, lim Limits) *BodyDecoder {
	d := &BodyDecoder{framing: f, limits: (&HeadParser{Limits: lim}).limits()}
	switch f.Mode {
	case None:
		d.state = stDone
	case Fixed:
		d.remaining = f.Length
		if f.Length == 0 {
			d.state = stDone
		}
	}
	return d
}

// Framing returns the framing the decoder was built for.
func (d *BodyDecoder) Framing() Framing { return d.framing }

// Done reports whether the final chunk has been produced.
func (d *BodyDecoder) Done() bool { return d.state == stDone }

// Trailer returns the trailer fields of a chunked body.
func (d *BodyDecoder) Trailer() Header { return d.trailer }

// Next consumes bytes from buf. It returns the body bytes found, how many
// bytes of buf were used and whether the body is complete. A zero count
// with a non-final chunk means more input is needed; a positive count with
// empty data only consumed framing and the caller should call again.
func (d *BodyDecoder) Next(buf []byte) (Chunk, int, error) {
	if d.state == stDone {
		return Chunk{Final: true}, 0, nil
	}
	switch d.framing.Mode {
	case Fixed:
		if len(buf) == 0 {
			return Chunk{}, 0, nil
		}
		n := int64(len(buf))
		if n > d.remaining {
			n = d.remaining
		}
		d.remaining -= n
		if d.remaining == 0 {
			d.state = stDone
		}
		return Chunk{Data: buf[:n], Final: d.state == stDone}, int(n), nil
	case UntilClose:
		return Chunk{Data: buf}, len(buf), nil
	}
	return d.nextChunked(buf)
}

// Finish is called when the peer closed the stream. It completes a
// close-delimited body and reports truncation for the other modes.
func (d *BodyDecoder) Finish() (Chunk, error) {
	if d.state == stDone {
		return Chunk{Final: true}, nil
	}
	if d.framing.Mode == UntilClose {
		d.state = stDone
		return Chunk{Final: true}, nil
	}
	return Chunk{}, io.ErrUnexpectedEOF
}

func (d *BodyDecoder) nextChunked(buf []byte) (Chunk, int, error) {
	switch d.state {
	case stSize:
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			if len(buf) > maxChunkLine {
				return Chunk{}, 0, ErrBadChunk
			}
			return Chunk{}, 0, nil
		}
		if i == 0 || buf[i-1] != '\r' || i > maxChunkLine {
			return Chunk{}, 0, ErrBadChunk
		}
		size, ok := parseChunkSize(buf[:i-1])
		if !ok {
			return Chunk{}, 0, ErrBadChunk
		}
		if size == 0 {
			d.state = stTrailer
		} else {
			d.remaining, d.state = size, stData
		}
		return Chunk{}, i + 1, nil

	case stData:
		if len(buf) == 0 {
			return Chunk{}, 0, nil
		}
		n := int64(len(buf))
		if n > d.remaining {
			n = d.remaining
		}
		d.remaining -= n
		if d.remaining == 0 {
			d.state = stDataCRLF
		}
		return Chunk{Data: buf[:n]}, int(n), nil

	case stDataCRLF:
		if len(buf) > 0 && buf[0] != '\r' {
			return Chunk{}, 0, ErrBadChunk
		}
		if len(buf) < 2 {
			return Chunk{}, 0, nil
		}
		if buf[1] != '\n' {
			return Chunk{}, 0, ErrBadChunk
		}
		d.state = stSize
		return Chunk{}, 2, nil

	case stTrailer:
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			if len(buf) > d.limits.MaxLineBytes+1 {
				return Chunk{}, 0, ErrLineTooLong
			}
			return Chunk{}, 0, nil
		}
		if i == 0 || buf[i-1] != '\r' {
			return Chunk{}, 0, ErrBareLF
		}
		line := buf[:i-1]
		if len(line) == 0 {
			d.state = stDone
			return Chunk{Final: true}, i + 1, nil
		}
		if len(line) > d.limits.MaxLineBytes {
			return Chunk{}, 0, ErrLineTooLong
		}
		if d.trailerN += i + 1; d.trailerN > d.limits.MaxHeadBytes {
			return Chunk{}, 0, ErrHeadTooLarge
		}
		f, err := parseField(line)
		if err != nil {
			return Chunk{}, 0, err
		}
		if len(d.trailer) == d.limits.MaxHeaders {
			return Chunk{}, 0, ErrTooManyHeaders
		}
		d.trailer = append(d.trailer, f)
		return Chunk{}, i + 1, nil
	}
	return Chunk{Final: true}, 0, nil
}

// parseChunkSize parses "1*HEXDIG [ BWS ; chunk-ext ]".
func parseChunkSize(line []byte) (int64, bool) {
	if j := bytes.IndexByte(line, ';'); j >= 0 {
		line = line[:j]
	}
	line = trimOWS(line)
	if len(line) == 0 || len(line) > 15 {
		return 0, false
	}
	var n int64
	for _, c := range line {
		var v byte
		switch {
		case c >= '0' && c <= '9':
			v = c - '0'
		case c >= 'a' && c <= 'f':
			v = c - 'a' + 10
		case c >= 'A' && c <= 'F':
			v = c - 'A' + 10
		default:
			return 0, false
		}
		n = n<<4 | int64(v)
	}
	return n, true
}
