// File: server/body.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Response body producers.

package server

import (
	"context"
	"errors"
	"io"
)

// BodyProducer yields response body bytes. Next returns io.EOF after the
// last piece; it may return data together with io.EOF. The returned slice
// is only read until the following call. Next runs on the handler pool and
// may block.
type BodyProducer interface {
	Next(ctx context.Context) ([]byte, error)
}

// Sizer is implemented by producers that know their total length up front.
// A negative size means unknown.
type Sizer interface {
	Size() int64
}

// Transform rewrites a response body stream.
type Transform interface {
	Transform(p []byte) ([]byte, error)
	// Finish flushes anything the transform still holds.
	Finish() ([]byte, error)
}

type bytesBody struct {
	b    []byte
	done bool
}

// BytesBody sends b with a Content-Length.
func BytesBody(b []byte) BodyProducer { return &bytesBody{b: b} }

// StringBody sends s with a Content-Length.
func StringBody(s string) BodyProducer { return &bytesBody{b: []byte(s)} }

func (b *bytesBody) Size() int64 { return int64(len(b.b)) }

func (b *bytesBody) Next(context.Context) ([]byte, error) {
	if b.done {
		return nil, io.EOF
	}
	b.done = true
	return b.b, io.EOF
}

const readerChunk = 32 << 10

type readerBody struct {
	r    io.Reader
	size int64
	buf  []byte
}

// ReaderBody streams r. size is the exact length, or -1 if unknown.
// r is closed at the end when it implements io.Closer.
func ReaderBody(r io.Reader, size int64) BodyProducer {
	if size < -1 {
		size = -1
	}
	return &readerBody{r: r, size: size}
}

func (b *readerBody) Size() int64 { return b.size }

func (b *readerBody) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		b.close()
		return nil, err
	}
	if b.buf == nil {
		b.buf = make([]byte, readerChunk)
	}
	n, err := b.r.Read(b.buf)
	if errors.Is(err, io.EOF) {
		b.close()
		return b.buf[:n], io.EOF
	}
	if err != nil {
		b.close()
	}
	return b.buf[:n], err
}

func (b *readerBody) close() {
	if c, ok := b.r.(io.Closer); ok {
		c.Close()
	}
}

type streamBody struct {
	ch <-chan []byte
}

// StreamBody sends every slice received from ch, chunked, until ch is
// closed.
func StreamBody(ch <-chan []byte) BodyProducer { return &streamBody{ch: ch} }

func (b *streamBody) Next(ctx context.Context) ([]byte, error) {
	select {
	case p, ok := <-b.ch:
		if !ok {
			return nil, io.EOF
		}
		return p, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// BodyFunc adapts a function to BodyProducer.
type BodyFunc func(ctx context.Context) ([]byte, error)

// Next calls f(ctx).
func (f BodyFunc) Next(ctx context.Context) ([]byte, error) { return f(ctx) }
