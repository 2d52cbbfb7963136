// Package fake
// Author: momentics <momentics@gmail.com>
//
// Fake implementations for testing and development.
// Provides predictable, controllable behavior for the transport contract.

package fake

import (
	"io"
	"sync"
	"sync/atomic"

	"github.com/momentics/hioload-http/api"
)

var nextFd atomic.Int64

// Transport is an in-memory api.Transport. Inbound bytes are queued with
// AddRecvData; outbound bytes are collected and returned by SentData.
type Transport struct {
	mu         sync.Mutex
	fd         int
	recv       []byte
	sent       []byte
	eof        bool
	closed     bool
	writeLimit int // bytes still writable, -1 for unlimited
	sendError  error
	recvError  error
	closeError error
	onRecv     func()
}

// NewTransport creates a new fake transport with unlimited write capacity.
func NewTransport() *Transport {
	return &Transport{fd: int(1000 + nextFd.Add(1)), writeLimit: -1}
}

// Read implements api.Transport.
func (t *Transport) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, api.ErrTransportClosed
	}
	if t.recvError != nil {
		return 0, t.recvError
	}
	if len(t.recv) == 0 {
		if t.eof {
			return 0, io.EOF
		}
		return 0, api.ErrWouldBlock
	}
	n := copy(p, t.recv)
	t.recv = t.recv[n:]
	return n, nil
}

// Write implements api.Transport.
func (t *Transport) Write(p []byte) (int, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return 0, api.ErrTransportClosed
	}
	if t.sendError != nil {
		err := t.sendError
		t.mu.Unlock()
		return 0, err
	}
	n := len(p)
	if t.writeLimit >= 0 && n > t.writeLimit {
		n = t.writeLimit
	}
	if n == 0 && len(p) > 0 {
		t.mu.Unlock()
		return 0, api.ErrWouldBlock
	}
	if t.writeLimit >= 0 {
		t.writeLimit -= n
	}
	t.sent = append(t.sent, p[:n]...)
	t.mu.Unlock()
	return n, nil
}

// Close implements api.Transport.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closeError != nil {
		return t.closeError
	}
	t.closed = true
	return nil
}

// Fd returns a unique fake descriptor.
func (t *Transport) Fd() int { return t.fd }

// Closed reports whether Close was called.
func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// AddRecvData queues data for Read.
func (t *Transport) AddRecvData(data []byte) {
	t.mu.Lock()
	t.recv = append(t.recv, data...)
	fn := t.onRecv
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// OnRecv installs fn, called after data or EOF is queued for Read.
func (t *Transport) OnRecv(fn func()) {
	t.mu.Lock()
	t.onRecv = fn
	t.mu.Unlock()
}

// SetEOF makes Read return io.EOF once queued data is consumed.
func (t *Transport) SetEOF() {
	t.mu.Lock()
	t.eof = true
	fn := t.onRecv
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// SetWriteLimit caps how many more bytes Write accepts; -1 removes the cap.
func (t *Transport) SetWriteLimit(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writeLimit = n
}

// SetSendError configures the transport to return an error on Write.
func (t *Transport) SetSendError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sendError = err
}

// SetRecvError configures the transport to return an error on Read.
func (t *Transport) SetRecvError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.recvError = err
}

// SetCloseError configures the transport to return an error on Close.
func (t *Transport) SetCloseError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeError = err
}

// SentData returns a copy of everything written so far.
func (t *Transport) SentData() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]byte(nil), t.sent...)
}

// ClearSentData clears the collected output.
func (t *Transport) ClearSentData() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = t.sent[:0]
}
