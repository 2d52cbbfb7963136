// File: transport/bridge.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// bridge is the net.Conn crypto/tls runs over. Ciphertext moves between it
// and the underlying transport only when the event loop pumps it.

package transport

import (
	"io"
	"net"
	"sync"
	"time"
)

// errNoData is returned by bridge reads once the handshake is over and no
// ciphertext is buffered. crypto/tls treats temporary errors as retryable and
// does not latch them.
var errNoData net.Error = noDataError{}

type noDataError struct{}

func (noDataError) Error() string   { return "transport: no buffered ciphertext" }
func (noDataError) Timeout() bool   { return false }
func (noDataError) Temporary() bool { return true }

type bridge struct {
	mu   sync.Mutex
	cond *sync.Cond

	in  []byte // ciphertext received from the peer
	out []byte // ciphertext waiting to be sent

	blocking bool // reads wait for input, set while the handshake runs
	eof      bool
	closed   bool

	onOutput func() // called after a write while blocking
	local    net.Addr
	remote   net.Addr
}

func newBridge(local, remote net.Addr) *bridge {
	b := &bridge{blocking: true, local: local, remote: remote}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *bridge) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.in) == 0 {
		switch {
		case b.closed:
			return 0, net.ErrClosed
		case b.eof:
			return 0, io.EOF
		case !b.blocking:
			return 0, errNoData
		}
		b.cond.Wait()
	}
	n := copy(p, b.in)
	b.in = b.in[n:]
	if len(b.in) == 0 {
		b.in = nil
	}
	return n, nil
}

func (b *bridge) Write(p []byte) (int, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return 0, net.ErrClosed
	}
	b.out = append(b.out, p...)
	notify := b.blocking
	fn := b.onOutput
	b.mu.Unlock()
	if notify && fn != nil {
		fn()
	}
	return len(p), nil
}

// feed appends received ciphertext.
func (b *bridge) feed(p []byte) {
	b.mu.Lock()
	b.in = append(b.in, p...)
	b.mu.Unlock()
	b.cond.Broadcast()
}

func (b *bridge) setEOF() {
	b.mu.Lock()
	b.eof = true
	b.mu.Unlock()
	b.cond.Broadcast()
}

// setNonBlocking ends the handshake phase.
func (b *bridge) setNonBlocking() {
	b.mu.Lock()
	b.blocking = false
	b.mu.Unlock()
	b.cond.Broadcast()
}

func (b *bridge) buffered() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.in)
}

func (b *bridge) pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.out)
}

// drain writes pending ciphertext to w until it is empty or w would block.
func (b *bridge) drain(w func([]byte) (int, error)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.out) > 0 {
		n, err := w(b.out)
		b.out = b.out[n:]
		if err != nil {
			return err
		}
	}
	b.out = nil
	return nil
}

func (b *bridge) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.cond.Broadcast()
	return nil
}

func (b *bridge) LocalAddr() net.Addr  { return b.local }
func (b *bridge) RemoteAddr() net.Addr { return b.remote }

func (b *bridge) SetDeadline(time.Time) error      { return nil }
func (b *bridge) SetReadDeadline(time.Time) error  { return nil }
func (b *bridge) SetWriteDeadline(time.Time) error { return nil }
