// File: transport/tls.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// TLSTransport layers crypto/tls over another api.Transport without ever
// blocking the caller. The handshake runs on its own goroutine against a
// blocking bridge; the event loop feeds it ciphertext from Read and drains
// its output through Flush. Once the handshake completes the bridge turns
// non-blocking and record I/O happens inline on the loop.

package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/momentics/hioload-http/api"
)

const (
	// maxHandshakeInput bounds ciphertext buffered before the handshake
	// goroutine consumes it.
	maxHandshakeInput = 64 << 10
	// maxPendingOutput is the ciphertext backlog above which Write pushes
	// back with api.ErrWouldBlock.
	maxPendingOutput = 256 << 10
)

type hsState uint8

const (
	hsIdle hsState = iota
	hsRunning
	hsDone
	hsFailed
)

// TLSTransport is a server-side TLS session over raw.
type TLSTransport struct {
	raw  api.Transport
	br   *bridge
	conn *tls.Conn

	mu     sync.Mutex
	state  hsState
	hsErr  error
	notify func()
	cancel context.CancelFunc

	scratch []byte
}

type addressed interface {
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
}

// NewTLSTransport wraps raw with a server TLS session using cfg.
func NewTLSTransport(raw api.Transport, cfg *tls.Config) *TLSTransport {
	var local, remote net.Addr
	if a, ok := raw.(addressed); ok {
		local, remote = a.LocalAddr(), a.RemoteAddr()
	}
	t := &TLSTransport{raw: raw, br: newBridge(local, remote)}
	t.br.onOutput = t.fire
	t.conn = tls.Server(t.br, cfg)
	return t
}

// SetNotify installs fn, called from the handshake goroutine whenever it
// produced output or finished.
func (t *TLSTransport) SetNotify(fn func()) {
	t.mu.Lock()
	t.notify = fn
	t.mu.Unlock()
}

func (t *TLSTransport) fire() {
	t.mu.Lock()
	fn := t.notify
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (t *TLSTransport) handshakeState() (hsState, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state, t.hsErr
}

func (t *TLSTransport) startHandshake() {
	t.mu.Lock()
	if t.state != hsIdle {
		t.mu.Unlock()
		return
	}
	t.state = hsRunning
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.mu.Unlock()

	go func() {
		err := t.conn.HandshakeContext(ctx)
		t.br.setNonBlocking()
		t.mu.Lock()
		if err != nil {
			t.state, t.hsErr = hsFailed, fmt.Errorf("tls handshake: %w", err)
		} else {
			t.state = hsDone
		}
		t.cancel = nil
		t.mu.Unlock()
		cancel()
		t.fire()
	}()
}

// pump moves ciphertext from the raw transport into the bridge.
func (t *TLSTransport) pump(limit int) error {
	if t.scratch == nil {
		t.scratch = make([]byte, 16<<10)
	}
	for t.br.buffered() < limit {
		n, err := t.raw.Read(t.scratch)
		if n > 0 {
			t.br.feed(t.scratch[:n])
		}
		switch {
		case err == nil:
			continue
		case errors.Is(err, api.ErrWouldBlock):
			return nil
		case errors.Is(err, io.EOF):
			t.br.setEOF()
			return nil
		default:
			return err
		}
	}
	return nil
}

// Read returns decrypted application data.
func (t *TLSTransport) Read(p []byte) (int, error) {
	state, hsErr := t.handshakeState()
	switch state {
	case hsFailed:
		return 0, hsErr
	case hsIdle, hsRunning:
		if err := t.pump(maxHandshakeInput); err != nil {
			return 0, err
		}
		if t.br.buffered() >= maxHandshakeInput {
			return 0, fmt.Errorf("tls handshake: %w", api.ErrResourceExhausted)
		}
		t.startHandshake()
		if err := t.flush(); err != nil && !errors.Is(err, api.ErrWouldBlock) {
			return 0, err
		}
		return 0, api.ErrWouldBlock
	}

	if err := t.pump(maxHandshakeInput); err != nil {
		return 0, err
	}
	n, err := t.conn.Read(p)
	// Reading may produce records of its own (key updates, alerts).
	if ferr := t.flush(); ferr != nil && !errors.Is(ferr, api.ErrWouldBlock) && n == 0 {
		return 0, ferr
	}
	if n > 0 {
		return n, nil
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Temporary() {
		return 0, api.ErrWouldBlock
	}
	return 0, err
}

// Write encrypts p and queues the records. Queued ciphertext is sent by
// Flush; callers must call Flush until it stops returning api.ErrWouldBlock.
func (t *TLSTransport) Write(p []byte) (int, error) {
	state, hsErr := t.handshakeState()
	switch state {
	case hsFailed:
		return 0, hsErr
	case hsIdle, hsRunning:
		return 0, api.ErrWouldBlock
	}
	if t.br.pending() >= maxPendingOutput {
		if err := t.flush(); err != nil {
			return 0, err
		}
	}
	n, err := t.conn.Write(p)
	if err != nil {
		return n, err
	}
	if err := t.flush(); err != nil && !errors.Is(err, api.ErrWouldBlock) {
		return n, err
	}
	return n, nil
}

func (t *TLSTransport) flush() error {
	return t.br.drain(t.raw.Write)
}

// Flush sends queued ciphertext. It returns api.ErrWouldBlock while some
// remains.
func (t *TLSTransport) Flush() error {
	return t.flush()
}

// HandshakeComplete reports whether application data can flow.
func (t *TLSTransport) HandshakeComplete() bool {
	s, _ := t.handshakeState()
	return s == hsDone
}

// ConnectionState returns the negotiated session parameters.
func (t *TLSTransport) ConnectionState() tls.ConnectionState {
	return t.conn.ConnectionState()
}

// Fd returns the raw transport's descriptor.
func (t *TLSTransport) Fd() int { return t.raw.Fd() }

// LocalAddr returns the local endpoint of the raw transport.
func (t *TLSTransport) LocalAddr() net.Addr { return t.br.local }

// RemoteAddr returns the peer endpoint of the raw transport.
func (t *TLSTransport) RemoteAddr() net.Addr { return t.br.remote }

// Close sends close_notify when the session is established, makes a best
// effort to flush it, and closes the raw transport.
func (t *TLSTransport) Close() error {
	var result *multierror.Error
	state, _ := t.handshakeState()
	t.mu.Lock()
	cancel := t.cancel
	t.mu.Unlock()
	if state == hsDone {
		if err := t.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			result = multierror.Append(result, err)
		}
		if err := t.flush(); err != nil && !errors.Is(err, api.ErrWouldBlock) {
			result = multierror.Append(result, err)
		}
	}
	if cancel != nil {
		cancel()
	}
	t.br.Close()
	if err := t.raw.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}
