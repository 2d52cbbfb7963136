// File: api/transport.go
// Author: momentics <momentics@gmail.com>
//
// Defines the non-blocking byte-stream capability every connection runs on.
// A transport may be a plain socket or a TLS-wrapped socket; callers never
// need to know which.

package api

// Transport is a full-duplex, non-blocking byte stream.
//
// Read returns io.EOF once the peer has closed its side and ErrWouldBlock when
// no bytes are available yet. Write returns ErrWouldBlock when nothing could
// be accepted; a short count with a nil error means the remainder must be
// retried after the next writable notification.
type Transport interface {
	Read(p []byte) (n int, err error)
	Write(p []byte) (n int, err error)
	Close() error

	// Fd returns the OS-level descriptor the reactor watches for readiness.
	Fd() int
}

// Flusher is implemented by transports that keep output of their own
// (for example TLS ciphertext). Flush returns ErrWouldBlock while bytes
// remain queued.
type Flusher interface {
	Flush() error
}

// Notifier is implemented by transports that make progress outside of
// socket readiness, such as a TLS handshake step. The callback may be invoked
// from any goroutine.
type Notifier interface {
	SetNotify(fn func())
}
