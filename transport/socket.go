// File: transport/socket.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Non-blocking stream socket transport and listening socket.

package transport

import (
	"io"
	"net"
	"sync"

	"github.com/momentics/hioload-http/api"
)

// SocketTransport is a connected non-blocking socket.
type SocketTransport struct {
	fd     int
	local  net.Addr
	remote net.Addr

	mu     sync.Mutex
	closed bool
}

// NewSocketTransport adopts fd, which must already be non-blocking.
func NewSocketTransport(fd int, local, remote net.Addr) *SocketTransport {
	return &SocketTransport{fd: fd, local: local, remote: remote}
}

func (s *SocketTransport) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Read reads available bytes. An orderly shutdown by the peer is io.EOF.
func (s *SocketTransport) Read(p []byte) (int, error) {
	if s.isClosed() {
		return 0, api.ErrTransportClosed
	}
	if len(p) == 0 {
		return 0, nil
	}
	n, err := sysRead(s.fd, p)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

// Write writes as much of p as the socket accepts without blocking.
func (s *SocketTransport) Write(p []byte) (int, error) {
	if s.isClosed() {
		return 0, api.ErrTransportClosed
	}
	return sysWrite(s.fd, p)
}

// Close closes the descriptor once.
func (s *SocketTransport) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return sysClose(s.fd)
}

// Fd returns the descriptor the reactor polls.
func (s *SocketTransport) Fd() int { return s.fd }

// LocalAddr returns the local endpoint.
func (s *SocketTransport) LocalAddr() net.Addr { return s.local }

// RemoteAddr returns the peer endpoint.
func (s *SocketTransport) RemoteAddr() net.Addr { return s.remote }

// Listener is a bound non-blocking listening socket.
type Listener struct {
	fd   int
	addr net.Addr

	closeOnce sync.Once
	closeErr  error
}

// Fd returns the listening descriptor.
func (l *Listener) Fd() int { return l.fd }

// Addr returns the bound local address.
func (l *Listener) Addr() net.Addr { return l.addr }

// Accept returns the next pending connection, or api.ErrWouldBlock when
// none is queued.
func (l *Listener) Accept() (*SocketTransport, error) {
	fd, remote, err := sysAccept(l.fd)
	if err != nil {
		return nil, err
	}
	return NewSocketTransport(fd, l.addr, remote), nil
}

// Close closes the listening socket.
func (l *Listener) Close() error {
	l.closeOnce.Do(func() { l.closeErr = sysClose(l.fd) })
	return l.closeErr
}
