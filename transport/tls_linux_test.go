//go:build linux

package transport

import (
	"crypto/tls"
	"errors"
	"io"
	"net"
	"os"
	"testing"
	"time"

	"github.com/momentics/hioload-http/api"
	"github.com/momentics/hioload-http/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func tlsPair(t *testing.T) (*TLSTransport, *tls.Conn, chan struct{}) {
	t.Helper()
	serverCfg, clientCfg := testutil.TLSConfigs(t)
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	require.NoError(t, unix.SetNonblock(fds[0], true))

	f := os.NewFile(uintptr(fds[1]), "client")
	conn, err := net.FileConn(f)
	f.Close()
	require.NoError(t, err)

	notified := make(chan struct{}, 1)
	srv := NewTLSTransport(NewSocketTransport(fds[0], nil, nil), serverCfg)
	srv.SetNotify(func() {
		select {
		case notified <- struct{}{}:
		default:
		}
	})
	client := tls.Client(conn, clientCfg)
	t.Cleanup(func() {
		client.Close()
		srv.Close()
	})
	return srv, client, notified
}

// drive plays the event loop: it reads until data arrives, flushing and
// waiting for notifications in between.
func drive(t *testing.T, srv *TLSTransport, notified chan struct{}, buf []byte) (int, error) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		n, err := srv.Read(buf)
		if n > 0 || (err != nil && !errors.Is(err, api.ErrWouldBlock)) {
			return n, err
		}
		if ferr := srv.Flush(); ferr != nil && !errors.Is(ferr, api.ErrWouldBlock) {
			return 0, ferr
		}
		select {
		case <-notified:
		case <-time.After(2 * time.Millisecond):
		case <-deadline:
			t.Fatal("timed out driving TLS transport")
		}
	}
}

func TestTLSTransportEcho(t *testing.T) {
	srv, client, notified := tlsPair(t)

	clientErr := make(chan error, 1)
	go func() {
		if err := client.Handshake(); err != nil {
			clientErr <- err
			return
		}
		_, err := client.Write([]byte("hello over tls"))
		clientErr <- err
	}()

	buf := make([]byte, 64)
	_, err := srv.Write([]byte("early"))
	assert.ErrorIs(t, err, api.ErrWouldBlock, "writes wait for the handshake")

	n, err := drive(t, srv, notified, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello over tls", string(buf[:n]))
	require.NoError(t, <-clientErr)
	assert.True(t, srv.HandshakeComplete())
	assert.Equal(t, "localhost", srv.ConnectionState().ServerName)

	_, err = srv.Write([]byte("reply"))
	require.NoError(t, err)
	for srv.Flush() != nil {
		time.Sleep(time.Millisecond)
	}
	got := make([]byte, 5)
	_, err = io.ReadFull(client, got)
	require.NoError(t, err)
	assert.Equal(t, "reply", string(got))

	require.NoError(t, srv.Close())
	_, err = client.Read(got)
	assert.ErrorIs(t, err, io.EOF, "close_notify is delivered")
}

func TestTLSTransportHandshakeFailure(t *testing.T) {
	srv, client, notified := tlsPair(t)
	go func() {
		// Plain text is not a ClientHello.
		client.NetConn().Write([]byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n"))
	}()
	_, err := drive(t, srv, notified, make([]byte, 64))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tls handshake")
}
