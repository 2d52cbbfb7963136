//go:build !linux
// +build !linux

// File: transport/socket_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Stub socket primitives for unsupported platforms.

package transport

import (
	"context"
	"fmt"
	"net"

	"github.com/momentics/hioload-http/api"
)

// DefaultBacklog is the listen(2) queue length.
const DefaultBacklog = 1024

func sysRead(int, []byte) (int, error)  { return 0, api.ErrNotSupported }
func sysWrite(int, []byte) (int, error) { return 0, api.ErrNotSupported }
func sysClose(int) error                { return api.ErrNotSupported }

func sysAccept(int) (int, net.Addr, error) { return -1, nil, api.ErrNotSupported }

// Listen is not available on this platform.
func Listen(_ context.Context, addr string, _ int) (*Listener, error) {
	return nil, fmt.Errorf("listen %s: %w", addr, api.ErrNotSupported)
}
