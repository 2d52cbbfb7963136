//go:build linux
// +build linux

// File: transport/socket_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Linux socket primitives on golang.org/x/sys/unix.

package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/momentics/hioload-http/api"
	"golang.org/x/sys/unix"
)

// DefaultBacklog is the listen(2) queue length.
const DefaultBacklog = 1024

func sysRead(fd int, p []byte) (int, error) {
	for {
		n, err := unix.Read(fd, p)
		switch err {
		case nil:
			return n, nil
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			return 0, api.ErrWouldBlock
		}
		return 0, fmt.Errorf("read: %w", err)
	}
}

func sysWrite(fd int, p []byte) (int, error) {
	total := 0
	for total < len(p) {
		n, err := unix.Write(fd, p[total:])
		switch err {
		case nil:
			total += n
			continue
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			if total > 0 {
				return total, nil
			}
			return 0, api.ErrWouldBlock
		}
		return total, fmt.Errorf("write: %w", err)
	}
	return total, nil
}

func sysClose(fd int) error {
	return unix.Close(fd)
}

func sysAccept(lfd int) (int, net.Addr, error) {
	for {
		fd, sa, err := unix.Accept4(lfd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		switch err {
		case nil:
			_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
			return fd, sockaddrToTCP(sa), nil
		case unix.EINTR, unix.ECONNABORTED:
			continue
		case unix.EAGAIN:
			return -1, nil, api.ErrWouldBlock
		}
		return -1, nil, fmt.Errorf("accept: %w", err)
	}
}

// Listen resolves addr ("host:port") and binds the first candidate address
// that accepts the bind. When no candidate binds the last error is returned.
func Listen(ctx context.Context, addr string, backlog int) (*Listener, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	port, err := net.DefaultResolver.LookupPort(ctx, "tcp", portStr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	var ips []net.IP
	if host == "" {
		ips = []net.IP{net.IPv6unspecified, net.IPv4zero}
	} else if ip := net.ParseIP(host); ip != nil {
		ips = []net.IP{ip}
	} else {
		ipAddrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
		if err != nil {
			return nil, fmt.Errorf("listen %s: %w", addr, err)
		}
		for _, ia := range ipAddrs {
			ips = append(ips, ia.IP)
		}
	}
	if backlog <= 0 {
		backlog = DefaultBacklog
	}

	lastErr := errors.New("no addresses to bind")
	for _, ip := range ips {
		l, err := listenIP(ip, port, backlog)
		if err == nil {
			return l, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("listen %s: %w", addr, lastErr)
}

func listenIP(ip net.IP, port, backlog int) (*Listener, error) {
	family := unix.AF_INET6
	if ip.To4() != nil {
		family = unix.AF_INET
	}
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}
	fail := func(op string, err error) (*Listener, error) {
		unix.Close(fd)
		return nil, fmt.Errorf("%s %s: %w", op, net.JoinHostPort(ip.String(), strconv.Itoa(port)), err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fail("setsockopt", err)
	}
	var sa unix.Sockaddr
	if family == unix.AF_INET {
		s4 := &unix.SockaddrInet4{Port: port}
		copy(s4.Addr[:], ip.To4())
		sa = s4
	} else {
		if ip.Equal(net.IPv6unspecified) {
			_ = unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 0)
		}
		s6 := &unix.SockaddrInet6{Port: port}
		copy(s6.Addr[:], ip.To16())
		sa = s6
	}
	if err := unix.Bind(fd, sa); err != nil {
		return fail("bind", err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		return fail("listen", err)
	}
	bound, err := unix.Getsockname(fd)
	if err != nil {
		return fail("getsockname", err)
	}
	return &Listener{fd: fd, addr: sockaddrToTCP(bound)}, nil
}

func sockaddrToTCP(sa unix.Sockaddr) net.Addr {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IP(append([]byte(nil), a.Addr[:]...)), Port: a.Port}
	case *unix.SockaddrInet6:
		ip := net.IP(append([]byte(nil), a.Addr[:]...))
		return &net.TCPAddr{IP: ip, Port: a.Port}
	}
	return nil
}
