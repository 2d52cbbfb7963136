//go:build linux
// +build linux

// File: reactor/reactor_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux epoll(7)-based poller with an eventfd(2) wakeup.

package reactor

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// epollPoller is a level-triggered epoll instance.
type epollPoller struct {
	epfd int
	wfd  int

	raw []unix.EpollEvent

	closeOnce sync.Once
}

// NewPoller constructs a new platform-specific Poller for Linux.
func NewPoller() (Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	wfd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wfd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wfd, &ev); err != nil {
		unix.Close(wfd)
		unix.Close(epfd)
		return nil, fmt.Errorf("epoll ctl add eventfd: %w", err)
	}
	return &epollPoller{epfd: epfd, wfd: wfd}, nil
}

func toEpoll(fd int, token uint32, interest Events) *unix.EpollEvent {
	ev := &unix.EpollEvent{Fd: int32(fd), Pad: int32(token)}
	if interest&EventRead != 0 {
		ev.Events |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if interest&EventWrite != 0 {
		ev.Events |= unix.EPOLLOUT
	}
	return ev
}

func (p *epollPoller) Add(fd int, token uint32, interest Events) error {
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, toEpoll(fd, token, interest)); err != nil {
		return fmt.Errorf("epoll ctl add: %w", err)
	}
	return nil
}

func (p *epollPoller) Modify(fd int, token uint32, interest Events) error {
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, toEpoll(fd, token, interest)); err != nil {
		return fmt.Errorf("epoll ctl mod: %w", err)
	}
	return nil
}

func (p *epollPoller) Remove(fd int) error {
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("epoll ctl del: %w", err)
	}
	return nil
}

func (p *epollPoller) Wait(events []Event, timeout time.Duration) (int, error) {
	if len(p.raw) < len(events) {
		p.raw = make([]unix.EpollEvent, len(events))
	}
	ms := -1
	if timeout >= 0 {
		ms = int((timeout + time.Millisecond - 1) / time.Millisecond)
	}
	n, err := unix.EpollWait(p.epfd, p.raw[:len(events)], ms)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, fmt.Errorf("epoll wait: %w", err)
	}
	out := 0
	for i := 0; i < n; i++ {
		raw := &p.raw[i]
		if int(raw.Fd) == p.wfd {
			p.drainWake()
			continue
		}
		var ev Events
		if raw.Events&unix.EPOLLIN != 0 {
			ev |= EventRead
		}
		if raw.Events&unix.EPOLLOUT != 0 {
			ev |= EventWrite
		}
		if raw.Events&unix.EPOLLERR != 0 {
			ev |= EventError
		}
		if raw.Events&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
			ev |= EventHangup
		}
		events[out] = Event{Fd: int(raw.Fd), Token: uint32(raw.Pad), Events: ev}
		out++
	}
	return out, nil
}

func (p *epollPoller) drainWake() {
	var buf [8]byte
	for {
		if _, err := unix.Read(p.wfd, buf[:]); err != nil {
			return
		}
	}
}

func (p *epollPoller) Wake() error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	if _, err := unix.Write(p.wfd, buf[:]); err != nil && err != unix.EAGAIN {
		return fmt.Errorf("eventfd write: %w", err)
	}
	return nil
}

// Close closes the epoll instance and the wakeup descriptor.
func (p *epollPoller) Close() error {
	var err error
	p.closeOnce.Do(func() {
		if e := unix.Close(p.wfd); e != nil {
			err = e
		}
		if e := unix.Close(p.epfd); e != nil && err == nil {
			err = e
		}
	})
	return err
}
