// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package reactor

import (
	"fmt"
	"time"

	"github.com/absmach/evproxy/pkg/connection"
	"github.com/absmach/evproxy/pkg/handle"
	"golang.org/x/sys/unix"
)

// epoll is the edge-triggered Linux poller. The handle travels in the
// event's data word, so no fd to handle table is needed.
type epoll struct {
	fd  int
	raw []unix.EpollEvent
}

var _ Poller = (*epoll)(nil)

// NewPoller creates an epoll instance.
func NewPoller() (Poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	return &epoll{fd: fd}, nil
}

func (p *epoll) Add(fd int, h handle.Handle, interest connection.Interest) error {
	ev := toEpoll(h, interest)
	if err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll ctl add: %w", err)
	}
	return nil
}

func (p *epoll) Modify(fd int, h handle.Handle, interest connection.Interest) error {
	ev := toEpoll(h, interest)
	if err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return fmt.Errorf("epoll ctl mod: %w", err)
	}
	return nil
}

func (p *epoll) Delete(fd int) error {
	if err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("epoll ctl del: %w", err)
	}
	return nil
}

func (p *epoll) Wait(events []Event, timeout time.Duration) (int, error) {
	if cap(p.raw) < len(events) {
		p.raw = make([]unix.EpollEvent, len(events))
	}
	raw := p.raw[:len(events)]

	n, err := unix.EpollWait(p.fd, raw, timeoutMillis(timeout))
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, fmt.Errorf("epoll wait: %w", err)
	}

	for i := 0; i < n; i++ {
		events[i] = Event{
			Handle: handle.Handle(uint32(raw[i].Fd)),
			Ready:  fromEpoll(raw[i].Events),
		}
	}
	return n, nil
}

func (p *epoll) Close() error {
	return unix.Close(p.fd)
}

func toEpoll(h handle.Handle, interest connection.Interest) unix.EpollEvent {
	ev := unix.EpollEvent{
		Events: unix.EPOLLET,
		Fd:     int32(h),
	}
	if interest&connection.Readable != 0 {
		ev.Events |= unix.EPOLLIN
	}
	if interest&connection.Writable != 0 {
		ev.Events |= unix.EPOLLOUT
	}
	if interest&connection.Hangup != 0 {
		ev.Events |= unix.EPOLLRDHUP
	}
	if interest&connection.Error != 0 {
		ev.Events |= unix.EPOLLERR
	}
	return ev
}

func fromEpoll(events uint32) connection.Interest {
	var ready connection.Interest
	if events&unix.EPOLLIN != 0 {
		ready |= connection.Readable
	}
	if events&unix.EPOLLOUT != 0 {
		ready |= connection.Writable
	}
	if events&(unix.EPOLLRDHUP|unix.EPOLLHUP) != 0 {
		ready |= connection.Hangup
	}
	if events&unix.EPOLLERR != 0 {
		ready |= connection.Error
	}
	return ready
}
