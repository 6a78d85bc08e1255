//go:build linux
// +build linux

package poller

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// DefaultMaxEvents bounds the events returned by one Wait
const DefaultMaxEvents = 1024

var _ Poller = (*Epoller)(nil)

// Epoller is an epoll-based readiness multiplexer
type Epoller struct {
	epfd   int
	events []unix.EpollEvent
}

// NewEpoller creates a new epoll instance able to report maxEvents per Wait
func NewEpoller(maxEvents int) (*Epoller, error) {
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEvents
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}

	return &Epoller{
		epfd:   epfd,
		events: make([]unix.EpollEvent, maxEvents),
	}, nil
}

// AddFd registers fd with the given interest mask
func (p *Epoller) AddFd(fd int, events uint32) error {
	if fd < 0 {
		return unix.EBADF
	}
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

// ModFd replaces the interest mask of a registered fd.
// With EPOLLONESHOT this is also how a disarmed fd is re-armed.
func (p *Epoller) ModFd(fd int, events uint32) error {
	if fd < 0 {
		return unix.EBADF
	}
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

// DelFd removes fd from the watch list
func (p *Epoller) DelFd(fd int) error {
	if fd < 0 {
		return unix.EBADF
	}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// Wait blocks for up to timeoutMs (-1 blocks indefinitely) and returns
// the number of ready fds. An interrupted wait reports zero events.
func (p *Epoller) Wait(timeoutMs int) (int, error) {
	n, err := unix.EpollWait(p.epfd, p.events, timeoutMs)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, nil
		}
		return 0, fmt.Errorf("epoll wait: %w", err)
	}
	return n, nil
}

// EventFd returns the fd of the i-th ready event
func (p *Epoller) EventFd(i int) int {
	return int(p.events[i].Fd)
}

// Events returns the ready mask of the i-th event
func (p *Epoller) Events(i int) uint32 {
	return p.events[i].Events
}

// Close closes the epoll instance
func (p *Epoller) Close() error {
	return unix.Close(p.epfd)
}
