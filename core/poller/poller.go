//go:build linux
// +build linux

package poller

import "golang.org/x/sys/unix"

// Event masks accepted by AddFd/ModFd and reported by Events
const (
	EventIn      = uint32(unix.EPOLLIN)
	EventOut     = uint32(unix.EPOLLOUT)
	EventRDHup   = uint32(unix.EPOLLRDHUP)
	EventHup     = uint32(unix.EPOLLHUP)
	EventErr     = uint32(unix.EPOLLERR)
	EventOneShot = uint32(unix.EPOLLONESHOT)
	EventET      = uint32(unix.EPOLLET)
)

// Poller is the readiness multiplexing interface.
// EventFd and Events are valid for i in [0, n) until the next Wait.
type Poller interface {
	AddFd(fd int, events uint32) error
	ModFd(fd int, events uint32) error
	DelFd(fd int) error
	Wait(timeoutMs int) (int, error)
	EventFd(i int) int
	Events(i int) uint32
	Close() error
}
