//go:build linux
// +build linux

package poller

import (
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Waker lets other goroutines interrupt a blocked Wait.
// It is an eventfd registered with the poller like any other fd;
// multiple Wake calls before a Drain collapse into one readiness event.
type Waker struct {
	fd int
}

// NewWaker creates a non-blocking eventfd
func NewWaker() (*Waker, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	return &Waker{fd: fd}, nil
}

// Fd returns the descriptor to register for EventIn
func (w *Waker) Fd() int {
	return w.fd
}

// Wake makes the eventfd readable. Safe for concurrent use.
func (w *Waker) Wake() error {
	var one [8]byte
	binary.NativeEndian.PutUint64(one[:], 1)
	_, err := unix.Write(w.fd, one[:])
	if err != nil && !errors.Is(err, unix.EAGAIN) {
		return err
	}
	return nil
}

// Drain resets the counter so the fd stops reporting readable
func (w *Waker) Drain() {
	var buf [8]byte
	for {
		if _, err := unix.Read(w.fd, buf[:]); err != nil {
			return
		}
	}
}

// Close closes the eventfd
func (w *Waker) Close() error {
	return unix.Close(w.fd)
}
