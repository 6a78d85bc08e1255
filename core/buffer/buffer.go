// Package buffer provides the growable byte store used for socket I/O.
//
// A Buffer keeps two cursors over one contiguous slice:
//
//	| prependable | readable          | writable        |
//	0          readPos           writePos          len(buf)
//
// Data is appended at writePos and consumed from readPos. When the tail runs
// out of room the readable region is either slid back to offset 0 or the
// slice is grown, whichever satisfies the request.
package buffer

import (
	"golang.org/x/sys/unix"
)

const (
	// DefaultSize is the initial capacity of a connection buffer
	DefaultSize = 1024

	// overflowSize is the extra area handed to readv next to the tail
	overflowSize = 64 * 1024
)

// Buffer is a byte store with independent read and write cursors.
// It is not safe for concurrent use; ownership is handed between
// goroutines, never shared.
type Buffer struct {
	buf      []byte
	readPos  int
	writePos int
}

// New creates a buffer with the given initial capacity
func New(size int) *Buffer {
	if size <= 0 {
		size = DefaultSize
	}
	return &Buffer{buf: make([]byte, size)}
}

// ReadableBytes returns the number of bytes waiting to be consumed
func (b *Buffer) ReadableBytes() int {
	return b.writePos - b.readPos
}

// WritableBytes returns the free space after the write cursor
func (b *Buffer) WritableBytes() int {
	return len(b.buf) - b.writePos
}

// PrependableBytes returns the space already consumed in front of the read cursor
func (b *Buffer) PrependableBytes() int {
	return b.readPos
}

// Cap returns the size of the underlying store
func (b *Buffer) Cap() int {
	return len(b.buf)
}

// Peek returns the readable region without consuming it.
// The slice is valid until the next mutating call.
func (b *Buffer) Peek() []byte {
	return b.buf[b.readPos:b.writePos]
}

// BeginWrite returns the writable tail
func (b *Buffer) BeginWrite() []byte {
	return b.buf[b.writePos:]
}

// EnsureWriteable guarantees WritableBytes() >= n on return
func (b *Buffer) EnsureWriteable(n int) {
	if b.WritableBytes() < n {
		b.makeSpace(n)
	}
}

// HasWritten advances the write cursor after a direct write into BeginWrite()
func (b *Buffer) HasWritten(n int) {
	if n < 0 || n > b.WritableBytes() {
		panic("buffer: HasWritten beyond writable region")
	}
	b.writePos += n
}

// Retrieve consumes n readable bytes. n > ReadableBytes() is a programming error.
func (b *Buffer) Retrieve(n int) {
	if n < 0 || n > b.ReadableBytes() {
		panic("buffer: Retrieve beyond readable region")
	}
	b.readPos += n
}

// RetrieveUntil consumes everything before end, an offset into Peek()
func (b *Buffer) RetrieveUntil(end int) {
	b.Retrieve(end)
}

// RetrieveAll resets both cursors, keeping the storage
func (b *Buffer) RetrieveAll() {
	b.readPos = 0
	b.writePos = 0
}

// RetrieveAllToString consumes and returns the readable region
func (b *Buffer) RetrieveAllToString() string {
	s := string(b.Peek())
	b.RetrieveAll()
	return s
}

// Append copies p into the writable region
func (b *Buffer) Append(p []byte) {
	b.EnsureWriteable(len(p))
	b.writePos += copy(b.buf[b.writePos:], p)
}

// AppendString copies s into the writable region
func (b *Buffer) AppendString(s string) {
	b.EnsureWriteable(len(s))
	b.writePos += copy(b.buf[b.writePos:], s)
}

// AppendBuffer copies the readable region of other and empties it
func (b *Buffer) AppendBuffer(other *Buffer) {
	b.Append(other.Peek())
	other.RetrieveAll()
}

// Write implements io.Writer; it never fails
func (b *Buffer) Write(p []byte) (int, error) {
	b.Append(p)
	return len(p), nil
}

// WriteString implements io.StringWriter; it never fails
func (b *Buffer) WriteString(s string) (int, error) {
	b.AppendString(s)
	return len(s), nil
}

// ReadFd performs one scatter read into the tail and a 64 KiB overflow area.
// It returns 0, nil when the peer has closed its side.
func (b *Buffer) ReadFd(fd int) (int, error) {
	var extra [overflowSize]byte

	writable := b.WritableBytes()
	n, err := unix.Readv(fd, [][]byte{b.buf[b.writePos:], extra[:]})
	if err != nil {
		return 0, err
	}
	if n <= writable {
		b.writePos += n
	} else {
		b.writePos = len(b.buf)
		b.Append(extra[:n-writable])
	}
	return n, nil
}

// WriteFd writes the readable region with a single write call.
// The caller retrieves the written bytes.
func (b *Buffer) WriteFd(fd int) (int, error) {
	n, err := unix.Write(fd, b.Peek())
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (b *Buffer) makeSpace(n int) {
	if b.WritableBytes()+b.PrependableBytes() < n {
		grown := make([]byte, b.writePos+n)
		copy(grown, b.buf[:b.writePos])
		b.buf = grown
		return
	}
	readable := b.ReadableBytes()
	copy(b.buf, b.buf[b.readPos:b.writePos])
	b.readPos = 0
	b.writePos = readable
}
