package http

import (
	"context"
	"errors"
	"io"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/searchktools/tinyweb/core/buffer"
)

var liveConns atomic.Int64

// LiveConns returns the number of initialized, not yet closed connections
func LiveConns() int64 {
	return liveConns.Load()
}

// ConnConfig carries the per-server settings every connection shares
type ConnConfig struct {
	SrcDir      string
	IdleTimeout time.Duration
}

// Conn is one accepted client socket with its buffers and protocol state.
//
// The reactor owns a Conn; while a Process call is in flight on a worker
// the reactor must not read into, write from, or close it.
type Conn struct {
	fd         int
	addr       netip.AddrPort
	closed     bool
	peerClosed bool

	// header/body bytes, then the mapped file
	iov [2][]byte

	readBuf  *buffer.Buffer
	writeBuf *buffer.Buffer

	request  *Request
	response *Response

	cfg ConnConfig
	log zerolog.Logger
}

// NewConn allocates a connection object; Init binds it to a socket
func NewConn(auth Authenticator, log zerolog.Logger) *Conn {
	return &Conn{
		fd:       -1,
		closed:   true,
		readBuf:  buffer.New(buffer.DefaultSize),
		writeBuf: buffer.New(buffer.DefaultSize),
		request:  NewRequest(auth, log),
		response: NewResponse(log),
		log:      log,
	}
}

// Init binds the connection to an accepted, non-blocking socket
func (c *Conn) Init(fd int, addr netip.AddrPort, cfg ConnConfig) {
	liveConns.Add(1)
	c.fd = fd
	c.addr = addr
	c.cfg = cfg
	c.closed = false
	c.peerClosed = false
	c.readBuf.RetrieveAll()
	c.writeBuf.RetrieveAll()
	c.iov = [2][]byte{}
	c.request.Reset()
	c.response.SetIdleTimeout(cfg.IdleTimeout)
	c.log.Info().Int("fd", fd).Str("addr", addr.String()).Int64("userCount", LiveConns()).Msg("Client in")
}

// Read drains the socket into the read buffer until it would block.
// It returns io.EOF once the peer has shut down its side.
func (c *Conn) Read() (int, error) {
	total := 0
	for {
		n, err := c.readBuf.ReadFd(c.fd)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			if errors.Is(err, unix.EAGAIN) {
				return total, nil
			}
			return total, err
		}
		if n == 0 {
			return total, io.EOF
		}
		total += n
	}
}

// MarkPeerClosed records a half-close seen while bytes were still buffered;
// the pending request is answered and the connection is not kept alive.
func (c *Conn) MarkPeerClosed() {
	c.peerClosed = true
}

// Process parses the buffered bytes and stages the response segments.
// It runs on a worker goroutine.
func (c *Conn) Process(ctx context.Context) ProcessStatus {
	if c.readBuf.ReadableBytes() == 0 {
		if c.peerClosed {
			return ProcessClosed
		}
		return ProcessNeedMore
	}

	switch c.request.Parse(ctx, c.readBuf) {
	case ParseIncomplete:
		if c.peerClosed {
			return ProcessClosed
		}
		return ProcessNeedMore
	case ParseOK:
		c.log.Debug().Str("method", c.request.Method()).Str("path", c.request.Path()).Msg("request")
		c.response.Init(c.cfg.SrcDir, c.request.Path(), c.request.IsKeepAlive() && !c.peerClosed, 0)
	case ParseBadRequest:
		c.response.Init(c.cfg.SrcDir, c.request.Path(), false, 400)
	}

	c.response.MakeResponse(c.writeBuf)
	c.iov[0] = c.writeBuf.Peek()
	c.iov[1] = nil
	if file := c.response.File(); len(file) > 0 {
		c.iov[1] = file
	}
	c.log.Debug().Int("code", c.response.Code()).Int("toWrite", c.ToWriteBytes()).Msg("response staged")
	return ProcessReady
}

// Write sends the staged segments with writev until they drain or the
// socket would block (unix.EAGAIN is returned in that case).
func (c *Conn) Write() (int, error) {
	total := 0
	for c.ToWriteBytes() > 0 {
		n, err := unix.Writev(c.fd, c.segments())
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return total, err
		}
		total += n
		c.advance(n)
	}
	c.response.UnmapFile()
	return total, nil
}

func (c *Conn) segments() [][]byte {
	segs := make([][]byte, 0, 2)
	for _, s := range c.iov {
		if len(s) > 0 {
			segs = append(segs, s)
		}
	}
	return segs
}

// advance drops n written bytes from the front of the segments
func (c *Conn) advance(n int) {
	if head := len(c.iov[0]); n >= head {
		c.iov[1] = c.iov[1][n-head:]
		c.iov[0] = nil
		c.writeBuf.RetrieveAll()
		return
	}
	c.iov[0] = c.iov[0][n:]
	c.writeBuf.Retrieve(n)
}

// ToWriteBytes returns the bytes still to be sent; zero means done
func (c *Conn) ToWriteBytes() int {
	return len(c.iov[0]) + len(c.iov[1])
}

// IsKeepAlive reports whether the last response kept the connection open
func (c *Conn) IsKeepAlive() bool {
	return c.response.KeepAlive()
}

// HasBuffered reports whether unparsed bytes remain, e.g. a pipelined request
func (c *Conn) HasBuffered() bool {
	return c.readBuf.ReadableBytes() > 0
}

// PrepareNext resets the protocol state for the next request on this connection
func (c *Conn) PrepareNext() {
	c.request.Reset()
	c.response.UnmapFile()
	c.writeBuf.RetrieveAll()
	c.iov = [2][]byte{}
}

// Close releases the mapped file and closes the socket exactly once
func (c *Conn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.response.UnmapFile()
	c.iov = [2][]byte{}
	liveConns.Add(-1)
	err := unix.Close(c.fd)
	c.log.Info().Int("fd", c.fd).Str("addr", c.addr.String()).Int64("userCount", LiveConns()).Msg("Client quit")
	return err
}

// Reset detaches a closed connection so it can be pooled
func (c *Conn) Reset() {
	c.fd = -1
	c.addr = netip.AddrPort{}
	c.readBuf.RetrieveAll()
	c.writeBuf.RetrieveAll()
}

// Fd returns the socket descriptor
func (c *Conn) Fd() int {
	return c.fd
}

// Addr returns the peer address
func (c *Conn) Addr() netip.AddrPort {
	return c.addr
}

// Closed reports whether Close has run
func (c *Conn) Closed() bool {
	return c.closed
}

// Request exposes the parsed request, for diagnostics and tests
func (c *Conn) Request() *Request {
	return c.request
}

// Response exposes the response builder, for diagnostics and tests
func (c *Conn) Response() *Response {
	return c.response
}
