package http

import (
	"context"
	"errors"
	"io"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

func socketPair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	return fds[0], fds[1]
}

func readAll(t *testing.T, fd int) string {
	t.Helper()
	var sb strings.Builder
	chunk := make([]byte, 4096)
	for {
		n, err := unix.Read(fd, chunk)
		if n > 0 {
			sb.Write(chunk[:n])
		}
		if err != nil || n <= 0 {
			return sb.String()
		}
	}
}

func newTestConn(t *testing.T, dir string) (*Conn, int) {
	t.Helper()
	server, client := socketPair(t)
	t.Cleanup(func() { unix.Close(client) })

	c := NewConn(nil, zerolog.Nop())
	c.Init(server, netip.MustParseAddrPort("127.0.0.1:40000"), ConnConfig{SrcDir: dir, IdleTimeout: time.Minute})
	t.Cleanup(func() { c.Close() })
	return c, client
}

func TestConn_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "index.html", "<p>index</p>", 0o644)
	c, client := newTestConn(t, dir)

	if _, err := unix.Write(client, []byte("GET / HTTP/1.1\r\nConnection: keep-alive\r\n\r\n")); err != nil {
		t.Fatal(err)
	}
	n, err := c.Read()
	if err != nil || n == 0 {
		t.Fatalf("Expected bytes read, got %d, %v", n, err)
	}
	if status := c.Process(context.Background()); status != ProcessReady {
		t.Fatalf("Expected ProcessReady, got %s", status)
	}
	if !c.IsKeepAlive() {
		t.Error("Expected keep-alive")
	}

	pending := c.ToWriteBytes()
	written, err := c.Write()
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if written != pending || c.ToWriteBytes() != 0 {
		t.Errorf("Expected %d bytes written and none left, got %d and %d", pending, written, c.ToWriteBytes())
	}

	got := readAll(t, client)
	if !strings.HasPrefix(got, "HTTP/1.1 200 OK\r\n") {
		t.Errorf("Expected 200 response, got %q", got)
	}
	if !strings.HasSuffix(got, "\r\n\r\n<p>index</p>") {
		t.Errorf("Expected the file after the headers, got %q", got)
	}

	c.PrepareNext()
	if c.Request().State() != StateRequestLine {
		t.Error("Expected request reset after PrepareNext")
	}
}

func TestConn_PartialRequestNeedsMore(t *testing.T) {
	c, client := newTestConn(t, t.TempDir())

	unix.Write(client, []byte("GET /index HTTP/1.1\r\nHost"))
	if _, err := c.Read(); err != nil {
		t.Fatal(err)
	}
	if status := c.Process(context.Background()); status != ProcessNeedMore {
		t.Errorf("Expected ProcessNeedMore, got %s", status)
	}
	if c.ToWriteBytes() != 0 {
		t.Errorf("Expected nothing staged, got %d bytes", c.ToWriteBytes())
	}
}

func TestConn_BadRequestCloses(t *testing.T) {
	c, client := newTestConn(t, t.TempDir())

	unix.Write(client, []byte("GARBAGE\r\n\r\n"))
	c.Read()
	if status := c.Process(context.Background()); status != ProcessReady {
		t.Fatalf("Expected ProcessReady, got %s", status)
	}
	if c.IsKeepAlive() {
		t.Error("Expected a bad request to close the connection")
	}
	if c.Response().Code() != 400 {
		t.Errorf("Expected 400, got %d", c.Response().Code())
	}
	c.Write()
	if got := readAll(t, client); !strings.HasPrefix(got, "HTTP/1.1 400 Bad Request\r\n") {
		t.Errorf("Expected 400 response, got %q", got)
	}
}

func TestConn_PeerClose(t *testing.T) {
	c, client := newTestConn(t, t.TempDir())
	unix.Close(client)

	n, err := c.Read()
	if n != 0 || !errors.Is(err, io.EOF) {
		t.Errorf("Expected 0, io.EOF, got %d, %v", n, err)
	}
}

func TestConn_HalfCloseAnswersThenCloses(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "index.html", "x", 0o644)
	c, client := newTestConn(t, dir)

	unix.Write(client, []byte("GET / HTTP/1.1\r\nConnection: keep-alive\r\n\r\n"))
	unix.Shutdown(client, unix.SHUT_WR)

	if _, err := c.Read(); !errors.Is(err, io.EOF) {
		t.Fatalf("Expected io.EOF after the request bytes, got %v", err)
	}
	c.MarkPeerClosed()
	if status := c.Process(context.Background()); status != ProcessReady {
		t.Fatalf("Expected ProcessReady, got %s", status)
	}
	if c.IsKeepAlive() {
		t.Error("Expected no keep-alive once the peer closed")
	}
	c.PrepareNext()
	if status := c.Process(context.Background()); status != ProcessClosed {
		t.Errorf("Expected ProcessClosed with nothing left, got %s", status)
	}
}

func TestConn_CloseIsIdempotent(t *testing.T) {
	server, client := socketPair(t)
	defer unix.Close(client)

	before := LiveConns()
	c := NewConn(nil, zerolog.Nop())
	c.Init(server, netip.AddrPort{}, ConnConfig{})
	if LiveConns() != before+1 {
		t.Errorf("Expected %d live connections, got %d", before+1, LiveConns())
	}

	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Expected second close to be a no-op, got %v", err)
	}
	if LiveConns() != before {
		t.Errorf("Expected %d live connections, got %d", before, LiveConns())
	}
	if !c.Closed() {
		t.Error("Expected Closed after Close")
	}
}

func TestConn_AdvanceAcrossSegments(t *testing.T) {
	c := NewConn(nil, zerolog.Nop())
	c.writeBuf.AppendString("head")
	c.iov[0] = c.writeBuf.Peek()
	c.iov[1] = []byte("body")

	c.advance(2)
	if string(c.iov[0]) != "ad" || c.writeBuf.ReadableBytes() != 2 {
		t.Errorf("Expected %q left in the head, got %q", "ad", c.iov[0])
	}
	c.advance(3)
	if len(c.iov[0]) != 0 || string(c.iov[1]) != "ody" {
		t.Errorf("Expected head drained and %q left, got %q and %q", "ody", c.iov[0], c.iov[1])
	}
	if c.ToWriteBytes() != 3 {
		t.Errorf("Expected 3 bytes left, got %d", c.ToWriteBytes())
	}
}
