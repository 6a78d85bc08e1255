package app

import (
	"bufio"
	"io"
	"net"
	nethttp "net/http"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
	"testing"
	"time"

	"github.com/searchktools/tinyweb/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "index.html"), []byte("home"), 0o644)

	cfg := config.Default()
	cfg.Port = 0
	cfg.SrcDir = dir
	cfg.MaxWaitMS = 100
	cfg.OpenLog = false
	cfg.UserDB = filepath.Join(t.TempDir(), "users.pb")
	return cfg
}

func TestApp_RunUntilSignal(t *testing.T) {
	a, err := New(testConfig(t))
	if err != nil {
		t.Fatal(err)
	}
	addr := "127.0.0.1:" + strconv.Itoa(int(a.Engine().Addr().Port()))

	errc := make(chan error, 1)
	go func() { errc <- a.Run() }()

	c, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	c.SetDeadline(time.Now().Add(5 * time.Second))
	io.WriteString(c, "GET / HTTP/1.1\r\n\r\n")
	resp, err := nethttp.ReadResponse(bufio.NewReader(c), nil)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != 200 || string(body) != "home" {
		t.Fatalf("Expected 200 home, got %d %q", resp.StatusCode, body)
	}

	// the response proves Run has installed its signal handler
	syscall.Kill(os.Getpid(), syscall.SIGTERM)

	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Expected nil from Run after a signal, got %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Expected Run to return after SIGTERM")
	}
}

func TestApp_NewFailsOnBusyPort(t *testing.T) {
	ln, err := net.Listen("tcp4", "0.0.0.0:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	cfg := testConfig(t)
	cfg.Port = ln.Addr().(*net.TCPAddr).Port
	if _, err := New(cfg); err == nil {
		t.Error("Expected New to fail on a port in use")
	}
}

func TestApp_CloseWithoutRun(t *testing.T) {
	a, err := New(testConfig(t))
	if err != nil {
		t.Fatal(err)
	}
	a.Close()
	a.Close()
}
