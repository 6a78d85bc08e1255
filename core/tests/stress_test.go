package tests

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	nethttp "net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/searchktools/tinyweb/core"
	"github.com/searchktools/tinyweb/core/observability"
	"github.com/searchktools/tinyweb/core/pools"
	"github.com/searchktools/tinyweb/core/store"
)

func startServer(t *testing.T, timeout time.Duration) (*core.Engine, string) {
	t.Helper()
	dir := t.TempDir()
	page := make([]byte, 64*1024)
	for i := range page {
		page[i] = byte('a' + i%26)
	}
	os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>index</h1>"), 0o644)
	os.WriteFile(filepath.Join(dir, "big.txt"), page, 0o644)
	os.WriteFile(filepath.Join(dir, "welcome.html"), []byte("welcome"), 0o644)
	os.WriteFile(filepath.Join(dir, "error.html"), []byte("error"), 0o644)

	creds, err := store.Open(store.Options{PoolSize: 4}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	executor := pools.NewWorkerPool(6)
	e, err := core.NewEngine(core.Options{
		TrigMode: core.TrigModeBothET,
		Timeout:  timeout,
		SrcDir:   dir,
		MaxWait:  100 * time.Millisecond,
	}, executor, creds, observability.NewMonitor(), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	go e.Run()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		e.Shutdown(ctx)
		executor.Close()
		creds.Close()
	})
	return e, "127.0.0.1:" + strconv.Itoa(int(e.Addr().Port()))
}

// TestStressKeepAlive drives many keep-alive clients at once, mixing a
// small page and a large mapped file
func TestStressKeepAlive(t *testing.T) {
	if testing.Short() {
		t.Skip("stress test")
	}
	e, addr := startServer(t, time.Minute)

	const clients, requests = 50, 20
	var failures atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if err := runClient(addr, requests); err != nil {
				failures.Add(1)
				t.Logf("client %d: %v", id, err)
			}
		}(i)
	}
	wg.Wait()

	if failures.Load() != 0 {
		t.Errorf("Expected all clients to succeed, got %d failures", failures.Load())
	}
	stats := e.Stats()
	if stats.Requests != clients*requests {
		t.Errorf("Expected %d requests, got %d", clients*requests, stats.Requests)
	}
	t.Log("\n" + e.StatsText())
}

func runClient(addr string, requests int) error {
	c, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		return err
	}
	defer c.Close()
	c.SetDeadline(time.Now().Add(20 * time.Second))
	r := bufio.NewReader(c)

	for i := 0; i < requests; i++ {
		path, want := "/index", 14
		if i%2 == 1 {
			path, want = "/big.txt", 64*1024
		}
		if _, err := io.WriteString(c, "GET "+path+" HTTP/1.1\r\nConnection: keep-alive\r\n\r\n"); err != nil {
			return err
		}
		resp, err := nethttp.ReadResponse(r, nil)
		if err != nil {
			return err
		}
		n, err := io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if err != nil {
			return err
		}
		if resp.StatusCode != 200 || n != int64(want) {
			return fmt.Errorf("request %d: status %d, %d bytes", i, resp.StatusCode, n)
		}
	}
	return nil
}

// TestStressRegister registers the same users from many clients; each
// name must be won exactly once
func TestStressRegister(t *testing.T) {
	if testing.Short() {
		t.Skip("stress test")
	}
	_, addr := startServer(t, 0)

	const users, attempts = 10, 8
	var welcomes atomic.Int64
	var wg sync.WaitGroup
	for u := 0; u < users; u++ {
		for a := 0; a < attempts; a++ {
			wg.Add(1)
			go func(u int) {
				defer wg.Done()
				form := "username=user" + strconv.Itoa(u) + "&password=pw"
				body, err := post(addr, "/register", form)
				if err != nil {
					t.Errorf("post: %v", err)
					return
				}
				if body == "welcome" {
					welcomes.Add(1)
				}
			}(u)
		}
	}
	wg.Wait()

	if welcomes.Load() != users {
		t.Errorf("Expected %d successful registrations, got %d", users, welcomes.Load())
	}
}

func post(addr, path, form string) (string, error) {
	c, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		return "", err
	}
	defer c.Close()
	c.SetDeadline(time.Now().Add(10 * time.Second))

	raw := "POST " + path + " HTTP/1.1\r\nContent-Type: application/x-www-form-urlencoded\r\n" +
		"Content-Length: " + strconv.Itoa(len(form)) + "\r\n\r\n" + form
	if _, err := io.WriteString(c, raw); err != nil {
		return "", err
	}
	resp, err := nethttp.ReadResponse(bufio.NewReader(c), nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	return string(body), err
}
