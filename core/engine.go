package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/searchktools/tinyweb/core/http"
	"github.com/searchktools/tinyweb/core/observability"
	"github.com/searchktools/tinyweb/core/poller"
	"github.com/searchktools/tinyweb/core/pools"
	"github.com/searchktools/tinyweb/core/timer"
)

// Executor runs connection processing off the reactor goroutine.
// Submit must not run task inline.
type Executor interface {
	Submit(task func()) error
}

// Options configures an Engine
type Options struct {
	Port     int
	TrigMode int
	// Timeout is the idle timeout; 0 disables idle eviction
	Timeout time.Duration
	// OptLinger sets SO_LINGER{1,1} on the listening socket
	OptLinger bool
	SrcDir    string
	// MaxWait bounds a single poller wait
	MaxWait   time.Duration
	MaxConns  int
	MaxEvents int
}

// Validate checks the options NewEngine cannot repair
func (o Options) Validate() error {
	if o.TrigMode < TrigModeLevel || o.TrigMode > TrigModeBothET {
		return fmt.Errorf("%w: %d", ErrBadTrigMode, o.TrigMode)
	}
	if o.Port < 0 || o.Port > 65535 {
		return fmt.Errorf("%w: %d", ErrPortRange, o.Port)
	}
	return nil
}

// client is the reactor's view of one connection
type client struct {
	conn *http.Conn
	// inFlight is set from submission until the completion is collected
	inFlight       bool
	closeRequested bool
}

type completion struct {
	c      *client
	status http.ProcessStatus
}

// Engine is a single-reactor HTTP server: one goroutine owns the poller,
// the idle timers and the connection table; parsing and response
// building run on the Executor.
type Engine struct {
	opts Options

	listenFd    int
	addr        netip.AddrPort
	listenEvent uint32
	connEvent   uint32

	poller   poller.Poller
	waker    *poller.Waker
	timer    *timer.HeapTimer
	clients  map[int]*client
	inFlight int

	connPool *pools.ConnectionPool[*http.Conn]
	executor Executor
	monitor  *observability.Monitor
	log      zerolog.Logger

	mu          sync.Mutex
	completions []completion

	ctx     context.Context
	cancel  context.CancelFunc
	closed  atomic.Bool
	running atomic.Bool
	done    chan struct{}

	stats struct {
		accepted atomic.Uint64
		rejected atomic.Uint64
		closed   atomic.Uint64
		active   atomic.Int64
	}
}

// NewEngine opens the listening socket and the poller. auth may be nil;
// monitor may be nil.
func NewEngine(opts Options, executor Executor, auth http.Authenticator, monitor *observability.Monitor, log zerolog.Logger) (*Engine, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if executor == nil {
		return nil, errors.New("tinyweb: nil executor")
	}
	if opts.MaxConns <= 0 {
		opts.MaxConns = DefaultMaxConns
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = DefaultMaxWait
	}
	if opts.MaxEvents <= 0 {
		opts.MaxEvents = poller.DefaultMaxEvents
	}

	e := &Engine{
		opts:     opts,
		listenFd: -1,
		timer:    timer.New(),
		clients:  make(map[int]*client),
		executor: executor,
		monitor:  monitor,
		log:      log,
		done:     make(chan struct{}),
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.connPool = pools.NewConnectionPool(func() *http.Conn {
		return http.NewConn(auth, log)
	})
	e.initEventMode()

	if err := e.initSocket(); err != nil {
		e.release()
		log.Error().Err(err).Msg("========== Server init error! ==========")
		return nil, err
	}

	log.Info().Msg("========== Server init ==========")
	log.Info().Uint16("port", e.addr.Port()).Bool("openLinger", opts.OptLinger).Msg("Port, OpenLinger")
	log.Info().
		Str("listen", modeName(e.listenEvent)).
		Str("conn", modeName(e.connEvent)).
		Msg("Listen Mode, OpenConn Mode")
	log.Info().Str("srcDir", opts.SrcDir).Dur("timeout", opts.Timeout).Msg("srcDir")
	return e, nil
}

func modeName(events uint32) string {
	if events&poller.EventET != 0 {
		return "ET"
	}
	return "LT"
}

// initEventMode derives the registration masks from the trigger mode
func (e *Engine) initEventMode() {
	e.listenEvent = poller.EventRDHup
	e.connEvent = poller.EventOneShot | poller.EventRDHup
	switch e.opts.TrigMode {
	case TrigModeConnET:
		e.connEvent |= poller.EventET
	case TrigModeListenET:
		e.listenEvent |= poller.EventET
	case TrigModeBothET:
		e.listenEvent |= poller.EventET
		e.connEvent |= poller.EventET
	}
}

func (e *Engine) initSocket() error {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("create socket: %w", err)
	}
	e.listenFd = fd

	if e.opts.OptLinger {
		// close waits up to a second for unsent data
		if err := unix.SetsockoptLinger(fd, unix.SOL_SOCKET, unix.SO_LINGER, &unix.Linger{Onoff: 1, Linger: 1}); err != nil {
			return fmt.Errorf("init linger: %w", err)
		}
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fmt.Errorf("set reuseaddr: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: e.opts.Port}); err != nil {
		return fmt.Errorf("bind port %d: %w", e.opts.Port, err)
	}
	if err := unix.Listen(fd, ListenBacklog); err != nil {
		return fmt.Errorf("listen port %d: %w", e.opts.Port, err)
	}
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return fmt.Errorf("getsockname: %w", err)
	}
	e.addr = addrOf(sa)

	ep, err := poller.NewEpoller(e.opts.MaxEvents)
	if err != nil {
		return err
	}
	e.poller = ep
	if err := e.poller.AddFd(fd, poller.EventIn|e.listenEvent); err != nil {
		return fmt.Errorf("add listen fd: %w", err)
	}
	if e.waker, err = poller.NewWaker(); err != nil {
		return err
	}
	if err := e.poller.AddFd(e.waker.Fd(), poller.EventIn); err != nil {
		return fmt.Errorf("add waker fd: %w", err)
	}
	return nil
}

func addrOf(sa unix.Sockaddr) netip.AddrPort {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(a.Addr), uint16(a.Port))
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(a.Addr), uint16(a.Port))
	}
	return netip.AddrPort{}
}

// Addr returns the bound listening address
func (e *Engine) Addr() netip.AddrPort {
	return e.addr
}

// Run serves until Shutdown and then returns ErrServerClosed.
// A poller failure ends the loop with that error.
func (e *Engine) Run() error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrServerClosed
	}
	defer close(e.done)
	defer e.teardown()

	e.log.Info().Str("addr", e.addr.String()).Msg("========== Server start ==========")
	for !e.closed.Load() {
		n, err := e.poller.Wait(e.waitMs())
		if err != nil {
			e.log.Error().Err(err).Msg("poller wait failed")
			return err
		}

		for i := 0; i < n; i++ {
			fd := e.poller.EventFd(i)
			events := e.poller.Events(i)
			switch fd {
			case e.listenFd:
				e.dealListen()
			case e.waker.Fd():
				e.waker.Drain()
				e.collect()
			default:
				e.dealClient(fd, events)
			}
		}
	}
	return ErrServerClosed
}

// waitMs expires due timers and returns how long the poller may block
func (e *Engine) waitMs() int {
	wait := e.opts.MaxWait
	if e.opts.Timeout > 0 {
		if next := e.timer.NextTick(); next >= 0 && next < wait {
			wait = next
		}
	}
	// round up so a timer is never polled a millisecond early in a loop
	return int((wait + time.Millisecond - 1) / time.Millisecond)
}

func (e *Engine) dealClient(fd int, events uint32) {
	c, ok := e.clients[fd]
	if !ok || c.inFlight {
		return
	}
	switch {
	case events&(poller.EventHup|poller.EventErr) != 0:
		e.closeClient(c)
	case events&poller.EventIn != 0:
		e.dealRead(c)
	case events&poller.EventRDHup != 0:
		e.closeClient(c)
	case events&poller.EventOut != 0:
		e.dealWrite(c)
	default:
		e.log.Error().Int("fd", fd).Uint32("events", events).Msg("Unexpected event")
	}
}

func (e *Engine) dealListen() {
	for {
		fd, sa, err := unix.Accept4(e.listenFd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			if !errors.Is(err, unix.EAGAIN) {
				e.log.Warn().Err(err).Msg("accept failed")
			}
			return
		}
		if len(e.clients) >= e.opts.MaxConns {
			e.sendError(fd, busyMessage)
			e.stats.rejected.Add(1)
			e.log.Warn().Int("clients", len(e.clients)).Msg("Clients is full!")
			continue
		}
		e.addClient(fd, addrOf(sa))
	}
}

func (e *Engine) sendError(fd int, msg string) {
	if _, err := unix.Write(fd, []byte(msg)); err != nil {
		e.log.Warn().Err(err).Int("fd", fd).Msg("send error to client failed")
	}
	unix.Close(fd)
}

func (e *Engine) addClient(fd int, addr netip.AddrPort) {
	conn := e.connPool.Get()
	conn.Init(fd, addr, http.ConnConfig{SrcDir: e.opts.SrcDir, IdleTimeout: e.opts.Timeout})
	c := &client{conn: conn}
	e.clients[fd] = c
	e.stats.accepted.Add(1)
	e.stats.active.Add(1)

	if e.opts.Timeout > 0 {
		e.timer.Add(fd, e.opts.Timeout, func() { e.closeConn(c) })
	}
	if err := e.poller.AddFd(fd, poller.EventIn|e.connEvent); err != nil {
		e.log.Error().Err(err).Int("fd", fd).Msg("add client fd failed")
		e.closeClient(c)
	}
}

// extentTime pushes the idle deadline of c forward
func (e *Engine) extentTime(c *client) {
	if e.opts.Timeout > 0 {
		e.timer.Adjust(c.conn.Fd(), e.opts.Timeout)
	}
}

func (e *Engine) dealRead(c *client) {
	e.extentTime(c)
	_, err := c.conn.Read()
	if err != nil {
		if !errors.Is(err, io.EOF) || !c.conn.HasBuffered() {
			if !errors.Is(err, io.EOF) {
				e.log.Debug().Err(err).Int("fd", c.conn.Fd()).Msg("read failed")
			}
			e.closeClient(c)
			return
		}
		// answer what arrived before the half-close
		c.conn.MarkPeerClosed()
	}
	e.dispatch(c)
}

func (e *Engine) dealWrite(c *client) {
	e.extentTime(c)
	_, err := c.conn.Write()
	switch {
	case err == nil:
		if !c.conn.IsKeepAlive() {
			e.closeClient(c)
			return
		}
		c.conn.PrepareNext()
		if c.conn.HasBuffered() {
			// pipelined request already buffered; no readiness event will come for it
			e.dispatch(c)
			return
		}
		e.rearm(c, poller.EventIn)
	case errors.Is(err, unix.EAGAIN):
		e.rearm(c, poller.EventOut)
	default:
		e.log.Debug().Err(err).Int("fd", c.conn.Fd()).Msg("write failed")
		e.closeClient(c)
	}
}

func (e *Engine) rearm(c *client, event uint32) {
	if err := e.poller.ModFd(c.conn.Fd(), event|e.connEvent); err != nil {
		e.log.Error().Err(err).Int("fd", c.conn.Fd()).Msg("rearm client fd failed")
		e.closeClient(c)
	}
}

// dispatch hands c to the executor; the reactor leaves it alone until
// the completion is collected
func (e *Engine) dispatch(c *client) {
	c.inFlight = true
	e.inFlight++
	conn := c.conn
	err := e.executor.Submit(func() {
		start := time.Now()
		status := conn.Process(e.ctx)
		if status == http.ProcessReady && e.monitor != nil {
			e.monitor.Record(conn.Request().Method(), conn.Request().Path(), conn.Response().Code(), time.Since(start))
		}
		e.complete(c, status)
	})
	if err != nil {
		c.inFlight = false
		e.inFlight--
		e.log.Error().Err(err).Int("fd", conn.Fd()).Msg("submit failed")
		e.closeClient(c)
	}
}

// complete runs on a worker goroutine
func (e *Engine) complete(c *client, status http.ProcessStatus) {
	e.mu.Lock()
	e.completions = append(e.completions, completion{c: c, status: status})
	e.mu.Unlock()
	if err := e.waker.Wake(); err != nil {
		e.log.Error().Err(err).Msg("wake reactor failed")
	}
}

// collect applies finished Process results on the reactor goroutine
func (e *Engine) collect() {
	e.mu.Lock()
	done := e.completions
	e.completions = nil
	e.mu.Unlock()

	for _, cp := range done {
		c := cp.c
		c.inFlight = false
		e.inFlight--

		if c.closeRequested || e.closed.Load() {
			e.closeConn(c)
			continue
		}
		switch cp.status {
		case http.ProcessReady:
			e.rearm(c, poller.EventOut)
		case http.ProcessNeedMore:
			e.rearm(c, poller.EventIn)
		default:
			e.closeClient(c)
		}
	}
}

// closeClient closes c through its timer, if armed, so the deadline is
// consumed along with the connection
func (e *Engine) closeClient(c *client) {
	if e.opts.Timeout > 0 && e.timer.Has(c.conn.Fd()) {
		e.timer.DoWork(c.conn.Fd())
		return
	}
	e.closeConn(c)
}

// closeConn releases c, or marks it to be released once its task completes
func (e *Engine) closeConn(c *client) {
	if c.inFlight {
		c.closeRequested = true
		return
	}
	conn := c.conn
	if conn.Closed() {
		return
	}

	fd := conn.Fd()
	e.timer.Cancel(fd)
	if err := e.poller.DelFd(fd); err != nil && !errors.Is(err, unix.ENOENT) {
		e.log.Debug().Err(err).Int("fd", fd).Msg("deregister client fd failed")
	}
	if err := conn.Close(); err != nil {
		e.log.Debug().Err(err).Int("fd", fd).Msg("close client fd failed")
	}
	if e.clients[fd] == c {
		delete(e.clients, fd)
	}
	e.stats.closed.Add(1)
	e.stats.active.Add(-1)
	e.connPool.Put(conn)
}

// Shutdown stops the reactor and waits for it to release every
// connection, the listener, the poller and the waker
func (e *Engine) Shutdown(ctx context.Context) error {
	if !e.closed.CompareAndSwap(false, true) {
		return ErrServerClosed
	}
	if e.running.CompareAndSwap(false, true) {
		// never ran
		e.teardown()
		close(e.done)
		return nil
	}
	if err := e.waker.Wake(); err != nil {
		e.log.Error().Err(err).Msg("wake reactor failed")
	}
	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once the engine has released its resources
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// teardown runs on the reactor goroutine after the loop exits
func (e *Engine) teardown() {
	e.closed.Store(true)
	e.cancel()

	// tasks still running own their connections until collected
	for e.inFlight > 0 {
		if _, err := e.poller.Wait(int(e.opts.MaxWait / time.Millisecond)); err != nil {
			e.log.Error().Err(err).Msg("poller wait failed during shutdown")
			break
		}
		e.waker.Drain()
		e.collect()
	}
	for _, c := range e.clients {
		e.closeConn(c)
	}
	e.timer.Clear()
	e.release()
	e.log.Info().Msg("========== Server stop ==========")
}

func (e *Engine) release() {
	if e.listenFd >= 0 {
		unix.Close(e.listenFd)
		e.listenFd = -1
	}
	if e.poller != nil {
		e.poller.Close()
	}
	if e.waker != nil {
		e.waker.Close()
	}
}
