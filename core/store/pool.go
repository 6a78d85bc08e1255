package store

import (
	"context"
	"errors"
	"sync"

	"github.com/eapache/queue"
)

// ErrPoolClosed is returned by GetConn once the pool is closed
var ErrPoolClosed = errors.New("store: session pool closed")

// Session is a handle on the user table; a caller must hold one to
// query or insert.
type Session struct {
	id    int
	users *UserTable
}

// ID returns the session number, stable for the life of the pool
func (s *Session) ID() int {
	return s.id
}

// Query returns the password stored for name
func (s *Session) Query(name string) (string, bool) {
	return s.users.Lookup(name)
}

// Insert adds a user unless the name is taken
func (s *Session) Insert(name, password string) bool {
	return s.users.Insert(name, password)
}

// SessionPool hands out a fixed number of sessions. GetConn blocks
// while all of them are in use.
type SessionPool struct {
	size int

	// one token per idle session
	free chan struct{}
	done chan struct{}

	mu     sync.Mutex
	idle   *queue.Queue
	closed bool
}

// NewSessionPool creates size sessions over users
func NewSessionPool(size int, users *UserTable) *SessionPool {
	if size <= 0 {
		size = 1
	}
	p := &SessionPool{
		size: size,
		free: make(chan struct{}, size),
		done: make(chan struct{}),
		idle: queue.New(),
	}
	for i := 0; i < size; i++ {
		p.idle.Add(&Session{id: i, users: users})
		p.free <- struct{}{}
	}
	return p
}

// GetConn takes an idle session, waiting until one is freed, ctx ends,
// or the pool is closed
func (p *SessionPool) GetConn(ctx context.Context) (*Session, error) {
	select {
	case <-p.free:
	case <-p.done:
		return nil, ErrPoolClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPoolClosed
	}
	return p.idle.Remove().(*Session), nil
}

// FreeConn returns a session taken with GetConn
func (p *SessionPool) FreeConn(s *Session) {
	if s == nil {
		return
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.idle.Add(s)
	p.mu.Unlock()
	p.free <- struct{}{}
}

// WithConn runs fn with a pooled session and frees it afterwards
func (p *SessionPool) WithConn(ctx context.Context, fn func(*Session) error) error {
	s, err := p.GetConn(ctx)
	if err != nil {
		return err
	}
	defer p.FreeConn(s)
	return fn(s)
}

// FreeConnCount returns the number of idle sessions
func (p *SessionPool) FreeConnCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.idle.Length()
}

// Size returns the number of sessions the pool was created with
func (p *SessionPool) Size() int {
	return p.size
}

// ClosePool drops the idle sessions and fails every pending and future GetConn
func (p *SessionPool) ClosePool() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.done)
	for p.idle.Length() > 0 {
		p.idle.Remove()
	}
}
