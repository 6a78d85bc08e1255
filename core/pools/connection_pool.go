package pools

import (
	"sync"
	"sync/atomic"
)

// Poolable is implemented by objects that can be scrubbed for reuse
type Poolable interface {
	Reset()
}

// ConnectionPool recycles connection objects and their buffers between
// accepted sockets
type ConnectionPool[T Poolable] struct {
	pool sync.Pool
	gets atomic.Uint64
	puts atomic.Uint64
	news atomic.Uint64
}

// NewConnectionPool creates a pool that allocates with newFunc on a miss
func NewConnectionPool[T Poolable](newFunc func() T) *ConnectionPool[T] {
	cp := &ConnectionPool[T]{}
	cp.pool.New = func() any {
		cp.news.Add(1)
		return newFunc()
	}
	return cp
}

// Get retrieves a connection from the pool
func (cp *ConnectionPool[T]) Get() T {
	cp.gets.Add(1)
	return cp.pool.Get().(T)
}

// Put resets a connection and returns it to the pool
func (cp *ConnectionPool[T]) Put(obj T) {
	obj.Reset()
	cp.puts.Add(1)
	cp.pool.Put(obj)
}

// Stats returns pool statistics; the hit rate is the share of Gets
// served without allocating
func (cp *ConnectionPool[T]) Stats() ConnectionPoolStats {
	s := ConnectionPoolStats{
		Gets: cp.gets.Load(),
		Puts: cp.puts.Load(),
		News: cp.news.Load(),
	}
	if s.Gets > 0 && s.News <= s.Gets {
		s.HitRate = float64(s.Gets-s.News) / float64(s.Gets)
	}
	return s
}

// ConnectionPoolStats contains pool statistics
type ConnectionPoolStats struct {
	Gets    uint64  `json:"gets"`
	Puts    uint64  `json:"puts"`
	News    uint64  `json:"news"`
	HitRate float64 `json:"hit_rate"`
}
