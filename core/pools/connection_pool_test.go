package pools

import "testing"

type fakeConn struct {
	fd     int
	resets int
}

func (c *fakeConn) Reset() {
	c.fd = -1
	c.resets++
}

func TestConnectionPool_ResetOnPut(t *testing.T) {
	pool := NewConnectionPool(func() *fakeConn { return &fakeConn{} })

	c := pool.Get()
	c.fd = 7
	pool.Put(c)

	if c.fd != -1 || c.resets != 1 {
		t.Errorf("Expected reset connection, got fd=%d resets=%d", c.fd, c.resets)
	}

	stats := pool.Stats()
	if stats.Gets != 1 || stats.Puts != 1 {
		t.Errorf("Expected 1 get and 1 put, got %d and %d", stats.Gets, stats.Puts)
	}
	if stats.News != 1 {
		t.Errorf("Expected 1 allocation, got %d", stats.News)
	}
}

func TestConnectionPool_GetNeverNil(t *testing.T) {
	pool := NewConnectionPool(func() *fakeConn { return &fakeConn{} })
	for i := 0; i < 10; i++ {
		if pool.Get() == nil {
			t.Fatal("Expected a connection from Get")
		}
	}
	if hr := pool.Stats().HitRate; hr < 0 || hr > 1 {
		t.Errorf("Expected hit rate in [0,1], got %f", hr)
	}
}
