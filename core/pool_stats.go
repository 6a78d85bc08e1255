package core

import (
	"encoding/json"
	"fmt"

	"github.com/searchktools/tinyweb/core/http"
	"github.com/searchktools/tinyweb/core/pools"
)

// EngineStats is a snapshot of the engine counters
type EngineStats struct {
	Accepted  uint64                    `json:"accepted"`
	Rejected  uint64                    `json:"rejected"`
	Closed    uint64                    `json:"closed"`
	Active    int64                     `json:"active"`
	LiveConns int64                     `json:"live_conns"`
	ConnPool  pools.ConnectionPoolStats `json:"conn_pool"`
	Executor  *pools.WorkerPoolStats    `json:"executor,omitempty"`
	Requests  uint64                    `json:"requests"`
	Errors    uint64                    `json:"errors"`
}

type statsReporter interface {
	Stats() pools.WorkerPoolStats
}

// Stats returns the engine counters. Safe to call from any goroutine.
func (e *Engine) Stats() EngineStats {
	stats := EngineStats{
		Accepted:  e.stats.accepted.Load(),
		Rejected:  e.stats.rejected.Load(),
		Closed:    e.stats.closed.Load(),
		Active:    e.stats.active.Load(),
		LiveConns: http.LiveConns(),
		ConnPool:  e.connPool.Stats(),
	}
	if r, ok := e.executor.(statsReporter); ok {
		s := r.Stats()
		stats.Executor = &s
	}
	if e.monitor != nil {
		stats.Requests, stats.Errors = e.monitor.Totals()
	}
	return stats
}

// StatsJSON returns Stats encoded as JSON
func (e *Engine) StatsJSON() ([]byte, error) {
	return json.Marshal(e.Stats())
}

// StatsText returns Stats as human-readable text
func (e *Engine) StatsText() string {
	s := e.Stats()
	text := fmt.Sprintf(`Server Statistics
=================

Connections:
  Accepted: %d
  Rejected: %d
  Closed:   %d
  Active:   %d
  Live:     %d

Connection Pool:
  Gets:     %d
  Puts:     %d
  Hit Rate: %.2f%%

Requests:
  Total:    %d
  Errors:   %d
`,
		s.Accepted, s.Rejected, s.Closed, s.Active, s.LiveConns,
		s.ConnPool.Gets, s.ConnPool.Puts, s.ConnPool.HitRate*100,
		s.Requests, s.Errors,
	)
	if s.Executor != nil {
		text += fmt.Sprintf(`
Executor:
  Workers:     %d
  Submitted:   %d
  Completed:   %d
  Queued:      %d
  Max Backlog: %d
`,
			s.Executor.NumWorkers, s.Executor.TasksSubmitted, s.Executor.TasksCompleted,
			s.Executor.TasksQueued, s.Executor.MaxBacklog,
		)
	}
	return text
}
