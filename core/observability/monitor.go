package observability

import (
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// latency bucket upper bounds; the last bucket is open-ended
var bucketBounds = [...]time.Duration{
	100 * time.Microsecond,
	time.Millisecond,
	5 * time.Millisecond,
	10 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
}

// Monitor aggregates per-route request metrics. Record is called from the
// worker goroutines; Snapshot and Report may run concurrently with it.
type Monitor struct {
	enabled atomic.Bool
	routes  *xsync.MapOf[string, *RouteMetrics]
	total   atomic.Uint64
	errors  atomic.Uint64
}

// RouteMetrics holds the counters of one "METHOD path" route
type RouteMetrics struct {
	Route         string
	Count         atomic.Uint64
	Errors        atomic.Uint64
	TotalDuration atomic.Uint64
	MinDuration   atomic.Uint64
	MaxDuration   atomic.Uint64
	codes         *xsync.MapOf[int, *atomic.Uint64]
	buckets       [len(bucketBounds) + 1]atomic.Uint64
}

// NewMonitor creates an enabled monitor
func NewMonitor() *Monitor {
	m := &Monitor{routes: xsync.NewMapOf[string, *RouteMetrics]()}
	m.enabled.Store(true)
	return m
}

// SetEnabled turns recording on or off
func (m *Monitor) SetEnabled(on bool) {
	m.enabled.Store(on)
}

// Record accounts one answered request. Codes of 400 and above count as errors.
func (m *Monitor) Record(method, path string, code int, d time.Duration) {
	if !m.enabled.Load() {
		return
	}

	route := method + " " + path
	rm, _ := m.routes.LoadOrCompute(route, func() *RouteMetrics {
		return &RouteMetrics{Route: route, codes: xsync.NewMapOf[int, *atomic.Uint64]()}
	})

	ns := uint64(d.Nanoseconds())
	rm.Count.Add(1)
	rm.TotalDuration.Add(ns)
	updateMin(&rm.MinDuration, ns)
	updateMax(&rm.MaxDuration, ns)
	rm.buckets[bucketFor(d)].Add(1)

	counter, _ := rm.codes.LoadOrCompute(code, func() *atomic.Uint64 { return new(atomic.Uint64) })
	counter.Add(1)

	m.total.Add(1)
	if code >= 400 {
		rm.Errors.Add(1)
		m.errors.Add(1)
	}
}

func updateMin(v *atomic.Uint64, d uint64) {
	for {
		cur := v.Load()
		if cur != 0 && d >= cur {
			return
		}
		if v.CompareAndSwap(cur, d) {
			return
		}
	}
}

func updateMax(v *atomic.Uint64, d uint64) {
	for {
		cur := v.Load()
		if d <= cur {
			return
		}
		if v.CompareAndSwap(cur, d) {
			return
		}
	}
}

func bucketFor(d time.Duration) int {
	for i, bound := range bucketBounds {
		if d < bound {
			return i
		}
	}
	return len(bucketBounds)
}

// RouteSnapshot is a point-in-time copy of RouteMetrics
type RouteSnapshot struct {
	Route   string         `json:"route"`
	Count   uint64         `json:"count"`
	Errors  uint64         `json:"errors"`
	Avg     time.Duration  `json:"avg"`
	Min     time.Duration  `json:"min"`
	Max     time.Duration  `json:"max"`
	Codes   map[int]uint64 `json:"codes"`
	Buckets []uint64       `json:"buckets"`
}

// Snapshot returns every route, busiest first
func (m *Monitor) Snapshot() []RouteSnapshot {
	var out []RouteSnapshot
	m.routes.Range(func(_ string, rm *RouteMetrics) bool {
		s := RouteSnapshot{
			Route:   rm.Route,
			Count:   rm.Count.Load(),
			Errors:  rm.Errors.Load(),
			Min:     time.Duration(rm.MinDuration.Load()),
			Max:     time.Duration(rm.MaxDuration.Load()),
			Codes:   make(map[int]uint64),
			Buckets: make([]uint64, len(rm.buckets)),
		}
		if s.Count > 0 {
			s.Avg = time.Duration(rm.TotalDuration.Load() / s.Count)
		}
		rm.codes.Range(func(code int, n *atomic.Uint64) bool {
			s.Codes[code] = n.Load()
			return true
		})
		for i := range rm.buckets {
			s.Buckets[i] = rm.buckets[i].Load()
		}
		out = append(out, s)
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Route < out[j].Route
	})
	return out
}

// Totals returns the number of recorded requests and how many were errors
func (m *Monitor) Totals() (requests, errors uint64) {
	return m.total.Load(), m.errors.Load()
}

// Report renders the snapshot as text for the shutdown log
func (m *Monitor) Report() string {
	var sb strings.Builder
	requests, errors := m.Totals()
	fmt.Fprintf(&sb, "requests: %d, errors: %d\n", requests, errors)
	for _, s := range m.Snapshot() {
		codes := make([]int, 0, len(s.Codes))
		for c := range s.Codes {
			codes = append(codes, c)
		}
		sort.Ints(codes)
		parts := make([]string, len(codes))
		for i, c := range codes {
			parts[i] = fmt.Sprintf("%d=%d", c, s.Codes[c])
		}
		fmt.Fprintf(&sb, "  %-32s count=%d errors=%d avg=%v min=%v max=%v codes[%s]\n",
			s.Route, s.Count, s.Errors, s.Avg, s.Min, s.Max, strings.Join(parts, " "))
	}
	return sb.String()
}
