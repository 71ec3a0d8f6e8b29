// Package metrics collects per-tool call counters and latency stats.
//
// The collector keeps exact counts under a mutex for the JSON snapshot
// surface, and mirrors every observation into Prometheus collectors for
// the optional /metrics listener. Exactness matters for the snapshot:
// N successes and M failures recorded means the snapshot reports
// exactly N+M calls and M failures for that tool.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector accumulates dispatch outcomes. Safe for concurrent use.
type Collector struct {
	start time.Time
	reg   *prometheus.Registry

	promCalls    *prometheus.CounterVec
	promDuration *prometheus.HistogramVec

	mu         sync.Mutex
	total      int64
	failures   int64
	violations map[string]int64
	tools      map[string]*toolStats
}

type toolStats struct {
	calls    int64
	failures int64
	totalDur time.Duration
	minDur   time.Duration
	maxDur   time.Duration
}

// New creates a collector with its own Prometheus registry, so tests
// can build collectors freely without duplicate registration panics.
func New() *Collector {
	reg := prometheus.NewRegistry()
	return &Collector{
		start: time.Now(),
		reg:   reg,
		promCalls: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "toolgate",
			Name:      "tool_calls_total",
			Help:      "Tool calls by tool name and outcome.",
		}, []string{"tool", "outcome"}),
		promDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "toolgate",
			Name:      "tool_call_duration_seconds",
			Help:      "Tool call duration by tool name.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
	}
}

// Record registers one finished call. errKind is empty for success and
// a stable violation or error kind otherwise.
func (c *Collector) Record(tool string, d time.Duration, errKind string) {
	outcome := "success"
	if errKind != "" {
		outcome = errKind
	}
	c.promCalls.WithLabelValues(tool, outcome).Inc()
	c.promDuration.WithLabelValues(tool).Observe(d.Seconds())

	c.mu.Lock()
	defer c.mu.Unlock()

	c.total++
	if errKind != "" {
		c.failures++
		if c.violations == nil {
			c.violations = make(map[string]int64)
		}
		c.violations[errKind]++
	}

	if c.tools == nil {
		c.tools = make(map[string]*toolStats)
	}
	st, ok := c.tools[tool]
	if !ok {
		st = &toolStats{minDur: d, maxDur: d}
		c.tools[tool] = st
	}
	st.calls++
	if errKind != "" {
		st.failures++
	}
	st.totalDur += d
	if d < st.minDur {
		st.minDur = d
	}
	if d > st.maxDur {
		st.maxDur = d
	}
}

// Handler serves the Prometheus exposition format for this collector.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	CapturedAt    time.Time               `json:"captured_at"`
	UptimeSeconds float64                 `json:"uptime_seconds"`
	TotalCalls    int64                   `json:"total_calls"`
	TotalFailures int64                   `json:"total_failures"`
	Violations    map[string]int64        `json:"violations,omitempty"`
	Tools         map[string]ToolSnapshot `json:"tools,omitempty"`
}

// ToolSnapshot summarizes one tool's calls.
type ToolSnapshot struct {
	Calls     int64   `json:"calls"`
	Failures  int64   `json:"failures"`
	AvgMillis float64 `json:"avg_ms"`
	MinMillis float64 `json:"min_ms"`
	MaxMillis float64 `json:"max_ms"`
}

// Snapshot returns an exact copy of the current counters. The copy
// shares nothing with the collector; callers may retain it.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	snap := Snapshot{
		CapturedAt:    now,
		UptimeSeconds: now.Sub(c.start).Seconds(),
		TotalCalls:    c.total,
		TotalFailures: c.failures,
	}
	if len(c.violations) > 0 {
		snap.Violations = make(map[string]int64, len(c.violations))
		for k, v := range c.violations {
			snap.Violations[k] = v
		}
	}
	if len(c.tools) > 0 {
		snap.Tools = make(map[string]ToolSnapshot, len(c.tools))
		for name, st := range c.tools {
			ts := ToolSnapshot{
				Calls:     st.calls,
				Failures:  st.failures,
				MinMillis: float64(st.minDur.Microseconds()) / 1000,
				MaxMillis: float64(st.maxDur.Microseconds()) / 1000,
			}
			if st.calls > 0 {
				ts.AvgMillis = float64(st.totalDur.Microseconds()) / 1000 / float64(st.calls)
			}
			snap.Tools[name] = ts
		}
	}
	return snap
}
