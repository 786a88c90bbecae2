// Package metrics provides a lightweight, Prometheus-compatible metrics
// collector for PostQL. It outputs text/plain in Prometheus exposition format.
package metrics

import (
	"fmt"
	"math"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the global metrics collector.
var Collector = NewMetricsCollector()

type kind string

const (
	kindCounter   kind = "counter"
	kindGauge     kind = "gauge"
	kindHistogram kind = "histogram"
)

// family groups every series sharing one metric name. The exposition format
// requires a family's samples to be contiguous under a single HELP/TYPE pair.
type family struct {
	name   string
	help   string
	kind   kind
	series map[string]any // label set -> *Counter | *Gauge | *Histogram
}

// MetricsCollector aggregates counters, gauges, and histograms.
type MetricsCollector struct {
	mu        sync.Mutex
	families  map[string]*family
	startTime time.Time
}

func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{families: make(map[string]*family), startTime: time.Now()}
}

// Uptime returns how long the collector has been running.
func (c *MetricsCollector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

// Counter is a monotonically increasing counter.
type Counter struct{ value atomic.Int64 }

func (c *Counter) Inc()         { c.value.Add(1) }
func (c *Counter) Add(n int64)  { c.value.Add(n) }
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge is a value that can go up and down.
type Gauge struct{ value atomic.Int64 }

func (g *Gauge) Set(v int64)  { g.value.Store(v) }
func (g *Gauge) Inc()         { g.value.Add(1) }
func (g *Gauge) Dec()         { g.value.Add(-1) }
func (g *Gauge) Value() int64 { return g.value.Load() }

// Histogram tracks the distribution of observed values. Bucket counts are
// cumulative, as rendered.
type Histogram struct {
	mu     sync.Mutex
	bounds []float64
	counts []int64
	count  int64
	sum    float64
}

func newHistogram(bounds []float64) *Histogram {
	b := slices.Clone(bounds)
	slices.Sort(b)
	if len(b) == 0 || !math.IsInf(b[len(b)-1], 1) {
		b = append(b, math.Inf(1))
	}
	return &Histogram{bounds: b, counts: make([]int64, len(b))}
}

// Observe records a value in the histogram.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i, le := range h.bounds {
		if v <= le {
			h.counts[i]++
		}
	}
}

// lookup returns the series for name and labels, creating it with mk on first
// use. A name already registered with another kind yields a detached series
// that is never rendered.
func (c *MetricsCollector) lookup(name, help string, k kind, labels string, mk func() any) any {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.families[name]
	if !ok {
		f = &family{name: name, help: help, kind: k, series: make(map[string]any)}
		c.families[name] = f
	}
	if f.kind != k {
		return mk()
	}
	s, ok := f.series[labels]
	if !ok {
		s = mk()
		f.series[labels] = s
	}
	return s
}

// Counter returns or creates the counter for name with the given label set
// (for example `outcome="success"`).
func (c *MetricsCollector) Counter(name, help, labels string) *Counter {
	return c.lookup(name, help, kindCounter, labels, func() any { return new(Counter) }).(*Counter)
}

// Gauge returns or creates the gauge for name with the given label set.
func (c *MetricsCollector) Gauge(name, help, labels string) *Gauge {
	return c.lookup(name, help, kindGauge, labels, func() any { return new(Gauge) }).(*Gauge)
}

// Histogram returns or creates the histogram for name with the given label
// set. A +Inf bucket is added when buckets lacks one.
func (c *MetricsCollector) Histogram(name, help, labels string, buckets []float64) *Histogram {
	return c.lookup(name, help, kindHistogram, labels, func() any { return newHistogram(buckets) }).(*Histogram)
}

// Handler renders every family in Prometheus text format, sorted by name and
// then by label set.
func (c *MetricsCollector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		var sb strings.Builder
		fmt.Fprintf(&sb, "# HELP postql_uptime_seconds Time since start in seconds\n")
		fmt.Fprintf(&sb, "# TYPE postql_uptime_seconds gauge\n")
		fmt.Fprintf(&sb, "postql_uptime_seconds %d\n", int64(c.Uptime().Seconds()))

		c.mu.Lock()
		names := make([]string, 0, len(c.families))
		for name := range c.families {
			names = append(names, name)
		}
		slices.Sort(names)
		for _, name := range names {
			c.families[name].render(&sb)
		}
		c.mu.Unlock()

		fmt.Fprint(w, sb.String())
	}
}

func (f *family) render(sb *strings.Builder) {
	fmt.Fprintf(sb, "\n# HELP %s %s\n# TYPE %s %s\n", f.name, f.help, f.name, f.kind)

	labelSets := make([]string, 0, len(f.series))
	for l := range f.series {
		labelSets = append(labelSets, l)
	}
	slices.Sort(labelSets)

	for _, labels := range labelSets {
		switch m := f.series[labels].(type) {
		case *Counter:
			fmt.Fprintf(sb, "%s%s %d\n", f.name, braced(labels), m.Value())
		case *Gauge:
			fmt.Fprintf(sb, "%s%s %d\n", f.name, braced(labels), m.Value())
		case *Histogram:
			m.render(sb, f.name, labels)
		}
	}
}

func (h *Histogram) render(sb *strings.Builder, name, labels string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sep := ""
	if labels != "" {
		sep = ","
	}
	for i, le := range h.bounds {
		bound := strconv.FormatFloat(le, 'g', -1, 64)
		if math.IsInf(le, 1) {
			bound = "+Inf"
		}
		fmt.Fprintf(sb, "%s_bucket{%s%sle=%q} %d\n", name, labels, sep, bound, h.counts[i])
	}
	fmt.Fprintf(sb, "%s_count%s %d\n", name, braced(labels), h.count)
	fmt.Fprintf(sb, "%s_sum%s %g\n", name, braced(labels), h.sum)
}

func braced(labels string) string {
	if labels == "" {
		return ""
	}
	return "{" + labels + "}"
}

// Metrics shared across the relay server and the extractor.
var (
	RelayUnauthorized = Collector.Counter("postql_relay_requests_total", "Relay requests by outcome", `outcome="forbidden"`)
	RelayInvalid      = Collector.Counter("postql_relay_requests_total", "Relay requests by outcome", `outcome="invalid"`)
	RelayFailed       = Collector.Counter("postql_relay_requests_total", "Relay requests by outcome", `outcome="upstream_error"`)
	RelaySucceeded    = Collector.Counter("postql_relay_requests_total", "Relay requests by outcome", `outcome="success"`)
	InFlightRelays    = Collector.Gauge("postql_relay_in_flight", "Relay requests currently waiting on the upstream model", "")

	UpstreamLatency = Collector.Histogram("postql_upstream_latency_seconds", "Upstream chat-completion latency in seconds", "",
		[]float64{0.5, 1, 2, 5, 10, 30, 60, 120})
	ExtractionLatency = Collector.Histogram("postql_extraction_latency_seconds", "Page extraction latency in seconds", "",
		[]float64{0.1, 0.5, 1, 5, 10, 30})
)

// StrategyOutcome returns the counter for one extraction strategy and outcome.
func StrategyOutcome(strategy, outcome string) *Counter {
	return Collector.Counter("postql_extraction_attempts_total", "Extraction strategy attempts by outcome",
		fmt.Sprintf(`strategy=%q,outcome=%q`, strategy, outcome))
}
