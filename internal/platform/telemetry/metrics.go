// Package telemetry records HTTP and booking metrics in memory and serves
// them in the Prometheus text exposition format.
package telemetry

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
)

// DurationBuckets are the upper bounds, in seconds, of the request
// duration histogram.
var DurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// ---------------------------------------------------------------------------
// Histogram
// ---------------------------------------------------------------------------

// histogram stores non-cumulative bucket counts; cumulative counts are
// computed at export time.
type histogram struct {
	boundaries   []float64
	mu           sync.Mutex
	bucketCounts []int64
	count        int64
	sum          uint64 // math.Float64bits
}

func newHistogram(boundaries []float64) *histogram {
	return &histogram{
		boundaries:   boundaries,
		bucketCounts: make([]int64, len(boundaries)),
	}
}

func (h *histogram) Observe(v float64) {
	atomic.AddInt64(&h.count, 1)
	atomicAddFloat64(&h.sum, v)

	h.mu.Lock()
	defer h.mu.Unlock()
	for i, b := range h.boundaries {
		if v <= b {
			h.bucketCounts[i]++
			return
		}
	}
}

func (h *histogram) Count() int64 { return atomic.LoadInt64(&h.count) }

func (h *histogram) Sum() float64 { return math.Float64frombits(atomic.LoadUint64(&h.sum)) }

func (h *histogram) cumulativeBuckets() []int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	cum := make([]int64, len(h.bucketCounts))
	var running int64
	for i, c := range h.bucketCounts {
		running += c
		cum[i] = running
	}
	return cum
}

func atomicAddFloat64(addr *uint64, delta float64) {
	for {
		old := atomic.LoadUint64(addr)
		next := math.Float64bits(math.Float64frombits(old) + delta)
		if atomic.CompareAndSwapUint64(addr, old, next) {
			return
		}
	}
}

// ---------------------------------------------------------------------------
// Metrics
// ---------------------------------------------------------------------------

type counterDesc struct {
	label string
	help  string
}

type gaugeDesc struct {
	help string
	fn   func() int64
}

// Metrics is a process-wide registry. The zero value is not usable; call New.
type Metrics struct {
	histMu    sync.RWMutex
	durations map[string]*histogram // method|route|status

	counterMu sync.RWMutex
	counters  map[string]*int64 // name|label value
	described map[string]counterDesc

	gaugeMu sync.RWMutex
	gauges  map[string]gaugeDesc

	active int64
}

func New() *Metrics {
	return &Metrics{
		durations: make(map[string]*histogram),
		counters:  make(map[string]*int64),
		described: make(map[string]counterDesc),
		gauges:    make(map[string]gaugeDesc),
	}
}

// LabelsKey builds the key of a request duration series.
func LabelsKey(method, route, status string) string {
	return method + "|" + route + "|" + status
}

// DescribeCounter registers the help text and label name of a counter.
// Undescribed counters are still exported, labelled "label".
func (m *Metrics) DescribeCounter(name, label, help string) {
	m.counterMu.Lock()
	m.described[name] = counterDesc{label: label, help: help}
	m.counterMu.Unlock()
}

// Inc adds one to the counter name for the given label value.
func (m *Metrics) Inc(name, value string) {
	key := name + "|" + value
	m.counterMu.RLock()
	p, ok := m.counters[key]
	m.counterMu.RUnlock()
	if !ok {
		m.counterMu.Lock()
		if p, ok = m.counters[key]; !ok {
			p = new(int64)
			m.counters[key] = p
		}
		m.counterMu.Unlock()
	}
	atomic.AddInt64(p, 1)
}

// Count returns the current value of a counter series.
func (m *Metrics) Count(name, value string) int64 {
	m.counterMu.RLock()
	defer m.counterMu.RUnlock()
	if p, ok := m.counters[name+"|"+value]; ok {
		return atomic.LoadInt64(p)
	}
	return 0
}

// RegisterGauge adds a gauge read from fn at scrape time.
func (m *Metrics) RegisterGauge(name, help string, fn func() int64) {
	m.gaugeMu.Lock()
	m.gauges[name] = gaugeDesc{help: help, fn: fn}
	m.gaugeMu.Unlock()
}

// Duration returns the histogram for one request series, or nil.
func (m *Metrics) Duration(method, route, status string) *histogram {
	m.histMu.RLock()
	defer m.histMu.RUnlock()
	return m.durations[LabelsKey(method, route, status)]
}

func (m *Metrics) observe(key string, seconds float64) {
	m.histMu.RLock()
	h, ok := m.durations[key]
	m.histMu.RUnlock()
	if !ok {
		m.histMu.Lock()
		if h, ok = m.durations[key]; !ok {
			h = newHistogram(DurationBuckets)
			m.durations[key] = h
		}
		m.histMu.Unlock()
	}
	h.Observe(seconds)
}

// ---------------------------------------------------------------------------
// Middleware
// ---------------------------------------------------------------------------

// Middleware records request durations by method, route and status code.
// Unmatched routes share one series.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			atomic.AddInt64(&m.active, 1)
			defer atomic.AddInt64(&m.active, -1)

			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				status = http.StatusInternalServerError
				var he *echo.HTTPError
				if errors.As(err, &he) {
					status = he.Code
				}
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			m.observe(LabelsKey(c.Request().Method, route, strconv.Itoa(status)), time.Since(start).Seconds())
			return err
		}
	}
}

// ---------------------------------------------------------------------------
// Exposition
// ---------------------------------------------------------------------------

// Handler serves every metric in the Prometheus text format.
func (m *Metrics) Handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		var b strings.Builder
		m.writeDurations(&b)

		b.WriteString("# HELP http_server_active_requests Number of in-flight HTTP requests.\n")
		b.WriteString("# TYPE http_server_active_requests gauge\n")
		fmt.Fprintf(&b, "http_server_active_requests %d\n\n", atomic.LoadInt64(&m.active))

		m.writeCounters(&b)
		m.writeGauges(&b)
		return c.Blob(http.StatusOK, "text/plain; version=0.0.4; charset=utf-8", []byte(b.String()))
	}
}

func sortedKeys[V any](items map[string]V) []string {
	keys := make([]string, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (m *Metrics) writeDurations(b *strings.Builder) {
	const name = "http_server_request_duration_seconds"
	m.histMu.RLock()
	snap := make(map[string]*histogram, len(m.durations))
	for k, v := range m.durations {
		snap[k] = v
	}
	m.histMu.RUnlock()

	fmt.Fprintf(b, "# HELP %s Duration of HTTP requests in seconds.\n", name)
	fmt.Fprintf(b, "# TYPE %s histogram\n", name)
	for _, key := range sortedKeys(snap) {
		parts := strings.SplitN(key, "|", 3)
		if len(parts) != 3 {
			continue
		}
		labels := fmt.Sprintf("method=%q,route=%q,status_code=%q", parts[0], parts[1], parts[2])
		writeHistogram(b, name, labels, snap[key])
	}
	b.WriteByte('\n')
}

func writeHistogram(b *strings.Builder, name, labels string, h *histogram) {
	cum := h.cumulativeBuckets()
	total := h.Count()
	for i, boundary := range h.boundaries {
		fmt.Fprintf(b, "%s_bucket{%s,le=\"%g\"} %d\n", name, labels, boundary, cum[i])
	}
	fmt.Fprintf(b, "%s_bucket{%s,le=\"+Inf\"} %d\n", name, labels, total)
	fmt.Fprintf(b, "%s_sum{%s} %g\n", name, labels, h.Sum())
	fmt.Fprintf(b, "%s_count{%s} %d\n", name, labels, total)
}

func (m *Metrics) writeCounters(b *strings.Builder) {
	m.counterMu.RLock()
	values := make(map[string]int64, len(m.counters))
	for k, p := range m.counters {
		values[k] = atomic.LoadInt64(p)
	}
	described := make(map[string]counterDesc, len(m.described))
	for k, v := range m.described {
		described[k] = v
	}
	m.counterMu.RUnlock()

	byName := make(map[string][]string)
	for _, key := range sortedKeys(values) {
		name, _, _ := strings.Cut(key, "|")
		byName[name] = append(byName[name], key)
	}
	for _, name := range sortedKeys(byName) {
		desc, ok := described[name]
		if !ok {
			desc = counterDesc{label: "label", help: name}
		}
		fmt.Fprintf(b, "# HELP %s %s\n", name, desc.help)
		fmt.Fprintf(b, "# TYPE %s counter\n", name)
		for _, key := range byName[name] {
			_, value, _ := strings.Cut(key, "|")
			fmt.Fprintf(b, "%s{%s=%q} %d\n", name, desc.label, value, values[key])
		}
		b.WriteByte('\n')
	}
}

func (m *Metrics) writeGauges(b *strings.Builder) {
	m.gaugeMu.RLock()
	defer m.gaugeMu.RUnlock()
	for _, name := range sortedKeys(m.gauges) {
		g := m.gauges[name]
		fmt.Fprintf(b, "# HELP %s %s\n", name, g.help)
		fmt.Fprintf(b, "# TYPE %s gauge\n", name)
		fmt.Fprintf(b, "%s %d\n\n", name, g.fn())
	}
}
