// Package telemetry provides OpenTelemetry-semantic observability for the
// agenda scheduling service using only standard library constructs. It exposes
// tracing (span-like structured records), metrics (counters, gauges,
// histograms), and a Prometheus text exposition endpoint -- all without
// importing the go.opentelemetry.io SDK.
package telemetry

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

// TelemetryConfig holds all configuration for the telemetry provider.
type TelemetryConfig struct {
	ServiceName    string `json:"service_name"`
	ServiceVersion string `json:"service_version"`
	Environment    string `json:"environment"`
	MetricsEnabled *bool  `json:"metrics_enabled"` // nil = true
	TracingEnabled *bool  `json:"tracing_enabled"` // nil = true
	SpanLimit      int    `json:"span_limit"`      // retained spans, oldest dropped first
}

func (c *TelemetryConfig) metricsOn() bool {
	return c.MetricsEnabled == nil || *c.MetricsEnabled
}

func (c *TelemetryConfig) tracingOn() bool {
	return c.TracingEnabled == nil || *c.TracingEnabled
}

func (c *TelemetryConfig) applyDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "agenda-server"
	}
	if c.ServiceVersion == "" {
		c.ServiceVersion = "0.0.0"
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.SpanLimit == 0 {
		c.SpanLimit = 2048
	}
}

// BoolPtr is a helper to create a *bool for TelemetryConfig fields.
func BoolPtr(b bool) *bool { return &b }

// SpanStatus represents the status of a completed span.
type SpanStatus int

const (
	SpanStatusUnset SpanStatus = iota
	SpanStatusOK
	SpanStatusError
)

// Span captures a single request's tracing information following OTel semantics.
type Span struct {
	TraceID    string            `json:"trace_id"`
	SpanID     string            `json:"span_id"`
	Name       string            `json:"name"`
	StartTime  time.Time         `json:"start_time"`
	EndTime    time.Time         `json:"end_time"`
	Duration   time.Duration     `json:"duration_ns"`
	StatusCode SpanStatus        `json:"status_code"`
	Attributes map[string]string `json:"attributes"`
}

// JSON serialises the span as a structured JSON string for logging.
func (s *Span) JSON() string {
	b, _ := json.Marshal(s)
	return string(b)
}

// histogram accumulates observations into fixed buckets. Counts are kept
// non-cumulative; the Prometheus exporter accumulates at write time.
type histogram struct {
	bounds []float64
	counts []int64
	count  int64
	sum    float64
}

func newHistogram(bounds []float64) *histogram {
	return &histogram{bounds: bounds, counts: make([]int64, len(bounds))}
}

func (h *histogram) observe(v float64) {
	h.count++
	h.sum += v
	for i, b := range h.bounds {
		if v <= b {
			h.counts[i]++
			return
		}
	}
	// above the last boundary, counted only in +Inf
}

// durationBuckets are request-duration boundaries in seconds, per the OTel
// HTTP semantic conventions.
var durationBuckets = []float64{
	0.010, 0.025, 0.050, 0.100, 0.250, 0.500, 1.0, 2.5, 5.0, 10.0,
}

// sizeBuckets are request/response body size boundaries in bytes.
var sizeBuckets = []float64{
	100, 1_000, 10_000, 100_000, 1_000_000, 10_000_000,
}

// requestKey identifies one labeled request-duration series.
type requestKey struct {
	Method string
	Route  string
	Status string
}

// TelemetryProvider manages all observability state. A single mutex guards
// the metric stores; the write path is a handful of map operations per
// request, cheap enough that finer-grained locking never showed up in
// profiles of the original design.
type TelemetryProvider struct {
	cfg TelemetryConfig

	mu        sync.Mutex
	spans     []*Span
	durations map[requestKey]*histogram
	reqSizes  *histogram
	respSizes *histogram
	counters  map[[2]string]int64 // scheduling ops by (entity, operation)
	gauges    map[string]int64

	shutdownOnce sync.Once
	done         chan struct{}
}

// NewTelemetryProvider creates and initialises the telemetry provider.
func NewTelemetryProvider(cfg TelemetryConfig) *TelemetryProvider {
	cfg.applyDefaults()
	return &TelemetryProvider{
		cfg:       cfg,
		durations: make(map[requestKey]*histogram),
		reqSizes:  newHistogram(sizeBuckets),
		respSizes: newHistogram(sizeBuckets),
		counters:  make(map[[2]string]int64),
		gauges:    make(map[string]int64),
		done:      make(chan struct{}),
	}
}

// Shutdown stops the provider. Safe to call more than once.
func (tp *TelemetryProvider) Shutdown(_ context.Context) error {
	tp.shutdownOnce.Do(func() { close(tp.done) })
	return nil
}

// Resource returns the OTel resource attributes.
func (tp *TelemetryProvider) Resource() map[string]string {
	return map[string]string{
		"service.name":           tp.cfg.ServiceName,
		"service.version":        tp.cfg.ServiceVersion,
		"deployment.environment": tp.cfg.Environment,
	}
}

// -- Span recording --

func (tp *TelemetryProvider) recordSpan(s *Span) {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	tp.spans = append(tp.spans, s)
	if len(tp.spans) > tp.cfg.SpanLimit {
		tp.spans = tp.spans[len(tp.spans)-tp.cfg.SpanLimit:]
	}
}

// GetRecordedSpans returns a copy of all retained spans.
func (tp *TelemetryProvider) GetRecordedSpans() []*Span {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	cp := make([]*Span, len(tp.spans))
	copy(cp, tp.spans)
	return cp
}

// -- Scheduling metrics --

// SchedulingOperationCounter increments the scheduling.operation.count metric.
func (tp *TelemetryProvider) SchedulingOperationCounter(entity, operation string) {
	tp.mu.Lock()
	tp.counters[[2]string{entity, operation}]++
	tp.mu.Unlock()
}

// GetCounter returns the operation count for (entity, operation).
func (tp *TelemetryProvider) GetCounter(entity, operation string) int64 {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	return tp.counters[[2]string{entity, operation}]
}

// SetSlotsTotal sets the scheduling.slots.total gauge.
func (tp *TelemetryProvider) SetSlotsTotal(n int64) { tp.setGauge("scheduling.slots.total", n) }

// SetAppointmentsTotal sets the scheduling.appointments.total gauge.
func (tp *TelemetryProvider) SetAppointmentsTotal(n int64) {
	tp.setGauge("scheduling.appointments.total", n)
}

// SetConflictsFlagged sets the scheduling.conflicts.flagged gauge.
func (tp *TelemetryProvider) SetConflictsFlagged(n int64) {
	tp.setGauge("scheduling.conflicts.flagged", n)
}

func (tp *TelemetryProvider) setGauge(name string, v int64) {
	tp.mu.Lock()
	tp.gauges[name] = v
	tp.mu.Unlock()
}

func (tp *TelemetryProvider) addGauge(name string, delta int64) {
	tp.mu.Lock()
	tp.gauges[name] += delta
	tp.mu.Unlock()
}

// GetGauge returns the current value of the named gauge.
func (tp *TelemetryProvider) GetGauge(name string) int64 {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	return tp.gauges[name]
}

// RequestCount returns the number of observed requests for the given labels,
// used by tests to assert the metrics middleware.
func (tp *TelemetryProvider) RequestCount(method, route, status string) int64 {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	h, ok := tp.durations[requestKey{Method: method, Route: route, Status: status}]
	if !ok {
		return 0
	}
	return h.count
}

// -- Health metrics --

// HealthMetricsRecorder updates health-related gauges.
type HealthMetricsRecorder struct {
	tp *TelemetryProvider
}

// HealthMetrics returns a recorder for health-related metrics.
func (tp *TelemetryProvider) HealthMetrics() *HealthMetricsRecorder {
	return &HealthMetricsRecorder{tp: tp}
}

// SetDBPoolActive sets the db.pool.active_connections gauge.
func (h *HealthMetricsRecorder) SetDBPoolActive(n int64) {
	h.tp.setGauge("db.pool.active_connections", n)
}

// SetDBPoolIdle sets the db.pool.idle_connections gauge.
func (h *HealthMetricsRecorder) SetDBPoolIdle(n int64) {
	h.tp.setGauge("db.pool.idle_connections", n)
}

// -- Middleware --

// TracingMiddleware returns an Echo middleware that records a span-like
// structure for every HTTP request.
func (tp *TelemetryProvider) TracingMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !tp.cfg.tracingOn() {
				return next(c)
			}

			start := time.Now()
			req := c.Request()
			err := next(c)
			end := time.Now()

			route := c.Path()
			if route == "" {
				route = req.URL.Path
			}
			status := c.Response().Status

			spanStatus := SpanStatusOK
			if status >= 500 {
				spanStatus = SpanStatusError
			}

			tp.recordSpan(&Span{
				TraceID:    randomHex(16),
				SpanID:     randomHex(8),
				Name:       "HTTP " + req.Method + " " + route,
				StartTime:  start,
				EndTime:    end,
				Duration:   end.Sub(start),
				StatusCode: spanStatus,
				Attributes: map[string]string{
					"http.method":      req.Method,
					"http.route":       route,
					"http.status_code": strconv.Itoa(status),
					"http.url":         req.URL.String(),
				},
			})
			return err
		}
	}
}

// MetricsMiddleware returns an Echo middleware that records HTTP server
// metrics: request duration by (method, route, status), active requests, and
// request/response body sizes.
func (tp *TelemetryProvider) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !tp.cfg.metricsOn() {
				return next(c)
			}

			tp.addGauge("http.server.active_requests", 1)
			start := time.Now()
			req := c.Request()

			err := next(c)

			elapsed := time.Since(start).Seconds()
			tp.addGauge("http.server.active_requests", -1)

			route := c.Path()
			if route == "" {
				route = req.URL.Path
			}
			key := requestKey{
				Method: req.Method,
				Route:  route,
				Status: strconv.Itoa(c.Response().Status),
			}

			tp.mu.Lock()
			h, ok := tp.durations[key]
			if !ok {
				h = newHistogram(durationBuckets)
				tp.durations[key] = h
			}
			h.observe(elapsed)
			if req.ContentLength > 0 {
				tp.reqSizes.observe(float64(req.ContentLength))
			}
			if size := c.Response().Size; size > 0 {
				tp.respSizes.observe(float64(size))
			}
			tp.mu.Unlock()

			return err
		}
	}
}

// -- Prometheus exposition --

// PrometheusHandler returns an Echo handler that serves all metrics in
// Prometheus text exposition format.
func (tp *TelemetryProvider) PrometheusHandler() echo.HandlerFunc {
	return func(c echo.Context) error {
		tp.mu.Lock()
		defer tp.mu.Unlock()

		var b strings.Builder

		b.WriteString("# HELP http_server_request_duration_seconds Duration of HTTP requests in seconds.\n")
		b.WriteString("# TYPE http_server_request_duration_seconds histogram\n")
		for _, key := range sortedKeys(tp.durations) {
			labels := fmt.Sprintf("method=%q,route=%q,status_code=%q", key.Method, key.Route, key.Status)
			writeHistogram(&b, "http_server_request_duration_seconds", labels, tp.durations[key])
		}
		b.WriteByte('\n')

		b.WriteString("# HELP http_server_active_requests Number of active HTTP requests.\n")
		b.WriteString("# TYPE http_server_active_requests gauge\n")
		fmt.Fprintf(&b, "http_server_active_requests %d\n\n", tp.gauges["http.server.active_requests"])

		b.WriteString("# HELP http_server_request_size_bytes Size of HTTP request bodies in bytes.\n")
		b.WriteString("# TYPE http_server_request_size_bytes histogram\n")
		writeHistogram(&b, "http_server_request_size_bytes", "", tp.reqSizes)
		b.WriteByte('\n')

		b.WriteString("# HELP http_server_response_size_bytes Size of HTTP response bodies in bytes.\n")
		b.WriteString("# TYPE http_server_response_size_bytes histogram\n")
		writeHistogram(&b, "http_server_response_size_bytes", "", tp.respSizes)
		b.WriteByte('\n')

		b.WriteString("# HELP scheduling_operation_count Total scheduling operations by entity and operation.\n")
		b.WriteString("# TYPE scheduling_operation_count counter\n")
		for key, val := range tp.counters {
			fmt.Fprintf(&b, "scheduling_operation_count{entity=%q,operation=%q} %d\n", key[0], key[1], val)
		}
		b.WriteByte('\n')

		for _, g := range []struct {
			prom string
			name string
			help string
		}{
			{"db_pool_active_connections", "db.pool.active_connections", "Number of active database pool connections."},
			{"db_pool_idle_connections", "db.pool.idle_connections", "Number of idle database pool connections."},
			{"scheduling_slots_total", "scheduling.slots.total", "Total number of availability slots."},
			{"scheduling_appointments_total", "scheduling.appointments.total", "Total number of appointments."},
			{"scheduling_conflicts_flagged", "scheduling.conflicts.flagged", "Appointments flagged for manual rebooking."},
		} {
			fmt.Fprintf(&b, "# HELP %s %s\n", g.prom, g.help)
			fmt.Fprintf(&b, "# TYPE %s gauge\n", g.prom)
			fmt.Fprintf(&b, "%s %d\n\n", g.prom, tp.gauges[g.name])
		}

		return c.String(http.StatusOK, b.String())
	}
}

func sortedKeys(m map[requestKey]*histogram) []requestKey {
	keys := make([]requestKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.Route != b.Route {
			return a.Route < b.Route
		}
		if a.Method != b.Method {
			return a.Method < b.Method
		}
		return a.Status < b.Status
	})
	return keys
}

// writeHistogram emits one histogram series with cumulative buckets. The
// caller holds the provider lock.
func writeHistogram(b *strings.Builder, name, labels string, h *histogram) {
	prefix := ""
	suffix := ""
	if labels != "" {
		prefix = labels + ","
		suffix = "{" + labels + "}"
	}

	var cum int64
	for i, bound := range h.bounds {
		cum += h.counts[i]
		fmt.Fprintf(b, "%s_bucket{%sle=\"%g\"} %d\n", name, prefix, bound, cum)
	}
	fmt.Fprintf(b, "%s_bucket{%sle=\"+Inf\"} %d\n", name, prefix, h.count)
	fmt.Fprintf(b, "%s_sum%s %g\n", name, suffix, h.sum)
	fmt.Fprintf(b, "%s_count%s %d\n", name, suffix, h.count)
}

// randomHex produces a random hex string of n bytes (2n hex chars).
func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
