// Package metrics exposes Prometheus collectors for the HTTP layer and the
// content services.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "cityfam",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cityfam",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cityfam",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "route"},
	)

	contentFailSoft = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cityfam",
			Subsystem: "content",
			Name:      "fail_soft_total",
			Help:      "Aggregation calls that returned an empty list because a fetch failed.",
		},
		[]string{"op"},
	)

	contentDegraded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cityfam",
			Subsystem: "content",
			Name:      "degraded_order_total",
			Help:      "Trending queries that fell back to date-only ordering.",
		},
		[]string{"op"},
	)

	attendanceToggles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cityfam",
			Subsystem: "attendance",
			Name:      "toggles_total",
			Help:      "Attendance toggles by outcome.",
		},
		[]string{"outcome"},
	)

	feedItems = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "cityfam",
			Subsystem: "feeds",
			Name:      "imported_items_total",
			Help:      "Feed items imported as branch posts.",
		},
	)

	chatSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "cityfam",
			Subsystem: "chat",
			Name:      "subscribers",
			Help:      "Open live conversation subscriptions.",
		},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
		httpInFlight,
		httpRequests,
		httpDuration,
		contentFailSoft,
		contentDegraded,
		attendanceToggles,
		feedItems,
		chatSubscribers,
	)
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler records request counts and latency per chi route pattern.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		httpInFlight.Inc()
		defer httpInFlight.Dec()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// RecordFailSoft counts an aggregation that swallowed a fetch error.
func RecordFailSoft(op string) {
	contentFailSoft.WithLabelValues(op).Inc()
}

// RecordDegradedOrder counts a trending query served with the fallback order.
func RecordDegradedOrder(op string) {
	contentDegraded.WithLabelValues(op).Inc()
}

// RecordToggle counts an attendance toggle outcome ("joined", "left", "error").
func RecordToggle(outcome string) {
	attendanceToggles.WithLabelValues(outcome).Inc()
}

// RecordImportedItems adds n imported feed items.
func RecordImportedItems(n int) {
	feedItems.Add(float64(n))
}

// SubscriberOpened and SubscriberClosed track live chat subscriptions.
func SubscriberOpened() { chatSubscribers.Inc() }

func SubscriberClosed() { chatSubscribers.Dec() }

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer (websocket hijack).
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack passes through to the wrapped writer so websocket upgrades work.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}
