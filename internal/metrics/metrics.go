package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gateway's HTTP and WebSocket metrics. They live in a
// private registry so several servers can coexist in one process; Handler
// serves them together with the default registry.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	SSEStreamsActive    prometheus.Gauge

	// WebSocket metrics
	WebSocketClients     prometheus.Gauge
	WebSocketFramesTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chaos_gateway_http_requests_total",
				Help: "Total number of gateway HTTP requests",
			},
			[]string{"route", "method", "code"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chaos_gateway_http_request_duration_seconds",
				Help:    "Duration of gateway HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		SSEStreamsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "chaos_gateway_sse_streams_active",
				Help: "Number of open chat event streams",
			},
		),
		WebSocketClients: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "chaos_gateway_websocket_clients",
				Help: "Number of connected WebSocket clients",
			},
		),
		WebSocketFramesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chaos_gateway_websocket_frames_total",
				Help: "Total number of inbound WebSocket frames",
			},
			[]string{"status"},
		),
	}

	m.registerMetrics()

	return m
}

func (m *Metrics) registerMetrics() {
	m.registry.MustRegister(m.HTTPRequestsTotal)
	m.registry.MustRegister(m.HTTPRequestDuration)
	m.registry.MustRegister(m.SSEStreamsActive)
	m.registry.MustRegister(m.WebSocketClients)
	m.registry.MustRegister(m.WebSocketFramesTotal)
}

// Handler serves the gateway registry merged with the default registry.
func (m *Metrics) Handler() http.Handler {
	gatherers := prometheus.Gatherers{prometheus.DefaultGatherer, m.registry}
	return promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Instrument counts and times requests served by next under route.
func (m *Metrics) Instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next(rec, r)

		m.HTTPRequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

// RecordFrame counts one inbound WebSocket frame.
func (m *Metrics) RecordFrame(status string) {
	m.WebSocketFramesTotal.WithLabelValues(status).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(p []byte) (int, error) {
	r.wroteHeader = true
	return r.ResponseWriter.Write(p)
}

// Flush keeps SSE streaming working through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
