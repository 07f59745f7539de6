package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	agentRunTotal      *prometheus.CounterVec
	agentRunDuration   *prometheus.HistogramVec
	agentIterations    prometheus.Histogram
	llmStreamEvents    *prometheus.CounterVec
	toolExecutionTotal *prometheus.CounterVec
	toolDuration       *prometheus.HistogramVec

	activeSessions      prometheus.Gauge
	sessionsPruned      prometheus.Counter
	memorySearch        prometheus.Histogram
	memoryEntries       prometheus.Gauge
	channelSendTotal    *prometheus.CounterVec
	configReloadTotal   *prometheus.CounterVec
	maintenanceJobTotal *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			agentRunTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agent_run_total",
					Help: "Total agent runs by provider and status.",
				},
				[]string{"provider", "status"},
			),
			agentRunDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "agent_run_duration_seconds",
					Help:    "Agent run duration in seconds by provider.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			agentIterations: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "agent_run_iterations",
					Help:    "Model calls per agent run.",
					Buckets: []float64{1, 2, 3, 4, 6, 8, 12, 16},
				},
			),
			llmStreamEvents: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "llm_stream_events_total",
					Help: "Normalized stream events consumed by kind.",
				},
				[]string{"kind"},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_execution_total",
					Help: "Total tool executions by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "tool_execution_duration_seconds",
					Help:    "Tool execution duration in seconds by tool.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "active_sessions",
					Help: "Current stored session count.",
				},
			),
			sessionsPruned: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "sessions_pruned_total",
					Help: "Sessions removed by idle pruning.",
				},
			),
			memorySearch: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "memory_search_duration_seconds",
					Help:    "Memory search duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			memoryEntries: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "memory_entries_total",
					Help: "Memory files scanned by the last search.",
				},
			),
			channelSendTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "channel_send_total",
					Help: "Outbound channel messages by channel and status.",
				},
				[]string{"channel", "status"},
			),
			configReloadTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "config_reload_total",
					Help: "Configuration swaps by source and status.",
				},
				[]string{"source", "status"},
			),
			maintenanceJobTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "maintenance_job_total",
					Help: "Scheduled maintenance job runs by job and status.",
				},
				[]string{"job", "status"},
			),
		}

		prometheus.MustRegister(
			m.agentRunTotal,
			m.agentRunDuration,
			m.agentIterations,
			m.llmStreamEvents,
			m.toolExecutionTotal,
			m.toolDuration,
			m.activeSessions,
			m.sessionsPruned,
			m.memorySearch,
			m.memoryEntries,
			m.channelSendTotal,
			m.configReloadTotal,
			m.maintenanceJobTotal,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

// MetricsHandler serves the default registry.
func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

func RecordAgentRun(provider string, duration time.Duration, iterations int, success bool) {
	m := getMetrics()
	m.agentRunTotal.WithLabelValues(provider, status(success)).Inc()
	m.agentRunDuration.WithLabelValues(provider).Observe(duration.Seconds())
	if iterations > 0 {
		m.agentIterations.Observe(float64(iterations))
	}
}

func RecordStreamEvent(kind string) {
	getMetrics().llmStreamEvents.WithLabelValues(kind).Inc()
}

func RecordToolExecution(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	m.toolExecutionTotal.WithLabelValues(tool, status(success)).Inc()
	m.toolDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

func SetActiveSessions(count int) {
	getMetrics().activeSessions.Set(float64(count))
}

func RecordSessionsPruned(count int) {
	getMetrics().sessionsPruned.Add(float64(count))
}

func RecordMemorySearch(duration time.Duration, files int) {
	m := getMetrics()
	m.memorySearch.Observe(duration.Seconds())
	m.memoryEntries.Set(float64(files))
}

func RecordChannelSend(channel string, success bool) {
	getMetrics().channelSendTotal.WithLabelValues(channel, status(success)).Inc()
}

func RecordConfigReload(source string, success bool) {
	getMetrics().configReloadTotal.WithLabelValues(source, status(success)).Inc()
}

func RecordMaintenanceJob(job string, success bool) {
	getMetrics().maintenanceJobTotal.WithLabelValues(job, status(success)).Inc()
}
