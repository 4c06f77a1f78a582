// Package observability exposes process-wide Prometheus metrics for
// the engine: run outcomes per provider, step counts, tool execution
// timings and queue depths.
package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	runTotal    *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
	runSteps    *prometheus.HistogramVec
	runErrors   *prometheus.CounterVec

	failoverTotal       *prometheus.CounterVec
	providerRateLimited *prometheus.GaugeVec

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec

	contextTrimmedTotal *prometheus.CounterVec

	queueSize    *prometheus.GaugeVec
	enqueueTotal *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			runTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agent_run_total",
					Help: "Completed agent runs by provider and finish reason.",
				},
				[]string{"provider", "finish_reason"},
			),
			runDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "agent_run_duration_seconds",
					Help:    "Agent run duration in seconds by provider.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			runSteps: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "agent_run_steps",
					Help:    "Model call steps per run by provider.",
					Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 25},
				},
				[]string{"provider"},
			),
			runErrors: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agent_run_errors_total",
					Help: "Per-candidate failures by provider and error kind.",
				},
				[]string{"provider", "kind"},
			),
			failoverTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agent_failover_total",
					Help: "Failovers to the next candidate execution by provider abandoned.",
				},
				[]string{"provider"},
			),
			providerRateLimited: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "provider_rate_limited",
					Help: "1 while a provider is skipped for rate limiting.",
				},
				[]string{"provider"},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_execution_total",
					Help: "Tool executions by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "tool_execution_duration_seconds",
					Help:    "Tool execution duration in seconds by tool.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			contextTrimmedTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "context_trimmed_total",
					Help: "Context preparations that trimmed or pruned content.",
				},
				[]string{"stage"},
			),
			queueSize: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "queue_size",
					Help: "Current queue size by lane.",
				},
				[]string{"lane"},
			),
			enqueueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "enqueue_total",
					Help: "Total enqueue operations by lane.",
				},
				[]string{"lane"},
			),
			taskDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "task_duration_seconds",
					Help:    "Task execution duration in seconds by lane.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"lane"},
			),
		}

		prometheus.MustRegister(
			m.runTotal,
			m.runDuration,
			m.runSteps,
			m.runErrors,
			m.failoverTotal,
			m.providerRateLimited,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.contextTrimmedTotal,
			m.queueSize,
			m.enqueueTotal,
			m.taskDuration,
		)

		metricsInst = m
	})
	return metricsInst
}

// EnsureRegistered forces metric registration; call once from package
// constructors so scrapes see zero-valued series early.
func EnsureRegistered() {
	getMetrics()
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	getMetrics()
	return promhttp.Handler()
}

// RecordRun records one completed agent run.
func RecordRun(provider, finishReason string, steps int, duration time.Duration) {
	m := getMetrics()
	m.runTotal.WithLabelValues(provider, finishReason).Inc()
	m.runDuration.WithLabelValues(provider).Observe(duration.Seconds())
	m.runSteps.WithLabelValues(provider).Observe(float64(steps))
}

// RecordRunError records one per-candidate failure.
func RecordRunError(provider, kind string) {
	getMetrics().runErrors.WithLabelValues(provider, kind).Inc()
}

// RecordFailover records abandonment of a candidate execution.
func RecordFailover(provider string) {
	getMetrics().failoverTotal.WithLabelValues(provider).Inc()
}

// SetProviderRateLimited flips the rate-limited gauge for a provider.
func SetProviderRateLimited(provider string, limited bool) {
	v := 0.0
	if limited {
		v = 1.0
	}
	getMetrics().providerRateLimited.WithLabelValues(provider).Set(v)
}

// RecordToolExecution records one tool invocation.
func RecordToolExecution(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "ok"
	if !success {
		status = "error"
	}
	m.toolExecutionTotal.WithLabelValues(tool, status).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordContextTrim notes that a preparation pass trimmed or pruned.
func RecordContextTrim(stage string) {
	getMetrics().contextTrimmedTotal.WithLabelValues(stage).Inc()
}

// RecordQueueEnqueue records an enqueue and the resulting queue size.
func RecordQueueEnqueue(lane string, queueSize int) {
	m := getMetrics()
	m.enqueueTotal.WithLabelValues(lane).Inc()
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

// RecordQueueCompletion records a finished task and the new queue size.
func RecordQueueCompletion(lane string, duration time.Duration, queueSize int) {
	m := getMetrics()
	m.taskDuration.WithLabelValues(lane).Observe(duration.Seconds())
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

// SetQueueSize sets the queue-size gauge for a lane.
func SetQueueSize(lane string, queueSize int) {
	getMetrics().queueSize.WithLabelValues(lane).Set(float64(queueSize))
}
