// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metrics collector
// =============================================================================

// Collector aggregates workflow metrics.
type Collector struct {
	llmRequestsTotal   *prometheus.CounterVec
	llmRequestDuration *prometheus.HistogramVec
	llmTokensUsed      *prometheus.CounterVec

	sandboxExecutionsTotal   *prometheus.CounterVec
	sandboxExecutionDuration prometheus.Histogram

	coderRetriesTotal    prometheus.Counter
	subtasksSolvedTotal  *prometheus.CounterVec
	sectionsWrittenTotal *prometheus.CounterVec
}

var (
	defaultCollector *Collector
	once             sync.Once
)

// Default returns the process-wide collector, registering its metrics with
// the default prometheus registry on first use.
func Default() *Collector {
	once.Do(func() {
		defaultCollector = newCollector("mmagent")
	})
	return defaultCollector
}

func newCollector(namespace string) *Collector {
	c := &Collector{}

	c.llmRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Total number of LLM requests",
		},
		[]string{"agent", "model", "status"},
	)

	c.llmRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "LLM request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"agent", "model"},
	)

	c.llmTokensUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_used_total",
			Help:      "Total tokens consumed",
		},
		[]string{"agent", "model", "kind"},
	)

	c.sandboxExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sandbox_executions_total",
			Help:      "Total sandbox code executions",
		},
		[]string{"status"},
	)

	c.sandboxExecutionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sandbox_execution_duration_seconds",
			Help:      "Sandbox execution duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		},
	)

	c.coderRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coder_retries_total",
			Help:      "Total coder retry rounds after failed executions",
		},
	)

	c.subtasksSolvedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subtasks_solved_total",
			Help:      "Subtasks completed in the solve phase",
		},
		[]string{"status"},
	)

	c.sectionsWrittenTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sections_written_total",
			Help:      "Document sections completed in the write phase",
		},
		[]string{"status"},
	)

	return c
}

// =============================================================================
// Recording methods
// =============================================================================

// ObserveLLMRequest records one model call.
func (c *Collector) ObserveLLMRequest(agent, model, status string, duration time.Duration) {
	c.llmRequestsTotal.WithLabelValues(agent, model, status).Inc()
	c.llmRequestDuration.WithLabelValues(agent, model).Observe(duration.Seconds())
}

// AddLLMTokens records token consumption for one model call.
func (c *Collector) AddLLMTokens(agent, model string, prompt, completion int) {
	c.llmTokensUsed.WithLabelValues(agent, model, "prompt").Add(float64(prompt))
	c.llmTokensUsed.WithLabelValues(agent, model, "completion").Add(float64(completion))
}

// ObserveSandboxExecution records one sandbox execution.
func (c *Collector) ObserveSandboxExecution(status string, duration time.Duration) {
	c.sandboxExecutionsTotal.WithLabelValues(status).Inc()
	c.sandboxExecutionDuration.Observe(duration.Seconds())
}

// IncCoderRetry records one coder retry round.
func (c *Collector) IncCoderRetry() {
	c.coderRetriesTotal.Inc()
}

// IncSubtask records a finished solve-phase subtask.
func (c *Collector) IncSubtask(status string) {
	c.subtasksSolvedTotal.WithLabelValues(status).Inc()
}

// IncSection records a finished write-phase section.
func (c *Collector) IncSection(status string) {
	c.sectionsWrittenTotal.WithLabelValues(status).Inc()
}
