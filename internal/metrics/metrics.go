package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "scribe"

// Metrics holds the engine's collectors.
type Metrics struct {
	tasksProcessed  *prometheus.CounterVec
	taskDuration    *prometheus.HistogramVec
	tasksInFlight   prometheus.Gauge
	queuePops       *prometheus.CounterVec
	pollerRequeued  prometheus.Counter
	pollerDirect    prometheus.Counter
	pollerStale     prometheus.Counter
	activeStreams   prometheus.Gauge
	streamOutcomes  *prometheus.CounterVec
	toolCalls       *prometheus.CounterVec
	historyDropped  prometheus.Counter
	providerRetries prometheus.Counter
}

// New creates the collectors and registers them with reg. A nil reg uses the
// default registerer.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		tasksProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "tasks", Name: "processed_total",
			Help: "Tasks that reached a terminal state, by type and status.",
		}, []string{"type", "status"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "tasks", Name: "duration_seconds",
			Help:    "Handler execution time by task type.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"type"}),
		tasksInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "tasks", Name: "in_flight",
			Help: "Tasks currently claimed by this process.",
		}),
		queuePops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "queue", Name: "pops_total",
			Help: "Blocking pops by outcome (task, timeout, duplicate, error).",
		}, []string{"outcome"}),
		pollerRequeued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "poller", Name: "requeued_total",
			Help: "Pending tasks pushed back onto the queue by the backup poller.",
		}),
		pollerDirect: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "poller", Name: "direct_runs_total",
			Help: "Pending tasks executed in-process while the queue was unreachable.",
		}),
		pollerStale: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "poller", Name: "stale_processing_total",
			Help: "Processing tasks seen past the grace period.",
		}),
		activeStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "stream", Name: "active",
			Help: "Stream sessions currently registered.",
		}),
		streamOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "stream", Name: "finished_total",
			Help: "Stream sessions by terminal status.",
		}, []string{"status"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "stream", Name: "tool_calls_total",
			Help: "Tool executions by tool and outcome.",
		}, []string{"tool", "outcome"}),
		historyDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "history", Name: "dropped_total",
			Help: "Chat history writes dropped because the queue was full.",
		}),
		providerRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "llm", Name: "retries_total",
			Help: "Provider calls retried after a transient error.",
		}),
	}

	collectors := []prometheus.Collector{
		m.tasksProcessed, m.taskDuration, m.tasksInFlight, m.queuePops,
		m.pollerRequeued, m.pollerDirect, m.pollerStale,
		m.activeStreams, m.streamOutcomes, m.toolCalls,
		m.historyDropped, m.providerRetries,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}

	return m, nil
}

// TaskStarted marks a task as claimed.
func (m *Metrics) TaskStarted() {
	if m == nil {
		return
	}
	m.tasksInFlight.Inc()
}

// TaskFinished records a finished task execution.
func (m *Metrics) TaskFinished(taskType, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.tasksInFlight.Dec()
	m.tasksProcessed.WithLabelValues(taskType, status).Inc()
	m.taskDuration.WithLabelValues(taskType).Observe(elapsed.Seconds())
}

// QueuePop records the outcome of one blocking pop.
func (m *Metrics) QueuePop(outcome string) {
	if m == nil {
		return
	}
	m.queuePops.WithLabelValues(outcome).Inc()
}

// PollerRequeued records tasks re-pushed by the backup poller.
func (m *Metrics) PollerRequeued(n int) {
	if m == nil {
		return
	}
	m.pollerRequeued.Add(float64(n))
}

// PollerDirectRun records one task executed in direct mode.
func (m *Metrics) PollerDirectRun() {
	if m == nil {
		return
	}
	m.pollerDirect.Inc()
}

// PollerStale records stale processing tasks.
func (m *Metrics) PollerStale(n int) {
	if m == nil {
		return
	}
	m.pollerStale.Add(float64(n))
}

// StreamStarted marks a session as active.
func (m *Metrics) StreamStarted() {
	if m == nil {
		return
	}
	m.activeStreams.Inc()
}

// StreamFinished records a session's terminal status.
func (m *Metrics) StreamFinished(status string) {
	if m == nil {
		return
	}
	m.activeStreams.Dec()
	m.streamOutcomes.WithLabelValues(status).Inc()
}

// ToolCall records one tool execution.
func (m *Metrics) ToolCall(tool, outcome string) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, outcome).Inc()
}

// HistoryDropped records one dropped history write.
func (m *Metrics) HistoryDropped() {
	if m == nil {
		return
	}
	m.historyDropped.Inc()
}

// ProviderRetry records one provider retry.
func (m *Metrics) ProviderRetry() {
	if m == nil {
		return
	}
	m.providerRetries.Inc()
}
