package orchestrator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for task routing. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	submitted   prometheus.Counter
	finished    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	queueDepth  prometheus.Gauge
	agentErrors *prometheus.CounterVec
	pluginRuns  *prometheus.CounterVec
	unroutable  prometheus.Counter
}

// MustNewMetrics registers the orchestrator collectors with reg and panics on
// a registration conflict. Tests pass a fresh prometheus.NewRegistry().
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "iged",
			Subsystem: "orchestrator",
			Name:      "tasks_submitted_total",
			Help:      "Tasks accepted onto the queue.",
		}),
		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "iged",
			Subsystem: "orchestrator",
			Name:      "tasks_finished_total",
			Help:      "Tasks that reached a terminal status.",
		}, []string{"status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "iged",
			Subsystem: "orchestrator",
			Name:      "task_duration_seconds",
			Help:      "Wall time spent executing a task, by agent.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"agent"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "iged",
			Subsystem: "orchestrator",
			Name:      "queue_depth",
			Help:      "Tasks waiting for the worker.",
		}),
		agentErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "iged",
			Subsystem: "orchestrator",
			Name:      "agent_errors_total",
			Help:      "Agent executions that ended in status error.",
		}, []string{"agent"}),
		pluginRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "iged",
			Subsystem: "orchestrator",
			Name:      "plugin_runs_total",
			Help:      "Plugin executions, by plugin and outcome.",
		}, []string{"plugin", "outcome"}),
		unroutable: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "iged",
			Subsystem: "orchestrator",
			Name:      "tasks_unroutable_total",
			Help:      "Tasks for which no loaded agent matched.",
		}),
	}
	reg.MustRegister(m.submitted, m.finished, m.duration, m.queueDepth, m.agentErrors, m.pluginRuns, m.unroutable)
	return m
}

func (m *Metrics) taskSubmitted(depth int) {
	if m == nil {
		return
	}
	m.submitted.Inc()
	m.queueDepth.Set(float64(depth))
}

func (m *Metrics) setQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}

func (m *Metrics) taskFinished(agent, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.finished.WithLabelValues(status).Inc()
	if agent != "" {
		m.duration.WithLabelValues(agent).Observe(d.Seconds())
	}
	if status == "error" && agent != "" {
		m.agentErrors.WithLabelValues(agent).Inc()
	}
}

func (m *Metrics) taskUnroutable() {
	if m == nil {
		return
	}
	m.unroutable.Inc()
}

func (m *Metrics) pluginRun(name string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.pluginRuns.WithLabelValues(name, outcome).Inc()
}
