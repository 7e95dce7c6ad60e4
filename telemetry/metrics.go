package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsSink counts engine events in Prometheus collectors.
type MetricsSink struct {
	eventsTotal     *prometheus.CounterVec
	stagesTotal     *prometheus.CounterVec
	tasksTotal      *prometheus.CounterVec
	mergesFired     prometheus.Counter
	checkpointFails prometheus.Counter
}

// NewMetricsSink registers the engine's collectors on reg under
// namespace. Pass a fresh prometheus.NewRegistry in tests.
func NewMetricsSink(namespace string, reg prometheus.Registerer) *MetricsSink {
	factory := promauto.With(reg)
	return &MetricsSink{
		eventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "engine_events_total",
				Help:      "Total number of engine events by type",
			},
			[]string{"event"},
		),
		stagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stage_executions_total",
				Help:      "Total number of node stage executions by outcome",
			},
			[]string{"outcome"},
		),
		tasksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_total",
				Help:      "Total number of task terminal transitions by status",
			},
			[]string{"status"},
		),
		mergesFired: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "merges_fired_total",
				Help:      "Total number of merge nodes fired",
			},
		),
		checkpointFails: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "checkpoint_failures_total",
				Help:      "Total number of non-fatal checkpoint failures",
			},
		),
	}
}

// Emit implements engine.Sink.
func (s *MetricsSink) Emit(eventType string, payload map[string]any) {
	s.eventsTotal.WithLabelValues(eventType).Inc()
	switch eventType {
	case "stage.end":
		outcome := "ok"
		if failed, _ := payload["failed"].(bool); failed {
			outcome = "error"
		}
		s.stagesTotal.WithLabelValues(outcome).Inc()
	case "task.completed":
		s.tasksTotal.WithLabelValues("completed").Inc()
	case "task.failed":
		s.tasksTotal.WithLabelValues("failed").Inc()
	case "task.cancelled":
		s.tasksTotal.WithLabelValues("cancelled").Inc()
	case "task.partial":
		s.tasksTotal.WithLabelValues("partial").Inc()
	case "merge.fired":
		s.mergesFired.Inc()
	case "checkpoint.error":
		s.checkpointFails.Inc()
	}
}
