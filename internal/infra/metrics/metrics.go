package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registry = prometheus.NewRegistry()

	stageExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "provisioner",
			Subsystem: "stage",
			Name:      "executions_total",
			Help:      "Pipeline stage executions by result",
		},
		[]string{"stage", "result"},
	)

	stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "provisioner",
			Subsystem: "stage",
			Name:      "duration_seconds",
			Help:      "Duration of pipeline stages in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		},
		[]string{"stage"},
	)

	queueTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "provisioner",
			Subsystem: "queue",
			Name:      "transitions_total",
			Help:      "Queue entry status transitions by target status",
		},
		[]string{"to"},
	)

	outboxEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "provisioner",
			Subsystem: "outbox",
			Name:      "events_total",
			Help:      "Outbox deliveries by event type and result",
		},
		[]string{"event", "result"},
	)
)

func init() {
	Registry.MustRegister(
		stageExecutions,
		stageDuration,
		queueTransitions,
		outboxEvents,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

func RecordStage(stage, result string, seconds float64) {
	stageExecutions.WithLabelValues(stage, result).Inc()
	stageDuration.WithLabelValues(stage).Observe(seconds)
}

func RecordTransition(to string) {
	queueTransitions.WithLabelValues(to).Inc()
}

func RecordOutboxEvent(event, result string) {
	outboxEvents.WithLabelValues(event, result).Inc()
}

func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
