// Package metrics holds the Prometheus instruments exported by gateflow.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gateflow"

var (
	// Labels: entity_type, gate
	gatesOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "gates",
		Name:      "opened_total",
		Help:      "Gate instances opened",
	}, []string{"entity_type", "gate"})

	// Labels: entity_type, gate, decision
	decisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "gates",
		Name:      "decisions_total",
		Help:      "Decisions recorded on gates",
	}, []string{"entity_type", "gate", "decision"})

	// Labels: operation
	conflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "workflows",
		Name:      "stale_write_conflicts_total",
		Help:      "Mutations rejected by optimistic version checks",
	}, []string{"operation"})

	// Labels: entity_type, level
	escalations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sla",
		Name:      "escalations_total",
		Help:      "Escalation level steps raised by the SLA sweeper",
	}, []string{"entity_type", "level"})

	leadershipAlerts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sla",
		Name:      "leadership_alerts_total",
		Help:      "Leadership alerts raised for gates at the top escalation level",
	}, []string{"entity_type"})

	sweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "sla",
		Name:      "sweep_duration_seconds",
		Help:      "Duration of SLA sweeps",
		Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	})

	// Labels: provider, outcome (available, unavailable, rate_limited, timeout)
	advisoryRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "advisory",
		Name:      "requests_total",
		Help:      "Advisory requests by outcome",
	}, []string{"provider", "outcome"})

	advisoryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "advisory",
		Name:      "latency_seconds",
		Help:      "Advisory call latency in seconds",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 16},
	}, []string{"provider"})

	// Labels: sink, status (delivered, failed)
	notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "notify",
		Name:      "deliveries_total",
		Help:      "Notification deliveries by sink and status",
	}, []string{"sink", "status"})
)

func GateOpened(entityType, gate string) {
	gatesOpened.WithLabelValues(entityType, gate).Inc()
}

func DecisionRecorded(entityType, gate, decision string) {
	decisions.WithLabelValues(entityType, gate, decision).Inc()
}

func StaleWrite(operation string) {
	conflicts.WithLabelValues(operation).Inc()
}

func Escalated(entityType string, level int) {
	escalations.WithLabelValues(entityType, strconv.Itoa(level)).Inc()
}

func LeadershipAlert(entityType string) {
	leadershipAlerts.WithLabelValues(entityType).Inc()
}

func ObserveSweep(d time.Duration) {
	sweepDuration.Observe(d.Seconds())
}

func Advisory(provider, outcome string, d time.Duration) {
	advisoryRequests.WithLabelValues(provider, outcome).Inc()
	advisoryLatency.WithLabelValues(provider).Observe(d.Seconds())
}

func Notification(sink string, ok bool) {
	status := "delivered"
	if !ok {
		status = "failed"
	}
	notifications.WithLabelValues(sink, status).Inc()
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
