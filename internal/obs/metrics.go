package obs

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	provisioningTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provisioning_total",
			Help: "Provisioning saga executions by outcome.",
		},
		[]string{"outcome"},
	)

	provisioningStepFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provisioning_step_failures_total",
			Help: "Provisioning step failures by step name.",
		},
		[]string{"step"},
	)

	rollbackCompensations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rollback_compensations_total",
			Help: "Compensating actions issued during rollback.",
		},
		[]string{"step", "outcome"},
	)

	roomTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "room_transitions_total",
			Help: "Room lifecycle transitions by type and path taken.",
		},
		[]string{"transition", "path"},
	)

	externalCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "external_call_duration_seconds",
			Help:    "External backing-system call latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"system", "op"},
	)
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		provisioningTotal,
		provisioningStepFailures,
		rollbackCompensations,
		roomTransitions,
		externalCallDuration,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// CountProvisioning records a completed saga execution.
// Outcome is one of "ok", "degraded", "failed", "conflict", "invalid".
func CountProvisioning(outcome string) {
	provisioningTotal.WithLabelValues(outcome).Inc()
}

// CountStepFailure records a failed provisioning step.
func CountStepFailure(step string) {
	provisioningStepFailures.WithLabelValues(step).Inc()
}

// CountCompensation records a compensating action and whether it succeeded.
func CountCompensation(step, outcome string) {
	rollbackCompensations.WithLabelValues(step, outcome).Inc()
}

// CountRoomTransition records a room lifecycle transition.
// Path is "holding", "handoff", "fallback" or "direct".
func CountRoomTransition(transition, path string) {
	roomTransitions.WithLabelValues(transition, path).Inc()
}

// ObserveExternalCall records the latency of one backing-system call.
func ObserveExternalCall(system, op string, start time.Time) {
	externalCallDuration.WithLabelValues(system, op).Observe(time.Since(start).Seconds())
}
