// Package metrics exposes Prometheus collectors for agentmux.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SessionsActive tracks currently registered sessions
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentmux_sessions_active",
			Help: "Number of registered sessions",
		},
	)

	// SessionsCreated counts session creations by capability mode
	SessionsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentmux_sessions_created_total",
			Help: "Total number of sessions created",
		},
		[]string{"capability_mode"},
	)

	// CommandsTotal counts dispatched commands by terminal outcome
	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentmux_commands_total",
			Help: "Total number of dispatched commands by terminal outcome",
		},
		[]string{"outcome"},
	)

	// CommandDuration tracks command wall time
	CommandDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentmux_command_duration_seconds",
			Help:    "Command duration in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"outcome"},
	)

	// PermissionRequests counts gated-action approval cycles by decision
	PermissionRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentmux_permission_requests_total",
			Help: "Total number of permission requests by decision",
		},
		[]string{"decision"},
	)

	// ProvisionFailures counts isolation boundary provisioning failures
	ProvisionFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agentmux_provision_failures_total",
			Help: "Total number of isolation boundary provisioning failures",
		},
	)

	// EventBufferDrops tracks dropped events due to buffer overflow
	EventBufferDrops = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentmux_event_buffer_drops_total",
			Help: "Total number of events dropped due to buffer overflow",
		},
		[]string{"session_id"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordSessionCreated increments the session gauge and creation counter.
func RecordSessionCreated(capabilityMode string) {
	SessionsActive.Inc()
	SessionsCreated.WithLabelValues(capabilityMode).Inc()
}

// RecordSessionRemoved decrements the session gauge.
func RecordSessionRemoved() {
	SessionsActive.Dec()
}

// RecordCommand records a completed command and its duration.
func RecordCommand(outcome string, durationSeconds float64) {
	CommandsTotal.WithLabelValues(outcome).Inc()
	CommandDuration.WithLabelValues(outcome).Observe(durationSeconds)
}

// RecordPermissionDecision records a resolved permission request.
func RecordPermissionDecision(decision string) {
	PermissionRequests.WithLabelValues(decision).Inc()
}

// RecordProvisionFailure records a boundary provisioning failure.
func RecordProvisionFailure() {
	ProvisionFailures.Inc()
}

// RecordEventDrop records an event buffer drop.
func RecordEventDrop(sessionID string) {
	EventBufferDrops.WithLabelValues(sessionID).Inc()
}
