// Package metrics holds the Prometheus collectors for paybridge.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Results used as label values.
const (
	ResultApplied   = "applied"
	ResultDropped   = "dropped"
	ResultMalformed = "malformed"
	ResultOK        = "ok"
	ResultFailed    = "failed"
	ResultSubmitted = "submitted"
	ResultSkipped   = "skipped"
)

var (
	// Registry holds the application-specific collectors.
	Registry = prometheus.NewRegistry()

	notifyEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paybridge",
			Subsystem: "notify",
			Name:      "events_total",
			Help:      "Inbound notification frames by outcome.",
		},
		[]string{"result"},
	)

	bootstrapStages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paybridge",
			Subsystem: "bootstrap",
			Name:      "stage_total",
			Help:      "Bootstrap pipeline stage outcomes.",
		},
		[]string{"stage", "result"},
	)

	handoffs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paybridge",
			Subsystem: "handoff",
			Name:      "total",
			Help:      "Payment handoff attempts by outcome.",
		},
		[]string{"result"},
	)

	lifecycleSignals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paybridge",
			Subsystem: "lifecycle",
			Name:      "signals_total",
			Help:      "Host lifecycle signals received.",
		},
		[]string{"signal"},
	)

	instancesActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "paybridge",
			Subsystem: "instances",
			Name:      "active",
			Help:      "App instances that have not been stopped.",
		},
	)
)

func init() {
	Registry.MustRegister(notifyEvents, bootstrapStages, handoffs, lifecycleSignals, instancesActive)
}

// Handler exposes the registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordNotifyEvent counts a dispatched notification frame.
func RecordNotifyEvent(result string) {
	notifyEvents.WithLabelValues(result).Inc()
}

// RecordStage counts a bootstrap stage outcome.
func RecordStage(stage, result string) {
	bootstrapStages.WithLabelValues(stage, result).Inc()
}

// RecordHandoff counts a handoff attempt.
func RecordHandoff(result string) {
	handoffs.WithLabelValues(result).Inc()
}

// RecordSignal counts a lifecycle signal.
func RecordSignal(signal string) {
	lifecycleSignals.WithLabelValues(signal).Inc()
}

// InstanceStarted and InstanceStopped track the active instance gauge.
func InstanceStarted() { instancesActive.Inc() }

func InstanceStopped() { instancesActive.Dec() }
