// Package metrics holds the Prometheus collectors exported by threatscope.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// detectorCalls counts detector invocations by capability and status.
	detectorCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "threatscope_detector_calls_total",
		Help: "Detector invocations by capability and result status",
	}, []string{"capability", "status"})

	// detectorDuration tracks detector latency.
	detectorDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "threatscope_detector_duration_seconds",
		Help:    "Detector invocation duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
	}, []string{"capability"})

	// analyses counts completed analyses by input kind and risk level.
	analyses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "threatscope_analyses_total",
		Help: "Completed analyses by input kind and risk level",
	}, []string{"kind", "risk_level"})

	// degradedAnalyses counts analyses where at least one detector did not participate.
	degradedAnalyses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "threatscope_analyses_degraded_total",
		Help: "Analyses completed with at least one unavailable or failed detector",
	})

	// alertsCreated counts alerts accepted by the sink.
	alertsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "threatscope_alerts_created_total",
		Help: "Alerts accepted by the alert sink by capability and severity",
	}, []string{"capability", "severity"})

	// alertSinkFailures counts alert sink errors.
	alertSinkFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "threatscope_alert_sink_failures_total",
		Help: "Alert sink failures by sink",
	}, []string{"sink"})

	// detectorLoadState is 1 for the current load state of a capability.
	detectorLoadState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "threatscope_detector_load_state",
		Help: "Current load state of each capability (1 for the active state)",
	}, []string{"capability", "state"})
)

// ObserveDetector records one detector invocation.
func ObserveDetector(capability, status string, d time.Duration) {
	detectorCalls.WithLabelValues(capability, status).Inc()
	detectorDuration.WithLabelValues(capability).Observe(d.Seconds())
}

// ObserveAnalysis records one completed analysis.
func ObserveAnalysis(kind, level string, degraded bool) {
	analyses.WithLabelValues(kind, level).Inc()
	if degraded {
		degradedAnalyses.Inc()
	}
}

// AlertCreated records an alert accepted by the sink.
func AlertCreated(capability, severity string) {
	alertsCreated.WithLabelValues(capability, severity).Inc()
}

// AlertSinkFailed records a sink error.
func AlertSinkFailed(sink string) {
	alertSinkFailures.WithLabelValues(sink).Inc()
}

// SetLoadState records the load state of a capability. Only the current
// state carries the value 1.
func SetLoadState(capability, state string, states []string) {
	for _, s := range states {
		v := 0.0
		if s == state {
			v = 1
		}
		detectorLoadState.WithLabelValues(capability, s).Set(v)
	}
}
