package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveDetector(t *testing.T) {
	before := testutil.ToFloat64(detectorCalls.WithLabelValues("phishing", "flagged"))
	ObserveDetector("phishing", "flagged", 10*time.Millisecond)
	after := testutil.ToFloat64(detectorCalls.WithLabelValues("phishing", "flagged"))
	assert.Equal(t, before+1, after)
}

func TestObserveAnalysis(t *testing.T) {
	before := testutil.ToFloat64(degradedAnalyses)
	ObserveAnalysis("text", "Info", false)
	ObserveAnalysis("text", "Info", true)
	assert.Equal(t, before+1, testutil.ToFloat64(degradedAnalyses))
}

func TestSetLoadState(t *testing.T) {
	states := []string{"loading", "ready", "degraded", "failed"}
	SetLoadState("file_threat", "ready", states)
	assert.Equal(t, 1.0, testutil.ToFloat64(detectorLoadState.WithLabelValues("file_threat", "ready")))
	assert.Equal(t, 0.0, testutil.ToFloat64(detectorLoadState.WithLabelValues("file_threat", "failed")))

	SetLoadState("file_threat", "failed", states)
	assert.Equal(t, 0.0, testutil.ToFloat64(detectorLoadState.WithLabelValues("file_threat", "ready")))
	assert.Equal(t, 1.0, testutil.ToFloat64(detectorLoadState.WithLabelValues("file_threat", "failed")))
}

func TestAlertCounters(t *testing.T) {
	before := testutil.ToFloat64(alertSinkFailures.WithLabelValues("webhook"))
	AlertSinkFailed("webhook")
	assert.Equal(t, before+1, testutil.ToFloat64(alertSinkFailures.WithLabelValues("webhook")))

	AlertCreated("phishing", "High")
	assert.GreaterOrEqual(t, testutil.ToFloat64(alertsCreated.WithLabelValues("phishing", "High")), 1.0)
}
