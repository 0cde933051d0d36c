package risk

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brad07/threatscope/pkg/detector"
)

func flagged(c detector.Capability, conf float64, tier string, findings ...string) detector.Result {
	return detector.Result{
		Capability: c,
		Status:     detector.StatusFlagged,
		Confidence: detector.Confidence(conf),
		Tier:       tier,
		Findings:   findings,
	}
}

func allClean() map[detector.Capability]detector.Result {
	out := make(map[detector.Capability]detector.Result)
	for _, c := range detector.PriorityOrder {
		out[c] = detector.CleanResult(c)
	}
	return out
}

func TestLevelFor(t *testing.T) {
	tests := []struct {
		score float64
		want  Level
	}{
		{0, LevelInfo},
		{0.19, LevelInfo},
		{0.2, LevelLow},
		{0.39, LevelLow},
		{0.4, LevelMedium},
		{0.6, LevelHigh},
		{0.79, LevelHigh},
		{0.8, LevelCritical},
		{1, LevelCritical},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LevelFor(tt.score), "score %v", tt.score)
	}

	prev := -1
	for s := 0.0; s <= 1.0; s += 0.01 {
		rank := LevelFor(s).Rank()
		assert.GreaterOrEqual(t, rank, prev)
		prev = rank
	}
}

func TestParseLevel(t *testing.T) {
	l, err := ParseLevel("medium")
	require.NoError(t, err)
	assert.Equal(t, LevelMedium, l)
	assert.True(t, LevelHigh.AtLeast(LevelMedium))
	assert.False(t, LevelLow.AtLeast(LevelMedium))

	_, err = ParseLevel("severe")
	assert.Error(t, err)
}

func TestAggregateAllClean(t *testing.T) {
	a := NewAggregator(DefaultPolicy(), nil)
	report := a.Aggregate(allClean())

	assert.Equal(t, 0.0, report.OverallRiskScore)
	assert.Equal(t, LevelInfo, report.RiskLevel)
	assert.False(t, report.Degraded)
	assert.Empty(t, report.FindingsSummary)
	assert.Empty(t, report.Contributions)
}

func TestAggregateAllUnavailable(t *testing.T) {
	results := make(map[detector.Capability]detector.Result)
	for _, c := range detector.PriorityOrder {
		results[c] = detector.UnavailableResult(c)
	}

	report := NewAggregator(DefaultPolicy(), nil).Aggregate(results)
	assert.True(t, report.Degraded)
	assert.Equal(t, 0.0, report.OverallRiskScore)
	assert.Equal(t, LevelInfo, report.RiskLevel)
	assert.Len(t, report.FindingsSummary, len(detector.PriorityOrder))
	assert.Equal(t, "Phishing: detector unavailable", report.FindingsSummary[0])
}

func TestAggregateSensitiveTierIgnoresConfidence(t *testing.T) {
	results := map[detector.Capability]detector.Result{
		detector.CapabilitySensitiveData: flagged(detector.CapabilitySensitiveData, 0.1, "High", "Social Security Number detected"),
	}

	report := NewAggregator(DefaultPolicy(), nil).Aggregate(results)
	assert.InDelta(t, 0.6, report.OverallRiskScore, 1e-9)
	assert.True(t, report.RiskLevel.AtLeast(LevelMedium))
	assert.Equal(t, "Sensitive data: Social Security Number detected", report.FindingsSummary[0])

	contrib, ok := report.ContributionFor(detector.CapabilitySensitiveData)
	require.True(t, ok)
	assert.Equal(t, LevelHigh, contrib.Severity)
}

func TestAggregateWeightedConfidence(t *testing.T) {
	results := allClean()
	results[detector.CapabilityPhishing] = flagged(detector.CapabilityPhishing, 0.5, "", "urgent language")

	report := NewAggregator(DefaultPolicy(), nil).Aggregate(results)
	assert.InDelta(t, 0.3, report.OverallRiskScore, 1e-9)
	assert.Equal(t, LevelLow, report.RiskLevel)
}

func TestAggregateClampsScore(t *testing.T) {
	results := map[detector.Capability]detector.Result{
		detector.CapabilityPhishing:       flagged(detector.CapabilityPhishing, 1, ""),
		detector.CapabilityCodeInjection:  flagged(detector.CapabilityCodeInjection, 1, "critical"),
		detector.CapabilityFileThreat:     flagged(detector.CapabilityFileThreat, 1, "critical"),
		detector.CapabilitySensitiveData:  flagged(detector.CapabilitySensitiveData, 1, "high"),
		detector.CapabilityNetworkTraffic: flagged(detector.CapabilityNetworkTraffic, 1, ""),
	}

	report := NewAggregator(DefaultPolicy(), nil).Aggregate(results)
	assert.Equal(t, 1.0, report.OverallRiskScore)
	assert.Equal(t, LevelCritical, report.RiskLevel)
}

func TestAggregateFileThreatCritical(t *testing.T) {
	results := allClean()
	results[detector.CapabilityFileThreat] = flagged(detector.CapabilityFileThreat, 0.99, "critical", "EICAR test signature")

	report := NewAggregator(DefaultPolicy(), nil).Aggregate(results)
	assert.Equal(t, LevelCritical, report.RiskLevel)
}

func TestAggregateErrorIsNeutral(t *testing.T) {
	results := allClean()
	results[detector.CapabilityPhishing] = detector.ErrorResult(detector.CapabilityPhishing, "timed out")

	report := NewAggregator(DefaultPolicy(), nil).Aggregate(results)
	assert.True(t, report.Degraded)
	assert.Equal(t, 0.0, report.OverallRiskScore)
	assert.Equal(t, []string{"Phishing: timed out"}, report.FindingsSummary)
}

func TestAggregateSummaryOrdering(t *testing.T) {
	results := map[detector.Capability]detector.Result{
		detector.CapabilityDataQuality:   flagged(detector.CapabilityDataQuality, 0.6, "", "low printable ratio"),
		detector.CapabilitySensitiveData: flagged(detector.CapabilitySensitiveData, 0.9, "High", "SSN"),
		detector.CapabilityPhishing:      flagged(detector.CapabilityPhishing, 0.9, "", "suspicious link"),
		detector.CapabilityCodeInjection: detector.UnavailableResult(detector.CapabilityCodeInjection),
	}

	a := NewAggregator(DefaultPolicy(), nil)
	first := a.Aggregate(results)
	assert.Equal(t, []string{
		"Phishing: suspicious link",
		"Sensitive data: SSN",
		"Data quality: low printable ratio",
		"Code injection: detector unavailable",
	}, first.FindingsSummary)

	for i := 0; i < 20; i++ {
		again := a.Aggregate(results)
		assert.Equal(t, first.OverallRiskScore, again.OverallRiskScore)
		assert.Equal(t, first.RiskLevel, again.RiskLevel)
		assert.Equal(t, first.FindingsSummary, again.FindingsSummary)
	}
}

func TestAggregateDowngradesInvalidResults(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	results := map[detector.Capability]detector.Result{
		detector.CapabilityPhishing: {
			Capability: detector.CapabilityPhishing,
			Status:     detector.StatusFlagged,
			Findings:   []string{"no confidence"},
		},
		detector.CapabilityCodeInjection: {
			Capability: detector.CapabilityPhishing,
			Status:     detector.StatusClean,
		},
	}

	report := NewAggregator(DefaultPolicy(), logger).Aggregate(results)
	assert.Equal(t, detector.StatusError, report.PerCapabilityResults[detector.CapabilityPhishing].Status)
	assert.Equal(t, detector.StatusError, report.PerCapabilityResults[detector.CapabilityCodeInjection].Status)
	assert.Equal(t, 0.0, report.OverallRiskScore)
	assert.True(t, report.Degraded)
	assert.Contains(t, buf.String(), "violates invariants")
}

func TestSetPolicy(t *testing.T) {
	a := NewAggregator(DefaultPolicy(), nil)
	p := DefaultPolicy()
	cp := p[detector.CapabilityPhishing]
	cp.Weight = 1
	p[detector.CapabilityPhishing] = cp
	a.SetPolicy(p)

	results := map[detector.Capability]detector.Result{
		detector.CapabilityPhishing: flagged(detector.CapabilityPhishing, 0.5, ""),
	}
	assert.InDelta(t, 0.5, a.Aggregate(results).OverallRiskScore, 1e-9)

	// mutating the caller's table after SetPolicy has no effect
	cp.Weight = 0
	p[detector.CapabilityPhishing] = cp
	assert.InDelta(t, 0.5, a.Aggregate(results).OverallRiskScore, 1e-9)
}

func TestPolicyValidate(t *testing.T) {
	assert.NoError(t, DefaultPolicy().Validate())

	p := DefaultPolicy()
	cp := p[detector.CapabilityPhishing]
	cp.Weight = 2
	cp.Tiers = map[string]float64{"x": -1}
	p[detector.CapabilityPhishing] = cp
	p["bogus"] = CapabilityPolicy{}

	err := p.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "weight must be in [0,1]")
	assert.Contains(t, err.Error(), `unknown capability "bogus"`)
	assert.Contains(t, err.Error(), `tier "x"`)
}
