// Package risk combines per-capability detector results into one verdict.
package risk

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/brad07/threatscope/pkg/detector"
)

// Contribution is one capability's share of the overall score.
type Contribution struct {
	Capability detector.Capability `json:"capability"`
	Score      float64             `json:"score"`

	// Severity is the ladder applied to Score alone.
	Severity Level `json:"severity"`
}

// Report is the aggregated verdict returned to callers.
type Report struct {
	RequestID string `json:"request_id"`
	InputHash string `json:"input_hash"`
	Source    string `json:"source"`

	OverallRiskScore     float64                                 `json:"overall_risk_score"`
	RiskLevel            Level                                   `json:"risk_level"`
	PerCapabilityResults map[detector.Capability]detector.Result `json:"per_capability_results"`
	Contributions        []Contribution                          `json:"contributions"`
	Degraded             bool                                    `json:"degraded"`
	FindingsSummary      []string                                `json:"findings_summary"`
	AlertsCreated        []string                                `json:"alerts_created"`

	AnalyzedAt time.Time `json:"analyzed_at"`
	DurationMs int64     `json:"duration_ms"`
}

// ContributionFor returns the contribution entry for a capability.
func (r *Report) ContributionFor(c detector.Capability) (Contribution, bool) {
	for _, contrib := range r.Contributions {
		if contrib.Capability == c {
			return contrib, true
		}
	}
	return Contribution{}, false
}

// Aggregator turns per-capability results into a Report. The policy table
// can be replaced at runtime; each aggregation sees one consistent table.
type Aggregator struct {
	policy atomic.Pointer[Policy]
	logger *slog.Logger
}

// NewAggregator creates an aggregator using the given policy table.
func NewAggregator(policy Policy, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Aggregator{logger: logger}
	a.SetPolicy(policy)
	return a
}

// SetPolicy swaps in a new policy table.
func (a *Aggregator) SetPolicy(p Policy) {
	cloned := p.Clone()
	a.policy.Store(&cloned)
}

// Policy returns the current policy table.
func (a *Aggregator) Policy() Policy {
	return *a.policy.Load()
}

// Aggregate computes the verdict for a set of results. It is a pure function
// of the results and the current policy table.
func (a *Aggregator) Aggregate(results map[detector.Capability]detector.Result) *Report {
	policy := a.Policy()

	report := &Report{
		PerCapabilityResults: make(map[detector.Capability]detector.Result, len(results)),
		Contributions:        []Contribution{},
		FindingsSummary:      []string{},
		AlertsCreated:        []string{},
	}

	for c, r := range results {
		report.PerCapabilityResults[c] = a.checked(c, r)
	}

	var total float64
	var notes []string
	for _, c := range detector.PriorityOrder {
		r, ok := report.PerCapabilityResults[c]
		if !ok {
			continue
		}

		switch r.Status {
		case detector.StatusFlagged:
			score := policy.Contribution(r)
			total += score
			report.Contributions = append(report.Contributions, Contribution{
				Capability: c,
				Score:      score,
				Severity:   LevelFor(score),
			})
			report.FindingsSummary = append(report.FindingsSummary, summarize(r)...)
		case detector.StatusUnavailable:
			report.Degraded = true
			notes = append(notes, fmt.Sprintf("%s: detector unavailable", c.Label()))
		case detector.StatusError:
			report.Degraded = true
			reason := "detector error"
			if len(r.Findings) > 0 {
				reason = r.Findings[0]
			}
			notes = append(notes, fmt.Sprintf("%s: %s", c.Label(), reason))
		}
	}

	report.OverallRiskScore = clamp(total, 0, 1)
	report.RiskLevel = LevelFor(report.OverallRiskScore)
	report.FindingsSummary = append(report.FindingsSummary, notes...)
	return report
}

// checked enforces result invariants; a violating result becomes an Error.
func (a *Aggregator) checked(key detector.Capability, r detector.Result) detector.Result {
	err := r.Validate()
	if err == nil && r.Capability != key {
		err = fmt.Errorf("result for %q stored under %q", r.Capability, key)
	}
	if err == nil {
		return r
	}
	a.logger.Error("detector result violates invariants",
		"capability", key,
		"status", r.Status,
		"error", err)
	return detector.ErrorResult(key, "invalid detector result: %v", err)
}

func summarize(r detector.Result) []string {
	label := r.Capability.Label()
	if len(r.Findings) == 0 {
		return []string{fmt.Sprintf("%s: flagged (confidence %.2f)", label, r.ConfidenceValue())}
	}
	lines := make([]string, 0, len(r.Findings))
	for _, f := range r.Findings {
		lines = append(lines, label+": "+f)
	}
	return lines
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
