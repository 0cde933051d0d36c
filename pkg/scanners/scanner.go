// Package scanners implements the deterministic heuristics behind the
// built-in detectors. Each scanner produces an Assessment in its own terms;
// the detector adapters normalize it.
package scanners

import "sort"

// Finding represents a single scanner finding.
type Finding struct {
	Type       string    `json:"type"`               // e.g., "ssn", "sql_injection", "port_scan"
	Category   string    `json:"category"`           // e.g., "pii", "financial", "xss"
	Severity   string    `json:"severity"`           // "low", "medium", "high", "critical"
	Confidence float64   `json:"confidence"`         // 0.0 to 1.0
	Message    string    `json:"message"`            // Human-readable description
	Location   *Location `json:"location,omitempty"` // Where in the input the finding was detected
}

// Location represents where a finding was detected.
type Location struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Assessment is a scanner's native verdict.
type Assessment struct {
	// Label is the scanner's own classification ("Phishing", "Safe", "PII"...).
	Label string

	// Positive is true when the scanner considers the input a threat.
	Positive bool

	// Score is the native score in [0,1].
	Score float64

	// Tier is an optional classification bucket.
	Tier string

	Findings []Finding
	Detail   map[string]any
}

// Messages returns the finding messages in order.
func (a Assessment) Messages() []string {
	out := make([]string, 0, len(a.Findings))
	for _, f := range a.Findings {
		out = append(out, f.Message)
	}
	return out
}

// Scanner is implemented by text scanners.
type Scanner interface {
	// Name returns the scanner's name.
	Name() string

	// Assess analyzes the input.
	Assess(input string) Assessment
}

// FileScanner is implemented by scanners that inspect raw file bytes.
type FileScanner interface {
	Name() string
	AssessFile(data []byte, filename, contentType string) Assessment
}

// MaxSeverity returns the most severe severity among findings, or "" when
// there are none.
func MaxSeverity(findings []Finding) string {
	best := ""
	for _, f := range findings {
		if severityToScore(f.Severity) > severityToScore(best) {
			best = f.Severity
		}
	}
	return best
}

// MaxConfidence returns the largest finding confidence.
func MaxConfidence(findings []Finding) float64 {
	best := 0.0
	for _, f := range findings {
		if f.Confidence > best {
			best = f.Confidence
		}
	}
	return best
}

// sortByLocation orders findings by start offset; findings without a
// location keep their relative order at the end.
func sortByLocation(findings []Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		a, b := findings[i].Location, findings[j].Location
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.Start < b.Start
		}
	})
}

func severityToScore(severity string) int {
	switch severity {
	case "critical":
		return 100
	case "high":
		return 75
	case "medium":
		return 50
	case "low":
		return 25
	default:
		return 0
	}
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
