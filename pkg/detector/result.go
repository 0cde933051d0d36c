package detector

import (
	"fmt"
	"math"
)

// Status is the outcome of a single detector invocation.
type Status string

const (
	StatusClean       Status = "clean"
	StatusFlagged     Status = "flagged"
	StatusError       Status = "error"
	StatusUnavailable Status = "unavailable"
)

// Result is the normalized output of one detector.
type Result struct {
	Capability Capability `json:"capability"`
	Status     Status     `json:"status"`

	// Confidence is required when Status is StatusFlagged.
	Confidence *float64 `json:"confidence,omitempty"`

	Findings []string `json:"findings"`

	// Tier is an optional classification bucket (e.g. "High" for
	// sensitive data, "critical" for file threats) used by the risk policy.
	Tier string `json:"tier,omitempty"`

	RawDetail map[string]any `json:"raw_detail,omitempty"`
}

// Confidence returns a pointer to v for use in Result literals.
func Confidence(v float64) *float64 {
	return &v
}

// ConfidenceValue returns the confidence or 0 when absent.
func (r Result) ConfidenceValue() float64 {
	if r.Confidence == nil {
		return 0
	}
	return *r.Confidence
}

// Participated reports whether the detector produced a real verdict.
func (r Result) Participated() bool {
	return r.Status == StatusClean || r.Status == StatusFlagged
}

// CleanResult returns a Clean result for the capability.
func CleanResult(c Capability) Result {
	return Result{Capability: c, Status: StatusClean, Findings: []string{}}
}

// UnavailableResult returns the result synthesized for a capability with no
// ready adapter.
func UnavailableResult(c Capability) Result {
	return Result{Capability: c, Status: StatusUnavailable, Findings: []string{}}
}

// ErrorResult returns an Error result carrying a diagnostic message.
func ErrorResult(c Capability, format string, args ...any) Result {
	return Result{
		Capability: c,
		Status:     StatusError,
		Findings:   []string{fmt.Sprintf(format, args...)},
	}
}

// Validate checks the data-model invariants of a result.
func (r Result) Validate() error {
	if !r.Capability.Valid() {
		return fmt.Errorf("unknown capability %q", r.Capability)
	}
	switch r.Status {
	case StatusClean, StatusError:
	case StatusFlagged:
		if r.Confidence == nil {
			return fmt.Errorf("flagged result has no confidence")
		}
	case StatusUnavailable:
		if len(r.Findings) > 0 {
			return fmt.Errorf("unavailable result carries %d findings", len(r.Findings))
		}
	default:
		return fmt.Errorf("unknown status %q", r.Status)
	}
	if r.Confidence != nil {
		c := *r.Confidence
		if math.IsNaN(c) || c < 0 || c > 1 {
			return fmt.Errorf("confidence %v outside [0,1]", c)
		}
	}
	return nil
}

// Verdict is the native output of a model or heuristic before
// normalization.
type Verdict struct {
	// Positive is the native prediction (threat, sensitive, anomalous...).
	Positive bool

	// Score is the native probability or score in [0,1].
	Score float64

	// Label is the native label, if any.
	Label string

	// Tier is an optional classification bucket.
	Tier string

	Findings []string
	Detail   map[string]any
}

// Normalize maps a native verdict into a Result. A positive verdict whose
// score is below floor is downgraded to Clean; the suppressed findings are
// kept in RawDetail.
func Normalize(c Capability, v Verdict, floor float64) Result {
	score := clamp01(v.Score)
	detail := make(map[string]any, len(v.Detail)+2)
	for k, val := range v.Detail {
		detail[k] = val
	}
	if v.Label != "" {
		detail["label"] = v.Label
	}

	if !v.Positive {
		detail["score"] = score
		return Result{Capability: c, Status: StatusClean, Findings: []string{}, RawDetail: detail}
	}

	if score < floor {
		detail["score"] = score
		detail["below_floor"] = floor
		if len(v.Findings) > 0 {
			detail["suppressed_findings"] = v.Findings
		}
		return Result{Capability: c, Status: StatusClean, Findings: []string{}, RawDetail: detail}
	}

	findings := v.Findings
	if findings == nil {
		findings = []string{}
	}
	return Result{
		Capability: c,
		Status:     StatusFlagged,
		Confidence: Confidence(score),
		Findings:   findings,
		Tier:       v.Tier,
		RawDetail:  detail,
	}
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
