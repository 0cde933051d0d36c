// Package alert turns qualifying detector results into alert records and
// hands them to an external sink.
package alert

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/brad07/threatscope/pkg/detector"
	"github.com/brad07/threatscope/pkg/risk"
)

var (
	// ErrNotFound is returned when an alert id is unknown to a sink.
	ErrNotFound = errors.New("alert not found")

	errSinkPanic = errors.New("alert sink panicked")
)

// Record is an immutable alert handed to a sink.
type Record struct {
	// ID is assigned by the sink.
	ID string `json:"id"`

	Severity risk.Level          `json:"severity"`
	Type     detector.Capability `json:"type"`

	// Source is "text-scan" or "file-scan".
	Source string `json:"source"`

	CreatedAt time.Time `json:"created_at"`
	RequestID string    `json:"request_id"`
	InputHash string    `json:"input_hash"`

	Title          string `json:"title"`
	Description    string `json:"description"`
	Recommendation string `json:"recommendation"`

	Detail detector.Result `json:"detail"`
}

// Sink persists alert records. It owns id assignment.
type Sink interface {
	// Create stores the record and returns its id.
	Create(ctx context.Context, rec Record) (string, error)
}

// QueryOptions specifies criteria for listing alerts.
type QueryOptions struct {
	Limit       int
	Offset      int
	Since       *time.Time
	Type        detector.Capability
	MinSeverity risk.Level
	RequestID   string
}

func (o QueryOptions) match(rec Record) bool {
	if o.Since != nil && rec.CreatedAt.Before(*o.Since) {
		return false
	}
	if o.Type != "" && rec.Type != o.Type {
		return false
	}
	if o.MinSeverity != "" && !rec.Severity.AtLeast(o.MinSeverity) {
		return false
	}
	if o.RequestID != "" && rec.RequestID != o.RequestID {
		return false
	}
	return true
}

func (o QueryOptions) page(recs []Record) []Record {
	if o.Offset > 0 {
		if o.Offset >= len(recs) {
			return []Record{}
		}
		recs = recs[o.Offset:]
	}
	if o.Limit > 0 && len(recs) > o.Limit {
		recs = recs[:o.Limit]
	}
	return recs
}

// Querier is implemented by sinks that can list what they stored.
type Querier interface {
	Query(ctx context.Context, opts QueryOptions) ([]Record, error)
	Get(ctx context.Context, id string) (Record, error)
}

type template struct {
	title          string
	recommendation string
	describe       func(r detector.Result) string
}

var templates = map[detector.Capability]template{
	detector.CapabilityPhishing: {
		title:          "Phishing Attempt Detected",
		recommendation: "Do not click any links or provide personal information. Delete the message immediately.",
		describe: func(r detector.Result) string {
			return fmt.Sprintf("Potential phishing content was detected with %.0f%% confidence.", r.ConfidenceValue()*100)
		},
	},
	detector.CapabilityCodeInjection: {
		title:          "Code Injection Vulnerability Detected",
		recommendation: "Ensure all user inputs are rigorously sanitized. Use parameterized queries or prepared statements for database interactions.",
		describe: func(r detector.Result) string {
			return fmt.Sprintf("A potential code injection pattern was found with a threat score of %.2f. Detected %d suspicious pattern(s).",
				r.ConfidenceValue(), len(r.Findings))
		},
	},
	detector.CapabilitySensitiveData: {
		title:          "Sensitive Data Exposure",
		recommendation: "Review the data source to ensure this information is properly secured, redacted, or masked according to compliance policies.",
		describe: func(r detector.Result) string {
			return fmt.Sprintf("Sensitive information classified as %s was detected: %s.", tierOr(r, "sensitive"), strings.Join(r.Findings, "; "))
		},
	},
	detector.CapabilityFileThreat: {
		title:          "Malicious File Detected",
		recommendation: "Quarantine or delete this file immediately. Do not execute or open it. Perform a full system scan.",
		describe: func(r detector.Result) string {
			return fmt.Sprintf("The file has been identified as a potential %s threat: %s.", tierOr(r, "unclassified"), strings.Join(r.Findings, "; "))
		},
	},
	detector.CapabilityNetworkTraffic: {
		title:          "Suspicious Network Activity",
		recommendation: "Investigate the source and destination addresses associated with this traffic. Check for unauthorized connections or data exfiltration.",
		describe: func(r detector.Result) string {
			return "Network traffic patterns deviate significantly from the established baseline, indicating a potential intrusion."
		},
	},
	detector.CapabilityDynamicBehavior: {
		title:          "Anomalous System Behavior",
		recommendation: "Isolate the affected system or process. Investigate running processes for unauthorized activity.",
		describe: func(r detector.Result) string {
			return "An unusual sequence of system calls was detected: " + strings.Join(r.Findings, "; ") + "."
		},
	},
	detector.CapabilityDataQuality: {
		title:          "Poor Data Quality Detected",
		recommendation: "Review the data ingestion pipeline. Ensure data is complete, consistent, and adheres to the expected format.",
		describe: func(r detector.Result) string {
			return "Data quality assessment failed. Issues: " + strings.Join(r.Findings, "; ") + "."
		},
	},
}

func tierOr(r detector.Result, fallback string) string {
	if r.Tier != "" {
		return r.Tier
	}
	return fallback
}

// describe fills the human-readable fields of rec from its detail.
func describe(rec *Record) {
	t, ok := templates[rec.Type]
	if !ok {
		rec.Title = rec.Type.Label() + " Alert"
		rec.Description = strings.Join(rec.Detail.Findings, "; ")
		return
	}
	rec.Title = t.title
	rec.Description = t.describe(rec.Detail)
	rec.Recommendation = t.recommendation
}
