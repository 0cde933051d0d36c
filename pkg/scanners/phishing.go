package scanners

import (
	"fmt"
	"regexp"
	"strings"
)

// PhishingScanner scores text against weighted phishing indicators, offset
// by indicators of ordinary conversation.
type PhishingScanner struct {
	indicators []phishingIndicator
	safe       []phishingIndicator
	Threshold  float64
}

// phishingIndicator is one weighted group. A hit adds weight/len(group) to
// the score, so a group never contributes more than its weight.
type phishingIndicator struct {
	name     string
	keywords []string
	patterns []*regexp.Regexp
	weight   float64
	severity string
}

func (p phishingIndicator) size() int {
	return len(p.keywords) + len(p.patterns)
}

// NewPhishingScanner creates a scanner with the default indicator set.
func NewPhishingScanner() *PhishingScanner {
	return &PhishingScanner{
		indicators: []phishingIndicator{
			{
				name: "urgent_keywords",
				keywords: []string{
					"urgent", "immediate", "important", "attention", "warning",
					"alert", "suspicious", "compromised", "breached", "hacked",
					"security", "verify", "confirm", "validate",
					"login", "password", "update", "required", "necessary",
					"critical", "emergency", "action", "required",
				},
				weight:   0.8,
				severity: "medium",
			},
			{
				name: "suspicious_urls",
				patterns: compileAll(
					`http://[^.\s]+\.[^.\s]+\.[^.\s]+`,
					`https?://\S+\.com\S*`,
					`https?://\S*login\S*`,
					`https?://\S*secure\S*`,
					`https?://\S*bank\S*`,
					`https?://\S*account\S*`,
					`https?://\S*verify\S*`,
					`https?://\S*update\S*`,
					`https?://\S*claim\S*`,
					`https?://\S*prize\S*`,
				),
				weight:   1.2,
				severity: "high",
			},
			{
				name:     "suspicious_tlds",
				keywords: []string{".xyz", ".tk", ".ml", ".ga", ".cf", ".gq", ".info", ".biz"},
				weight:   0.5,
				severity: "medium",
			},
			{
				name: "suspicious_content",
				patterns: compileAll(
					`account.*suspend`, `account.*close`, `account.*terminat`,
					`password.*expir`, `login.*fail`, `payment.*declin`,
					`card.*expir`, `security.*breach`, `unauthorized.*access`,
					`click.*link`, `don.*t.*delay`, `act.*now`, `immediate.*action`,
				),
				weight:   1.0,
				severity: "high",
			},
		},
		safe: []phishingIndicator{
			{
				name:     "personal_names",
				patterns: compileAll(`my name is`, `i am`, `hello.*my name`, `hi.*i am`),
				weight:   -0.5,
			},
			{
				name:     "normal_greetings",
				patterns: compileAll(`hello`, `hi`, `good morning`, `good afternoon`, `good evening`),
				weight:   -0.3,
			},
			{
				name:     "normal_content",
				patterns: compileAll(`technical`, `programming`, `code`, `development`, `project`, `engineer`, `software`),
				weight:   -0.4,
			},
		},
		Threshold: 0.25,
	}
}

func compileAll(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(`(?i)` + e)
	}
	return out
}

// Name returns the scanner name.
func (s *PhishingScanner) Name() string {
	return "phishing"
}

// Assess scores the input. The input is flagged when the clamped score
// exceeds the Threshold.
func (s *PhishingScanner) Assess(input string) Assessment {
	lower := strings.ToLower(input)
	score := 0.0
	var findings []Finding
	var indicators []string

	for _, group := range s.indicators {
		step := group.weight / float64(group.size())
		hits := 0
		for _, kw := range group.keywords {
			if strings.Contains(lower, kw) {
				hits++
				indicators = append(indicators, fmt.Sprintf("%s: %q", group.name, kw))
			}
		}
		for _, re := range group.patterns {
			if re.MatchString(lower) {
				hits++
				indicators = append(indicators, fmt.Sprintf("%s: %s", group.name, re.String()))
			}
		}
		if hits == 0 {
			continue
		}
		score += step * float64(hits)
		findings = append(findings, Finding{
			Type:       group.name,
			Category:   "phishing",
			Severity:   group.severity,
			Confidence: min(step*float64(hits)/group.weight, 1),
			Message:    phishingMessage(group.name, hits),
		})
	}

	benign := 0.0
	for _, group := range s.safe {
		step := group.weight / float64(group.size())
		for _, re := range group.patterns {
			if re.MatchString(lower) {
				benign += step
			}
		}
	}
	score = clampScore(score + benign)

	positive := score > s.Threshold
	label := "Safe"
	if positive {
		label = "Phishing"
	}
	return Assessment{
		Label:    label,
		Positive: positive,
		Score:    score,
		Findings: findings,
		Detail: map[string]any{
			"indicators_found": indicators,
			"benign_offset":    benign,
		},
	}
}

func phishingMessage(group string, hits int) string {
	switch group {
	case "urgent_keywords":
		return fmt.Sprintf("Urgency or credential language (%d keywords)", hits)
	case "suspicious_urls":
		return fmt.Sprintf("Suspicious link (%d patterns)", hits)
	case "suspicious_tlds":
		return "Link to a commonly abused top-level domain"
	case "suspicious_content":
		return fmt.Sprintf("Account or payment pressure tactics (%d phrases)", hits)
	default:
		return group
	}
}
