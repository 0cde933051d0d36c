package scanners

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/brad07/threatscope/pkg/redact"
)

// Sensitive data categories.
const (
	CategoryPII       = "pii"
	CategoryFinancial = "financial"
	CategorySecrets   = "secrets"
)

// SensitiveScanner classifies text by the personal, financial and secret
// values it contains.
type SensitiveScanner struct {
	patterns         []sensitivePattern
	negativeKeywords []string
	ContextWindow    int
}

type sensitivePattern struct {
	name     string
	category string
	regex    *regexp.Regexp
	severity string
	message  string

	// priority resolves overlapping matches; lower wins.
	priority int

	// contextual patterns are dropped when a negative keyword precedes them.
	contextual bool

	validator func(string) bool
	mask      func(string) string
}

// NewSensitiveScanner creates a scanner with the default patterns.
func NewSensitiveScanner() *SensitiveScanner {
	return &SensitiveScanner{
		patterns: defaultSensitivePatterns(),
		negativeKeywords: []string{
			"order id", "tracking number", "invoice #", "reference no",
			"product id", "user id", "serial number",
		},
		ContextWindow: 30,
	}
}

func keepLast4(s string) string { return redact.MaskValue(s, 4) }
func maskAll(string) string     { return "[redacted]" }

func defaultSensitivePatterns() []sensitivePattern {
	return []sensitivePattern{
		// Financial
		{
			name:      "credit_card_visa",
			category:  CategoryFinancial,
			regex:     regexp.MustCompile(`\b4\d{3}[\s-]?\d{4}[\s-]?\d{4}[\s-]?\d{4}\b`),
			severity:  "high",
			message:   "Visa card number detected",
			priority:  1,
			validator: isValidCreditCard,
			mask:      keepLast4,
		},
		{
			name:      "credit_card_mastercard",
			category:  CategoryFinancial,
			regex:     regexp.MustCompile(`\b5[1-5]\d{2}[\s-]?\d{4}[\s-]?\d{4}[\s-]?\d{4}\b`),
			severity:  "high",
			message:   "Mastercard number detected",
			priority:  1,
			validator: isValidCreditCard,
			mask:      keepLast4,
		},
		{
			name:      "credit_card_amex",
			category:  CategoryFinancial,
			regex:     regexp.MustCompile(`\b3[47]\d{2}[\s-]?\d{6}[\s-]?\d{5}\b`),
			severity:  "high",
			message:   "American Express card number detected",
			priority:  1,
			validator: isValidCreditCard,
			mask:      keepLast4,
		},
		{
			name:       "credit_card_generic",
			category:   CategoryFinancial,
			regex:      regexp.MustCompile(`\b\d{4}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`),
			severity:   "high",
			message:    "Credit card number detected",
			priority:   3,
			contextual: true,
			validator:  isValidCreditCard,
			mask:       keepLast4,
		},
		{
			name:       "bank_account",
			category:   CategoryFinancial,
			regex:      regexp.MustCompile(`\b\d{8,17}\b`),
			severity:   "medium",
			message:    "Possible bank account number detected",
			priority:   6,
			contextual: true,
			mask:       keepLast4,
		},

		// PII
		{
			name:      "ssn",
			category:  CategoryPII,
			regex:     regexp.MustCompile(`\b\d{3}-?\d{2}-?\d{4}\b`),
			severity:  "high",
			message:   "Social Security Number detected",
			priority:  2,
			validator: isValidSSN,
			mask:      keepLast4,
		},
		{
			name:      "email",
			category:  CategoryPII,
			regex:     regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
			severity:  "low",
			message:   "Email address detected",
			priority:  4,
			mask:      redact.MaskEmail,
		},
		{
			name:       "phone",
			category:   CategoryPII,
			regex:      regexp.MustCompile(`(?:\+?1[-.\s]?)?\(?\b[0-9]{3}\)?[-.\s]?[0-9]{3}[-.\s]?[0-9]{4}\b`),
			severity:   "low",
			message:    "Phone number detected",
			priority:   4,
			contextual: true,
			validator:  isValidUSPhone,
			mask:       keepLast4,
		},

		// Secrets
		{
			name:     "api_key",
			category: CategorySecrets,
			regex:    regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{20,}`),
			severity: "critical",
			message:  "API key detected",
			priority: 4,
			mask:     maskAll,
		},
		{
			name:      "api_key",
			category:  CategorySecrets,
			regex:     regexp.MustCompile(`\b[A-Za-z0-9]{32}\b`),
			severity:  "medium",
			message:   "Possible API key detected",
			priority:  4,
			validator: func(s string) bool { return !isLikelyNotSecret(s) && calculateEntropy(s) > 3.5 },
			mask:      maskAll,
		},
		{
			name:     "aws_access_key",
			category: CategorySecrets,
			regex:    regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`),
			severity: "critical",
			message:  "AWS Access Key ID detected",
			priority: 4,
			mask:     maskAll,
		},
		{
			name:     "github_token",
			category: CategorySecrets,
			regex:    regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{36}\b`),
			severity: "critical",
			message:  "GitHub token detected",
			priority: 4,
			mask:     maskAll,
		},
		{
			name:     "slack_token",
			category: CategorySecrets,
			regex:    regexp.MustCompile(`\bxox[baprs]-[0-9]{10,13}-[0-9]{10,13}[A-Za-z0-9-]*\b`),
			severity: "high",
			message:  "Slack token detected",
			priority: 4,
			mask:     maskAll,
		},
		{
			name:     "private_key",
			category: CategorySecrets,
			regex:    regexp.MustCompile(`-----BEGIN (?:[A-Z]+ )?PRIVATE KEY(?: BLOCK)?-----`),
			severity: "critical",
			message:  "Private key detected",
			priority: 4,
			mask:     maskAll,
		},
		{
			name:     "connection_string",
			category: CategorySecrets,
			regex:    regexp.MustCompile(`\b(?:postgres(?:ql)?|mysql|mongodb(?:\+srv)?|redis)://[^\s:/@]+:[^\s@/]+@[^\s/]+`),
			severity: "critical",
			message:  "Database connection string with credentials detected",
			priority: 4,
			mask:     maskAll,
		},
		{
			name:     "password",
			category: CategorySecrets,
			regex:    regexp.MustCompile(`(?i)password\s*[=:]\s*['"][^'"]+['"]`),
			severity: "high",
			message:  "Password assignment detected",
			priority: 4,
			mask:     maskAll,
		},
	}
}

// Name returns the scanner name.
func (s *SensitiveScanner) Name() string {
	return "sensitive_data"
}

type sensitiveMatch struct {
	pattern *sensitivePattern
	value   string
	start   int
	end     int
}

// Scan returns de-duplicated findings ordered by position.
func (s *SensitiveScanner) Scan(input string) []Finding {
	matches := s.dedupe(s.matches(input))

	findings := make([]Finding, 0, len(matches))
	for _, m := range matches {
		findings = append(findings, Finding{
			Type:       m.pattern.name,
			Category:   m.pattern.category,
			Severity:   m.pattern.severity,
			Confidence: 1,
			Message:    fmt.Sprintf("%s (%s)", m.pattern.message, m.pattern.mask(m.value)),
			Location:   &Location{Start: m.start, End: m.end},
		})
	}
	sortByLocation(findings)
	return findings
}

// Assess classifies the input as PII, Financial, Secrets or Safe. Each
// category's confidence grows with the number of distinct matches; the
// strongest category wins and its confidence picks the tier.
func (s *SensitiveScanner) Assess(input string) Assessment {
	findings := s.Scan(input)

	counts := map[string]int{}
	types := map[string]struct{}{}
	for _, f := range findings {
		counts[f.Category]++
		t := f.Type
		if strings.HasPrefix(t, "credit_card") {
			t = "credit_card"
		}
		types[t] = struct{}{}
	}

	confidences := []struct {
		label string
		value float64
	}{
		{"PII", min(float64(counts[CategoryPII])*0.3, 1)},
		{"Financial", min(float64(counts[CategoryFinancial])*0.4, 1)},
		{"Secrets", min(float64(counts[CategorySecrets])*0.5, 1)},
	}

	best := confidences[0]
	for _, c := range confidences[1:] {
		if c.value > best.value {
			best = c
		}
	}

	detail := map[string]any{
		"pii_confidence":       confidences[0].value,
		"financial_confidence": confidences[1].value,
		"secrets_confidence":   confidences[2].value,
		"summary":              summarizeTypes(types),
	}

	if best.value < 0.2 {
		detail["classification"] = "Safe"
		return Assessment{Label: "Safe", Score: 1 - best.value, Findings: findings, Detail: detail}
	}

	detail["classification"] = best.label
	return Assessment{
		Label:    best.label,
		Positive: true,
		Score:    best.value,
		Tier:     sensitiveTier(best.value),
		Findings: findings,
		Detail:   detail,
	}
}

func sensitiveTier(confidence float64) string {
	switch {
	case confidence >= 0.8:
		return "High"
	case confidence >= 0.5:
		return "Medium"
	default:
		return "Low"
	}
}

func (s *SensitiveScanner) matches(input string) []sensitiveMatch {
	var out []sensitiveMatch
	for i := range s.patterns {
		p := &s.patterns[i]
		for _, loc := range p.regex.FindAllStringIndex(input, -1) {
			value := input[loc[0]:loc[1]]
			if p.validator != nil && !p.validator(value) {
				continue
			}
			if p.contextual && s.negativeContext(input, loc[0]) {
				continue
			}
			out = append(out, sensitiveMatch{pattern: p, value: value, start: loc[0], end: loc[1]})
		}
	}
	return out
}

func (s *SensitiveScanner) negativeContext(input string, start int) bool {
	from := start - s.ContextWindow
	if from < 0 {
		from = 0
	}
	context := strings.ToLower(input[from:start])
	for _, kw := range s.negativeKeywords {
		if strings.Contains(context, kw) {
			return true
		}
	}
	return false
}

// dedupe keeps the highest priority match for any overlapping span, longer
// spans first within a priority.
func (s *SensitiveScanner) dedupe(matches []sensitiveMatch) []sensitiveMatch {
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.pattern.priority != b.pattern.priority {
			return a.pattern.priority < b.pattern.priority
		}
		return a.end-a.start > b.end-b.start
	})

	var kept []sensitiveMatch
	for _, m := range matches {
		covered := false
		for _, k := range kept {
			if m.start < k.end && m.end > k.start {
				covered = true
				break
			}
		}
		if !covered {
			kept = append(kept, m)
		}
	}
	return kept
}

func summarizeTypes(types map[string]struct{}) string {
	if len(types) == 0 {
		return "No sensitive data detected"
	}
	names := make([]string, 0, len(types))
	for t := range types {
		names = append(names, t)
	}
	sort.Strings(names)
	return "Detected: " + strings.Join(names, ", ")
}
