// Package redact masks sensitive values before they leave the process in
// findings, alert records or logs.
package redact

import (
	"regexp"
	"sort"
	"strings"
	"sync"
	"unicode"
)

// Categories.
const (
	CategorySecrets = "secrets"
	CategoryPII     = "pii"
)

// Pattern represents a redaction pattern.
type Pattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
	Category    string
}

// Result represents the result of a redaction operation.
type Result struct {
	Original     string
	Redacted     string
	Replacements []Replacement
	HasChanges   bool
}

// Replacement represents a single redaction replacement.
type Replacement struct {
	Original    string
	Replacement string
	Category    string
	PatternName string
	Start       int
	End         int
}

// Redactor applies patterns in registration order so output is stable.
type Redactor struct {
	mu       sync.RWMutex
	patterns []*Pattern
}

// NewRedactor creates a Redactor with the default patterns.
func NewRedactor() *Redactor {
	r := &Redactor{}
	r.registerDefaultPatterns()
	return r
}

func (r *Redactor) registerDefaultPatterns() {
	// Secrets first: they can contain digit runs the PII patterns would split.
	r.AddPattern("private_key", `-----BEGIN (?:RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----[\s\S]*?-----END (?:RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----`, "[PRIVATE_KEY_REDACTED]", CategorySecrets)
	r.AddPattern("jwt_token", `eyJ[a-zA-Z0-9_-]+\.eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`, "[JWT_REDACTED]", CategorySecrets)
	r.AddPattern("aws_access_key", `AKIA[0-9A-Z]{16}`, "[AWS_KEY_REDACTED]", CategorySecrets)
	r.AddPattern("github_token", `gh[pousr]_[A-Za-z0-9_]{36,}`, "[GITHUB_TOKEN_REDACTED]", CategorySecrets)
	r.AddPattern("api_key", `sk-[a-zA-Z0-9\-]{20,}`, "[API_KEY_REDACTED]", CategorySecrets)
	r.AddPattern("generic_api_key", `(?i)(api[_-]?key|apikey|api[_-]?secret)['\"]?\s*[:=]\s*['\"]?[a-zA-Z0-9\-_]{16,}['\"]?`, "[API_KEY_REDACTED]", CategorySecrets)
	r.AddPattern("bearer_token", `(?i)bearer\s+[a-zA-Z0-9\-_\.]{8,}`, "[BEARER_TOKEN_REDACTED]", CategorySecrets)
	r.AddPattern("password_field", `(?i)(password|passwd|pwd)['\"]?\s*[:=]\s*['\"]?[^\s'"]{4,}['\"]?`, "[PASSWORD_REDACTED]", CategorySecrets)
	r.AddPattern("connection_string", `(?i)\b(?:postgres(?:ql)?|mysql|mongodb(?:\+srv)?|redis|amqp)://[^\s:@/]+:[^\s@/]+@[^\s]+`, "[CONNECTION_STRING_REDACTED]", CategorySecrets)

	r.AddPattern("ssn", `\b\d{3}-\d{2}-\d{4}\b`, "[SSN_REDACTED]", CategoryPII)
	r.AddPattern("credit_card", `\b(?:\d{4}[-\s]?){3}\d{1,4}\b`, "[CREDIT_CARD_REDACTED]", CategoryPII)
	r.AddPattern("email", `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`, "[EMAIL_REDACTED]", CategoryPII)
	r.AddPattern("phone_us", `(?:\+1[-.\s]?)?\(?\b\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`, "[PHONE_REDACTED]", CategoryPII)
}

// AddPattern adds a pattern, replacing any existing pattern with the same name.
func (r *Redactor) AddPattern(name, pattern, replacement, category string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	p := &Pattern{Name: name, Regex: re, Replacement: replacement, Category: category}

	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.patterns {
		if existing.Name == name {
			r.patterns[i] = p
			return nil
		}
	}
	r.patterns = append(r.patterns, p)
	return nil
}

// ApplyCategory redacts only patterns in the category. An empty category
// applies every pattern.
func (r *Redactor) ApplyCategory(content, category string) *Result {
	return r.apply(content, category)
}

// Redact returns content with every pattern replaced.
func (r *Redactor) Redact(content string) string {
	return r.apply(content, "").Redacted
}

// Contains reports whether content matches any pattern in the category.
// An empty category matches all patterns.
func (r *Redactor) Contains(content, category string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.patterns {
		if (category == "" || p.Category == category) && p.Regex.MatchString(content) {
			return true
		}
	}
	return false
}

func (r *Redactor) apply(content, category string) *Result {
	result := &Result{
		Original:     content,
		Redacted:     content,
		Replacements: []Replacement{},
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.patterns {
		if category != "" && p.Category != category {
			continue
		}
		matches := p.Regex.FindAllStringIndex(result.Redacted, -1)
		if len(matches) == 0 {
			continue
		}

		// Process matches in reverse order to preserve indices.
		for i := len(matches) - 1; i >= 0; i-- {
			m := matches[i]
			result.Replacements = append(result.Replacements, Replacement{
				Original:    result.Redacted[m[0]:m[1]],
				Replacement: p.Replacement,
				Category:    p.Category,
				PatternName: p.Name,
				Start:       m[0],
				End:         m[1],
			})
			result.Redacted = result.Redacted[:m[0]] + p.Replacement + result.Redacted[m[1]:]
			result.HasChanges = true
		}
	}

	sort.SliceStable(result.Replacements, func(i, j int) bool {
		return result.Replacements[i].Start < result.Replacements[j].Start
	})
	return result
}

// MaskValue hides all letters and digits of v except the last keep,
// preserving separators: MaskValue("123-45-6789", 4) is "***-**-6789".
func MaskValue(v string, keep int) string {
	runes := []rune(v)
	visible := 0
	for i := len(runes) - 1; i >= 0; i-- {
		if !unicode.IsLetter(runes[i]) && !unicode.IsDigit(runes[i]) {
			continue
		}
		if visible < keep {
			visible++
			continue
		}
		runes[i] = '*'
	}
	return string(runes)
}

// MaskEmail keeps the first character of the local part and the domain.
func MaskEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" {
		return MaskValue(email, 0)
	}
	return local[:1] + strings.Repeat("*", len(local)-1) + "@" + domain
}
