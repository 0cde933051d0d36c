package scanners

import (
	"fmt"
	"regexp"
)

// InjectionScanner detects script, SQL and shell injection payloads and
// encoding tricks used to hide them.
type InjectionScanner struct {
	categories []injectionCategory
	Threshold  float64
}

type injectionCategory struct {
	name     string
	message  string
	patterns []*regexp.Regexp
	weight   float64
	severity string
}

// NewInjectionScanner creates a scanner with the default categories.
func NewInjectionScanner() *InjectionScanner {
	return &InjectionScanner{
		categories: []injectionCategory{
			{
				name:    "xss",
				message: "Cross-site scripting payload",
				patterns: compileAll(
					`<script[^>]*>.*?</script>`,
					`javascript:`,
					`on\w+\s*=`,
					`<iframe[^>]*>.*?</iframe>`,
					`<object[^>]*>.*?</object>`,
					`<embed[^>]*>.*?</embed>`,
					`<form[^>]*>.*?</form>`,
					`<input[^>]*>`,
					`<img[^>]*>`,
					`alert\s*\(`,
					`prompt\s*\(`,
					`confirm\s*\(`,
					`eval\s*\(`,
					`document\.`,
					`window\.`,
					`location\.`,
					`innerHTML\s*=`,
					`outerHTML\s*=`,
				),
				weight:   1.0,
				severity: "high",
			},
			{
				name:    "sql_injection",
				message: "SQL injection pattern",
				patterns: compileAll(
					`\b(SELECT|INSERT|UPDATE|DELETE|DROP|CREATE|ALTER)\b`,
					`\b(OR|AND)\s+['"]?\s*\d+\s*=\s*\d+`,
					`--\s`,
					`/\*.*?\*/`,
					`\bUNION\s+SELECT\b`,
					`\bEXEC\s*\(`,
					`\bEXECUTE\s*\(`,
					`\bSP_\w+\s*\(`,
					`xp_cmdshell`,
					`OPENROWSET`,
					`OPENDATASOURCE`,
					`1=1`,
					`1=2`,
					`'\s*OR\s*'\d+'='\d+`,
				),
				weight:   1.0,
				severity: "critical",
			},
			{
				name:    "command_injection",
				message: "Shell command injection pattern",
				patterns: compileAll(
					`\$\([^)]+\)`,
					"`[^`]+`",
					`;\s*(ls|cat|rm|cp|mv|wget|curl|ping)`,
					`\|\s*(ls|cat|rm|cp|mv|wget|curl|ping)`,
					`&&\s*(ls|cat|rm|cp|mv|wget|curl|ping)`,
					`\bsudo\b`,
					`\bsu\b`,
					`\bchmod\b`,
					`\bchown\b`,
					`\bpasswd\b`,
					`\bssh\b`,
					`\btelnet\b`,
					`\bnc\b`,
					`\bnetcat\b`,
					`rm\s+-rf`,
					`format\s+[A-Za-z]:`,
				),
				weight:   1.0,
				severity: "critical",
			},
			{
				name:    "shell_payload",
				message: "Destructive or remote-execution shell payload",
				patterns: compileAll(
					`(curl|wget|fetch)[^|\n]*\|\s*(/bin/|/usr/bin/)?(sh|bash|zsh|ksh|dash)\b`,
					`eval\s*["']?\$\((curl|wget|fetch)[^)]*\)`,
					`(source|\.) <\((curl|wget|fetch)[^)]*\)`,
					`(bash|sh|zsh)\s+-i\s+[>&]+\s*/dev/tcp/`,
					`(nc|netcat|ncat)\s+(-[a-z]*e\s|-[a-z]*l)`,
					`base64\s+(-d|--decode)[^|\n]*\|\s*(sh|bash|python|perl|ruby)`,
					`rm\s+-[a-z]*(rf|fr)[a-z]*\s+(/|~|\$HOME)(\s|$)`,
					`dd\s+.*of=/dev/(sd[a-z]|hd[a-z]|nvme[0-9]|vd[a-z])`,
					`mkfs(\.[a-z0-9]+)?\s+/dev/`,
					`:\(\)\s*\{\s*:\|:&\s*\};:`,
					`(cat|less|more|head|tail)\s+[^\n]*(/etc/shadow|\.ssh/id_)`,
				),
				weight:   1.0,
				severity: "critical",
			},
			{
				name:    "encoding_obfuscation",
				message: "Encoded or obfuscated content",
				patterns: compileAll(
					`%[0-9A-Fa-f]{2}`,
					`&#x[0-9A-Fa-f]+;`,
					`&#\d+;`,
					`\\u[0-9A-Fa-f]{4}`,
					`\\x[0-9A-Fa-f]{2}`,
					`base64`,
					`rot13`,
					`encoded`,
					`obfuscat`,
				),
				weight:   0.7,
				severity: "medium",
			},
		},
		Threshold: 0.1,
	}
}

// Name returns the scanner name.
func (s *InjectionScanner) Name() string {
	return "code_injection"
}

// Assess scores the input. Each pattern adds weight×occurrences/len(patterns)
// to its category, and each category is capped at its weight.
func (s *InjectionScanner) Assess(input string) Assessment {
	score := 0.0
	var findings []Finding
	var matched []string
	var severities []string

	for _, cat := range s.categories {
		catScore := 0.0
		hits := 0
		var first *Location
		for _, re := range cat.patterns {
			locs := re.FindAllStringIndex(input, -1)
			if len(locs) == 0 {
				continue
			}
			hits += len(locs)
			catScore += cat.weight * float64(len(locs)) / float64(len(cat.patterns))
			matched = append(matched, fmt.Sprintf("%s (%d times)", re.String(), len(locs)))
			if first == nil || locs[0][0] < first.Start {
				first = &Location{Start: locs[0][0], End: locs[0][1]}
			}
		}
		if catScore == 0 {
			continue
		}
		catScore = min(catScore, cat.weight)
		score += catScore
		severities = append(severities, cat.severity)
		findings = append(findings, Finding{
			Type:       cat.name,
			Category:   "code_injection",
			Severity:   cat.severity,
			Confidence: catScore / cat.weight,
			Message:    fmt.Sprintf("%s (%d matches)", cat.message, hits),
			Location:   first,
		})
	}
	score = clampScore(score)

	severity, types := injectionSeverity(severities, score)
	positive := score > s.Threshold
	label := "Safe"
	if positive {
		label = "Injection"
	}
	return Assessment{
		Label:    label,
		Positive: positive,
		Score:    score,
		Tier:     severity,
		Findings: findings,
		Detail: map[string]any{
			"patterns_found":  matched,
			"severity":        severity,
			"injection_types": types,
		},
	}
}

// injectionSeverity is the most severe category hit; a high score with
// only medium categories still rates medium.
func injectionSeverity(severities []string, score float64) (string, []string) {
	has := func(want string) bool {
		for _, s := range severities {
			if s == want {
				return true
			}
		}
		return false
	}
	switch {
	case has("critical"):
		return "critical", []string{"Command Injection", "SQL Injection"}
	case has("high"):
		return "high", []string{"XSS", "SQL Injection"}
	case score > 0.5:
		return "medium", []string{"Potential Code Injection"}
	default:
		return "low", []string{}
	}
}
