package scanners

import (
	"bytes"
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const eicarMarker = "EICAR-STANDARD-ANTIVIRUS-TEST-FILE"

var executableMagic = []struct {
	magic []byte
	name  string
}{
	{[]byte("MZ"), "PE"},
	{[]byte{0x7f, 'E', 'L', 'F'}, "ELF"},
	{[]byte{0xfe, 0xed, 0xfa, 0xce}, "Mach-O"},
	{[]byte{0xfe, 0xed, 0xfa, 0xcf}, "Mach-O"},
	{[]byte{0xce, 0xfa, 0xed, 0xfe}, "Mach-O"},
	{[]byte{0xcf, 0xfa, 0xed, 0xfe}, "Mach-O"},
}

var riskyExtensions = map[string]string{
	".exe": "high", ".bat": "high", ".cmd": "high", ".scr": "high", ".pif": "high",
	".com": "medium", ".vbs": "medium", ".ps1": "medium", ".js": "medium",
	".jar": "medium", ".msi": "medium", ".dll": "medium", ".hta": "medium",
}

var decoyExtensions = map[string]bool{
	".pdf": true, ".doc": true, ".docx": true, ".xls": true, ".xlsx": true,
	".ppt": true, ".txt": true, ".jpg": true, ".jpeg": true, ".png": true,
	".gif": true, ".zip": true, ".csv": true,
}

var scriptMarkers = []string{
	"<script", "powershell", "wscript.shell", "/javascript", "/openaction",
	"autoopen", "document_open", "cmd.exe /c", "createobject(",
}

// FileThreatScanner performs static analysis of uploaded files.
type FileThreatScanner struct {
	// EntropyThreshold flags unidentified content at or above this many bits
	// per byte.
	EntropyThreshold float64

	// MinEntropySize is the smallest file the entropy rule applies to.
	MinEntropySize int

	// MaxInspect caps how many bytes are searched for markers.
	MaxInspect int
}

// NewFileThreatScanner creates a scanner with default limits.
func NewFileThreatScanner() *FileThreatScanner {
	return &FileThreatScanner{
		EntropyThreshold: 7.5,
		MinEntropySize:   1024,
		MaxInspect:       1 << 20,
	}
}

// Name returns the scanner name.
func (s *FileThreatScanner) Name() string {
	return "file_threat"
}

// AssessFile inspects content, name and declared type. Any finding makes
// the file positive; the score is the strongest finding's confidence and
// the tier its severity.
func (s *FileThreatScanner) AssessFile(data []byte, filename, contentType string) Assessment {
	sniffed := mimetype.Detect(data)
	ext := strings.ToLower(filepath.Ext(filename))
	head := data
	if len(head) > s.MaxInspect {
		head = head[:s.MaxInspect]
	}

	var findings []Finding
	add := func(typ, severity string, confidence float64, msg string) {
		findings = append(findings, Finding{
			Type:       typ,
			Category:   "file_threat",
			Severity:   severity,
			Confidence: confidence,
			Message:    msg,
		})
	}

	if bytes.Contains(head, []byte(eicarMarker)) {
		add("eicar", "critical", 1.0, "EICAR test signature")
	}

	execFormat := ""
	for _, m := range executableMagic {
		if bytes.HasPrefix(data, m.magic) {
			execFormat = m.name
			add("executable", "high", 0.85, fmt.Sprintf("%s executable content", m.name))
			break
		}
	}

	if sev, ok := riskyExtensions[ext]; ok {
		conf := 0.8
		if sev == "medium" {
			conf = 0.6
		}
		add("risky_extension", sev, conf, fmt.Sprintf("Suspicious file extension %s", ext))

		inner := strings.ToLower(filepath.Ext(strings.TrimSuffix(filename, filepath.Ext(filename))))
		if decoyExtensions[inner] {
			add("double_extension", "high", 0.9, fmt.Sprintf("Double extension %s%s", inner, ext))
		}
	}

	if declared := declaredType(contentType); declared != "" && !matchesDeclared(sniffed, declared) {
		if execFormat != "" {
			add("mime_mismatch", "high", 0.9, fmt.Sprintf("Executable content declared as %s", declared))
		} else {
			add("mime_mismatch", "medium", 0.5, fmt.Sprintf("Content is %s but declared as %s", sniffed.String(), declared))
		}
	}

	lower := bytes.ToLower(head)
	var markers []string
	for _, m := range scriptMarkers {
		if bytes.Contains(lower, []byte(m)) {
			markers = append(markers, m)
		}
	}
	if len(markers) > 0 {
		add("embedded_script", "medium", 0.6, fmt.Sprintf("Embedded script markers: %s", strings.Join(markers, ", ")))
	}

	entropy := byteEntropy(head)
	if len(data) >= s.MinEntropySize && entropy >= s.EntropyThreshold && sniffed.Is("application/octet-stream") {
		add("high_entropy", "medium", 0.55, fmt.Sprintf("Packed or encrypted content (entropy %.2f)", entropy))
	}

	detail := map[string]any{
		"sniffed_type": sniffed.String(),
		"extension":    ext,
		"size":         len(data),
		"entropy":      entropy,
	}

	if len(findings) == 0 {
		return Assessment{Label: "Clean", Findings: findings, Detail: detail}
	}

	tier := MaxSeverity(findings)
	label := "Suspicious"
	if tier == "critical" || tier == "high" {
		label = "Malicious"
	}
	return Assessment{
		Label:    label,
		Positive: true,
		Score:    MaxConfidence(findings),
		Tier:     tier,
		Findings: findings,
		Detail:   detail,
	}
}

func declaredType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil || mt == "application/octet-stream" {
		return ""
	}
	return mt
}

// matchesDeclared reports whether the sniffed type or one of its ancestors
// is the declared type. Any text type satisfies a text/* declaration.
func matchesDeclared(sniffed *mimetype.MIME, declared string) bool {
	for m := sniffed; m != nil; m = m.Parent() {
		if m.Is(declared) {
			return true
		}
		if strings.HasPrefix(declared, "text/") && m.Is("text/plain") {
			return true
		}
	}
	return false
}

// IsTextual reports whether data should be treated as text: a text MIME
// type (or a descendant of text/plain) with no NUL bytes.
func IsTextual(data []byte) bool {
	if bytes.IndexByte(data, 0) >= 0 {
		return false
	}
	for m := mimetype.Detect(data); m != nil; m = m.Parent() {
		if m.Is("text/plain") || strings.HasPrefix(m.String(), "text/") {
			return true
		}
	}
	return false
}
