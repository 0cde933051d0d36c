package scanners

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	syscallCall  = regexp.MustCompile(`\b([a-z_][a-z0-9_]*)\s*\(`)
	syscallToken = regexp.MustCompile(`[a-z_][a-z0-9_]*`)
)

var knownSyscalls = toSet(
	"read", "write", "open", "openat", "close", "stat", "fstat", "lstat", "poll",
	"lseek", "mmap", "mprotect", "munmap", "brk", "ioctl", "pread64", "pwrite64",
	"access", "pipe", "pipe2", "select", "dup", "dup2", "dup3", "socket", "connect",
	"accept", "accept4", "sendto", "recvfrom", "sendmsg", "recvmsg", "bind", "listen",
	"clone", "fork", "vfork", "execve", "execveat", "exit", "exit_group", "wait4", "kill",
	"uname", "fcntl", "getdents64", "chdir", "rename", "renameat", "mkdir", "rmdir",
	"unlink", "unlinkat", "chmod", "fchmod", "chown", "ptrace", "getuid", "setuid",
	"setgid", "setreuid", "setresuid", "setresgid", "prctl", "memfd_create",
	"process_vm_writev", "process_vm_readv", "init_module", "finit_module", "kexec_load",
	"nanosleep", "futex", "getpid", "gettid", "arch_prctl", "set_tid_address",
)

func toSet(names ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(names))
	for _, n := range names {
		out[n] = struct{}{}
	}
	return out
}

// behaviorRule matches an ordered subsequence of calls within a window.
type behaviorRule struct {
	name       string
	sequence   [][]string // each step accepts any of its names
	window     int
	severity   string
	confidence float64
	message    string
}

// BehaviorScanner analyzes system-call traces, either strace-style lines
// ("connect(3, ...) = 0") or plain lists of call names.
type BehaviorScanner struct {
	rules    []behaviorRule
	MinCalls int
}

// NewBehaviorScanner creates a scanner with the default rule set.
func NewBehaviorScanner() *BehaviorScanner {
	return &BehaviorScanner{
		MinCalls: 3,
		rules: []behaviorRule{
			{
				name:       "reverse_shell",
				sequence:   [][]string{{"socket"}, {"connect"}, {"dup2", "dup3"}, {"execve", "execveat"}},
				window:     16,
				severity:   "critical",
				confidence: 0.95,
				message:    "Reverse shell: socket connected and duplicated onto stdio before exec",
			},
			{
				name:       "fileless_exec",
				sequence:   [][]string{{"memfd_create"}, {"write"}, {"execve", "execveat"}},
				window:     16,
				severity:   "high",
				confidence: 0.85,
				message:    "Fileless execution from an anonymous memory file",
			},
			{
				name:       "process_injection",
				sequence:   [][]string{{"ptrace"}, {"process_vm_writev", "ptrace", "mprotect"}},
				window:     12,
				severity:   "high",
				confidence: 0.85,
				message:    "Process injection via ptrace",
			},
			{
				name:       "privilege_escalation",
				sequence:   [][]string{{"setuid", "setreuid", "setresuid"}, {"execve", "execveat"}},
				window:     8,
				severity:   "high",
				confidence: 0.8,
				message:    "Privilege change followed by exec",
			},
			{
				name:       "kernel_module",
				sequence:   [][]string{{"init_module", "finit_module", "kexec_load"}},
				window:     1,
				severity:   "high",
				confidence: 0.8,
				message:    "Kernel module or image load",
			},
		},
	}
}

// Name returns the scanner name.
func (s *BehaviorScanner) Name() string {
	return "dynamic_behavior"
}

// ParseSyscalls extracts known syscall names in order. Call syntax is
// preferred; a bare list is accepted only when nearly every token is a
// syscall, so prose is not mistaken for a trace.
func ParseSyscalls(input string) []string {
	var calls []string
	for _, m := range syscallCall.FindAllStringSubmatch(input, -1) {
		if _, ok := knownSyscalls[m[1]]; ok {
			calls = append(calls, m[1])
		}
	}
	if len(calls) > 0 {
		return calls
	}

	tokens := syscallToken.FindAllString(strings.ToLower(input), -1)
	for _, t := range tokens {
		if _, ok := knownSyscalls[t]; ok {
			calls = append(calls, t)
		}
	}
	if len(tokens) == 0 || float64(len(calls)) < 0.8*float64(len(tokens)) {
		return nil
	}
	return calls
}

// Assess matches the trace against the rules and checks for writable and
// executable memory mappings.
func (s *BehaviorScanner) Assess(input string) Assessment {
	calls := ParseSyscalls(input)
	detail := map[string]any{"calls": len(calls)}
	if len(calls) < s.MinCalls {
		return Assessment{Label: "No trace", Detail: detail}
	}

	var findings []Finding
	for _, rule := range s.rules {
		if at, ok := matchSequence(calls, rule.sequence, rule.window); ok {
			findings = append(findings, Finding{
				Type:       rule.name,
				Category:   "behavior",
				Severity:   rule.severity,
				Confidence: rule.confidence,
				Message:    fmt.Sprintf("%s (at call %d)", rule.message, at+1),
			})
		}
	}

	for _, line := range strings.Split(input, "\n") {
		if (strings.Contains(line, "mprotect(") || strings.Contains(line, "mmap(")) &&
			strings.Contains(line, "PROT_WRITE") && strings.Contains(line, "PROT_EXEC") {
			findings = append(findings, Finding{
				Type:       "rwx_memory",
				Category:   "behavior",
				Severity:   "high",
				Confidence: 0.8,
				Message:    "Memory mapped writable and executable",
			})
			break
		}
	}

	if len(findings) == 0 {
		return Assessment{Label: "Normal Behavior", Findings: findings, Detail: detail}
	}
	return Assessment{
		Label:    "Attack Behavior Detected",
		Positive: true,
		Score:    MaxConfidence(findings),
		Tier:     MaxSeverity(findings),
		Findings: findings,
		Detail:   detail,
	}
}

// matchSequence finds the steps in order with the whole match spanning at
// most window calls. It returns the index of the first step.
func matchSequence(calls []string, steps [][]string, window int) (int, bool) {
	for start := range calls {
		if !oneOf(calls[start], steps[0]) {
			continue
		}
		step := 1
		for i := start + 1; i < len(calls) && i-start < window && step < len(steps); i++ {
			if oneOf(calls[i], steps[step]) {
				step++
			}
		}
		if step == len(steps) {
			return start, true
		}
	}
	return 0, false
}

func oneOf(name string, options []string) bool {
	for _, o := range options {
		if name == o {
			return true
		}
	}
	return false
}
