package scanners

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var connectionLine = regexp.MustCompile(`(\d{1,3}(?:\.\d{1,3}){3})(?::\d{1,5})?\s*->\s*(\d{1,3}(?:\.\d{1,3}){3}):(\d{1,5})`)

// NetworkScanner analyzes connection logs of the form
// "src[:port] -> dst:port", one connection per line.
type NetworkScanner struct {
	// PortScanThreshold is the number of distinct ports one source may
	// probe on one destination before it counts as a scan.
	PortScanThreshold int

	// FloodThreshold is the number of connections from one source to one
	// destination port that counts as a flood.
	FloodThreshold int

	// BadPorts maps ports associated with backdoors and botnets to a label.
	BadPorts map[int]string

	// MinConnections is the smallest log the scanner will judge.
	MinConnections int
}

// NewNetworkScanner creates a scanner with default thresholds.
func NewNetworkScanner() *NetworkScanner {
	return &NetworkScanner{
		PortScanThreshold: 10,
		FloodThreshold:    100,
		MinConnections:    1,
		BadPorts: map[int]string{
			23:    "telnet",
			1337:  "backdoor",
			2323:  "telnet (IoT botnet)",
			4444:  "metasploit",
			5555:  "adb",
			6667:  "irc (botnet C2)",
			12345: "netbus",
			31337: "back orifice",
		},
	}
}

// Name returns the scanner name.
func (s *NetworkScanner) Name() string {
	return "network_traffic"
}

// Connection is one parsed log entry.
type Connection struct {
	Src  string
	Dst  string
	Port int
}

// ParseConnections extracts connections from a log; unparseable lines are
// skipped.
func ParseConnections(input string) []Connection {
	var out []Connection
	for _, line := range strings.Split(input, "\n") {
		m := connectionLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		port, err := strconv.Atoi(m[3])
		if err != nil || port < 1 || port > 65535 {
			continue
		}
		out = append(out, Connection{Src: m[1], Dst: m[2], Port: port})
	}
	return out
}

// Assess flags port scans, floods and traffic to known-bad ports. Text
// without connection entries is not judged.
func (s *NetworkScanner) Assess(input string) Assessment {
	conns := ParseConnections(input)
	detail := map[string]any{"connections": len(conns)}
	if len(conns) < s.MinConnections {
		return Assessment{Label: "No traffic", Detail: detail}
	}

	type pair struct{ src, dst string }
	type flow struct {
		src, dst string
		port     int
	}
	ports := map[pair]map[int]struct{}{}
	flows := map[flow]int{}
	badSeen := map[flow]struct{}{}
	var findings []Finding

	for _, c := range conns {
		p := pair{c.Src, c.Dst}
		if ports[p] == nil {
			ports[p] = map[int]struct{}{}
		}
		ports[p][c.Port] = struct{}{}
		flows[flow{c.Src, c.Dst, c.Port}]++

		label, bad := s.BadPorts[c.Port]
		f := flow{c.Src, c.Dst, c.Port}
		if _, dup := badSeen[f]; !bad || dup {
			continue
		}
		badSeen[f] = struct{}{}
		severity, conf := "medium", 0.6
		if isPublicIP(c.Dst) {
			severity, conf = "high", 0.8
		}
		findings = append(findings, Finding{
			Type:       "bad_port",
			Category:   "network",
			Severity:   severity,
			Confidence: conf,
			Message:    fmt.Sprintf("Connection %s -> %s:%d (%s)", c.Src, c.Dst, c.Port, label),
		})
	}

	for p, set := range ports {
		if len(set) < s.PortScanThreshold {
			continue
		}
		findings = append(findings, Finding{
			Type:       "port_scan",
			Category:   "network",
			Severity:   "high",
			Confidence: min(0.7+float64(len(set))/float64(10*s.PortScanThreshold), 0.95),
			Message:    fmt.Sprintf("Port scan from %s against %s (%d ports)", p.src, p.dst, len(set)),
		})
	}

	for f, n := range flows {
		if n < s.FloodThreshold {
			continue
		}
		findings = append(findings, Finding{
			Type:       "flood",
			Category:   "network",
			Severity:   "high",
			Confidence: 0.75,
			Message:    fmt.Sprintf("Connection flood from %s to %s:%d (%d connections)", f.src, f.dst, f.port, n),
		})
	}

	// map iteration above is unordered
	sort.SliceStable(findings, func(i, j int) bool {
		if findings[i].Type != findings[j].Type {
			return findings[i].Type < findings[j].Type
		}
		return findings[i].Message < findings[j].Message
	})

	detail["pairs"] = len(ports)
	if len(findings) == 0 {
		return Assessment{Label: "Normal", Findings: findings, Detail: detail}
	}
	return Assessment{
		Label:    "Anomaly",
		Positive: true,
		Score:    MaxConfidence(findings),
		Findings: findings,
		Detail:   detail,
	}
}
