package scanners

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConnections(t *testing.T) {
	conns := ParseConnections("10.0.0.1:5000 -> 10.0.0.2:443\nnot a connection\n10.0.0.1 -> 8.8.8.8:53\n1.1.1.1 -> 2.2.2.2:70000")
	require.Len(t, conns, 2)
	assert.Equal(t, Connection{Src: "10.0.0.1", Dst: "10.0.0.2", Port: 443}, conns[0])
	assert.Equal(t, 53, conns[1].Port)
}

func TestNetworkScanner_PortScan(t *testing.T) {
	s := NewNetworkScanner()
	var b strings.Builder
	for port := 20; port < 35; port++ {
		fmt.Fprintf(&b, "10.0.0.5 -> 10.0.0.9:%d\n", port)
	}

	a := s.Assess(b.String())
	require.True(t, a.Positive)
	assert.Equal(t, "Anomaly", a.Label)
	require.Len(t, a.Findings, 2) // port 23 is also a known-bad port
	assert.Equal(t, []string{"bad_port", "port_scan"}, findingTypes(a.Findings))
	assert.InDelta(t, 0.85, a.Score, 1e-9)
}

func TestNetworkScanner_BadPort(t *testing.T) {
	s := NewNetworkScanner()

	external := s.Assess("192.168.1.10:51515 -> 203.0.113.7:4444")
	require.True(t, external.Positive)
	assert.Equal(t, "high", external.Findings[0].Severity)
	assert.InDelta(t, 0.8, external.Score, 1e-9)

	internal := s.Assess("192.168.1.10 -> 192.168.1.20:4444\n192.168.1.10 -> 192.168.1.20:4444")
	require.True(t, internal.Positive)
	require.Len(t, internal.Findings, 1)
	assert.Equal(t, "medium", internal.Findings[0].Severity)
}

func TestNetworkScanner_Flood(t *testing.T) {
	s := NewNetworkScanner()
	s.FloodThreshold = 5
	log := strings.Repeat("10.0.0.3 -> 10.0.0.4:80\n", 6)

	a := s.Assess(log)
	require.True(t, a.Positive)
	assert.Equal(t, []string{"flood"}, findingTypes(a.Findings))
}

func TestNetworkScanner_Normal(t *testing.T) {
	s := NewNetworkScanner()

	a := s.Assess("10.0.0.1 -> 10.0.0.2:443\n10.0.0.1 -> 10.0.0.2:80")
	assert.False(t, a.Positive)
	assert.Equal(t, "Normal", a.Label)

	a = s.Assess("Hello, nice weather today")
	assert.False(t, a.Positive)
	assert.Equal(t, "No traffic", a.Label)
	assert.Equal(t, 0, a.Detail["connections"])
}
