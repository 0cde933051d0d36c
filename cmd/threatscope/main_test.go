package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brad07/threatscope/pkg/detector"
	"github.com/brad07/threatscope/pkg/risk"
)

var eicar = `X5O!P%@AP[4\PZX54(P^)7CC)7}$EICAR-STANDARD-ANTIVIRUS-TEST-FILE!$H+H*`

// run executes the root command against a config file in a temp dir.
func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	dir := t.TempDir()
	return runIn(t, dir, stdin, args...)
}

func runIn(t *testing.T, dir, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{
		"--config", filepath.Join(dir, "config.yaml"),
		"--project", dir,
		"--log-level", "error",
	}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, "threatscope "+version+"\n", out)
}

func TestInit(t *testing.T) {
	dir := t.TempDir()

	out, err := runIn(t, dir, "", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote default config")
	assert.FileExists(t, filepath.Join(dir, "config.yaml"))

	out, err = runIn(t, dir, "", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "already exists")
}

func TestScanText_JSON(t *testing.T) {
	out, err := run(t, "", "scan", "text", "-o", "json", "Hello,", "nice", "weather")
	require.NoError(t, err)

	var report risk.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, risk.LevelInfo, report.RiskLevel)
	assert.NotEmpty(t, report.RequestID)
	assert.Empty(t, report.AlertsCreated)
}

func TestScanText_Stdin(t *testing.T) {
	out, err := run(t, "Contact me at john@example.com, SSN 123-45-6789", "scan", "text", "-")
	require.NoError(t, err)
	assert.Contains(t, out, "CAPABILITY")
	assert.Contains(t, out, string(detector.CapabilitySensitiveData))
	assert.Contains(t, out, "Alerts:")
}

func TestScanText_Empty(t *testing.T) {
	_, err := run(t, "   ", "scan", "text", "-")
	require.Error(t, err)
	assert.ErrorIs(t, err, detector.ErrInvalidInput)
}

func TestScanFile_FailOn(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "eicar.com")
	require.NoError(t, os.WriteFile(path, []byte(eicar), 0o600))

	out, err := runIn(t, dir, "", "scan", "file", path, "--fail-on", "high")
	require.Error(t, err)
	assert.Equal(t, 2, exitCode(err))
	assert.Contains(t, out, "Critical")

	_, err = runIn(t, dir, "", "scan", "file", path, "--fail-on", "urgent")
	require.Error(t, err)
	assert.Equal(t, 1, exitCode(err))
}

func TestScan_BadOutput(t *testing.T) {
	_, err := run(t, "", "scan", "text", "-o", "xml", "hello")
	assert.ErrorContains(t, err, "unsupported output format")
}

func TestScanFile_Missing(t *testing.T) {
	_, err := run(t, "", "scan", "file", "/nonexistent/file.bin")
	assert.ErrorContains(t, err, "failed to read file")
}

func TestDetectors(t *testing.T) {
	out, err := run(t, "", "detectors")
	require.NoError(t, err)
	for _, c := range detector.PriorityOrder {
		assert.Contains(t, out, string(c))
	}
	assert.Contains(t, out, "Builtins:")
}

func TestDetectors_ProjectOverride(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".threatscope"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".threatscope", "detectors.yaml"),
		[]byte("detectors:\n  phishing:\n    enabled: false\n"), 0o600))

	out, err := runIn(t, dir, "", "detectors")
	require.NoError(t, err)
	for _, line := range strings.Split(out, "\n") {
		assert.False(t, strings.HasPrefix(line, string(detector.CapabilityPhishing)), "disabled detector listed: %q", line)
	}
}

func TestInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("server:\n  port: -1\n"), 0o600))

	_, err := runIn(t, dir, "", "detectors")
	assert.ErrorContains(t, err, "invalid configuration")
}
