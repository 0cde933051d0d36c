package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brad07/threatscope/pkg/detector"
	"github.com/brad07/threatscope/pkg/risk"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 7676, cfg.Server.Port)
	assert.Equal(t, SinkMemory, cfg.Alerts.Sink)
	assert.Equal(t, 10*time.Second, cfg.Analysis.DetectorTimeout)
	require.Len(t, cfg.Detectors, len(detector.PriorityOrder))

	for _, c := range detector.PriorityOrder {
		dc := cfg.Detectors[c]
		assert.True(t, dc.Enabled, c)
		assert.Equal(t, "builtin:"+string(c), dc.Location)
	}
	assert.Equal(t, risk.DefaultPolicy(), cfg.Policy())
	assert.NoError(t, cfg.Validate())
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{
			name:   "valid default config",
			modify: func(c *Config) {},
		},
		{
			name:    "invalid port - too low",
			modify:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "invalid server port",
		},
		{
			name:    "invalid port - too high",
			modify:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "invalid server port",
		},
		{
			name:    "rate limit without burst",
			modify:  func(c *Config) { c.Server.RateLimitBurst = 0 },
			wantErr: "rate_limit_burst",
		},
		{
			name: "rate limiting off needs no burst",
			modify: func(c *Config) {
				c.Server.RateLimitRPS = 0
				c.Server.RateLimitBurst = 0
			},
		},
		{
			name:    "invalid logging level",
			modify:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "invalid logging level",
		},
		{
			name:    "invalid logging format",
			modify:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "invalid logging format",
		},
		{
			name:    "zero detector timeout",
			modify:  func(c *Config) { c.Analysis.DetectorTimeout = 0 },
			wantErr: "detector_timeout",
		},
		{
			name: "weight out of range",
			modify: func(c *Config) {
				dc := c.Detectors[detector.CapabilityPhishing]
				dc.Weight = 1.5
				c.Detectors[detector.CapabilityPhishing] = dc
			},
			wantErr: "phishing: weight must be in [0,1]",
		},
		{
			name: "unknown capability",
			modify: func(c *Config) {
				c.Detectors["malware"] = DetectorConfig{Enabled: true, Location: "builtin:malware"}
			},
			wantErr: "unknown detector capability: malware",
		},
		{
			name: "enabled without location",
			modify: func(c *Config) {
				dc := c.Detectors[detector.CapabilityDataQuality]
				dc.Location = ""
				c.Detectors[detector.CapabilityDataQuality] = dc
			},
			wantErr: "data_quality: location is required",
		},
		{
			name: "disabled without location",
			modify: func(c *Config) {
				c.Detectors[detector.CapabilityDataQuality] = DetectorConfig{}
			},
		},
		{
			name: "unsupported location",
			modify: func(c *Config) {
				dc := c.Detectors[detector.CapabilityPhishing]
				dc.Location = "s3://models/phishing"
				c.Detectors[detector.CapabilityPhishing] = dc
			},
			wantErr: "unsupported location",
		},
		{
			name: "remote location",
			modify: func(c *Config) {
				dc := c.Detectors[detector.CapabilityPhishing]
				dc.Location = "https://models.internal/phishing"
				c.Detectors[detector.CapabilityPhishing] = dc
			},
		},
		{
			name:    "invalid sink",
			modify:  func(c *Config) { c.Alerts.Sink = "kafka" },
			wantErr: "invalid alerts sink",
		},
		{
			name: "webhook without url",
			modify: func(c *Config) {
				c.Alerts.Sink = SinkWebhook
			},
			wantErr: "alerts url",
		},
		{
			name: "webhook with url",
			modify: func(c *Config) {
				c.Alerts.Sink = SinkWebhook
				c.Alerts.URL = "https://hooks.example.com/alerts"
			},
		},
		{
			name: "badger without path",
			modify: func(c *Config) {
				c.Alerts.Sink = SinkBadger
				c.Alerts.Path = ""
			},
			wantErr: "alerts path",
		},
		{
			name:    "watch without debounce",
			modify:  func(c *Config) { c.Watch.Debounce = 0 },
			wantErr: "debounce",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Port = 0
	cfg.Logging.Format = "xml"
	cfg.Alerts.Sink = "kafka"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid server port")
	assert.Contains(t, err.Error(), "invalid logging format")
	assert.Contains(t, err.Error(), "invalid alerts sink")
}

func TestExpandPath(t *testing.T) {
	homeDir, _ := os.UserHomeDir()
	t.Setenv("THREATSCOPE_TEST_DIR", "/srv/threatscope")

	tests := []struct {
		name string
		path string
		want string
	}{
		{name: "expand tilde prefix", path: "~/test/path", want: filepath.Join(homeDir, "test/path")},
		{name: "expand tilde only", path: "~", want: homeDir},
		{name: "no expansion needed", path: "/absolute/path", want: "/absolute/path"},
		{name: "relative path unchanged", path: "relative/path", want: "relative/path"},
		{name: "environment variable", path: "$THREATSCOPE_TEST_DIR/alerts", want: "/srv/threatscope/alerts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExpandPath(tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()

	configContent := `server:
  host: "0.0.0.0"
  port: 8080
  rate_limit_rps: 0
logging:
  level: debug
  format: json
analysis:
  detector_timeout: 2s
  max_concurrency: 3
detectors:
  phishing:
    location: https://models.internal/phishing
    confidence_floor: 0.7
    options:
      timeout: 1s
      retry_count: 2
  code_injection:
    tiers:
      critical: 1.0
  data_quality:
    enabled: false
alerts:
  sink: badger
  path: ` + filepath.Join(tmpDir, "alerts") + `
`
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0600))

	cfg, err := LoadFrom(configPath, "")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 60*time.Second, cfg.Server.WriteTimeout, "unset fields keep defaults")
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 2*time.Second, cfg.Analysis.DetectorTimeout)
	assert.Equal(t, SinkBadger, cfg.Alerts.Sink)

	phishing := cfg.Detectors[detector.CapabilityPhishing]
	assert.True(t, phishing.Enabled)
	assert.Equal(t, "https://models.internal/phishing", phishing.Location)
	assert.Equal(t, 0.7, phishing.ConfidenceFloor)
	assert.Equal(t, 0.6, phishing.Weight, "weight merged from defaults")
	assert.Equal(t, risk.LevelMedium, phishing.AlertMinSeverity)
	assert.Equal(t, "1s", phishing.Options["timeout"])
	assert.Equal(t, 2, phishing.Options["retry_count"])

	injection := cfg.Detectors[detector.CapabilityCodeInjection]
	assert.Equal(t, map[string]float64{"critical": 1.0}, injection.Tiers, "tiers replace the default map")

	assert.False(t, cfg.Detectors[detector.CapabilityDataQuality].Enabled)
	assert.NotContains(t, cfg.Policy(), detector.CapabilityDataQuality)

	orch := cfg.Orchestrator()
	assert.Equal(t, 2*time.Second, orch.DetectorTimeout)
	assert.Equal(t, 3, orch.MaxConcurrency)
	assert.Equal(t, []detector.Capability{detector.CapabilityDataQuality}, orch.Disabled)

	sources := cfg.Sources()
	require.Len(t, sources, len(detector.PriorityOrder)-1)
	assert.Equal(t, detector.CapabilityPhishing, sources[0].Capability, "sources come in priority order")
	assert.Equal(t, 0.7, sources[0].ConfidenceFloor)
	assert.Equal(t, "https", sources[0].Scheme())
	assert.Equal(t, "1s", sources[0].Options["timeout"])
}

func TestLoadAlertSeverityCaseInsensitive(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(`detectors:
  sensitive_data:
    alert_min_severity: HIGH
`), 0600))

	cfg, err := LoadFrom(configPath, "")
	require.NoError(t, err)
	assert.Equal(t, risk.LevelHigh, cfg.Detectors[detector.CapabilitySensitiveData].AlertMinSeverity)
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(`detectors:
  phishing:
    alert_min_severity: urgent
`), 0600))

	_, err := LoadFrom(configPath, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")

	require.NoError(t, os.WriteFile(configPath, []byte("server:\n  port: -1\n"), 0600))
	_, err = LoadFrom(configPath, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestLoadWithProjectOverrides(t *testing.T) {
	tmpDir := t.TempDir()

	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(`detectors:
  phishing:
    weight: 0.5
`), 0600))

	projectDir := filepath.Join(tmpDir, "myproject")
	projectConfigDir := filepath.Join(projectDir, DefaultConfigDir)
	require.NoError(t, os.MkdirAll(projectConfigDir, 0700))

	projectConfigPath := filepath.Join(projectConfigDir, ProjectDetectorsFile)
	require.NoError(t, os.WriteFile(projectConfigPath, []byte(`detectors:
  phishing:
    confidence_floor: 0.9
  network_traffic:
    enabled: false
`), 0600))

	cfg, err := LoadFrom(configPath, projectDir)
	require.NoError(t, err)

	phishing := cfg.Detectors[detector.CapabilityPhishing]
	assert.Equal(t, 0.5, phishing.Weight, "user config value survives")
	assert.Equal(t, 0.9, phishing.ConfidenceFloor, "project override applied")
	assert.False(t, cfg.Detectors[detector.CapabilityNetworkTraffic].Enabled)
	assert.True(t, cfg.Detectors[detector.CapabilitySensitiveData].Enabled)
	assert.Equal(t, projectConfigPath, cfg.ProjectPath)
}

func TestConfigAddress(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "localhost:7676", cfg.Address())

	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = 8080
	assert.Equal(t, "0.0.0.0:8080", cfg.Address())
	assert.Equal(t, int64(25<<20), cfg.MaxUploadBytes())
}

func TestInitializeAndSave(t *testing.T) {
	tmpDir := t.TempDir()

	configPath := filepath.Join(tmpDir, DefaultConfigDir, DefaultConfigFile)
	cfg := DefaultConfig()
	cfg.Server.Port = 9999
	dc := cfg.Detectors[detector.CapabilityFileThreat]
	dc.Options = map[string]any{"entropy_threshold": 7.5}
	cfg.Detectors[detector.CapabilityFileThreat] = dc

	require.NoError(t, cfg.SaveTo(configPath))

	info, err := os.Stat(configPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := LoadFrom(configPath, "")
	require.NoError(t, err)
	assert.Equal(t, 9999, loaded.Server.Port)
	assert.Equal(t, cfg.Policy(), loaded.Policy())
	assert.Equal(t, 7.5, loaded.Detectors[detector.CapabilityFileThreat].Options["entropy_threshold"])

	initPath := filepath.Join(tmpDir, "fresh", DefaultConfigFile)
	path, created, err := Initialize(initPath)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, initPath, path)

	data, err := os.ReadFile(initPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "# Threatscope Configuration")

	_, created, err = Initialize(initPath)
	require.NoError(t, err)
	assert.False(t, created, "existing file is left alone")
}

func TestLoadNonexistentFile(t *testing.T) {
	cfg, err := LoadFrom("/nonexistent/path/config.yaml", "")
	require.NoError(t, err)
	assert.Equal(t, 7676, cfg.Server.Port)
}
