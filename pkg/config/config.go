// Package config handles Threatscope configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/brad07/threatscope/pkg/detector"
	"github.com/brad07/threatscope/pkg/orchestrator"
	"github.com/brad07/threatscope/pkg/registry"
	"github.com/brad07/threatscope/pkg/risk"
)

const (
	// DefaultConfigDir is the default configuration directory name.
	DefaultConfigDir = ".threatscope"
	// DefaultConfigFile is the default configuration file name.
	DefaultConfigFile = "config.yaml"
	// ProjectDetectorsFile is the project-level detector override file name.
	ProjectDetectorsFile = "detectors.yaml"
)

// Alert sink kinds.
const (
	SinkMemory  = "memory"
	SinkBadger  = "badger"
	SinkWebhook = "webhook"
)

const header = `# Threatscope Configuration
# Durations use Go syntax (500ms, 10s, 1m). Detector locations are
# builtin:<capability> or the base URL of an inference service.

`

// Config holds the Threatscope configuration.
type Config struct {
	Server    ServerConfig   `yaml:"server"`
	Logging   LoggingConfig  `yaml:"logging"`
	Analysis  AnalysisConfig `yaml:"analysis"`
	Detectors Detectors      `yaml:"detectors"`
	Alerts    AlertsConfig   `yaml:"alerts"`
	Watch     WatchConfig    `yaml:"watch"`

	// ProjectPath is where project overrides were loaded from, if anywhere.
	ProjectPath string `yaml:"-"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxUploadMB     int           `yaml:"max_upload_mb"`

	// RateLimitRPS is the sustained request rate per client. Zero disables
	// rate limiting.
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// AnalysisConfig holds orchestrator and dispatcher settings.
type AnalysisConfig struct {
	DetectorTimeout time.Duration `yaml:"detector_timeout"`
	AlertTimeout    time.Duration `yaml:"alert_timeout"`
	MaxConcurrency  int           `yaml:"max_concurrency"`
	MaxExtractBytes int           `yaml:"max_extract_bytes"`
}

// DetectorConfig configures one capability: where its adapter comes from
// and how its results are scored.
type DetectorConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Location string `yaml:"location"`

	risk.CapabilityPolicy `yaml:",inline"`

	// Options are passed to the provider serving Location.
	Options registry.Options `yaml:"options,omitempty"`
}

// Detectors maps each capability to its settings. Entries read from YAML
// are merged over the existing ones, so a file only needs the fields it
// changes.
type Detectors map[detector.Capability]DetectorConfig

// UnmarshalYAML merges the mapping into d. A tiers or options key replaces
// the previous map instead of merging into it.
func (d *Detectors) UnmarshalYAML(node *yaml.Node) error {
	var raw map[detector.Capability]yaml.Node
	if err := node.Decode(&raw); err != nil {
		return err
	}
	if *d == nil {
		*d = make(Detectors, len(raw))
	}

	for c, n := range raw {
		dc, ok := (*d)[c]
		if !ok {
			dc = DetectorConfig{Enabled: true}
		}
		if hasKey(&n, "tiers") {
			dc.Tiers = nil
		}
		if hasKey(&n, "options") {
			dc.Options = nil
		}
		if err := n.Decode(&dc); err != nil {
			return fmt.Errorf("detector %s: %w", c, err)
		}
		(*d)[c] = dc
	}
	return nil
}

func hasKey(n *yaml.Node, key string) bool {
	if n.Kind != yaml.MappingNode {
		return false
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == key {
			return true
		}
	}
	return false
}

// AlertsConfig selects and configures the alert sink.
type AlertsConfig struct {
	Sink string `yaml:"sink"` // memory, badger or webhook

	// Path is the badger database directory.
	Path       string `yaml:"path"`
	SyncWrites bool   `yaml:"sync_writes"`

	// URL, Secret and Headers configure the webhook sink.
	URL     string            `yaml:"url"`
	Secret  string            `yaml:"secret,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout time.Duration     `yaml:"timeout"`
}

// WatchConfig controls configuration hot reload and detector health checks.
type WatchConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Debounce       time.Duration `yaml:"debounce"`
	HealthInterval time.Duration `yaml:"health_interval"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "localhost",
			Port:            7676,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxUploadMB:     25,
			RateLimitRPS:    20,
			RateLimitBurst:  40,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Analysis: AnalysisConfig{
			DetectorTimeout: 10 * time.Second,
			AlertTimeout:    5 * time.Second,
			MaxExtractBytes: 1 << 20,
		},
		Detectors: DefaultDetectors(),
		Alerts: AlertsConfig{
			Sink:    SinkMemory,
			Path:    filepath.Join("~", DefaultConfigDir, "alerts"),
			Timeout: 10 * time.Second,
		},
		Watch: WatchConfig{
			Enabled:        true,
			Debounce:       500 * time.Millisecond,
			HealthInterval: 30 * time.Second,
		},
	}
}

// DefaultDetectors enables every capability on its builtin detector with
// the default scoring policy.
func DefaultDetectors() Detectors {
	d := make(Detectors, len(detector.PriorityOrder))
	for c, cp := range risk.DefaultPolicy() {
		d[c] = DetectorConfig{
			Enabled:          true,
			Location:         "builtin:" + string(c),
			CapabilityPolicy: cp,
		}
	}
	return d
}

// Load loads the configuration from the default location (~/.threatscope/config.yaml).
// If the config file doesn't exist, it returns the default configuration.
// If projectDir is provided, it also looks for project-level detector overrides.
func Load(projectDir string) (*Config, error) {
	configPath, err := DefaultConfigPath()
	if err != nil {
		return nil, fmt.Errorf("failed to determine config path: %w", err)
	}

	return LoadFrom(configPath, projectDir)
}

// LoadFrom loads configuration from a specific path with optional project overrides.
func LoadFrom(configPath, projectDir string) (*Config, error) {
	cfg := DefaultConfig()

	expandedPath, err := ExpandPath(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to expand config path: %w", err)
	}

	if _, err := os.Stat(expandedPath); err == nil {
		data, err := os.ReadFile(expandedPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if projectDir != "" {
		if err := loadProjectOverrides(cfg, projectDir); err != nil {
			return nil, fmt.Errorf("failed to load project overrides: %w", err)
		}
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, fmt.Errorf("failed to expand paths in config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// ProjectOverride is what a project may change: detector settings only.
type ProjectOverride struct {
	Detectors Detectors `yaml:"detectors"`
}

// loadProjectOverrides merges <projectDir>/.threatscope/detectors.yaml.
func loadProjectOverrides(cfg *Config, projectDir string) error {
	path := filepath.Join(projectDir, DefaultConfigDir, ProjectDetectorsFile)

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read project config: %w", err)
	}

	override := ProjectOverride{Detectors: cfg.Detectors}
	if err := yaml.Unmarshal(data, &override); err != nil {
		return fmt.Errorf("failed to parse project config: %w", err)
	}
	cfg.Detectors = override.Detectors
	cfg.ProjectPath = path
	return nil
}

// expandPaths expands ~ and environment variables in path fields.
func (c *Config) expandPaths() error {
	var err error
	c.Alerts.Path, err = ExpandPath(c.Alerts.Path)
	if err != nil {
		return fmt.Errorf("failed to expand alerts path: %w", err)
	}
	return nil
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("invalid server port: %d (must be 1-65535)", c.Server.Port))
	}
	if c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 || c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "server timeouts must be positive")
	}
	if c.Server.MaxUploadMB < 1 {
		errs = append(errs, "server max_upload_mb must be at least 1")
	}
	if c.Server.RateLimitRPS < 0 {
		errs = append(errs, "server rate_limit_rps must not be negative")
	}
	if c.Server.RateLimitRPS > 0 && c.Server.RateLimitBurst < 1 {
		errs = append(errs, "server rate_limit_burst must be at least 1 when rate limiting is on")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level))
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		errs = append(errs, fmt.Sprintf("invalid logging format: %s (must be text or json)", c.Logging.Format))
	}

	if c.Analysis.DetectorTimeout <= 0 {
		errs = append(errs, "analysis detector_timeout must be positive")
	}
	if c.Analysis.AlertTimeout <= 0 {
		errs = append(errs, "analysis alert_timeout must be positive")
	}
	if c.Analysis.MaxConcurrency < 0 {
		errs = append(errs, "analysis max_concurrency must not be negative")
	}
	if c.Analysis.MaxExtractBytes < 1 {
		errs = append(errs, "analysis max_extract_bytes must be at least 1")
	}

	for _, capability := range c.Detectors.capabilities() {
		dc := c.Detectors[capability]
		if !capability.Valid() {
			errs = append(errs, fmt.Sprintf("unknown detector capability: %s", capability))
			continue
		}
		if !dc.Enabled {
			continue
		}
		if dc.Location == "" {
			errs = append(errs, fmt.Sprintf("detector %s: location is required when enabled", capability))
			continue
		}
		src := registry.Source{Location: dc.Location}
		switch src.Scheme() {
		case "builtin", "http", "https":
		default:
			errs = append(errs, fmt.Sprintf("detector %s: unsupported location %q", capability, dc.Location))
		}
	}
	if err := c.Policy().Validate(); err != nil {
		errs = append(errs, err.Error())
	}

	switch c.Alerts.Sink {
	case SinkMemory:
	case SinkBadger:
		if c.Alerts.Path == "" {
			errs = append(errs, "alerts path is required for the badger sink")
		}
	case SinkWebhook:
		if !strings.HasPrefix(c.Alerts.URL, "http://") && !strings.HasPrefix(c.Alerts.URL, "https://") {
			errs = append(errs, fmt.Sprintf("alerts url must be http(s) for the webhook sink, got %q", c.Alerts.URL))
		}
	default:
		errs = append(errs, fmt.Sprintf("invalid alerts sink: %s (must be memory, badger, or webhook)", c.Alerts.Sink))
	}

	if c.Watch.Enabled && c.Watch.Debounce <= 0 {
		errs = append(errs, "watch debounce must be positive when enabled")
	}
	if c.Watch.HealthInterval < 0 {
		errs = append(errs, "watch health_interval must not be negative")
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

// capabilities returns the configured capabilities, known ones in priority
// order first, so validation messages come out in a stable order.
func (d Detectors) capabilities() []detector.Capability {
	out := make([]detector.Capability, 0, len(d))
	for c := range d {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Rank() != out[j].Rank() {
			return out[i].Rank() < out[j].Rank()
		}
		return out[i] < out[j]
	})
	return out
}

// Policy returns the scoring table for the enabled capabilities.
func (c *Config) Policy() risk.Policy {
	p := make(risk.Policy, len(c.Detectors))
	for capability, dc := range c.Detectors {
		if dc.Enabled && capability.Valid() {
			p[capability] = dc.CapabilityPolicy
		}
	}
	return p.Clone()
}

// Sources returns the registry sources for the enabled capabilities, in
// priority order.
func (c *Config) Sources() []registry.Source {
	var out []registry.Source
	for _, capability := range c.Detectors.capabilities() {
		dc := c.Detectors[capability]
		if !dc.Enabled || !capability.Valid() {
			continue
		}
		var opts registry.Options
		if len(dc.Options) > 0 {
			opts = make(registry.Options, len(dc.Options))
			for k, v := range dc.Options {
				opts[k] = v
			}
		}
		out = append(out, registry.Source{
			Capability:      capability,
			Location:        dc.Location,
			ConfidenceFloor: dc.ConfidenceFloor,
			Options:         opts,
		})
	}
	return out
}

// Orchestrator returns the orchestrator settings. Capabilities that are
// disabled, or missing from the detectors section, are not run.
func (c *Config) Orchestrator() orchestrator.Config {
	cfg := orchestrator.Config{
		DetectorTimeout: c.Analysis.DetectorTimeout,
		MaxConcurrency:  c.Analysis.MaxConcurrency,
		MaxExtractBytes: c.Analysis.MaxExtractBytes,
	}
	for _, capability := range detector.PriorityOrder {
		if dc, ok := c.Detectors[capability]; !ok || !dc.Enabled {
			cfg.Disabled = append(cfg.Disabled, capability)
		}
	}
	return cfg
}

// MaxUploadBytes returns the upload limit in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.Server.MaxUploadMB) << 20
}

// DefaultConfigPath returns the default configuration file path.
func DefaultConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, DefaultConfigDir, DefaultConfigFile), nil
}

// DefaultConfigDirPath returns the default configuration directory path.
func DefaultConfigDirPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, DefaultConfigDir), nil
}

// ExpandPath expands ~ to the user's home directory and environment variables.
func ExpandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(homeDir, path[2:])
	} else if path == "~" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = homeDir
	}

	return os.ExpandEnv(path), nil
}

// Initialize writes the default configuration to path unless a file is
// already there. An empty path means the default location. It returns the
// path written and whether the file was newly created.
func Initialize(path string) (string, bool, error) {
	if path == "" {
		var err error
		path, err = DefaultConfigPath()
		if err != nil {
			return "", false, fmt.Errorf("failed to determine config path: %w", err)
		}
	}
	path, err := ExpandPath(path)
	if err != nil {
		return "", false, fmt.Errorf("failed to expand path: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		return path, false, nil
	}

	if err := DefaultConfig().SaveTo(path); err != nil {
		return "", false, err
	}
	return path, true, nil
}

// Save writes the configuration to the default location.
func (c *Config) Save() error {
	configPath, err := DefaultConfigPath()
	if err != nil {
		return fmt.Errorf("failed to determine config path: %w", err)
	}

	return c.SaveTo(configPath)
}

// SaveTo writes the configuration to a specific path.
func (c *Config) SaveTo(path string) error {
	expandedPath, err := ExpandPath(path)
	if err != nil {
		return fmt.Errorf("failed to expand path: %w", err)
	}

	dir := filepath.Dir(expandedPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	data = append([]byte(header), data...)

	if err := os.WriteFile(expandedPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// Address returns the server listen address.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
