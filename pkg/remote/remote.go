// Package remote provides a detector adapter backed by an HTTP inference
// service, for models served outside this process.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/brad07/threatscope/pkg/detector"
	"github.com/brad07/threatscope/pkg/registry"
)

// Config holds configuration for a remote detector.
type Config struct {
	// URL is the base URL of the inference service.
	URL string `yaml:"url" json:"url"`

	// Timeout bounds each HTTP request.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// Headers are added to every request, e.g. an Authorization header.
	Headers map[string]string `yaml:"headers" json:"headers"`

	// HealthEndpoint is the path for health checks (default: /health).
	HealthEndpoint string `yaml:"health_endpoint" json:"health_endpoint"`

	// AnalyzeEndpoint is the path for analysis requests (default: /analyze).
	AnalyzeEndpoint string `yaml:"analyze_endpoint" json:"analyze_endpoint"`

	// RetryCount is the number of retries after a failed request.
	RetryCount int `yaml:"retry_count" json:"retry_count"`

	// RetryDelay is the delay between retries.
	RetryDelay time.Duration `yaml:"retry_delay" json:"retry_delay"`

	// Inputs lists the accepted input kinds. Empty means text, or file for
	// the file_threat capability.
	Inputs []detector.InputKind `yaml:"inputs" json:"inputs"`

	// SkipHealthCheck disables the health check performed at load time.
	SkipHealthCheck bool `yaml:"skip_health_check" json:"skip_health_check"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:         5 * time.Second,
		HealthEndpoint:  "/health",
		AnalyzeEndpoint: "/analyze",
		RetryCount:      1,
		RetryDelay:      100 * time.Millisecond,
	}
}

// AnalyzeRequest is the body posted to the inference service.
type AnalyzeRequest struct {
	Capability  string `json:"capability"`
	Kind        string `json:"kind"`
	Text        string `json:"text,omitempty"`
	Data        []byte `json:"data,omitempty"`
	Filename    string `json:"filename,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	SHA256      string `json:"sha256,omitempty"`
}

// AnalyzeResponse is the service's native verdict.
type AnalyzeResponse struct {
	Label    string         `json:"label"`
	Positive bool           `json:"positive"`
	Score    float64        `json:"score"`
	Tier     string         `json:"tier,omitempty"`
	Findings []string       `json:"findings"`
	Detail   map[string]any `json:"detail,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// Adapter calls a remote inference service.
type Adapter struct {
	capability detector.Capability
	config     Config
	floor      float64
	client     *http.Client
}

// New creates a remote adapter. The client may be nil.
func New(c detector.Capability, cfg Config, floor float64, client *http.Client) (*Adapter, error) {
	defaults := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.HealthEndpoint == "" {
		cfg.HealthEndpoint = defaults.HealthEndpoint
	}
	if cfg.AnalyzeEndpoint == "" {
		cfg.AnalyzeEndpoint = defaults.AnalyzeEndpoint
	}
	if len(cfg.Inputs) == 0 {
		cfg.Inputs = []detector.InputKind{detector.InputText}
		if c == detector.CapabilityFileThreat {
			cfg.Inputs = []detector.InputKind{detector.InputFile}
		}
	}

	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return nil, fmt.Errorf("invalid url %q: need http(s)://host", cfg.URL)
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")

	if client == nil {
		client = &http.Client{}
	}
	return &Adapter{capability: c, config: cfg, floor: floor, client: client}, nil
}

func (a *Adapter) Capability() detector.Capability {
	return a.capability
}

func (a *Adapter) Accepts(kind detector.InputKind) bool {
	for _, k := range a.config.Inputs {
		if k == kind {
			return true
		}
	}
	return false
}

// Analyze posts the input to the service and normalizes the verdict.
// Transport and service failures become Error results.
func (a *Adapter) Analyze(ctx context.Context, in *detector.Input) detector.Result {
	if in == nil {
		return detector.ErrorResult(a.capability, "unsupported input")
	}

	body, err := json.Marshal(AnalyzeRequest{
		Capability:  string(a.capability),
		Kind:        string(in.Kind),
		Text:        in.Text,
		Data:        in.Data,
		Filename:    in.Filename,
		ContentType: in.ContentType,
		SHA256:      in.Hash,
	})
	if err != nil {
		return detector.ErrorResult(a.capability, "encode request: %v", err)
	}

	var lastErr error
	for attempt := 0; attempt <= a.config.RetryCount; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return detector.ErrorResult(a.capability, "%v", ctx.Err())
			case <-time.After(a.config.RetryDelay):
			}
		}

		resp, err := a.doAnalyze(ctx, body)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}

		detail := resp.Detail
		if detail == nil {
			detail = map[string]any{}
		}
		detail["endpoint"] = a.config.URL
		return detector.Normalize(a.capability, detector.Verdict{
			Positive: resp.Positive,
			Score:    resp.Score,
			Label:    resp.Label,
			Tier:     resp.Tier,
			Findings: resp.Findings,
			Detail:   detail,
		}, a.floor)
	}

	return detector.ErrorResult(a.capability, "remote inference failed after %d attempts: %v", a.config.RetryCount+1, lastErr)
}

func (a *Adapter) doAnalyze(ctx context.Context, body []byte) (*AnalyzeResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.URL+a.config.AnalyzeEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	a.addHeaders(req)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var out AnalyzeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("service error: %s", out.Error)
	}
	return &out, nil
}

// HealthCheck checks that the service answers its health endpoint.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.config.URL+a.config.HealthEndpoint, nil)
	if err != nil {
		return err
	}
	a.addHeaders(req)

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// Close releases idle connections.
func (a *Adapter) Close() error {
	a.client.CloseIdleConnections()
	return nil
}

func (a *Adapter) addHeaders(req *http.Request) {
	for k, v := range a.config.Headers {
		req.Header.Set(k, v)
	}
}

// Provider builds remote adapters for http(s) locations.
type Provider struct {
	// Client is shared by all adapters; nil uses a fresh client per adapter.
	Client *http.Client
}

// Provide implements registry.Provider. The location is the service base
// URL; options override the rest of Config. Unless skip_health_check is
// set, the service must be healthy for the load to succeed.
func (p Provider) Provide(ctx context.Context, src registry.Source) (detector.Adapter, error) {
	cfg, err := ConfigFromOptions(src.Location, src.Options)
	if err != nil {
		return nil, err
	}

	a, err := New(src.Capability, cfg, src.ConfidenceFloor, p.Client)
	if err != nil {
		return nil, err
	}
	if !cfg.SkipHealthCheck {
		if err := a.HealthCheck(ctx); err != nil {
			return nil, fmt.Errorf("health check failed during load: %w", err)
		}
	}
	return a, nil
}

// ConfigFromOptions builds a Config for the base URL from provider options.
func ConfigFromOptions(base string, opts registry.Options) (Config, error) {
	cfg := DefaultConfig()
	cfg.URL = base

	if err := opts.Check("timeout", "headers", "health_endpoint", "analyze_endpoint",
		"retry_count", "retry_delay", "inputs", "skip_health_check"); err != nil {
		return cfg, err
	}
	if err := opts.Duration("timeout", &cfg.Timeout); err != nil {
		return cfg, err
	}
	if err := opts.Duration("retry_delay", &cfg.RetryDelay); err != nil {
		return cfg, err
	}
	if err := opts.Int("retry_count", &cfg.RetryCount); err != nil {
		return cfg, err
	}
	if err := opts.String("health_endpoint", &cfg.HealthEndpoint); err != nil {
		return cfg, err
	}
	if err := opts.String("analyze_endpoint", &cfg.AnalyzeEndpoint); err != nil {
		return cfg, err
	}
	headers, err := opts.StringMap("headers")
	if err != nil {
		return cfg, err
	}
	cfg.Headers = headers

	kinds, err := opts.Strings("inputs")
	if err != nil {
		return cfg, err
	}
	for _, k := range kinds {
		switch kind := detector.InputKind(strings.ToLower(k)); kind {
		case detector.InputText, detector.InputFile:
			cfg.Inputs = append(cfg.Inputs, kind)
		default:
			return cfg, fmt.Errorf("option inputs: unknown input kind %q", k)
		}
	}

	if v, ok := opts["skip_health_check"]; ok {
		b, isBool := v.(bool)
		if !isBool {
			return cfg, fmt.Errorf("option skip_health_check: expected a bool, got %T", v)
		}
		cfg.SkipHealthCheck = b
	}
	return cfg, nil
}
