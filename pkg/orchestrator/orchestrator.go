// Package orchestrator runs every applicable detector over one input and
// turns the results into an aggregated, alerted report.
package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/brad07/threatscope/pkg/detector"
	"github.com/brad07/threatscope/pkg/metrics"
	"github.com/brad07/threatscope/pkg/risk"
	"github.com/brad07/threatscope/pkg/scanners"
)

// Config holds orchestrator settings.
type Config struct {
	// DetectorTimeout bounds each detector call unless the capability's
	// policy sets its own timeout.
	DetectorTimeout time.Duration `yaml:"detector_timeout" json:"detector_timeout"`

	// MaxConcurrency caps concurrent detector calls per request. Zero runs
	// every applicable detector at once.
	MaxConcurrency int `yaml:"max_concurrency" json:"max_concurrency"`

	// MaxExtractBytes caps the text extracted from a file for the
	// text-oriented detectors.
	MaxExtractBytes int `yaml:"max_extract_bytes" json:"max_extract_bytes"`

	// Disabled capabilities are not applicable and do not appear in reports.
	Disabled []detector.Capability `yaml:"disabled" json:"disabled"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DetectorTimeout: 10 * time.Second,
		MaxExtractBytes: 1 << 20,
	}
}

func (c Config) disabled(capability detector.Capability) bool {
	for _, d := range c.Disabled {
		if d == capability {
			return true
		}
	}
	return false
}

// Lookup resolves a capability to a Ready adapter.
type Lookup interface {
	Lookup(c detector.Capability) (detector.Adapter, bool)
}

// Dispatcher hands qualifying results of a report to the alert sink and
// returns the accepted alert ids.
type Dispatcher interface {
	Dispatch(ctx context.Context, report *risk.Report) []string
}

// Orchestrator is the single entry point for analysis. It holds no
// per-request state and is safe for concurrent use.
type Orchestrator struct {
	registry   Lookup
	aggregator *risk.Aggregator
	alerts     Dispatcher
	config     atomic.Pointer[Config]
	logger     *slog.Logger
	now        func() time.Time
}

// New creates an orchestrator. alerts may be nil to disable alerting.
func New(registry Lookup, aggregator *risk.Aggregator, alerts Dispatcher, config Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		registry:   registry,
		aggregator: aggregator,
		alerts:     alerts,
		logger:     logger,
		now:        time.Now,
	}
	o.Reconfigure(config)
	return o
}

// Reconfigure swaps in new settings. Requests already running keep the
// settings they started with.
func (o *Orchestrator) Reconfigure(config Config) {
	defaults := DefaultConfig()
	if config.DetectorTimeout <= 0 {
		config.DetectorTimeout = defaults.DetectorTimeout
	}
	if config.MaxExtractBytes <= 0 {
		config.MaxExtractBytes = defaults.MaxExtractBytes
	}
	config.Disabled = append([]detector.Capability(nil), config.Disabled...)
	o.config.Store(&config)
}

// Config returns the current settings.
func (o *Orchestrator) Config() Config {
	return *o.config.Load()
}

// Aggregator returns the aggregator whose policy table is in use.
func (o *Orchestrator) Aggregator() *risk.Aggregator {
	return o.aggregator
}

// job is one detector invocation.
type job struct {
	capability detector.Capability
	input      *detector.Input
}

// Run analyzes the input. It returns a report unless the input is invalid
// (a *detector.ValidationError) or ctx ends first (ctx.Err()); detector
// failures are recorded in the report, never returned. A run cancelled
// before its detectors finish creates no alerts; once they finish, the run
// completes and all of its alerts are dispatched.
func (o *Orchestrator) Run(ctx context.Context, in *detector.Input) (*risk.Report, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := o.now()
	cfg := o.Config()
	policy := o.aggregator.Policy()
	requestID := uuid.NewString()

	jobs := o.plan(in, cfg)

	var (
		mu      sync.Mutex
		results = make(map[detector.Capability]detector.Result, len(jobs))
		g       errgroup.Group
	)
	if cfg.MaxConcurrency > 0 {
		g.SetLimit(cfg.MaxConcurrency)
	}

	for _, j := range jobs {
		adapter, ok := o.registry.Lookup(j.capability)
		if !ok {
			mu.Lock()
			results[j.capability] = detector.UnavailableResult(j.capability)
			mu.Unlock()
			metrics.ObserveDetector(string(j.capability), string(detector.StatusUnavailable), 0)
			continue
		}
		if !adapter.Accepts(j.input.Kind) {
			mu.Lock()
			results[j.capability] = detector.ErrorResult(j.capability, "detector does not accept %s input", j.input.Kind)
			mu.Unlock()
			continue
		}

		timeout := cfg.DetectorTimeout
		if t := policy[j.capability].Timeout; t > 0 {
			timeout = t
		}

		g.Go(func() error {
			res := o.invoke(ctx, requestID, adapter, j, timeout)
			mu.Lock()
			results[j.capability] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		o.logger.Info("analysis cancelled", "request_id", requestID, "error", err)
		return nil, err
	}

	report := o.aggregator.Aggregate(results)
	report.RequestID = requestID
	report.InputHash = in.Hash
	report.Source = in.Kind.Source()
	report.AnalyzedAt = start.UTC()

	// The run is committed past this point. Alerts are dispatched detached
	// from the caller so a disconnect cannot leave a partial set; each sink
	// call keeps its own timeout.
	if o.alerts != nil {
		if ids := o.alerts.Dispatch(context.WithoutCancel(ctx), report); ids != nil {
			report.AlertsCreated = ids
		}
	}
	report.DurationMs = o.now().Sub(start).Milliseconds()

	metrics.ObserveAnalysis(string(in.Kind), string(report.RiskLevel), report.Degraded)
	o.logger.Debug("analysis complete",
		"request_id", requestID,
		"kind", in.Kind,
		"detectors", len(results),
		"risk_score", report.OverallRiskScore,
		"risk_level", report.RiskLevel,
		"degraded", report.Degraded,
		"alerts", len(report.AlertsCreated))
	return report, nil
}

// Applicable returns the capabilities that would run for the input, in
// priority order.
func (o *Orchestrator) Applicable(in *detector.Input) []detector.Capability {
	jobs := o.plan(in, o.Config())
	out := make([]detector.Capability, 0, len(jobs))
	for _, c := range detector.PriorityOrder {
		for _, j := range jobs {
			if j.capability == c {
				out = append(out, c)
			}
		}
	}
	return out
}

// plan selects the capabilities for the input. Files always get file_threat
// and, when text can be extracted, the text capabilities on that text.
func (o *Orchestrator) plan(in *detector.Input, cfg Config) []job {
	var jobs []job
	add := func(c detector.Capability, input *detector.Input) {
		if !cfg.disabled(c) {
			jobs = append(jobs, job{capability: c, input: input})
		}
	}

	textInput := in
	if in.Kind == detector.InputFile {
		add(detector.CapabilityFileThreat, in)
		text, ok := ExtractText(in.Data, cfg.MaxExtractBytes)
		if !ok {
			return jobs
		}
		textInput = in.WithText(text)
	}
	for _, c := range detector.TextCapabilities {
		add(c, textInput)
	}
	return jobs
}

// invoke runs one adapter under its timeout. Panics and timeouts become
// Error results.
func (o *Orchestrator) invoke(ctx context.Context, requestID string, a detector.Adapter, j job, timeout time.Duration) detector.Result {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	done := make(chan detector.Result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				o.logger.Error("detector panicked",
					"request_id", requestID,
					"capability", j.capability,
					"panic", p)
				done <- detector.ErrorResult(j.capability, "detector panicked: %v", p)
			}
		}()
		done <- a.Analyze(ctx, j.input)
	}()

	var res detector.Result
	select {
	case res = <-done:
	case <-ctx.Done():
	}

	// an adapter that noticed the deadline itself is still a timeout
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			o.logger.Warn("detector timed out",
				"request_id", requestID,
				"capability", j.capability,
				"timeout", timeout)
			res = detector.ErrorResult(j.capability, "timed out")
		} else {
			res = detector.ErrorResult(j.capability, "cancelled")
		}
	}

	metrics.ObserveDetector(string(j.capability), string(res.Status), time.Since(start))
	return res
}

// ExtractText returns the leading limit bytes of data as text when the
// content is textual: a text MIME type, or valid UTF-8 without NUL bytes.
func ExtractText(data []byte, limit int) (string, bool) {
	if limit > 0 && len(data) > limit {
		cut := limit
		for cut > 0 && !utf8.RuneStart(data[cut]) {
			cut--
		}
		data = data[:cut]
	}
	if len(data) == 0 || bytes.IndexByte(data, 0) >= 0 {
		return "", false
	}
	if !scanners.IsTextual(data) && !utf8.Valid(data) {
		return "", false
	}

	text := strings.ToValidUTF8(string(data), "\uFFFD")
	if strings.TrimSpace(text) == "" {
		return "", false
	}
	return text, true
}
