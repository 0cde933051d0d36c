package alert

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/brad07/threatscope/pkg/detector"
	"github.com/brad07/threatscope/pkg/metrics"
	"github.com/brad07/threatscope/pkg/risk"
)

// PolicySource supplies the current per-capability alert thresholds.
type PolicySource interface {
	Policy() risk.Policy
}

// Masker hides sensitive values in text copied into alerts.
type Masker interface {
	Redact(text string) string
}

// DispatcherConfig holds dispatcher settings.
type DispatcherConfig struct {
	// Timeout bounds each sink call.
	Timeout time.Duration

	// SinkName labels sink failures in metrics and logs.
	SinkName string
}

// DefaultDispatcherConfig returns a DispatcherConfig with sensible defaults.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Timeout:  5 * time.Second,
		SinkName: "memory",
	}
}

// Dispatcher creates at most one alert per capability for each report.
type Dispatcher struct {
	sink   Sink
	policy PolicySource
	masker Masker
	config DispatcherConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewDispatcher creates a dispatcher writing to sink. masker may be nil.
func NewDispatcher(sink Sink, policy PolicySource, masker Masker, config DispatcherConfig, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultDispatcherConfig().Timeout
	}
	return &Dispatcher{
		sink:   sink,
		policy: policy,
		masker: masker,
		config: config,
		logger: logger,
		now:    time.Now,
	}
}

// Qualifies reports whether a capability result in the report warrants an
// alert: it must be Flagged and its own severity must reach the
// capability's threshold.
func (d *Dispatcher) Qualifies(report *risk.Report, c detector.Capability) (risk.Level, bool) {
	r, ok := report.PerCapabilityResults[c]
	if !ok || r.Status != detector.StatusFlagged {
		return "", false
	}
	contrib, ok := report.ContributionFor(c)
	if !ok {
		return "", false
	}
	threshold := risk.LevelMedium
	if d.policy != nil {
		threshold = d.policy.Policy().AlertThreshold(c)
	}
	return contrib.Severity, contrib.Severity.AtLeast(threshold)
}

// Dispatch creates alerts for the qualifying results and returns the ids
// the sink accepted, in capability priority order. Sink calls run
// concurrently, each bounded by the configured timeout. Sink failures are
// logged and omitted. Nothing is created if ctx is already done.
func (d *Dispatcher) Dispatch(ctx context.Context, report *risk.Report) []string {
	ids := []string{}
	if d.sink == nil {
		return ids
	}
	if err := ctx.Err(); err != nil {
		d.logger.Info("alert dispatch skipped", "request_id", report.RequestID, "error", err)
		return ids
	}

	var (
		g       errgroup.Group
		created = make([]string, len(detector.PriorityOrder))
	)
	for i, c := range detector.PriorityOrder {
		severity, ok := d.Qualifies(report, c)
		if !ok {
			continue
		}
		rec := d.record(report, c, severity)
		g.Go(func() error {
			id, err := d.create(ctx, rec)
			if err != nil {
				metrics.AlertSinkFailed(d.config.SinkName)
				d.logger.Warn("alert sink failed",
					"sink", d.config.SinkName,
					"capability", c,
					"request_id", report.RequestID,
					"error", err)
				return nil
			}
			metrics.AlertCreated(string(c), string(severity))
			created[i] = id
			return nil
		})
	}
	_ = g.Wait()

	for _, id := range created {
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func (d *Dispatcher) create(ctx context.Context, rec Record) (id string, err error) {
	ctx, cancel := context.WithTimeout(ctx, d.config.Timeout)
	defer cancel()

	defer func() {
		if p := recover(); p != nil {
			d.logger.Error("alert sink panicked", "sink", d.config.SinkName, "panic", p)
			id, err = "", errSinkPanic
		}
	}()
	return d.sink.Create(ctx, rec)
}

func (d *Dispatcher) record(report *risk.Report, c detector.Capability, severity risk.Level) Record {
	detail := report.PerCapabilityResults[c]
	detail.Findings = append([]string(nil), detail.Findings...)
	if d.masker != nil {
		for i, f := range detail.Findings {
			detail.Findings[i] = d.masker.Redact(f)
		}
	}

	rec := Record{
		Severity:  severity,
		Type:      c,
		Source:    report.Source,
		CreatedAt: d.now().UTC(),
		RequestID: report.RequestID,
		InputHash: report.InputHash,
		Detail:    detail,
	}
	describe(&rec)
	return rec
}
