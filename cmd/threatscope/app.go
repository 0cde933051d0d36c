package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/brad07/threatscope/pkg/alert"
	"github.com/brad07/threatscope/pkg/config"
	"github.com/brad07/threatscope/pkg/orchestrator"
	"github.com/brad07/threatscope/pkg/redact"
	"github.com/brad07/threatscope/pkg/registry"
	"github.com/brad07/threatscope/pkg/risk"
	"github.com/brad07/threatscope/plugins"
)

// app is the assembled analysis stack shared by serve and scan.
type app struct {
	logger *slog.Logger

	registry     *registry.Registry
	loader       *registry.Loader
	aggregator   *risk.Aggregator
	sink         alert.Sink
	orchestrator *orchestrator.Orchestrator

	mu     sync.Mutex
	config *config.Config
}

// newApp opens the alert sink, loads every enabled detector, and wires the
// orchestrator. Detector load failures are logged; the affected capabilities
// are reported as failed rather than stopping startup.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	sink, err := openSink(cfg.Alerts, logger)
	if err != nil {
		return nil, err
	}

	reg := registry.New(logger)
	loader := registry.NewLoader(reg, plugins.Provider(nil))
	if err := loader.Sync(ctx, cfg.Sources()); err != nil {
		logger.Warn("some detectors failed to load", "error", err)
	}

	agg := risk.NewAggregator(cfg.Policy(), logger)
	dispatcher := alert.NewDispatcher(sink, agg, redact.NewRedactor(), alert.DispatcherConfig{
		Timeout:  cfg.Analysis.AlertTimeout,
		SinkName: cfg.Alerts.Sink,
	}, logger)

	return &app{
		logger:       logger,
		registry:     reg,
		loader:       loader,
		aggregator:   agg,
		sink:         sink,
		orchestrator: orchestrator.New(reg, agg, dispatcher, cfg.Orchestrator(), logger),
		config:       cfg,
	}, nil
}

func openSink(cfg config.AlertsConfig, logger *slog.Logger) (alert.Sink, error) {
	switch cfg.Sink {
	case config.SinkBadger:
		sink, err := alert.OpenBadgerSink(alert.BadgerConfig{
			Path:       cfg.Path,
			SyncWrites: cfg.SyncWrites,
			Logger:     logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open alert store: %w", err)
		}
		return sink, nil
	case config.SinkWebhook:
		return alert.NewWebhookSink(alert.WebhookConfig{
			URL:     cfg.URL,
			Secret:  cfg.Secret,
			Timeout: cfg.Timeout,
			Headers: cfg.Headers,
		}), nil
	default:
		return alert.NewMemorySink(), nil
	}
}

// reload re-reads the configuration file and applies detector, policy and
// orchestration changes. The sink, server and logging settings need a
// restart. An invalid file leaves the running configuration untouched.
func (a *app) reload(ctx context.Context, path, projectDir string) error {
	cfg, err := config.LoadFrom(path, projectDir)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	syncErr := a.loader.Sync(ctx, cfg.Sources())
	if errors.Is(syncErr, registry.ErrReloadInProgress) {
		return syncErr
	}
	a.aggregator.SetPolicy(cfg.Policy())
	a.orchestrator.Reconfigure(cfg.Orchestrator())
	a.config = cfg

	if syncErr != nil {
		a.logger.Warn("configuration reloaded with detector errors", "error", syncErr)
	} else {
		a.logger.Info("configuration reloaded", "ready", a.registry.ReadyCount())
	}
	return nil
}

// Close releases detectors and the alert sink.
func (a *app) Close() error {
	a.registry.Close()
	if c, ok := a.sink.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
