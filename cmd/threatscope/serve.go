package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/brad07/threatscope/pkg/alert"
	"github.com/brad07/threatscope/pkg/detector"
	"github.com/brad07/threatscope/pkg/registry"
	"github.com/brad07/threatscope/pkg/server"
	"github.com/brad07/threatscope/plugins"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var (
		host string
		port int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the analysis HTTP service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("host") {
				cfg.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			path, err := root.configPath()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					logger.Error("failed to close", "error", err)
				}
			}()

			srv := server.New(server.Config{
				Host:            cfg.Server.Host,
				Port:            cfg.Server.Port,
				ReadTimeout:     cfg.Server.ReadTimeout,
				WriteTimeout:    cfg.Server.WriteTimeout,
				ShutdownTimeout: cfg.Server.ShutdownTimeout,
				MaxUploadBytes:  cfg.MaxUploadBytes(),
				RateLimitRPS:    cfg.Server.RateLimitRPS,
				RateLimitBurst:  cfg.Server.RateLimitBurst,
			}, a.orchestrator, a.registry, logger)
			srv.SetReloader(a.loader)
			srv.SetBuiltins(plugins.Builtins())
			if q, ok := a.sink.(alert.Querier); ok {
				srv.SetAlerts(q)
			}

			if cfg.Watch.Enabled {
				w, err := registry.NewWatcher(registry.WatcherConfig{
					ConfigPath:       path,
					DebounceInterval: cfg.Watch.Debounce,
					OnReload: func(ctx context.Context) error {
						return a.reload(ctx, path, root.ProjectDir)
					},
				}, logger)
				if err != nil {
					logger.Warn("config watching disabled", "error", err)
				} else if err := w.Start(ctx); err != nil {
					logger.Warn("config watching disabled", "error", err)
				} else {
					defer w.Stop()
				}
			}

			health := registry.NewHealthMonitor(a.registry, registry.HealthMonitorConfig{
				CheckInterval: cfg.Watch.HealthInterval,
				CheckTimeout:  cfg.Analysis.DetectorTimeout,
				OnUnhealthy: func(c detector.Capability, err error) {
					logger.Warn("detector degraded", "capability", c, "error", err)
				},
				OnRecovered: func(c detector.Capability) {
					logger.Info("detector recovered", "capability", c)
				},
			})
			health.Start(ctx)
			defer health.Stop()

			if err := srv.Start(); err != nil {
				return err
			}
			logger.Info("threatscope started",
				"version", version,
				"addr", srv.Addr(),
				"detectors_ready", a.registry.ReadyCount(),
				"alert_sink", cfg.Alerts.Sink)

			<-ctx.Done()
			logger.Info("received shutdown signal")
			return srv.Stop()
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Override the listen host")
	cmd.Flags().IntVar(&port, "port", 0, "Override the listen port")
	return cmd
}
