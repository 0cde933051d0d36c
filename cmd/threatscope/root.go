package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/brad07/threatscope/pkg/config"
	"github.com/brad07/threatscope/pkg/logging"
)

var version = "0.1.0"

type rootOptions struct {
	ConfigPath string
	ProjectDir string
	LogLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "threatscope",
		Short:         "Multi-detector threat analysis for text and files",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}
	cmd.SetVersionTemplate("threatscope version {{.Version}}\n")

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.ConfigPath, "config", "", "Path to config.yaml (default ~/.threatscope/config.yaml)")
	flags.StringVar(&opts.ProjectDir, "project", ".", "Directory searched for .threatscope/detectors.yaml overrides")
	flags.StringVar(&opts.LogLevel, "log-level", "", "Override the configured log level")

	cmd.AddCommand(
		newServeCmd(opts),
		newScanCmd(opts),
		newDetectorsCmd(opts),
		newInitCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// configPath returns the config file in use.
func (o *rootOptions) configPath() (string, error) {
	if o.ConfigPath != "" {
		return config.ExpandPath(o.ConfigPath)
	}
	return config.DefaultConfigPath()
}

// load reads the configuration and builds the logger it asks for. Logs go to
// stderr so scan output on stdout stays machine readable.
func (o *rootOptions) load(stderr io.Writer) (*config.Config, *slog.Logger, error) {
	path, err := o.configPath()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to determine config path: %w", err)
	}
	cfg, err := config.LoadFrom(path, o.ProjectDir)
	if err != nil {
		return nil, nil, err
	}
	if o.LogLevel != "" {
		cfg.Logging.Level = o.LogLevel
	}
	logger, err := logging.New(cfg.Logging, stderr)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "threatscope %s\n", version)
		},
	}
}
