package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/brad07/threatscope/plugins"
)

func newDetectorsCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "detectors",
		Short: "Load the configured detectors and show their state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "CAPABILITY\tSTATE\tLOCATION\tLOADED\tREASON")
			for _, s := range a.registry.States() {
				loaded := "-"
				if !s.LoadedAt.IsZero() {
					loaded = s.LoadedAt.Format(time.RFC3339)
				}
				reason := s.Reason
				if reason == "" {
					reason = s.LastError
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", s.Capability, s.LoadState, s.Location, loaded, reason)
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			fmt.Fprintf(out, "\n%d ready. Builtins: %s\n", a.registry.ReadyCount(), strings.Join(plugins.Builtins(), ", "))
			return nil
		},
	}
}
