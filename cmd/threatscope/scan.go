package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/cobra"

	"github.com/brad07/threatscope/pkg/detector"
	"github.com/brad07/threatscope/pkg/risk"
)

// exitError carries a process exit code without an error message.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

type scanOptions struct {
	output string
	failOn string
}

func newScanCmd(root *rootOptions) *cobra.Command {
	opts := &scanOptions{}

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Analyze text or a file once and print the report",
	}
	cmd.PersistentFlags().StringVarP(&opts.output, "output", "o", "text", "Output format: text or json")
	cmd.PersistentFlags().StringVar(&opts.failOn, "fail-on", "", "Exit with status 2 when the risk level is at least this level")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "text [text...]",
			Short: "Analyze text given as arguments, or '-' for stdin",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				text := strings.Join(args, " ")
				if len(args) == 1 && args[0] == "-" {
					b, err := io.ReadAll(cmd.InOrStdin())
					if err != nil {
						return fmt.Errorf("failed to read stdin: %w", err)
					}
					text = string(b)
				}
				in, err := detector.NewTextInput(text)
				if err != nil {
					return err
				}
				return runScan(cmd, root, opts, in)
			},
		},
		&cobra.Command{
			Use:   "file <path>",
			Short: "Analyze a file",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				data, err := os.ReadFile(args[0])
				if err != nil {
					return fmt.Errorf("failed to read file: %w", err)
				}
				in, err := detector.NewFileInput(data, filepath.Base(args[0]), mimetype.Detect(data).String())
				if err != nil {
					return err
				}
				return runScan(cmd, root, opts, in)
			},
		},
	)
	return cmd
}

func runScan(cmd *cobra.Command, root *rootOptions, opts *scanOptions, in *detector.Input) error {
	var threshold risk.Level
	if opts.failOn != "" {
		l, err := risk.ParseLevel(opts.failOn)
		if err != nil {
			return err
		}
		threshold = l
	}
	if opts.output != "text" && opts.output != "json" {
		return fmt.Errorf("unsupported output format %q", opts.output)
	}

	cfg, logger, err := root.load(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.orchestrator.Run(cmd.Context(), in)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if opts.output == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		printReport(out, report)
	}

	if threshold != "" && report.RiskLevel.AtLeast(threshold) {
		return &exitError{code: 2}
	}
	return nil
}

func printReport(w io.Writer, r *risk.Report) {
	fmt.Fprintf(w, "Request:  %s\n", r.RequestID)
	fmt.Fprintf(w, "Risk:     %s (%.2f)\n", r.RiskLevel, r.OverallRiskScore)
	if r.Degraded {
		fmt.Fprintln(w, "Degraded: one or more detectors did not produce a verdict")
	}
	fmt.Fprintln(w)

	caps := make([]detector.Capability, 0, len(r.PerCapabilityResults))
	for c := range r.PerCapabilityResults {
		caps = append(caps, c)
	}
	sort.Slice(caps, func(i, j int) bool { return caps[i].Rank() < caps[j].Rank() })

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CAPABILITY\tSTATUS\tCONFIDENCE\tSEVERITY")
	for _, c := range caps {
		res := r.PerCapabilityResults[c]
		conf := "-"
		if res.Confidence != nil {
			conf = fmt.Sprintf("%.2f", *res.Confidence)
		}
		severity := "-"
		if contrib, ok := r.ContributionFor(c); ok {
			severity = string(contrib.Severity)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c, res.Status, conf, severity)
	}
	tw.Flush()

	if len(r.FindingsSummary) > 0 {
		fmt.Fprintln(w, "\nFindings:")
		for _, f := range r.FindingsSummary {
			fmt.Fprintf(w, "  - %s\n", f)
		}
	}
	if len(r.AlertsCreated) > 0 {
		fmt.Fprintf(w, "\nAlerts:   %s\n", strings.Join(r.AlertsCreated, ", "))
	}
}

func exitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return 1
}
