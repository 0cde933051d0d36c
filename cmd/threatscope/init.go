package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/brad07/threatscope/pkg/config"
)

func newInitCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := root.configPath()
			if err != nil {
				return err
			}
			written, created, err := config.Initialize(path)
			if err != nil {
				return err
			}
			if !created {
				fmt.Fprintf(cmd.OutOrStdout(), "Config already exists at %s\n", written)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote default config to %s\n", written)
			return nil
		},
	}
}
