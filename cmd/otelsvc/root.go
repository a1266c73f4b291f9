package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Version is set during build time
	Version = "dev"
	// GitCommit is set during build time
	GitCommit = "unknown"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "otelsvc",
		Short: "Demo HTTP service instrumented with OpenTelemetry",
		Long: `otelsvc serves a small JSON API and exports traces, metrics and
structured logs for every request it handles.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "otelsvc %s (commit %s)\n", Version, GitCommit)
		},
	}
}
