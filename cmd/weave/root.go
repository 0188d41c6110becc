package main

import (
	"fmt"

	"weave/internal/buildinfo"

	"github.com/spf13/cobra"
)

// newRootCmd creates the root weave command with all subcommands attached.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "weave",
		Short:         "Weave work-session orchestrator",
		Long:          "weave orchestrates long-running AI work sessions.\nIt runs the session daemon and drives workflows through plan, review,\nrevise and implement phases.",
		Version:       fmt.Sprintf("weave %s", buildinfo.String()),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("{{.Version}}\n")

	cmd.AddCommand(
		newDaemonCmd(),
		newStartCmd(),
		newStatusCmd(),
		newSessionsCmd(),
		newStopCmd(),
		newShutdownCmd(),
		newUpgradeCmd(),
		newLogsCmd(),
		newFilesCmd(),
	)

	return cmd
}
