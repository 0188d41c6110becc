package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"weave/pkg/daemon"
	"weave/pkg/domain"
)

// newStopCmd creates the "weave stop" subcommand.
func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <session-id>",
		Short: "Force-stop a registered session",
		Long:  "Marks the session stopped in the daemon registry regardless of its\nheartbeat. The owning process is not signalled.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := domain.ParseWorkflowID(args[0])
			if err != nil {
				return err
			}

			paths, err := ResolvePaths()
			if err != nil {
				return fmt.Errorf("resolve paths: %w", err)
			}
			client, err := daemon.Dial(paths.DataDir)
			if err != nil {
				return err
			}
			defer client.Close()

			if err := client.ForceStop(id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "session %s marked stopped\n", id)
			return nil
		},
	}
}
