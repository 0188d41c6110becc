package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"weave/pkg/daemon"
)

// newShutdownCmd creates the "weave shutdown" subcommand.
func newShutdownCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shutdown",
		Short: "Ask the session daemon to exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := ResolvePaths()
			if err != nil {
				return fmt.Errorf("resolve paths: %w", err)
			}

			client, err := daemon.Dial(paths.DataDir)
			if err != nil {
				if errors.Is(err, daemon.ErrDaemonNotRunning) {
					fmt.Fprintln(cmd.OutOrStdout(), "daemon is not running")
					return nil
				}
				return err
			}
			defer client.Close()

			if err := client.Shutdown(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "shutdown requested")
			return nil
		},
	}
}
