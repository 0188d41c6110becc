package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"weave/internal/buildinfo"
	"weave/pkg/daemon"
)

// newUpgradeCmd creates the "weave upgrade" subcommand.
func newUpgradeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upgrade",
		Short: "Ask the running daemon to yield to this binary",
		Long:  "Offers this binary's build timestamp to the running daemon. The\ndaemon shuts down only when the offer is strictly newer than its own\nbuild; dev builds without a timestamp are always refused.",
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := ResolvePaths()
			if err != nil {
				return fmt.Errorf("resolve paths: %w", err)
			}

			// Upgrade negotiation is deliberately token-free so a newer
			// binary can displace a daemon whose token it cannot read.
			client, err := daemon.DialUnauthenticated(paths.DataDir)
			if err != nil {
				if errors.Is(err, daemon.ErrDaemonNotRunning) {
					fmt.Fprintln(cmd.OutOrStdout(), "daemon is not running")
					return nil
				}
				return err
			}
			defer client.Close()

			theirs, err := client.BuildTimestamp()
			if err != nil {
				return err
			}
			ours := buildinfo.Timestamp()

			granted, err := client.RequestUpgrade(ours)
			if err != nil {
				return err
			}
			if !granted {
				fmt.Fprintf(cmd.OutOrStdout(),
					"upgrade refused: daemon build %d, ours %d\n", theirs, ours)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(),
				"upgrade granted: daemon build %d yielding to %d\n", theirs, ours)
			return nil
		},
	}
}
