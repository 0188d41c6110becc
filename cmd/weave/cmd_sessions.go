package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"weave/pkg/daemon"
)

// newSessionsCmd creates the "weave sessions" subcommand.
func newSessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List sessions known to the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := ResolvePaths()
			if err != nil {
				return fmt.Errorf("resolve paths: %w", err)
			}

			client, err := daemon.Dial(paths.DataDir)
			if err != nil {
				return err
			}
			defer client.Close()

			sessions, err := client.List()
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no sessions registered")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SESSION\tFEATURE\tPHASE\tITER\tLIVENESS\tLAST HEARTBEAT\tPID")
			for _, s := range sessions {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%d\n",
					s.SessionID, s.FeatureName, s.Phase, s.Iteration,
					s.Liveness, formatAge(s.LastHeartbeat), s.PID)
			}
			return w.Flush()
		},
	}
}

func formatAge(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	age := time.Since(t).Round(time.Second)
	if age < 0 {
		age = 0
	}
	return fmt.Sprintf("%s ago", age)
}
