package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"weave/pkg/config"
	"weave/pkg/daemon"
	"weave/pkg/domain"
	"weave/pkg/eventstore"
	"weave/pkg/session"
)

// newStatusCmd creates the "weave status" subcommand.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <session-id>",
		Short: "Show a workflow session's current state",
		Long:  "Rebuilds the session's state from its event log and, when a daemon\nis reachable, adds the registry's liveness classification.",
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
			cfg, err := config.Load(paths.ConfigPath)
			if err != nil {
				return err
			}

			store := eventstore.New(sessionDataDir(paths, cfg, id), cfg.SnapshotEvery)
			view, err := session.BootstrapView(store, id)
			if err != nil {
				return err
			}
			if !view.Initialized() {
				return fmt.Errorf("no events recorded for session %s", id)
			}

			out := cmd.OutOrStdout()
			wf := view.Workflow
			fmt.Fprintf(out, "session:    %s\n", wf.ID)
			fmt.Fprintf(out, "feature:    %s\n", wf.Feature)
			fmt.Fprintf(out, "phase:      %s\n", wf.Phase)
			fmt.Fprintf(out, "iteration:  %d of %d\n", wf.Iteration, wf.MaxIterations)
			fmt.Fprintf(out, "reviewers:  %d (%s mode)\n", len(wf.Reviewers), wf.ReviewMode)
			if wf.Implementation != nil {
				fmt.Fprintf(out, "impl phase: %s (iteration %d of %d)\n",
					wf.Implementation.Phase, wf.Implementation.Iteration, wf.Implementation.MaxIterations)
			}
			if len(view.CurrentCycleReviews) > 0 {
				fmt.Fprintf(out, "cycle:      %d review(s) recorded\n", len(view.CurrentCycleReviews))
			}
			if len(wf.Failures) > 0 {
				last := wf.Failures[len(wf.Failures)-1]
				fmt.Fprintf(out, "failures:   %d (last: %s from %s)\n", len(wf.Failures), last.Kind, last.Agent)
			}
			fmt.Fprintf(out, "events:     %d\n", view.LastEventSequence)

			// Liveness lives in the daemon, not the event log; a missing
			// daemon just omits the line.
			client, err := daemon.Dial(paths.DataDir)
			if err != nil {
				return nil
			}
			defer client.Close()
			if rec, err := client.Get(id); err == nil {
				fmt.Fprintf(out, "liveness:   %s (heartbeat %s)\n", rec.Liveness, formatAge(rec.LastHeartbeat))
			}
			return nil
		},
	}
}
