package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"weave/pkg/audit"
	"weave/pkg/domain"
)

// newLogsCmd creates the "weave logs" subcommand.
func newLogsCmd() *cobra.Command {
	var (
		sessionFlag string
		opFlag      string
		tailFlag    int
		sinceFlag   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Query the daemon's operation audit log",
		Long:  "Reads the audit database directly, so it works whether or not the\ndaemon is running.",
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := ResolvePaths()
			if err != nil {
				return fmt.Errorf("resolve paths: %w", err)
			}

			opts := audit.QueryOpts{Op: opFlag, Limit: tailFlag}
			if sessionFlag != "" {
				id, err := domain.ParseWorkflowID(sessionFlag)
				if err != nil {
					return err
				}
				opts.SessionID = id
			}
			if sinceFlag > 0 {
				opts.Since = time.Now().Add(-sinceFlag)
			}

			reader, err := audit.OpenReader(paths.AuditPath)
			if err != nil {
				return err
			}
			defer reader.Close()

			entries, err := reader.Query(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no matching entries")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tOP\tSESSION\tDETAIL")
			for _, e := range entries {
				session := e.SessionID.String()
				if session == "" {
					session = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					e.At.Local().Format("2006-01-02 15:04:05"), e.Op, session, e.Detail)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&sessionFlag, "session", "", "only entries for this session id")
	cmd.Flags().StringVar(&opFlag, "op", "", "only entries for this operation (register, update, force_stop, sweep, upgrade, shutdown)")
	cmd.Flags().IntVar(&tailFlag, "tail", 50, "maximum number of entries (0 for all)")
	cmd.Flags().DurationVar(&sinceFlag, "since", 0, "only entries newer than this (e.g. 1h, 30m)")
	return cmd
}
