package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"weave/pkg/daemon"
	"weave/pkg/domain"
)

// newFilesCmd creates the "weave files" subcommand group.
func newFilesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "files",
		Short: "Inspect a session's files through the daemon",
	}
	cmd.AddCommand(newFilesListCmd(), newFilesCatCmd())
	return cmd
}

func newFilesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <session-id>",
		Short: "List the session's files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := domain.ParseWorkflowID(args[0])
			if err != nil {
				return err
			}
			client, err := dialFromPaths()
			if err != nil {
				return err
			}
			defer client.Close()

			entries, err := client.ListSessionFiles(id)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no files")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, e := range entries {
				kind := "file"
				if e.IsDir {
					kind = "dir"
				}
				fmt.Fprintf(w, "%s\t%s\t%d\n", kind, e.Name, e.Size)
			}
			return w.Flush()
		},
	}
}

func newFilesCatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cat <session-id> <name>",
		Short: "Print one session file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := domain.ParseWorkflowID(args[0])
			if err != nil {
				return err
			}
			client, err := dialFromPaths()
			if err != nil {
				return err
			}
			defer client.Close()

			content, err := client.ReadSessionFile(id, args[1])
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), content.Data)
			if content.Truncated {
				fmt.Fprintf(cmd.ErrOrStderr(), "\n[truncated: %d of %d bytes shown]\n",
					len(content.Data), content.TotalSize)
			}
			return nil
		},
	}
}

func dialFromPaths() (*daemon.Client, error) {
	paths, err := ResolvePaths()
	if err != nil {
		return nil, fmt.Errorf("resolve paths: %w", err)
	}
	return daemon.Dial(paths.DataDir)
}
