package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"weave/internal/buildinfo"
	"weave/internal/logging"
	"weave/pkg/config"
	"weave/pkg/daemon"
	"weave/pkg/domain"
	"weave/pkg/eventstore"
	"weave/pkg/session"
	"weave/pkg/workflow"
)

const heartbeatInterval = 10 * time.Second

// newStartCmd creates the "weave start" subcommand.
func newStartCmd() *cobra.Command {
	var (
		idFlag  string
		noColor bool
	)

	cmd := &cobra.Command{
		Use:   "start <definition.yaml>",
		Short: "Start a workflow session from a definition file",
		Long:  "Creates the workflow described by the definition, begins planning,\nand runs in the foreground: heartbeating to the daemon (when one is\nup) and pushing phase changes until interrupted.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := ResolvePaths()
			if err != nil {
				return fmt.Errorf("resolve paths: %w", err)
			}
			cfg, err := config.Load(paths.ConfigPath)
			if err != nil {
				return err
			}
			def, err := config.LoadDefinition(args[0])
			if err != nil {
				return err
			}

			id := domain.NewWorkflowID()
			if idFlag != "" {
				id, err = domain.ParseWorkflowID(idFlag)
				if err != nil {
					return err
				}
			}

			logger := logging.New(logging.Options{
				Level:   logging.ParseLevel(cfg.LogLevel),
				NoColor: noColor,
			})

			store := eventstore.New(sessionDataDir(paths, cfg, id), cfg.SnapshotEvery)
			sup := session.NewSupervisor(id, store, logger)
			if err := sup.Start(); err != nil {
				return err
			}
			defer sup.Stop()

			ctx := cmd.Context()
			create := workflow.CreateWorkflow(id, def.Feature, def.Objective,
				def.MaxIterations, def.Reviewers, def.ReviewMode)
			res, err := sup.Submit(ctx, create)
			if err != nil {
				return err
			}
			if res.Err != nil {
				return res.Err
			}
			res, err = sup.Submit(ctx, workflow.StartPlanning())
			if err != nil {
				return err
			}
			if res.Err != nil {
				return res.Err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "session %s started (feature %q, phase %s)\n",
				id, def.Feature, res.View.Workflow.Phase)

			client := registerWithDaemon(paths.DataDir, id, def.Feature, res.View, logger)
			if client != nil {
				defer client.Close()
			}

			return runSession(cmd, sup, client, id, logger)
		},
	}

	cmd.Flags().StringVar(&idFlag, "id", "", "use a fixed session id instead of generating one")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "disable colored log output")
	return cmd
}

// sessionDataDir places each session's event log under the daemon's
// per-session directory so the scoped file service can serve it.
func sessionDataDir(paths *Paths, cfg config.Config, id domain.WorkflowID) string {
	dataDir := paths.DataDir
	if cfg.DataDir != "" {
		dataDir = cfg.DataDir
	}
	return filepath.Join(dataDir, "sessions", id.String())
}

// registerWithDaemon registers the session if a daemon is reachable.
// A missing daemon is not an error; the session runs standalone.
func registerWithDaemon(dataDir string, id domain.WorkflowID, feature string, view workflow.View, logger *slog.Logger) *daemon.Client {
	client, err := daemon.Dial(dataDir)
	if err != nil {
		if errors.Is(err, daemon.ErrDaemonNotRunning) {
			logger.Info("no session daemon, running standalone")
		} else {
			logger.Warn("daemon unavailable, running standalone", "error", err)
		}
		return nil
	}

	wd, _ := os.Getwd()
	rec := daemon.SessionRecord{
		SessionID:   id,
		FeatureName: feature,
		WorkingDir:  wd,
		Phase:       view.Workflow.Phase,
		Iteration:   view.Workflow.Iteration,
		PID:         os.Getpid(),
	}
	daemonSHA, err := client.Register(rec)
	if err != nil {
		logger.Warn("daemon registration failed, running standalone", "error", err)
		client.Close()
		return nil
	}
	if daemonSHA != buildinfo.SHA() {
		logger.Warn("daemon was built from a different commit",
			"daemon_sha", daemonSHA, "our_sha", buildinfo.SHA())
	}
	return client
}

// runSession blocks until interrupted, forwarding heartbeats and phase
// changes to the daemon when one is attached.
func runSession(cmd *cobra.Command, sup *session.Supervisor, client *daemon.Client, id domain.WorkflowID, logger *slog.Logger) error {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)

	views := sup.WatchView()
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case s := <-sig:
			fmt.Fprintf(cmd.OutOrStdout(), "%s received, leaving session %s\n", s, id)
			return nil
		case v := <-views:
			if client == nil {
				continue
			}
			if _, err := client.Update(id, v.Workflow.Phase, v.Workflow.Iteration, string(v.Workflow.Phase)); err != nil {
				logger.Warn("state push failed", "error", err)
			}
		case <-ticker.C:
			if client == nil {
				continue
			}
			if err := client.Heartbeat(id); err != nil {
				logger.Warn("heartbeat failed", "error", err)
			}
		}
	}
}
