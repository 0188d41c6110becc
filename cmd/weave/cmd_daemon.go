package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"weave/internal/logging"
	"weave/pkg/config"
	"weave/pkg/daemon"
)

// newDaemonCmd creates the "weave daemon" subcommand.
func newDaemonCmd() *cobra.Command {
	var noColor bool

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the session daemon in the foreground",
		Long:  "Starts the session registry daemon.\nIt serves the authenticated control socket, pushes session changes to\nsubscribers, and sweeps liveness until interrupted or upgraded away.",
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := ResolvePaths()
			if err != nil {
				return fmt.Errorf("resolve paths: %w", err)
			}
			cfg, err := config.Load(paths.ConfigPath)
			if err != nil {
				return err
			}

			logger := logging.New(logging.Options{
				Level:   logging.ParseLevel(cfg.LogLevel),
				NoColor: noColor,
			})

			// The registry reads the threshold env vars on every sweep;
			// config values seed them when the user has not set them.
			seedEnv(daemon.EnvUnresponsiveSecs, cfg.UnresponsiveSecs)
			seedEnv(daemon.EnvStaleSecs, cfg.StaleSecs)

			srv, err := daemon.NewServer(daemon.Config{
				DataDir: paths.DataDir,
				Logger:  logger,
			})
			if err != nil {
				return err
			}
			if err := srv.Start(); err != nil {
				return err
			}

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			select {
			case s := <-sig:
				logger.Info("signal received, shutting down", "signal", s.String())
				srv.Shutdown()
			case <-srv.Done():
				// Shutdown came over RPC (shutdown request or granted
				// upgrade). Give the goroutine a moment to finish cleanup.
				time.Sleep(100 * time.Millisecond)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&noColor, "no-color", false, "disable colored log output")
	return cmd
}

func seedEnv(key string, secs uint32) {
	if os.Getenv(key) == "" && secs > 0 {
		os.Setenv(key, fmt.Sprintf("%d", secs))
	}
}
