package cmd

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/grovetools/agentwatch/cli"
	agentd "github.com/grovetools/agentwatch/internal/daemon"
	"github.com/grovetools/agentwatch/internal/daemon/pidfile"
	"github.com/grovetools/agentwatch/logging"
	"github.com/grovetools/agentwatch/pkg/daemon"
	"github.com/grovetools/agentwatch/pkg/paths"
)

func NewServeCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon in the foreground",
		Long: "Serve the sessions, terminal and beads channels plus the REST API. " +
			"Only one daemon runs per state directory; the pid file guards it.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cli.LoadConfig(cmd)
			if err != nil {
				return err
			}
			if port > 0 {
				cfg.Server.Port = port
			}
			if err := paths.EnsureDirs(); err != nil {
				return fmt.Errorf("failed to create state directories: %w", err)
			}
			logger := cli.GetLogger(cmd, "agentwatch")

			pidPath := paths.PidFilePath()
			addr := cfg.Server.Addr()
			if err := pidfile.Acquire(pidPath, addr); err != nil {
				return fmt.Errorf("failed to start: %w", err)
			}
			defer func() {
				if err := pidfile.Release(pidPath); err != nil {
					logger.WithError(err).Error("Failed to release pidfile")
				}
			}()

			listener, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("failed to listen on %s: %w", addr, err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			d := agentd.New(cfg)
			logger.WithField("pid", os.Getpid()).WithField("sessions_dir", d.Store.Dir()).Info("Starting daemon")
			start := time.Now()
			if err := d.Run(ctx, listener); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			logging.NewPrettyLogger().WithWriter(cmd.ErrOrStderr()).
				Success(fmt.Sprintf("Daemon stopped after %s", time.Since(start).Round(time.Second)))
			return nil
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "Override server.port")
	return cmd
}

func NewStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			running, info, err := pidfile.IsRunning(paths.PidFilePath())
			if err != nil {
				return fmt.Errorf("error checking status: %w", err)
			}
			if !running {
				fmt.Fprintln(cmd.OutOrStdout(), "Daemon is not running")
				return nil
			}

			process, err := os.FindProcess(info.PID)
			if err != nil {
				return fmt.Errorf("failed to find process %d: %w", info.PID, err)
			}
			if err := process.Signal(syscall.SIGTERM); err != nil {
				return fmt.Errorf("failed to send stop signal: %w", err)
			}
			logging.NewPrettyLogger().WithWriter(cmd.OutOrStdout()).
				Success(fmt.Sprintf("Sent SIGTERM to process %d", info.PID))
			return nil
		},
	}
}

func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check daemon status",
		Long:  "Print the daemon's pid and address. Exits 1 when it is stopped.",
		RunE: func(cmd *cobra.Command, args []string) error {
			running, info, err := pidfile.IsRunning(paths.PidFilePath())
			if err != nil {
				return fmt.Errorf("error: %w", err)
			}
			out := cmd.OutOrStdout()
			if !running {
				fmt.Fprintln(out, "Stopped")
				return exitError(1)
			}
			pretty := logging.NewPrettyLogger().WithWriter(out)
			pretty.Success("Running")
			pretty.Field("pid", info.PID)
			if info.Addr != "" {
				pretty.Field("address", "http://"+info.Addr)
			}
			pretty.Path("pidfile", paths.PidFilePath())

			var client daemon.Client = daemon.NewRemoteClient(info.Addr)
			if info.Addr == "" {
				if client, _, err = newClient(cmd); err != nil {
					return err
				}
			}
			defer client.Close()
			if !client.IsRunning() {
				pretty.Warn("Daemon is not answering health checks")
				return nil
			}
			stats, err := client.Stats(cmd.Context())
			if err != nil {
				return err
			}
			pretty.Field("observers", fmt.Sprintf("%d sessions, %d terminal, %d beads",
				stats.Sessions.Current, stats.Terminal.Current, stats.Beads.Current))
			return nil
		},
	}
}
