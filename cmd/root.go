// Package cmd implements the agentwatch command line.
package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/grovetools/agentwatch/cli"
	"github.com/grovetools/agentwatch/config"
	agentd "github.com/grovetools/agentwatch/internal/daemon"
	"github.com/grovetools/agentwatch/pkg/daemon"
	"github.com/grovetools/agentwatch/pkg/profiling"
)

// NewRootCmd assembles the command tree.
func NewRootCmd() *cobra.Command {
	root := cli.NewStandardCommand("agentwatch", "Track AI agent sessions running in tmux")
	root.Long = "agentwatch records the lifecycle of coding agents from their hooks, " +
		"inspects their tmux panes, and streams session and terminal state to observers."

	root.AddCommand(
		NewServeCmd(),
		NewStopCmd(),
		NewStatusCmd(),
		NewHookCmd(),
		NewSessionsCmd(),
		NewCleanupCmd(),
		NewParseCmd(),
		NewAuditCmd(),
		NewBatchCmd(),
		NewSchemaCmd(),
		cli.NewVersionCommand("agentwatch"),
	)
	profiler := profiling.NewCobraProfiler()
	profiler.AddFlags(root)
	root.PersistentPreRunE = profiler.PreRun
	root.PersistentPostRun = profiler.PostRun

	cli.SetStyledHelp(root)
	return root
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	root := NewRootCmd()
	cmd, err := root.ExecuteC()
	if err == nil {
		return 0
	}
	if cmd == nil {
		cmd = root
	}
	if code := exitCode(err); code >= 0 {
		return code
	}
	cli.NewErrorHandler(os.Stderr, cli.GetOptions(cmd).Verbose).Handle(err)
	return 1
}

// exitError ends the process with a specific code and no message.
type exitError int

func (e exitError) Error() string { return "exit" }

func exitCode(err error) int {
	if e, ok := err.(exitError); ok {
		return int(e)
	}
	return -1
}

// newClient returns a daemon client, falling back to reading the session
// store directly when the daemon is down.
func newClient(cmd *cobra.Command) (daemon.Client, *config.Config, error) {
	cfg, err := cli.LoadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	return daemon.New(cfg.Server.Addr(), agentd.SessionsDir(cfg)), cfg, nil
}
