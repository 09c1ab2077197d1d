package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/grovetools/agentwatch/cli"
	"github.com/grovetools/agentwatch/git"
	agentd "github.com/grovetools/agentwatch/internal/daemon"
	"github.com/grovetools/agentwatch/pkg/audit"
	"github.com/grovetools/agentwatch/pkg/paths"
	"github.com/grovetools/agentwatch/pkg/profiling"
	"github.com/grovetools/agentwatch/pkg/sessions"
	"github.com/grovetools/agentwatch/pkg/tmux"
)

// hookBudget bounds everything a hook does; the agent waits on it.
const hookBudget = 5 * time.Second

// maxHookPayload caps what is read from stdin.
const maxHookPayload = 4 << 20

type hookOptions struct {
	pid    int
	strict bool
}

func NewHookCmd() *cobra.Command {
	var opts hookOptions
	cmd := &cobra.Command{
		Use:   "hook <event>",
		Short: "Record an agent lifecycle event",
		Long: "Reads the agent's hook payload from stdin, applies the event to the " +
			"session record and appends it to the audit log. Failures are reported " +
			"on stderr but exit 0 unless --strict is set, so a broken hook never " +
			"blocks the agent.",
		Example: "# in the agent's hook configuration\n" +
			"agentwatch hook pre-tool-use\n" +
			"agentwatch hook Notification",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := runHook(cmd, args[0], opts)
			if err != nil && !opts.strict {
				fmt.Fprintf(cmd.ErrOrStderr(), "agentwatch hook: %v\n", err)
				return nil
			}
			return err
		},
	}
	cmd.Flags().IntVar(&opts.pid, "pid", 0, "Owning agent process (default: parent process)")
	cmd.Flags().BoolVar(&opts.strict, "strict", false, "Exit non-zero when the event cannot be recorded")
	return cmd
}

func runHook(cmd *cobra.Command, event string, opts hookOptions) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), hookBudget)
	defer cancel()
	timer := profiling.FromContext(ctx)
	defer timer.Start("hook " + event).Stop()

	cfg, err := cli.LoadConfig(cmd)
	if err != nil {
		return err
	}
	logger := cli.GetLogger(cmd, "hook")

	payload, err := readPayload(cmd.InOrStdin())
	if err != nil {
		return err
	}

	entry := audit.Entry{Time: time.Now().UTC(), Event: event, Payload: json.RawMessage(payload)}
	defer func() {
		if err := audit.Append(paths.AuditLogPath(), entry); err != nil {
			logger.WithError(err).Debug("Failed to append audit entry")
		}
	}()

	ev, err := sessions.DecodeHook(payload, event)
	if err != nil {
		entry.Error = err.Error()
		return err
	}
	entry.Event = string(ev.Event)
	entry.SessionID = ev.SessionID

	ev.PID = opts.pid
	if ev.PID == 0 {
		ev.PID = os.Getppid()
	}
	if ev.Cwd == "" {
		ev.Cwd, _ = os.Getwd()
	}
	span := timer.Start("git root")
	ev.GitRoot = git.NewResolver(nil).Root(ctx, ev.Cwd)
	span.Stop()

	span = timer.Start("tmux pane")
	tmuxClient := tmux.NewClient(tmux.WithBinary(cfg.Tmux.Binary), tmux.WithLogger(logger))
	if target, ok := tmuxClient.ResolveCurrentPane(ctx); ok {
		ev.TmuxTarget = target
	}
	span.Stop()

	span = timer.Start("apply")
	store := sessions.NewStore(agentd.SessionsDir(cfg), logger)
	rec, err := store.Apply(ev)
	span.Stop()
	if err != nil {
		entry.Error = err.Error()
		return err
	}
	if rec != nil {
		entry.State = string(rec.State)
		entry.Action = rec.Action()
	}
	logger.WithField("session", ev.SessionID).WithField("event", ev.Event).Debug("Hook applied")
	return nil
}

// readPayload returns stdin unless it is an interactive terminal.
func readPayload(in io.Reader) ([]byte, error) {
	if f, ok := in.(*os.File); ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		return nil, nil
	}
	data, err := io.ReadAll(io.LimitReader(in, maxHookPayload))
	if err != nil {
		return nil, fmt.Errorf("failed to read hook payload: %w", err)
	}
	return data, nil
}
