package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/grovetools/agentwatch/cli"
	agentd "github.com/grovetools/agentwatch/internal/daemon"
	"github.com/grovetools/agentwatch/pkg/daemon"
	"github.com/grovetools/agentwatch/pkg/sessions"
)

func NewSessionsCmd() *cobra.Command {
	var all, watch bool
	cmd := &cobra.Command{
		Use:     "sessions",
		Aliases: []string{"ls"},
		Short:   "List tracked agent sessions",
		Long: "List session records. Records that share a pane are collapsed to the " +
			"most recently updated one unless --all is set. Works without the daemon.",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := newClient(cmd)
			if err != nil {
				return err
			}
			defer client.Close()
			jsonOut := cli.GetOptions(cmd).JSONOutput

			if watch {
				return watchSessions(cmd, client, jsonOut)
			}
			records, err := client.ListSessions(cmd.Context(), all)
			if err != nil {
				return err
			}
			return printSessions(cmd.OutOrStdout(), records, jsonOut, time.Now())
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "Include records sharing a pane")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Stream updates from the daemon")

	cmd.AddCommand(newSessionsKillCmd(), newSessionsSendCmd(), newSessionsNewCmd())
	return cmd
}

func watchSessions(cmd *cobra.Command, client daemon.Client, jsonOut bool) error {
	updates, err := client.StreamSessions(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for payload := range updates {
		records := make([]*sessions.Record, len(payload.Sessions))
		for i := range payload.Sessions {
			records[i] = &payload.Sessions[i].Record
		}
		if !jsonOut {
			fmt.Fprint(out, "\033[H\033[2J")
		}
		if err := printSessions(out, records, jsonOut, time.Now()); err != nil {
			return err
		}
	}
	return nil
}

func printSessions(out io.Writer, records []*sessions.Record, jsonOut bool, now time.Time) error {
	if jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}
	if len(records) == 0 {
		fmt.Fprintln(out, "No sessions")
		return nil
	}
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, []string{
			shortID(r.ID),
			string(r.State),
			r.Target(),
			truncate(r.Action(), 32),
			shortenHome(r.Cwd),
			humanize.RelTime(r.LastUpdate, now, "ago", "from now"),
		})
	}
	fmt.Fprintln(out, cli.RenderTable([]string{"ID", "STATE", "PANE", "ACTION", "CWD", "UPDATED"}, rows, cli.TerminalWidth()))
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func shortenHome(path string) string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return path
	}
	if rel, err := filepath.Rel(home, path); err == nil && !strings.HasPrefix(rel, "..") {
		if rel == "." {
			return "~"
		}
		return filepath.Join("~", rel)
	}
	return path
}

func newSessionsKillCmd() *cobra.Command {
	var whole bool
	cmd := &cobra.Command{
		Use:   "kill <id>",
		Short: "Kill a session's pane and delete its record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := newClient(cmd)
			if err != nil {
				return err
			}
			defer client.Close()
			if err := client.KillSession(cmd.Context(), args[0], whole); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Killed %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&whole, "session", false, "Kill the whole tmux session, not just the pane")
	return cmd
}

func newSessionsSendCmd() *cobra.Command {
	var key string
	var noEnter bool
	cmd := &cobra.Command{
		Use:   "send <id> [text]",
		Short: "Type text or a named key into a session's pane",
		Long:  "Named keys: cancel, interrupt, enter, tab, up, down, shift-tab",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := daemon.KeysRequest{Key: key}
			if len(args) == 2 {
				req.Text = args[1]
				req.Enter = !noEnter
			}
			client, _, err := newClient(cmd)
			if err != nil {
				return err
			}
			defer client.Close()
			return client.SendKeys(cmd.Context(), args[0], req)
		},
	}
	cmd.Flags().StringVarP(&key, "key", "k", "", "Send a named key instead of text")
	cmd.Flags().BoolVar(&noEnter, "no-enter", false, "Do not press Enter after the text")
	return cmd
}

func newSessionsNewCmd() *cobra.Command {
	var req daemon.CreateSessionRequest
	cmd := &cobra.Command{
		Use:   "new <name>",
		Short: "Start an agent in a new tmux session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Name = args[0]
			if req.Cwd == "" {
				req.Cwd, _ = os.Getwd()
			}
			client, _, err := newClient(cmd)
			if err != nil {
				return err
			}
			defer client.Close()
			rec, err := client.CreateSession(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s in %s\n", rec.ID, rec.Target())
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Cwd, "cwd", "", "Working directory (default: current)")
	cmd.Flags().StringVar(&req.Command, "command", "", "Command to run in the pane")
	cmd.Flags().StringVar(&req.LinkedTo, "link", "", "Link the new session to an existing one")
	return cmd
}

func NewCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete records of agents that are no longer running",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cli.LoadConfig(cmd)
			if err != nil {
				return err
			}
			store := sessions.NewStore(agentd.SessionsDir(cfg), cli.GetLogger(cmd, "sessions"))
			removed, err := store.CleanupStale()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", humanizePlural(removed, "stale record"))
			return nil
		},
	}
}

func humanizePlural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return humanize.Comma(int64(n)) + " " + noun + "s"
}
