package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/grovetools/agentwatch/cli"
	"github.com/grovetools/agentwatch/pkg/audit"
	"github.com/grovetools/agentwatch/pkg/paths"
)

func NewAuditCmd() *cobra.Command {
	var n int
	var follow bool
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show recent hook invocations",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			jsonOut := cli.GetOptions(cmd).JSONOutput
			path := paths.AuditLogPath()

			entries, err := audit.Last(path, n)
			if err != nil {
				return err
			}
			for _, e := range entries {
				printAuditEntry(out, e, jsonOut)
			}
			if !follow {
				return nil
			}
			return audit.Follow(cmd.Context(), path, func(e audit.Entry) {
				printAuditEntry(out, e, jsonOut)
			})
		},
	}
	cmd.Flags().IntVarP(&n, "lines", "n", 20, "Number of entries to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new entries")
	return cmd
}

func printAuditEntry(out io.Writer, e audit.Entry, jsonOut bool) {
	if jsonOut {
		data, _ := json.Marshal(e)
		fmt.Fprintln(out, string(data))
		return
	}
	p := cli.DefaultPalette
	line := fmt.Sprintf("%s %-18s %s", p.Muted.Render(e.Time.Local().Format("15:04:05")), e.Event, shortID(e.SessionID))
	if e.State != "" {
		line += " " + e.State
	}
	if e.Action != "" {
		line += " " + p.Muted.Render(truncate(e.Action, 40))
	}
	if e.Error != "" {
		line += " " + p.Error.Render(e.Error)
	}
	fmt.Fprintln(out, line)
}
