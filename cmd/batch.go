package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/grovetools/agentwatch/cli"
	"github.com/grovetools/agentwatch/internal/daemon/batch"
	"github.com/grovetools/agentwatch/pkg/daemon"
)

func NewBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Feed tracker tasks to an agent one at a time",
	}
	cmd.AddCommand(
		newBatchStartCmd(),
		newBatchListCmd(),
		newBatchRunCmd("get", "Show a run", func(c daemon.Client, cmd *cobra.Command, id string) (*batch.Run, error) {
			return c.GetBatch(cmd.Context(), id)
		}),
		newBatchRunCmd("pause", "Pause a run after its current task", func(c daemon.Client, cmd *cobra.Command, id string) (*batch.Run, error) {
			return c.PauseBatch(cmd.Context(), id)
		}),
		newBatchRunCmd("resume", "Resume a paused or waiting run", func(c daemon.Client, cmd *cobra.Command, id string) (*batch.Run, error) {
			return c.ResumeBatch(cmd.Context(), id)
		}),
		newBatchStopCmd(),
	)
	return cmd
}

func newBatchStartCmd() *cobra.Command {
	var req batch.StartRequest
	cmd := &cobra.Command{
		Use:   "start <session-id> <queue-id>",
		Short: "Start a run over the children of a tracker issue",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.SessionID, req.WorkQueueID = args[0], args[1]
			if req.ProjectPath == "" {
				req.ProjectPath, _ = os.Getwd()
			}
			client, _, err := newClient(cmd)
			if err != nil {
				return err
			}
			defer client.Close()
			run, err := client.StartBatch(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printRun(cmd.OutOrStdout(), run, cli.GetOptions(cmd).JSONOutput)
		},
	}
	cmd.Flags().StringVar(&req.ProjectPath, "project", "", "Tracker project directory (default: current)")
	cmd.Flags().StringVar(&req.PaneTarget, "pane", "", "Pane target (default: from the session record)")
	cmd.Flags().StringVar(&req.PromptTemplate, "template", "", "Prompt template with {{id}} and {{title}}")
	return cmd
}

func newBatchListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := newClient(cmd)
			if err != nil {
				return err
			}
			defer client.Close()
			runs, err := client.ListBatches(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if cli.GetOptions(cmd).JSONOutput {
				return json.NewEncoder(out).Encode(runs)
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs")
				return nil
			}
			rows := make([][]string, 0, len(runs))
			for _, r := range runs {
				current := ""
				if r.CurrentTask != nil {
					current = r.CurrentTask.TaskID
				}
				rows = append(rows, []string{
					shortID(r.ID), shortID(r.SessionID), r.WorkQueueID, string(r.Status),
					strconv.Itoa(len(r.CompletedTasks)), strconv.Itoa(r.RemainingCount), current,
				})
			}
			fmt.Fprintln(out, cli.RenderTable([]string{"ID", "SESSION", "QUEUE", "STATUS", "DONE", "LEFT", "CURRENT"}, rows, cli.TerminalWidth()))
			return nil
		},
	}
}

type runFunc func(daemon.Client, *cobra.Command, string) (*batch.Run, error)

func newBatchRunCmd(use, short string, fn runFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <run-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := newClient(cmd)
			if err != nil {
				return err
			}
			defer client.Close()
			run, err := fn(client, cmd, args[0])
			if err != nil {
				return err
			}
			return printRun(cmd.OutOrStdout(), run, cli.GetOptions(cmd).JSONOutput)
		},
	}
}

func newBatchStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <run-id>",
		Short: "Stop a run and forget it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := newClient(cmd)
			if err != nil {
				return err
			}
			defer client.Close()
			if err := client.StopBatch(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stopped %s\n", args[0])
			return nil
		},
	}
}

func printRun(out io.Writer, run *batch.Run, jsonOut bool) error {
	if jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	}
	fmt.Fprintf(out, "Run %s: %s\n", run.ID, run.Status)
	fmt.Fprintf(out, "  session %s  pane %s\n", run.SessionID, run.PaneTarget)
	fmt.Fprintf(out, "  queue %s  done %d  left %d\n", run.WorkQueueID, len(run.CompletedTasks), run.RemainingCount)
	if run.CurrentTask != nil {
		fmt.Fprintf(out, "  current %s %s\n", run.CurrentTask.TaskID, run.CurrentTask.Title)
	}
	if run.Error != "" {
		fmt.Fprintf(out, "  error %s\n", run.Error)
	}
	return nil
}
