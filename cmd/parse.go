package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/grovetools/agentwatch/cli"
	"github.com/grovetools/agentwatch/errors"
	"github.com/grovetools/agentwatch/pkg/termparse"
	"github.com/grovetools/agentwatch/pkg/tmux"
)

type parseResult struct {
	Blocks          []*termparse.Block `json:"blocks"`
	Interruption    string             `json:"interruption"`
	ActivelyWorking bool               `json:"actively_working"`
}

func NewParseCmd() *cobra.Command {
	var target string
	var lines int
	cmd := &cobra.Command{
		Use:   "parse [file]",
		Short: "Classify agent terminal output into blocks",
		Long:  "Reads a file, stdin, or a live tmux pane with --target.",
		Example: `  # Parse a saved capture
  agentwatch parse capture.txt
  # Parse a live pane
  agentwatch parse --target work:0.0`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readParseInput(cmd, args, target, lines)
			if err != nil {
				return err
			}
			res := parseResult{
				Blocks:          termparse.Parse(text),
				Interruption:    tmux.DetectInterruption(text).String(),
				ActivelyWorking: tmux.IsActivelyWorking(text),
			}
			return printParse(cmd.OutOrStdout(), res, cli.GetOptions(cmd).JSONOutput)
		},
	}
	cmd.Flags().StringVarP(&target, "target", "t", "", "Capture this tmux pane instead of reading input")
	cmd.Flags().IntVarP(&lines, "lines", "n", 200, "Lines to capture with --target")
	return cmd
}

func readParseInput(cmd *cobra.Command, args []string, target string, lines int) (string, error) {
	if target != "" {
		client := tmux.NewClient(tmux.WithLogger(cli.GetLogger(cmd, "tmux")))
		text, ok := client.CaptureText(cmd.Context(), target, lines)
		if !ok {
			return "", errors.New(errors.ErrCodeSessionNotFound, "pane not available").WithDetail("target", target)
		}
		return text, nil
	}
	if len(args) == 1 && args[0] != "-" {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return "", errors.Wrap(err, errors.ErrCodeInvalidInput, "failed to read input")
		}
		return string(data), nil
	}
	data, err := io.ReadAll(io.LimitReader(cmd.InOrStdin(), 8<<20))
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeInvalidInput, "failed to read stdin")
	}
	return string(data), nil
}

func printParse(out io.Writer, res parseResult, jsonOut bool) error {
	if jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	p := cli.DefaultPalette
	for _, b := range res.Blocks {
		fmt.Fprintln(out, p.Section.Render(fmt.Sprintf("[%d] %s", b.ID, b.Type)))
		for _, line := range strings.Split(b.Content, "\n") {
			fmt.Fprintln(out, "  "+line)
		}
	}
	fmt.Fprintf(out, "%s %s\n", p.Muted.Render("interruption:"), res.Interruption)
	fmt.Fprintf(out, "%s %t\n", p.Muted.Render("actively working:"), res.ActivelyWorking)
	return nil
}
