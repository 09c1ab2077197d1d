package tmux

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Resize limits.
const (
	MinCols = 20
	MaxCols = 500
	MinRows = 5
	MaxRows = 200
)

// maxLiteralSend is the longest single-line text sent with send-keys -l;
// longer or multi-line text goes through a paste buffer.
const maxLiteralSend = 512

const targetFormat = "#{session_name}:#{window_index}.#{pane_index}"

// Pane describes one pane from list-panes.
type Pane struct {
	Target string `json:"target"`
	ID     string `json:"id"`
	PID    int    `json:"pid"`
	Cwd    string `json:"cwd"`
	Title  string `json:"title"`
}

// CaptureText returns the pane contents with colour escapes preserved.
// lastN > 0 limits the capture to that many scrollback lines.
func (c *Client) CaptureText(ctx context.Context, target string, lastN int) (string, bool) {
	if err := c.validTarget(target); err != nil {
		return "", false
	}
	args := []string{"capture-pane", "-p", "-J", "-e", "-N", "-t", target}
	if lastN > 0 {
		args = append(args, "-S", fmt.Sprintf("-%d", lastN))
	}
	out, err := c.run(ctx, CaptureTimeout, args...)
	if err != nil {
		c.probe("capture", target, err)
		return "", false
	}
	return out, true
}

// Title returns the pane title.
func (c *Client) Title(ctx context.Context, target string) (string, bool) {
	if err := c.validTarget(target); err != nil {
		return "", false
	}
	out, err := c.run(ctx, TitleTimeout, "display-message", "-p", "-t", target, "#{pane_title}")
	if err != nil {
		c.probe("title", target, err)
		return "", false
	}
	return strings.TrimRight(out, "\n"), true
}

// ClampSize bounds a terminal size to what viewers may request.
func ClampSize(cols, rows int) (int, int) {
	return clamp(cols, MinCols, MaxCols), clamp(rows, MinRows, MaxRows)
}

// Resize resizes the window holding target after clamping the size.
// It reports whether tmux accepted the resize.
func (c *Client) Resize(ctx context.Context, target string, cols, rows int) bool {
	if err := c.validTarget(target); err != nil {
		return false
	}
	cols, rows = ClampSize(cols, rows)
	_, err := c.run(ctx, ResizeTimeout, "resize-window", "-t", target,
		"-x", strconv.Itoa(cols), "-y", strconv.Itoa(rows))
	if err != nil {
		c.probe("resize", target, err)
		return false
	}
	return true
}

// ListPanes lists every pane on the server. A missing server yields no panes.
func (c *Client) ListPanes(ctx context.Context) []Pane {
	format := strings.Join([]string{targetFormat, "#{pane_id}", "#{pane_pid}", "#{pane_current_path}", "#{pane_title}"}, "\t")
	out, err := c.run(ctx, CaptureTimeout, "list-panes", "-a", "-F", format)
	if err != nil {
		c.probe("list-panes", "", err)
		return nil
	}

	var panes []Pane
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		parts := strings.SplitN(line, "\t", 5)
		if len(parts) < 5 || parts[0] == "" {
			continue
		}
		pid, _ := strconv.Atoi(parts[2])
		panes = append(panes, Pane{
			Target: parts[0],
			ID:     parts[1],
			PID:    pid,
			Cwd:    parts[3],
			Title:  parts[4],
		})
	}
	return panes
}

// ListPaneTitles maps each pane target (and pane id) to its title in one
// tmux call.
func (c *Client) ListPaneTitles(ctx context.Context) map[string]string {
	titles := make(map[string]string)
	for _, p := range c.ListPanes(ctx) {
		titles[p.Target] = p.Title
		if p.ID != "" {
			titles[p.ID] = p.Title
		}
	}
	return titles
}

// ResolvePane turns a pane id such as "%3" into session:window.pane.
func (c *Client) ResolvePane(ctx context.Context, paneID string) (string, bool) {
	if err := c.validTarget(paneID); err != nil {
		return "", false
	}
	out, err := c.run(ctx, TitleTimeout, "display-message", "-p", "-t", paneID, targetFormat)
	if err != nil {
		c.probe("resolve", paneID, err)
		return "", false
	}
	target := strings.TrimSpace(out)
	return target, target != ""
}

// ResolveCurrentPane resolves $TMUX_PANE, the pane this process runs in.
func (c *Client) ResolveCurrentPane(ctx context.Context) (string, bool) {
	paneID := os.Getenv("TMUX_PANE")
	if paneID == "" {
		return "", false
	}
	return c.ResolvePane(ctx, paneID)
}

// SendText types text into the pane. Short single-line text is sent
// literally with send-keys; anything else is pasted through a named buffer.
// With enter set, an Enter key follows.
func (c *Client) SendText(ctx context.Context, target, text string, enter bool) error {
	if err := c.validTarget(target); err != nil {
		return err
	}

	if strings.Contains(text, "\n") || len(text) > maxLiteralSend {
		buffer := "agentwatch-" + SanitizeForTmuxSession(target)
		if _, err := c.runWithStdin(ctx, SendTimeout, strings.NewReader(text), "load-buffer", "-b", buffer, "-"); err != nil {
			return err
		}
		if _, err := c.run(ctx, SendTimeout, "paste-buffer", "-d", "-p", "-b", buffer, "-t", target); err != nil {
			return err
		}
	} else if text != "" {
		if _, err := c.run(ctx, SendTimeout, "send-keys", "-t", target, "-l", text); err != nil {
			return err
		}
	}

	if enter {
		return c.SendKeys(ctx, target, "Enter")
	}
	return nil
}

// SendKeys sends tmux key names (e.g. "Enter", "Escape", "C-c").
func (c *Client) SendKeys(ctx context.Context, target string, keys ...string) error {
	if err := c.validTarget(target); err != nil {
		return err
	}
	args := append([]string{"send-keys", "-t", target}, keys...)
	_, err := c.run(ctx, SendTimeout, args...)
	return err
}

// NewSessionOptions configures NewSession.
type NewSessionOptions struct {
	Name    string
	Cwd     string
	Command string
	Env     map[string]string
}

// NewSession starts a detached session and returns its first pane target.
func (c *Client) NewSession(ctx context.Context, opts NewSessionOptions) (string, error) {
	name := SanitizeForTmuxSession(opts.Name)
	args := []string{"new-session", "-d", "-P", "-F", targetFormat, "-s", name}
	if opts.Cwd != "" {
		args = append(args, "-c", opts.Cwd)
	}
	for k, v := range opts.Env {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, v))
	}
	if opts.Command != "" {
		args = append(args, opts.Command)
	}
	out, err := c.run(ctx, SendTimeout, args...)
	if err != nil {
		return "", err
	}
	target := strings.TrimSpace(out)
	if target == "" {
		return "", fmt.Errorf("tmux did not report a pane for session %s", name)
	}
	return target, nil
}

func (c *Client) SessionExists(ctx context.Context, sessionName string) bool {
	_, err := c.run(ctx, TitleTimeout, "has-session", "-t", "="+sessionName)
	return err == nil
}

func (c *Client) KillSession(ctx context.Context, sessionName string) error {
	_, err := c.run(ctx, SendTimeout, "kill-session", "-t", "="+sessionName)
	return err
}

func (c *Client) KillPane(ctx context.Context, target string) error {
	if err := c.validTarget(target); err != nil {
		return err
	}
	_, err := c.run(ctx, SendTimeout, "kill-pane", "-t", target)
	return err
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
