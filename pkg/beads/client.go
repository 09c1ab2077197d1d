package beads

import (
	"context"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/grovetools/agentwatch/command"
)

// DefaultTimeout bounds every tracker invocation.
const DefaultTimeout = 10 * time.Second

// Client runs the tracker CLI. Every query degrades to an empty result on
// failure; the error is logged at debug level only.
type Client struct {
	builder *command.SafeBuilder
	binary  string
	timeout time.Duration
	logger  *logrus.Entry
}

type Option func(*Client)

func WithExecutor(exec command.Executor) Option {
	return func(c *Client) { c.builder = command.NewSafeBuilderWithExecutor(exec) }
}

// WithBinary selects the tracker executable (default "bd").
func WithBinary(binary string) Option {
	return func(c *Client) { c.binary = binary }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func WithLogger(logger *logrus.Entry) Option {
	return func(c *Client) { c.logger = logger }
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		builder: command.NewSafeBuilder(),
		binary:  "bd",
		timeout: DefaultTimeout,
		logger:  logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Ready returns up to limit ready issues, optionally scoped to a parent.
func (c *Client) Ready(ctx context.Context, projectDir, parent string, limit int) []Issue {
	args := []string{"ready", "--json", "--limit", strconv.Itoa(limit)}
	if parent != "" {
		if err := c.builder.Validate("issueID", parent); err != nil {
			return nil
		}
		args = append(args, "--parent", parent)
	}
	out, ok := c.run(ctx, projectDir, args...)
	if !ok {
		return nil
	}
	return decodeIssues(out)
}

// Show returns one issue with its dependencies and dependents expanded.
func (c *Client) Show(ctx context.Context, projectDir, id string) (Issue, bool) {
	if err := c.builder.Validate("issueID", id); err != nil {
		return Issue{}, false
	}
	out, ok := c.run(ctx, projectDir, "show", id, "--json")
	if !ok {
		return Issue{}, false
	}
	for _, issue := range decodeIssues(out) {
		if issue.ID == id {
			return issue, true
		}
	}
	return Issue{}, false
}

// List returns every issue the tracker reports, sorted by id.
func (c *Client) List(ctx context.Context, projectDir string) []Issue {
	out, ok := c.run(ctx, projectDir, "list", "--json")
	if !ok {
		return nil
	}
	issues := decodeIssues(out)
	sortIssues(issues)
	return issues
}

// Sync forces the tracker's cache to import its JSONL file.
func (c *Client) Sync(ctx context.Context, projectDir string) bool {
	_, ok := c.run(ctx, projectDir, "sync", "--import-only")
	return ok
}

func (c *Client) run(ctx context.Context, dir string, args ...string) (string, bool) {
	cmd, err := c.builder.Build(ctx, c.binary, args...)
	if err != nil {
		return "", false
	}
	out, err := cmd.WithTimeout(c.timeout).WithDir(dir).Output()
	if err != nil {
		c.logger.WithError(err).WithFields(logrus.Fields{
			"command": cmd.String(),
			"project": dir,
		}).Debug("Tracker command failed")
		return "", false
	}
	return out, true
}
