// Package tmux drives the tmux CLI: pane capture, titles, resizing, text
// injection and session management, plus classification of captured text.
package tmux

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/grovetools/agentwatch/command"
)

// Per-call timeouts.
const (
	CaptureTimeout = 2 * time.Second
	TitleTimeout   = time.Second
	ResizeTimeout  = 2 * time.Second
	SendTimeout    = 5 * time.Second
)

type Client struct {
	builder *command.SafeBuilder
	binary  string
	socket  string // Socket name for a dedicated tmux server (uses -L flag)
	logger  *logrus.Entry
}

// Option configures a Client.
type Option func(*Client)

// WithExecutor runs tmux through exec, for tests.
func WithExecutor(exec command.Executor) Option {
	return func(c *Client) { c.builder = command.NewSafeBuilderWithExecutor(exec) }
}

// WithBinary overrides the tmux executable.
func WithBinary(binary string) Option {
	return func(c *Client) { c.binary = binary }
}

// WithSocket selects a dedicated tmux server.
func WithSocket(socket string) Option {
	return func(c *Client) { c.socket = socket }
}

func WithLogger(logger *logrus.Entry) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a client. AGENTWATCH_TMUX_SOCKET selects a dedicated
// server unless WithSocket overrides it. A missing tmux binary is not an
// error here; every call simply reports no data.
func NewClient(opts ...Option) *Client {
	c := &Client{
		builder: command.NewSafeBuilder(),
		binary:  "tmux",
		socket:  os.Getenv("AGENTWATCH_TMUX_SOCKET"),
		logger:  logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Socket returns the socket name this client uses, or empty string for default.
func (c *Client) Socket() string {
	return c.socket
}

func (c *Client) run(ctx context.Context, timeout time.Duration, args ...string) (string, error) {
	return c.runWithStdin(ctx, timeout, nil, args...)
}

func (c *Client) runWithStdin(ctx context.Context, timeout time.Duration, stdin io.Reader, args ...string) (string, error) {
	if c.socket != "" {
		args = append([]string{"-L", c.socket}, args...)
	}

	cmd, err := c.builder.Build(ctx, c.binary, args...)
	if err != nil {
		return "", fmt.Errorf("failed to build command: %w", err)
	}
	cmd.WithTimeout(timeout)
	if stdin != nil {
		cmd.WithStdin(stdin)
	}
	return cmd.Output()
}

func (c *Client) validTarget(target string) error {
	return c.builder.Validate("paneTarget", target)
}

// probe logs an inspection failure at debug level. Inspection callers
// treat failure as "no data".
func (c *Client) probe(op, target string, err error) {
	c.logger.WithError(err).WithFields(logrus.Fields{"op": op, "target": target}).Debug("tmux probe failed")
}
