package command

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/grovetools/agentwatch/errors"
)

const (
	// DefaultTimeout is the default command execution timeout
	DefaultTimeout = 5 * time.Second

	// MaxTimeout is the maximum allowed timeout
	MaxTimeout = 30 * time.Second
)

var (
	paneTargetRe = regexp.MustCompile(`^[A-Za-z0-9_.:%$@/+=-]+$`)
	issueIDRe    = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)
)

// SafeBuilder provides command execution with validation and bounded timeouts
type SafeBuilder struct {
	defaultTimeout time.Duration
	validators     map[string]func(string) error
	executor       Executor
}

// NewSafeBuilder creates a new SafeBuilder instance with a RealExecutor
func NewSafeBuilder() *SafeBuilder {
	return NewSafeBuilderWithExecutor(&RealExecutor{})
}

// NewSafeBuilderWithExecutor creates a new SafeBuilder with a custom Executor
func NewSafeBuilderWithExecutor(exec Executor) *SafeBuilder {
	return &SafeBuilder{
		defaultTimeout: DefaultTimeout,
		validators:     makeDefaultValidators(),
		executor:       exec,
	}
}

// makeDefaultValidators returns the default set of validators
func makeDefaultValidators() map[string]func(string) error {
	return map[string]func(string) error{
		"paneTarget": validatePaneTarget,
		"issueID":    validateIssueID,
		"fileName":   validateFileName,
	}
}

// validatePaneTarget ensures tmux targets cannot smuggle extra arguments
func validatePaneTarget(target string) error {
	if target == "" {
		return fmt.Errorf("pane target cannot be empty")
	}
	if strings.HasPrefix(target, "-") {
		return fmt.Errorf("invalid pane target: %s", target)
	}
	if !paneTargetRe.MatchString(target) {
		return fmt.Errorf("invalid pane target: %s", target)
	}
	return nil
}

// validateIssueID ensures tracker ids are plain tokens
func validateIssueID(id string) error {
	if id == "" {
		return fmt.Errorf("issue id cannot be empty")
	}
	if !issueIDRe.MatchString(id) {
		return fmt.Errorf("invalid issue id: %s", id)
	}
	return nil
}

// validateFileName ensures file paths are safe
func validateFileName(path string) error {
	if path == "" {
		return fmt.Errorf("file path cannot be empty")
	}

	// Prevent directory traversal
	if strings.Contains(path, "..") {
		return fmt.Errorf("file path cannot contain '..'")
	}

	// Prevent command injection via shell metacharacters
	if strings.ContainsAny(path, ";|&$`") {
		return fmt.Errorf("file path contains invalid characters")
	}

	return nil
}

// Command represents a configured, not yet started subprocess
type Command struct {
	ctx      context.Context
	name     string
	args     []string
	dir      string
	stdin    io.Reader
	timeout  time.Duration
	executor Executor
}

// Build creates a new command. The timeout is applied when the command runs,
// so nothing leaks if the command is never executed.
func (sb *SafeBuilder) Build(ctx context.Context, name string, args ...string) (*Command, error) {
	if name == "" {
		return nil, fmt.Errorf("command name cannot be empty")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	return &Command{
		ctx:      ctx,
		name:     name,
		args:     args,
		timeout:  sb.defaultTimeout,
		executor: sb.executor,
	}, nil
}

// Validate validates specific arguments
func (sb *SafeBuilder) Validate(argType string, value string) error {
	validator, exists := sb.validators[argType]
	if !exists {
		return fmt.Errorf("no validator for argument type: %s", argType)
	}

	return validator(value)
}

// WithTimeout sets a custom timeout for the command
func (c *Command) WithTimeout(timeout time.Duration) *Command {
	if timeout > MaxTimeout {
		timeout = MaxTimeout
	}
	if timeout > 0 {
		c.timeout = timeout
	}
	return c
}

// WithDir sets the working directory of the command.
func (c *Command) WithDir(dir string) *Command {
	c.dir = dir
	return c
}

// WithStdin feeds r to the command's standard input.
func (c *Command) WithStdin(r io.Reader) *Command {
	c.stdin = r
	return c
}

// String renders the command line for logging.
func (c *Command) String() string {
	return strings.TrimSpace(c.name + " " + strings.Join(c.args, " "))
}

// Output runs the command and returns its stdout. A non-zero exit, a missing
// binary and timeout expiry are all returned as *errors.AgentError carrying
// the command's stderr.
func (c *Command) Output() (string, error) {
	ctx, cancel := context.WithTimeout(c.ctx, c.timeout)
	defer cancel()

	cmd := c.executor.CommandContext(ctx, c.name, c.args...) //nolint:gosec // arguments are validated by callers
	if c.dir != "" {
		cmd.Dir = c.dir
	}
	if c.stdin != nil {
		cmd.Stdin = c.stdin
	}
	// Children that inherit our pipes must not hold Wait past the deadline.
	cmd.WaitDelay = 500 * time.Millisecond
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			err = ctx.Err()
		}
		return stdout.String(), errors.CommandFailed(c.name, c.args, err, stderr.String())
	}
	return stdout.String(), nil
}

// Run runs the command, discarding its output.
func (c *Command) Run() error {
	_, err := c.Output()
	return err
}
