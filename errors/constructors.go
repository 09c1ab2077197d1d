package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"os/exec"
	"strings"
)

// ConfigNotFound creates a configuration not found error
func ConfigNotFound(path string) *AgentError {
	return New(ErrCodeConfigNotFound, fmt.Sprintf("configuration file not found: %s", path)).
		WithDetail("path", path)
}

// ConfigInvalid creates an invalid configuration error
func ConfigInvalid(reason string) *AgentError {
	return New(ErrCodeConfigInvalid, fmt.Sprintf("invalid configuration: %s", reason))
}

// CommandFailed creates a command execution failure error.
// Deadline expiry is reported as COMMAND_TIMEOUT.
func CommandFailed(name string, args []string, err error, output string) *AgentError {
	cmd := strings.TrimSpace(name + " " + strings.Join(args, " "))
	code := ErrCodeCommandFailed
	if stderrors.Is(err, context.DeadlineExceeded) {
		code = ErrCodeCommandTimeout
	} else if stderrors.Is(err, exec.ErrNotFound) {
		code = ErrCodeCommandNotFound
	}

	agentErr := Wrap(err, code, fmt.Sprintf("command failed: %s", cmd)).
		WithDetail("command", cmd)
	if output = strings.TrimSpace(output); output != "" {
		agentErr = agentErr.WithDetail("output", output)
	}

	// Extract exit code if available
	var exitErr *exec.ExitError
	if stderrors.As(err, &exitErr) {
		agentErr = agentErr.WithDetail("exitCode", exitErr.ExitCode())
	}

	return agentErr
}

// SessionNotFound creates a session not found error
func SessionNotFound(id string) *AgentError {
	return New(ErrCodeSessionNotFound, fmt.Sprintf("session '%s' not found", id)).
		WithDetail("session", id)
}

// BatchConflict reports that a session already has an active batch run.
func BatchConflict(sessionID, runID string) *AgentError {
	return New(ErrCodeBatchConflict,
		fmt.Sprintf("session '%s' already has a running batch", sessionID)).
		WithDetail("session", sessionID).
		WithDetail("run", runID)
}

// BatchNotFound creates a batch run not found error
func BatchNotFound(runID string) *AgentError {
	return New(ErrCodeBatchNotFound, fmt.Sprintf("batch run '%s' not found", runID)).
		WithDetail("run", runID)
}

// BatchState reports an operation that is not valid in the run's current status.
func BatchState(runID, status, op string) *AgentError {
	return New(ErrCodeBatchState, fmt.Sprintf("cannot %s batch run in status %s", op, status)).
		WithDetail("run", runID).
		WithDetail("status", status)
}

// ClientLimit reports that a broadcast channel is at capacity.
func ClientLimit(channel string, limit int) *AgentError {
	return New(ErrCodeClientLimit, fmt.Sprintf("channel '%s' reached its limit of %d clients", channel, limit)).
		WithDetail("channel", channel).
		WithDetail("limit", limit)
}

// InvalidInput creates an invalid input error
func InvalidInput(reason string) *AgentError {
	return New(ErrCodeInvalidInput, reason)
}
