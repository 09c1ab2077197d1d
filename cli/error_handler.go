package cli

import (
	"fmt"
	"io"

	"github.com/grovetools/agentwatch/errors"
	"github.com/grovetools/agentwatch/pkg/daemon"
)

// ErrorHandler turns error codes into short actionable messages.
type ErrorHandler struct {
	Verbose bool
	Out     io.Writer
}

func NewErrorHandler(out io.Writer, verbose bool) *ErrorHandler {
	return &ErrorHandler{Out: out, Verbose: verbose}
}

// Handle prints err and returns it unchanged.
func (h *ErrorHandler) Handle(err error) error {
	if err == nil {
		return nil
	}
	agentErr, _ := err.(*errors.AgentError)

	switch errors.GetCode(err) {
	case errors.ErrCodeConfigNotFound:
		fmt.Fprintf(h.Out, "Configuration not found: %s\n", detail(agentErr, "path"))
	case errors.ErrCodeConfigInvalid:
		fmt.Fprintf(h.Out, "Invalid configuration: %s\n", agentErr.Message)
		fmt.Fprintln(h.Out, "Run 'agentwatch schema' to see the accepted fields.")
	case daemon.ErrCodeDaemonDown:
		fmt.Fprintln(h.Out, agentErr.Message)
	case errors.ErrCodeSessionNotFound:
		fmt.Fprintf(h.Out, "Session '%v' not found. Run 'agentwatch sessions' to list sessions.\n", detail(agentErr, "session"))
	case errors.ErrCodeBatchConflict:
		fmt.Fprintf(h.Out, "Session already has an active batch run (%v)\n", detail(agentErr, "run"))
	case errors.ErrCodeClientLimit:
		fmt.Fprintf(h.Out, "The daemon is at its client limit: %s\n", agentErr.Message)
	case errors.ErrCodeCommandNotFound:
		fmt.Fprintln(h.Out, "Required command not found. Make sure tmux and the tracker CLI are installed.")
	default:
		fmt.Fprintf(h.Out, "Error: %v\n", err)
	}

	if h.Verbose && agentErr != nil {
		fmt.Fprintf(h.Out, "\nError details:\n%s\n", agentErr.ToJSON())
	}
	return err
}

func detail(e *errors.AgentError, key string) interface{} {
	if e == nil || e.Details == nil {
		return ""
	}
	return e.Details[key]
}
