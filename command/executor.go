package command

import (
	"context"
	"os/exec"
)

// Executor builds the *exec.Cmd for every subprocess a client runs. Tests
// swap in testutil.FakeExecutor.
type Executor interface {
	CommandContext(ctx context.Context, name string, args ...string) *exec.Cmd
}

// RealExecutor runs binaries from PATH.
type RealExecutor struct{}

func (*RealExecutor) CommandContext(ctx context.Context, name string, args ...string) *exec.Cmd {
	return exec.CommandContext(ctx, name, args...)
}
