// Package git resolves repository roots for session records.
package git

import (
	"context"
	"strings"
	"time"

	"github.com/grovetools/agentwatch/command"
)

// RootTimeout bounds one rev-parse call. Hooks run inline with the agent.
const RootTimeout = 2 * time.Second

// Resolver runs git through a SafeBuilder.
type Resolver struct {
	builder *command.SafeBuilder
}

// NewResolver returns a resolver using the real git binary, or exec when
// one is given.
func NewResolver(exec command.Executor) *Resolver {
	if exec == nil {
		return &Resolver{builder: command.NewSafeBuilder()}
	}
	return &Resolver{builder: command.NewSafeBuilderWithExecutor(exec)}
}

// Root returns the top-level directory of the work tree containing dir, or
// "" when dir is not inside one.
func (r *Resolver) Root(ctx context.Context, dir string) string {
	return r.revParse(ctx, dir, "--show-toplevel")
}

// SuperprojectRoot returns the root of the enclosing superproject when dir
// is inside a submodule, otherwise the regular root.
func (r *Resolver) SuperprojectRoot(ctx context.Context, dir string) string {
	if root := r.revParse(ctx, dir, "--show-superproject-working-tree"); root != "" {
		return root
	}
	return r.Root(ctx, dir)
}

func (r *Resolver) revParse(ctx context.Context, dir, flag string) string {
	if dir == "" {
		return ""
	}
	cmd, err := r.builder.Build(ctx, "git", "rev-parse", flag)
	if err != nil {
		return ""
	}
	out, err := cmd.WithTimeout(RootTimeout).WithDir(dir).Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(out)
}
