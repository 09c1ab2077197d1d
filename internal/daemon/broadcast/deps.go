package broadcast

import (
	"context"

	"github.com/grovetools/agentwatch/pkg/beads"
	"github.com/grovetools/agentwatch/pkg/sessions"
)

// SessionSource is the part of the session store the managers read.
type SessionSource interface {
	ListAll() ([]*sessions.Record, error)
	Update(id string, p sessions.Patch) error
}

// Panes is the part of the pane inspector the managers use.
type Panes interface {
	CaptureText(ctx context.Context, target string, lastN int) (string, bool)
	ListPaneTitles(ctx context.Context) map[string]string
	Resize(ctx context.Context, target string, cols, rows int) bool
}

// Notifier delivers change notifications. Both watcher types satisfy it.
type Notifier interface {
	Subscribe(fn func()) func()
}

// Tracker is the part of the tracker client the beads channel uses.
type Tracker interface {
	List(ctx context.Context, projectDir string) []beads.Issue
}
