// Package daemon provides a client for the agentwatch daemon's HTTP API.
// It implements a transparent fallback pattern: if the daemon is running,
// requests go over HTTP; if not, reads are served from the session store
// directly and daemon-only operations report that the daemon is down.
package daemon

import (
	"context"

	"github.com/grovetools/agentwatch/internal/daemon/batch"
	"github.com/grovetools/agentwatch/internal/daemon/broadcast"
	"github.com/grovetools/agentwatch/internal/daemon/server"
	"github.com/grovetools/agentwatch/pkg/sessions"
)

// Client defines the operations the CLI performs against the daemon.
// Both RemoteClient (HTTP) and LocalClient (direct store reads) implement it.
type Client interface {
	// ListSessions returns session records. With all set, records sharing
	// a pane are not deduplicated.
	ListSessions(ctx context.Context, all bool) ([]*sessions.Record, error)

	// GetSession returns one record.
	GetSession(ctx context.Context, id string) (*sessions.Record, error)

	// CreateSession starts a tmux session hosting a new agent.
	CreateSession(ctx context.Context, req CreateSessionRequest) (*sessions.Record, error)

	// KillSession kills the session's pane, or its whole tmux session when
	// wholeSession is set, and deletes the record.
	KillSession(ctx context.Context, id string, wholeSession bool) error

	// SendKeys types text, or a named key such as "interrupt", into the
	// session's pane.
	SendKeys(ctx context.Context, id string, req KeysRequest) error

	// Stats returns broadcast channel counters.
	Stats(ctx context.Context) (*Stats, error)

	// GetConfig returns the configuration the daemon is running with.
	GetConfig(ctx context.Context) (*server.RunningConfig, error)

	StartBatch(ctx context.Context, req batch.StartRequest) (*batch.Run, error)
	ListBatches(ctx context.Context) ([]batch.Run, error)
	GetBatch(ctx context.Context, id string) (*batch.Run, error)
	PauseBatch(ctx context.Context, id string) (*batch.Run, error)
	ResumeBatch(ctx context.Context, id string) (*batch.Run, error)
	StopBatch(ctx context.Context, id string) error

	// StreamSessions subscribes to the sessions channel. The returned
	// channel closes when ctx is canceled or the connection drops.
	StreamSessions(ctx context.Context) (<-chan broadcast.SessionsPayload, error)

	// IsRunning returns true if the daemon is available and responding.
	IsRunning() bool

	// Close cleans up any resources used by the client.
	Close() error
}

// CreateSessionRequest is the body of POST /api/sessions.
type CreateSessionRequest struct {
	ID       string            `json:"id,omitempty"`
	Name     string            `json:"name"`
	Cwd      string            `json:"cwd"`
	Command  string            `json:"command,omitempty"`
	Env      map[string]string `json:"env,omitempty"`
	LinkedTo string            `json:"linked_to,omitempty"`
}

// KeysRequest is the body of POST /api/sessions/{id}/keys.
type KeysRequest struct {
	Text  string `json:"text,omitempty"`
	Enter bool   `json:"enter,omitempty"`
	Key   string `json:"key,omitempty"`
}

// Stats mirrors GET /api/stats.
type Stats struct {
	Sessions broadcast.Stats `json:"sessions"`
	Terminal broadcast.Stats `json:"terminal"`
	Beads    broadcast.Stats `json:"beads"`
	Targets  []string        `json:"terminal_targets"`
}
