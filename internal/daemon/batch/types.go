// Package batch feeds tracker tasks to an agent session one at a time,
// advancing when the agent goes idle and the tracker reports the task
// closed.
package batch

import (
	"context"
	"time"

	"github.com/grovetools/agentwatch/pkg/beads"
	"github.com/grovetools/agentwatch/pkg/sessions"
)

type Status string

const (
	StatusRunning        Status = "running"
	StatusPaused         Status = "paused"
	StatusWaitingForUser Status = "waiting_for_user"
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
)

// Active reports whether the run still owns its session.
func (s Status) Active() bool {
	return s == StatusRunning || s == StatusPaused || s == StatusWaitingForUser
}

type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskSkipped   TaskStatus = "skipped"
	TaskFailed    TaskStatus = "failed"
)

type Task struct {
	TaskID      string     `json:"task_id"`
	Title       string     `json:"title"`
	Status      TaskStatus `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Run is one batch over a work queue, bound to a single session.
type Run struct {
	ID             string     `json:"id"`
	SessionID      string     `json:"session_id"`
	PaneTarget     string     `json:"pane_target"`
	ProjectPath    string     `json:"project_path"`
	WorkQueueID    string     `json:"work_queue_id"`
	Status         Status     `json:"status"`
	CompletedTasks []Task     `json:"completed_tasks"`
	CurrentTask    *Task      `json:"current_task"`
	RemainingCount int        `json:"remaining_count"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	Error          string     `json:"error,omitempty"`
	PromptTemplate string     `json:"prompt_template"`
}

func (r Run) clone() Run {
	out := r
	out.CompletedTasks = append([]Task(nil), r.CompletedTasks...)
	if out.CompletedTasks == nil {
		out.CompletedTasks = []Task{}
	}
	if r.CurrentTask != nil {
		t := *r.CurrentTask
		out.CurrentTask = &t
	}
	return out
}

// StartRequest describes a new run.
type StartRequest struct {
	SessionID      string `json:"session_id"`
	PaneTarget     string `json:"pane_target"`
	ProjectPath    string `json:"project_path"`
	WorkQueueID    string `json:"work_queue_id"`
	PromptTemplate string `json:"prompt_template,omitempty"`
}

// Tracker is the tracker surface the orchestrator needs.
type Tracker interface {
	Sync(ctx context.Context, projectDir string) bool
	Ready(ctx context.Context, projectDir, parent string, limit int) []beads.Issue
	Show(ctx context.Context, projectDir, id string) (beads.Issue, bool)
}

// Sender types prompts into a pane.
type Sender interface {
	SendText(ctx context.Context, target, text string, enter bool) error
}

// SessionReader looks up session state.
type SessionReader interface {
	Get(id string) (*sessions.Record, error)
}

// Notifier delivers session store change notifications.
type Notifier interface {
	Subscribe(fn func()) func()
}
