package batch

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/grovetools/agentwatch/config"
	"github.com/grovetools/agentwatch/errors"
	"github.com/grovetools/agentwatch/internal/daemon/schedule"
	"github.com/grovetools/agentwatch/pkg/sessions"
)

const (
	DefaultCheckDelay = 3 * time.Second
	DefaultRetryDelay = 10 * time.Second

	// NoDescription replaces an empty task description in prompts.
	NoDescription = "No description provided."

	// readyCountLimit bounds the query used to count remaining tasks.
	readyCountLimit = 1000
)

type Config struct {
	// CheckDelay is the wait between the session going idle and asking
	// the tracker whether the task closed.
	CheckDelay time.Duration
	// RetryDelay is the wait before the single retry of that check.
	RetryDelay      time.Duration
	DefaultTemplate string
}

type runState struct {
	run     Run
	slot    *schedule.Slot
	retried bool

	// step serializes the tracker and pane I/O of one run. It is taken
	// before o.mu, never while holding it.
	step sync.Mutex

	// Last observed session record, for detecting the transition to idle.
	seen       bool
	lastState  sessions.State
	lastUpdate time.Time
}

func (rs *runState) observe(rec *sessions.Record) {
	if rec == nil {
		return
	}
	rs.seen = true
	rs.lastState = rec.State
	rs.lastUpdate = rec.LastUpdate
}

// Orchestrator owns every batch run. Tracker and tmux calls run outside mu
// so Get and List never wait on a subprocess.
type Orchestrator struct {
	cfg      Config
	tracker  Tracker
	sender   Sender
	sessions SessionReader
	watcher  Notifier
	sched    schedule.Scheduler
	logger   *logrus.Entry
	newID    func() string

	mu          sync.Mutex
	runs        map[string]*runState
	unsubscribe func()
}

func New(cfg Config, tracker Tracker, sender Sender, store SessionReader, watcher Notifier, sched schedule.Scheduler, logger *logrus.Entry) *Orchestrator {
	if cfg.CheckDelay <= 0 {
		cfg.CheckDelay = DefaultCheckDelay
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.DefaultTemplate == "" {
		cfg.DefaultTemplate = config.DefaultPromptTemplate
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Orchestrator{
		cfg:      cfg,
		tracker:  tracker,
		sender:   sender,
		sessions: store,
		watcher:  watcher,
		sched:    sched,
		logger:   logger,
		newID:    uuid.NewString,
		runs:     make(map[string]*runState),
	}
}

// Start creates a run and sends its first task. A session can have only
// one active run.
func (o *Orchestrator) Start(ctx context.Context, req StartRequest) (Run, error) {
	switch {
	case req.SessionID == "":
		return Run{}, errors.InvalidInput("session_id is required")
	case req.PaneTarget == "":
		return Run{}, errors.InvalidInput("pane_target is required")
	case req.ProjectPath == "":
		return Run{}, errors.InvalidInput("project_path is required")
	}

	o.mu.Lock()
	for _, rs := range o.runs {
		if rs.run.SessionID == req.SessionID && rs.run.Status.Active() {
			o.mu.Unlock()
			return Run{}, errors.BatchConflict(req.SessionID, rs.run.ID)
		}
	}

	template := req.PromptTemplate
	if template == "" {
		template = o.cfg.DefaultTemplate
	}
	rs := &runState{
		run: Run{
			ID:             o.newID(),
			SessionID:      req.SessionID,
			PaneTarget:     req.PaneTarget,
			ProjectPath:    req.ProjectPath,
			WorkQueueID:    req.WorkQueueID,
			Status:         StatusRunning,
			CompletedTasks: []Task{},
			StartedAt:      o.sched.Now(),
			PromptTemplate: template,
		},
		slot: schedule.NewSlot(o.sched),
	}
	o.runs[rs.run.ID] = rs
	o.subscribeLocked()
	o.log(rs).WithField("work_queue", req.WorkQueueID).Info("Batch run started")
	o.mu.Unlock()

	rs.step.Lock()
	o.advance(ctx, rs)
	rs.step.Unlock()
	return o.snapshot(rs), nil
}

// Pause stops scheduling checks until Resume.
func (o *Orchestrator) Pause(id string) (Run, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	rs, err := o.lookupLocked(id)
	if err != nil {
		return Run{}, err
	}
	if rs.run.Status != StatusRunning && rs.run.Status != StatusWaitingForUser {
		return Run{}, errors.BatchState(id, string(rs.run.Status), "pause")
	}
	rs.slot.Cancel()
	rs.run.Status = StatusPaused
	o.log(rs).Info("Batch run paused")
	return rs.run.clone(), nil
}

// Resume restarts a paused run. A task in flight gets a fresh completion
// check; otherwise the run advances.
func (o *Orchestrator) Resume(ctx context.Context, id string) (Run, error) {
	o.mu.Lock()
	rs, err := o.lookupLocked(id)
	if err != nil {
		o.mu.Unlock()
		return Run{}, err
	}
	if rs.run.Status != StatusPaused {
		o.mu.Unlock()
		return Run{}, errors.BatchState(id, string(rs.run.Status), "resume")
	}
	rs.run.Status = StatusRunning
	rs.run.Error = ""
	rs.retried = false
	o.log(rs).Info("Batch run resumed")
	if rs.run.CurrentTask != nil {
		o.scheduleCheckLocked(rs, o.cfg.CheckDelay)
		out := rs.run.clone()
		o.mu.Unlock()
		return out, nil
	}
	o.mu.Unlock()

	rs.step.Lock()
	o.advance(ctx, rs)
	rs.step.Unlock()
	return o.snapshot(rs), nil
}

// Stop cancels the run's timer and forgets it.
func (o *Orchestrator) Stop(id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	rs, err := o.lookupLocked(id)
	if err != nil {
		return err
	}
	rs.slot.Cancel()
	delete(o.runs, id)
	o.log(rs).Info("Batch run stopped")
	return nil
}

func (o *Orchestrator) Get(id string) (Run, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	rs, err := o.lookupLocked(id)
	if err != nil {
		return Run{}, err
	}
	return rs.run.clone(), nil
}

// List returns every run, oldest first.
func (o *Orchestrator) List() []Run {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Run, 0, len(o.runs))
	for _, rs := range o.runs {
		out = append(out, rs.run.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Close cancels every timer and the store subscription.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, rs := range o.runs {
		rs.slot.Cancel()
	}
	if o.unsubscribe != nil {
		o.unsubscribe()
		o.unsubscribe = nil
	}
}

func (o *Orchestrator) lookupLocked(id string) (*runState, error) {
	rs, ok := o.runs[id]
	if !ok {
		return nil, errors.BatchNotFound(id)
	}
	return rs, nil
}

// liveLocked reports whether rs is still registered, i.e. not stopped.
func (o *Orchestrator) liveLocked(rs *runState) bool {
	return o.runs[rs.run.ID] == rs
}

func (o *Orchestrator) snapshot(rs *runState) Run {
	o.mu.Lock()
	defer o.mu.Unlock()
	return rs.run.clone()
}

func (o *Orchestrator) subscribeLocked() {
	if o.unsubscribe == nil && o.watcher != nil {
		o.unsubscribe = o.watcher.Subscribe(o.onSessionsChanged)
	}
}

func (o *Orchestrator) log(rs *runState) *logrus.Entry {
	return o.logger.WithFields(logrus.Fields{"run": rs.run.ID, "session": rs.run.SessionID})
}

// advance sends the next ready task or completes the run. The caller holds
// rs.step and not o.mu.
func (o *Orchestrator) advance(ctx context.Context, rs *runState) {
	o.mu.Lock()
	if !o.liveLocked(rs) || rs.run.Status != StatusRunning {
		o.mu.Unlock()
		return
	}
	run := rs.run.clone()
	o.mu.Unlock()

	o.tracker.Sync(ctx, run.ProjectPath)
	next := o.tracker.Ready(ctx, run.ProjectPath, run.WorkQueueID, 1)

	if len(next) == 0 {
		o.mu.Lock()
		defer o.mu.Unlock()
		if !o.liveLocked(rs) || rs.run.Status != StatusRunning {
			return
		}
		now := o.sched.Now()
		rs.run.Status = StatusCompleted
		rs.run.CurrentTask = nil
		rs.run.RemainingCount = 0
		rs.run.CompletedAt = &now
		o.log(rs).WithField("completed", len(rs.run.CompletedTasks)).Info("Batch run completed")
		return
	}

	issue := next[0]
	// The state before the prompt lands is the baseline for the idle edge.
	before, _ := o.sessions.Get(run.SessionID)
	prompt := RenderPrompt(run.PromptTemplate, issue.ID, issue.Title, issue.Description)
	sendErr := o.sender.SendText(ctx, run.PaneTarget, prompt, true)
	remaining := 0
	if sendErr == nil {
		ready := o.tracker.Ready(ctx, run.ProjectPath, run.WorkQueueID, readyCountLimit)
		remaining = max(len(ready)-1, 0)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.liveLocked(rs) {
		return
	}
	now := o.sched.Now()
	if sendErr != nil {
		rs.run.Status = StatusFailed
		rs.run.Error = fmt.Sprintf("failed to send task %s: %v", issue.ID, sendErr)
		rs.run.CompletedAt = &now
		o.log(rs).WithError(sendErr).WithField("task", issue.ID).Error("Batch run failed")
		return
	}
	rs.run.CurrentTask = &Task{
		TaskID:    issue.ID,
		Title:     issue.Title,
		Status:    TaskRunning,
		StartedAt: now,
	}
	rs.run.RemainingCount = remaining
	rs.retried = false
	rs.observe(before)
	o.log(rs).WithFields(logrus.Fields{"task": issue.ID, "remaining": remaining}).Info("Sent batch task")
}

func (o *Orchestrator) scheduleCheckLocked(rs *runState, d time.Duration) {
	id := rs.run.ID
	rs.slot.Schedule(d, func() { o.check(id) })
}

// onSessionsChanged reacts to store changes for sessions with a task in
// flight. Records are read outside mu.
func (o *Orchestrator) onSessionsChanged() {
	o.mu.Lock()
	var watched []*runState
	for _, rs := range o.runs {
		if rs.run.CurrentTask != nil && rs.run.Status.Active() {
			watched = append(watched, rs)
		}
	}
	o.mu.Unlock()

	for _, rs := range watched {
		rec, err := o.sessions.Get(rs.run.SessionID)
		if err != nil {
			continue
		}
		o.mu.Lock()
		o.observeLocked(rs, rec)
		o.mu.Unlock()
	}
}

// observeLocked applies one session observation to a run. Only a change to
// idle arms a completion check: the state differs from the last one seen,
// or the record was rewritten by a new hook event.
func (o *Orchestrator) observeLocked(rs *runState, rec *sessions.Record) {
	run := &rs.run
	if !o.liveLocked(rs) || run.CurrentTask == nil || !run.Status.Active() {
		return
	}
	if rec == nil {
		if rs.seen && run.Status != StatusPaused {
			o.sessionEndedLocked(rs)
		}
		return
	}

	prevSeen, prevState, prevUpdate := rs.seen, rs.lastState, rs.lastUpdate
	rs.observe(rec)
	if run.Status == StatusPaused {
		return
	}

	switch rec.State {
	case sessions.StateIdle:
		if prevSeen && prevState == sessions.StateIdle && !rec.LastUpdate.After(prevUpdate) {
			return
		}
		if run.Status == StatusWaitingForUser {
			run.Status = StatusRunning
			o.log(rs).Info("Session idle again, resuming batch run")
		}
		o.scheduleCheckLocked(rs, o.cfg.CheckDelay)
	case sessions.StateWaiting, sessions.StatePermission:
		rs.retried = false
		if run.Status == StatusRunning {
			rs.slot.Cancel()
			run.Status = StatusWaitingForUser
			o.log(rs).WithField("state", rec.State).Info("Batch run waiting for user")
		}
	default:
		// Working again; a later idle earns a fresh retry.
		rs.retried = false
	}
}

func (o *Orchestrator) sessionEndedLocked(rs *runState) {
	rs.slot.Cancel()
	rs.run.Status = StatusPaused
	rs.run.Error = fmt.Sprintf("session %s ended while task %s was in flight; restart the agent and resume the run",
		rs.run.SessionID, rs.run.CurrentTask.TaskID)
	o.log(rs).WithField("task", rs.run.CurrentTask.TaskID).Warn("Batch run paused, session is gone")
}

// check asks the tracker whether the current task closed. Not closed with
// the session idle earns one retry, then the run pauses for review.
func (o *Orchestrator) check(id string) {
	o.mu.Lock()
	rs, ok := o.runs[id]
	o.mu.Unlock()
	if !ok {
		return
	}
	rs.step.Lock()
	defer rs.step.Unlock()

	o.mu.Lock()
	if !o.liveLocked(rs) || rs.run.Status != StatusRunning || rs.run.CurrentTask == nil {
		o.mu.Unlock()
		return
	}
	run := rs.run.clone()
	o.mu.Unlock()
	task := *run.CurrentTask

	ctx := context.Background()
	o.tracker.Sync(ctx, run.ProjectPath)
	issue, found := o.tracker.Show(ctx, run.ProjectPath, task.TaskID)
	closed := found && issue.IsClosed()
	var rec *sessions.Record
	var recErr error
	if !closed {
		rec, recErr = o.sessions.Get(run.SessionID)
	}

	o.mu.Lock()
	if !o.liveLocked(rs) || rs.run.Status != StatusRunning ||
		rs.run.CurrentTask == nil || rs.run.CurrentTask.TaskID != task.TaskID {
		o.mu.Unlock()
		return
	}

	if closed {
		now := o.sched.Now()
		done := *rs.run.CurrentTask
		done.Status = TaskCompleted
		done.CompletedAt = &now
		rs.run.CompletedTasks = append(rs.run.CompletedTasks, done)
		rs.run.CurrentTask = nil
		o.log(rs).WithField("task", done.TaskID).Info("Batch task completed")
		o.mu.Unlock()
		o.advance(ctx, rs)
		return
	}
	defer o.mu.Unlock()

	switch {
	case recErr != nil:
		return
	case rec == nil:
		o.sessionEndedLocked(rs)
		return
	case rec.State != sessions.StateIdle:
		// The agent is still working; the next idle transition re-checks.
		return
	}
	if !rs.retried {
		rs.retried = true
		o.scheduleCheckLocked(rs, o.cfg.RetryDelay)
		o.log(rs).WithField("task", task.TaskID).Debug("Task not closed yet, retrying once")
		return
	}
	rs.run.Status = StatusPaused
	rs.run.Error = fmt.Sprintf("task %s is still open after the agent went idle; review it and resume the run", task.TaskID)
	o.log(rs).WithField("task", task.TaskID).Warn("Batch run paused for review")
}

// RenderPrompt fills {{id}}, {{title}} and {{description}} in template.
func RenderPrompt(template, id, title, description string) string {
	if strings.TrimSpace(description) == "" {
		description = NoDescription
	}
	return strings.NewReplacer(
		"{{id}}", id,
		"{{title}}", title,
		"{{description}}", description,
	).Replace(template)
}
