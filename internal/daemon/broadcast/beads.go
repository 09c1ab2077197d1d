package broadcast

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/grovetools/agentwatch/errors"
	"github.com/grovetools/agentwatch/internal/daemon/schedule"
	"github.com/grovetools/agentwatch/internal/daemon/watcher"
	"github.com/grovetools/agentwatch/pkg/beads"
)

const (
	DefaultBeadsClients = 10
	DefaultBeadsPoll    = time.Second
)

// BeadsPayload is pushed on a beads channel.
type BeadsPayload struct {
	Type      string        `json:"type"`
	Project   string        `json:"project"`
	Issues    []beads.Issue `json:"issues"`
	Timestamp time.Time     `json:"timestamp"`
}

type BeadsConfig struct {
	// MaxClients applies per project.
	MaxClients    int
	SlowThreshold int
	PollInterval  time.Duration
}

type beadsFeed struct {
	project     string
	pool        *Pool
	unsubscribe func()
}

// BeadsManager serves one feed per project directory. A new client gets
// the JSONL snapshot at once and the tracker's own listing when it
// arrives; later pushes follow mtime changes under .beads/.
type BeadsManager struct {
	cfg        BeadsConfig
	tracker    Tracker
	sched      schedule.Scheduler
	logger     *logrus.Entry
	newWatcher func(dir string) Notifier

	mu      sync.Mutex
	feeds   map[string]*beadsFeed
	retired Stats
	wg      sync.WaitGroup
}

func NewBeadsManager(cfg BeadsConfig, tracker Tracker, sched schedule.Scheduler, logger *logrus.Entry) *BeadsManager {
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = DefaultBeadsClients
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultBeadsPoll
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	m := &BeadsManager{
		cfg:     cfg,
		tracker: tracker,
		sched:   sched,
		logger:  logger,
		feeds:   make(map[string]*beadsFeed),
	}
	m.newWatcher = func(dir string) Notifier {
		return watcher.NewMtimeWatcher(dir,
			watcher.WithScheduler(sched),
			watcher.WithPollInterval(cfg.PollInterval),
			watcher.WithLogger(logger))
	}
	return m
}

// Connect admits c to the project's feed.
func (m *BeadsManager) Connect(project string, c Client) error {
	if project == "" {
		return errors.InvalidInput("project path is required")
	}
	project = filepath.Clean(project)

	m.mu.Lock()
	feed, ok := m.feeds[project]
	if !ok {
		feed = &beadsFeed{
			project: project,
			pool:    NewPool("beads:"+project, m.cfg.MaxClients, m.cfg.SlowThreshold, m.logger),
		}
		m.feeds[project] = feed
	}
	if !feed.pool.Admit(c) {
		m.mu.Unlock()
		return errors.ClientLimit("beads", m.cfg.MaxClients)
	}
	if feed.unsubscribe == nil {
		feed.unsubscribe = m.newWatcher(beads.Dir(project)).Subscribe(func() { m.push(feed) })
		m.logger.WithField("project", project).Debug("Beads feed started")
	}
	m.mu.Unlock()

	if issues, err := beads.ReadSnapshot(project); err == nil {
		m.sendTo(feed, c, issues)
	} else {
		m.logger.WithError(err).WithField("project", project).Debug("No tracker snapshot")
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		issues := m.tracker.List(context.Background(), project)
		if issues == nil {
			return
		}
		m.sendTo(feed, c, issues)
	}()
	return nil
}

func (m *BeadsManager) Disconnect(project string, c Client) {
	project = filepath.Clean(project)
	m.mu.Lock()
	defer m.mu.Unlock()
	feed, ok := m.feeds[project]
	if !ok {
		return
	}
	feed.pool.Remove(c)
	if feed.pool.Len() > 0 {
		return
	}
	m.retireLocked(feed)
	m.logger.WithField("project", project).Debug("Beads feed stopped")
}

func (m *BeadsManager) retireLocked(feed *beadsFeed) {
	if feed.unsubscribe != nil {
		feed.unsubscribe()
		feed.unsubscribe = nil
	}
	m.retired = m.retired.add(feed.pool.Stats())
	delete(m.feeds, feed.project)
}

func (m *BeadsManager) Handle(c Client, data []byte) {
	answerPing(c, ParseControl(data))
}

func (m *BeadsManager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.retired
	for _, feed := range m.feeds {
		s = s.add(feed.pool.Stats())
	}
	return s
}

// Wait blocks until in-flight tracker fetches finish.
func (m *BeadsManager) Wait() {
	m.wg.Wait()
}

func (m *BeadsManager) Close() {
	m.mu.Lock()
	for _, feed := range m.feeds {
		feed.pool.CloseAll(CloseGoingAway, ReasonShutdown)
		m.retireLocked(feed)
	}
	m.mu.Unlock()
	m.wg.Wait()
}

// push reloads the project after its tracker files changed. The tracker
// listing is preferred; the snapshot covers a missing or failing CLI.
func (m *BeadsManager) push(feed *beadsFeed) {
	issues := m.tracker.List(context.Background(), feed.project)
	if issues == nil {
		snap, err := beads.ReadSnapshot(feed.project)
		if err != nil {
			return
		}
		issues = snap
	}
	text, err := m.encode(feed.project, issues)
	if err != nil {
		return
	}
	feed.pool.Broadcast(text)
}

func (m *BeadsManager) sendTo(feed *beadsFeed, c Client, issues []beads.Issue) {
	if !feed.pool.Has(c) {
		return
	}
	text, err := m.encode(feed.project, issues)
	if err != nil {
		return
	}
	feed.pool.Send(c, text)
}

func (m *BeadsManager) encode(project string, issues []beads.Issue) (string, error) {
	if issues == nil {
		issues = []beads.Issue{}
	}
	text, err := marshal(BeadsPayload{
		Type:      "beads",
		Project:   project,
		Issues:    issues,
		Timestamp: m.sched.Now(),
	})
	if err != nil {
		m.logger.WithError(err).Error("Failed to encode beads payload")
	}
	return text, err
}
