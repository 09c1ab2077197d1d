package broadcast

import (
	"context"
	"encoding/hex"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/zeebo/blake3"

	"github.com/grovetools/agentwatch/errors"
	"github.com/grovetools/agentwatch/internal/daemon/schedule"
	"github.com/grovetools/agentwatch/pkg/sessions"
	"github.com/grovetools/agentwatch/pkg/tmux"
)

const (
	DefaultSessionClients = 50
	DefaultResyncInterval = 2 * time.Second

	// resyncLines is how much of each pane the interruption check reads.
	resyncLines = 60
)

// Session is a record enriched with live pane data.
type Session struct {
	sessions.Record
	PaneTitle string `json:"pane_title,omitempty"`
}

// SessionsPayload is pushed on the sessions channel.
type SessionsPayload struct {
	Type      string    `json:"type"`
	Sessions  []Session `json:"sessions"`
	Count     int       `json:"count"`
	Timestamp time.Time `json:"timestamp"`
}

type SessionsConfig struct {
	MaxClients     int
	SlowThreshold  int
	ResyncInterval time.Duration
}

// SessionsManager serves the sessions channel: one pool, a store watch
// and a periodic interruption re-sync while any client is connected.
type SessionsManager struct {
	cfg     SessionsConfig
	store   SessionSource
	panes   Panes
	watcher Notifier
	sched   schedule.Scheduler
	logger  *logrus.Entry
	pool    *Pool

	// life orders pool membership changes with start and stop, so a
	// stop from the last leaver never lands after a new client's start.
	life sync.Mutex

	mu          sync.Mutex
	running     bool
	unsubscribe func()
	resync      schedule.Task

	// pushMu serializes recompute and broadcast so lastHash matches what
	// clients last received.
	pushMu   sync.Mutex
	lastHash string
}

func NewSessionsManager(cfg SessionsConfig, store SessionSource, panes Panes, watcher Notifier, sched schedule.Scheduler, logger *logrus.Entry) *SessionsManager {
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = DefaultSessionClients
	}
	if cfg.ResyncInterval <= 0 {
		cfg.ResyncInterval = DefaultResyncInterval
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &SessionsManager{
		cfg:     cfg,
		store:   store,
		panes:   panes,
		watcher: watcher,
		sched:   sched,
		logger:  logger,
		pool:    NewPool("sessions", cfg.MaxClients, cfg.SlowThreshold, logger),
	}
}

// Connect admits c and sends it the current snapshot. A snapshot that
// differs from the last push goes to every client and becomes the new
// baseline for Refresh.
func (m *SessionsManager) Connect(c Client) error {
	m.life.Lock()
	if !m.pool.Admit(c) {
		m.life.Unlock()
		return errors.ClientLimit("sessions", m.cfg.MaxClients)
	}
	m.start()
	m.life.Unlock()

	m.pushMu.Lock()
	defer m.pushMu.Unlock()
	payload := m.compute()
	text, err := marshal(payload)
	if err != nil {
		m.logger.WithError(err).Error("Failed to encode sessions payload")
		return nil
	}
	if hash := hashSessions(payload.Sessions); hash != m.lastHash {
		m.lastHash = hash
		m.pool.Broadcast(text)
		return nil
	}
	m.pool.Send(c, text)
	return nil
}

// Disconnect removes c. The last client stops the watch and re-sync.
func (m *SessionsManager) Disconnect(c Client) {
	m.life.Lock()
	defer m.life.Unlock()
	m.pool.Remove(c)
	if m.pool.Len() == 0 {
		m.stop()
	}
}

// Handle processes one inbound message from c.
func (m *SessionsManager) Handle(c Client, data []byte) {
	answerPing(c, ParseControl(data))
}

func (m *SessionsManager) Stats() Stats {
	return m.pool.Stats()
}

// Close disconnects every client and stops background work.
func (m *SessionsManager) Close() {
	m.pool.CloseAll(CloseGoingAway, ReasonShutdown)
	m.stop()
}

func (m *SessionsManager) start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.unsubscribe = m.watcher.Subscribe(m.Refresh)
	m.resync = m.sched.Every(m.cfg.ResyncInterval, m.Resync)
	m.logger.Debug("Sessions channel started")
}

func (m *SessionsManager) stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	unsubscribe, resync := m.unsubscribe, m.resync
	m.unsubscribe, m.resync = nil, nil
	m.mu.Unlock()

	unsubscribe()
	resync.Stop()

	m.pushMu.Lock()
	m.lastHash = ""
	m.pushMu.Unlock()
	m.logger.Debug("Sessions channel stopped")
}

// Refresh recomputes the session list and pushes it if it changed.
func (m *SessionsManager) Refresh() {
	m.pushMu.Lock()
	defer m.pushMu.Unlock()

	payload := m.compute()
	hash := hashSessions(payload.Sessions)
	if hash == m.lastHash {
		return
	}
	text, err := marshal(payload)
	if err != nil {
		m.logger.WithError(err).Error("Failed to encode sessions payload")
		return
	}
	m.lastHash = hash
	m.pool.Broadcast(text)
}

// Resync re-runs interruption detection against every non-idle session
// bound to a pane. An interrupted or declined turn means the agent is
// back at its prompt even though no stop event arrived.
func (m *SessionsManager) Resync() {
	records, err := m.store.ListAll()
	if err != nil {
		m.logger.WithError(err).Debug("Resync could not list sessions")
		return
	}
	ctx := context.Background()
	for _, rec := range records {
		target := rec.Target()
		if target == "" || rec.State == sessions.StateIdle {
			continue
		}
		text, ok := m.panes.CaptureText(ctx, target, resyncLines)
		if !ok {
			continue
		}
		kind := tmux.DetectInterruption(text)
		if kind == tmux.InterruptionNone {
			continue
		}
		idle := sessions.StateIdle
		patch := sessions.Patch{State: &idle, Clear: []sessions.Field{sessions.FieldCurrentAction}}
		if err := m.store.Update(rec.ID, patch); err != nil {
			m.logger.WithError(err).WithField("session", rec.ID).Warn("Failed to mark interrupted session idle")
			continue
		}
		m.logger.WithFields(logrus.Fields{"session": rec.ID, "kind": kind.String()}).Debug("Detected finished turn")
	}
	m.Refresh()
}

func (m *SessionsManager) compute() SessionsPayload {
	records, err := m.store.ListAll()
	if err != nil {
		m.logger.WithError(err).Debug("Failed to list sessions")
	}
	records = sessions.Dedup(records)

	var titles map[string]string
	for _, r := range records {
		if r.Target() != "" {
			titles = m.panes.ListPaneTitles(context.Background())
			break
		}
	}

	list := make([]Session, 0, len(records))
	for _, r := range records {
		list = append(list, Session{Record: *r, PaneTitle: titles[r.Target()]})
	}
	return SessionsPayload{
		Type:      "sessions",
		Sessions:  list,
		Count:     len(list),
		Timestamp: m.sched.Now(),
	}
}

func hashSessions(list []Session) string {
	data, err := marshal(list)
	if err != nil {
		return ""
	}
	sum := blake3.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}
