package broadcast

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/grovetools/agentwatch/errors"
	"github.com/grovetools/agentwatch/internal/daemon/schedule"
	"github.com/grovetools/agentwatch/pkg/termparse"
)

const (
	DefaultTerminalClients = 10
	DefaultTerminalPoll    = 200 * time.Millisecond
)

// TerminalPayload is pushed on a terminal channel.
type TerminalPayload struct {
	Type      string             `json:"type"`
	Target    string             `json:"target"`
	Content   string             `json:"content"`
	Blocks    []*termparse.Block `json:"blocks"`
	Timestamp time.Time          `json:"timestamp"`
}

type TerminalConfig struct {
	// MaxClients applies per pane target.
	MaxClients    int
	SlowThreshold int
	PollInterval  time.Duration
	// Lines limits each capture to the last N lines; 0 captures the
	// visible screen.
	Lines int
}

type terminalFeed struct {
	target string
	pool   *Pool
	task   schedule.Task

	mu     sync.Mutex
	parser *termparse.Parser
	last   string
	latest string
}

// TerminalManager serves one feed per pane target. A feed polls its pane
// while it has clients and is forgotten when the last one leaves.
type TerminalManager struct {
	cfg    TerminalConfig
	panes  Panes
	sched  schedule.Scheduler
	logger *logrus.Entry

	mu      sync.Mutex
	feeds   map[string]*terminalFeed
	retired Stats
}

func NewTerminalManager(cfg TerminalConfig, panes Panes, sched schedule.Scheduler, logger *logrus.Entry) *TerminalManager {
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = DefaultTerminalClients
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultTerminalPoll
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &TerminalManager{
		cfg:    cfg,
		panes:  panes,
		sched:  sched,
		logger: logger,
		feeds:  make(map[string]*terminalFeed),
	}
}

// Connect admits c to the feed for target, starting the feed if needed,
// and sends it the latest content.
func (m *TerminalManager) Connect(target string, c Client) error {
	if target == "" {
		return errors.InvalidInput("terminal target is required")
	}

	m.mu.Lock()
	feed, ok := m.feeds[target]
	if !ok {
		feed = &terminalFeed{
			target: target,
			pool:   NewPool("terminal:"+target, m.cfg.MaxClients, m.cfg.SlowThreshold, m.logger),
			parser: termparse.NewParser(),
		}
		m.feeds[target] = feed
	}
	if !feed.pool.Admit(c) {
		m.mu.Unlock()
		return errors.ClientLimit("terminal", m.cfg.MaxClients)
	}
	if feed.task == nil {
		feed.task = m.sched.Every(m.cfg.PollInterval, func() { m.poll(feed) })
		m.logger.WithField("target", target).Debug("Terminal feed started")
	}
	m.mu.Unlock()

	feed.mu.Lock()
	latest := feed.latest
	feed.mu.Unlock()
	if latest != "" {
		feed.pool.Send(c, latest)
		return nil
	}
	m.poll(feed)
	return nil
}

// Disconnect removes c. The last client stops the poll and drops the
// cached capture and parser state.
func (m *TerminalManager) Disconnect(target string, c Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	feed, ok := m.feeds[target]
	if !ok {
		return
	}
	feed.pool.Remove(c)
	if feed.pool.Len() > 0 {
		return
	}
	m.retireLocked(feed)
	m.logger.WithField("target", target).Debug("Terminal feed stopped")
}

func (m *TerminalManager) retireLocked(feed *terminalFeed) {
	if feed.task != nil {
		feed.task.Stop()
		feed.task = nil
	}
	m.retired = m.retired.add(feed.pool.Stats())
	delete(m.feeds, feed.target)
}

// Handle processes one inbound message: ping or resize.
func (m *TerminalManager) Handle(target string, c Client, data []byte) {
	msg := ParseControl(data)
	if answerPing(c, msg) {
		return
	}
	if msg.Type != "resize" {
		return
	}
	if !m.panes.Resize(context.Background(), target, msg.Cols, msg.Rows) {
		return
	}
	m.mu.Lock()
	feed := m.feeds[target]
	m.mu.Unlock()
	if feed != nil {
		m.poll(feed)
	}
}

// Blocks returns the classified content of target, from the live feed
// when one exists.
func (m *TerminalManager) Blocks(ctx context.Context, target string) ([]*termparse.Block, bool) {
	m.mu.Lock()
	feed := m.feeds[target]
	m.mu.Unlock()
	if feed != nil {
		feed.mu.Lock()
		blocks, have := feed.parser.Blocks(), feed.last != ""
		feed.mu.Unlock()
		if have {
			return blocks, true
		}
	}
	text, ok := m.panes.CaptureText(ctx, target, m.cfg.Lines)
	if !ok {
		return nil, false
	}
	return termparse.Parse(text), true
}

// Targets returns the pane targets with live feeds.
func (m *TerminalManager) Targets() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.feeds))
	for t := range m.feeds {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (m *TerminalManager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.retired
	for _, feed := range m.feeds {
		s = s.add(feed.pool.Stats())
	}
	return s
}

func (m *TerminalManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, feed := range m.feeds {
		feed.pool.CloseAll(CloseGoingAway, ReasonShutdown)
		m.retireLocked(feed)
	}
}

// poll captures the pane and pushes when the text changed.
func (m *TerminalManager) poll(feed *terminalFeed) {
	text, ok := m.panes.CaptureText(context.Background(), feed.target, m.cfg.Lines)
	if !ok {
		return
	}

	feed.mu.Lock()
	if text == feed.last {
		feed.mu.Unlock()
		return
	}
	feed.last = text
	blocks := feed.parser.Update(text)
	msg, err := marshal(TerminalPayload{
		Type:      "terminal",
		Target:    feed.target,
		Content:   text,
		Blocks:    blocks,
		Timestamp: m.sched.Now(),
	})
	if err != nil {
		feed.mu.Unlock()
		m.logger.WithError(err).Error("Failed to encode terminal payload")
		return
	}
	feed.latest = msg
	feed.mu.Unlock()

	feed.pool.Broadcast(msg)
}
