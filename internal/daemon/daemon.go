// Package daemon assembles the agentwatch daemon from its components.
package daemon

import (
	"context"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/grovetools/agentwatch/config"
	"github.com/grovetools/agentwatch/internal/daemon/batch"
	"github.com/grovetools/agentwatch/internal/daemon/broadcast"
	"github.com/grovetools/agentwatch/internal/daemon/engine"
	"github.com/grovetools/agentwatch/internal/daemon/schedule"
	"github.com/grovetools/agentwatch/internal/daemon/server"
	"github.com/grovetools/agentwatch/internal/daemon/watcher"
	"github.com/grovetools/agentwatch/logging"
	"github.com/grovetools/agentwatch/pkg/beads"
	"github.com/grovetools/agentwatch/pkg/paths"
	"github.com/grovetools/agentwatch/pkg/sessions"
	"github.com/grovetools/agentwatch/pkg/tmux"
)

// Daemon holds one instance of every long-lived component.
type Daemon struct {
	Config       *config.Config
	Store        *sessions.Store
	Tmux         *tmux.Client
	Tracker      *beads.Client
	Watcher      *watcher.Watcher
	Sessions     *broadcast.SessionsManager
	Terminal     *broadcast.TerminalManager
	Beads        *broadcast.BeadsManager
	Orchestrator *batch.Orchestrator
	Engine       *engine.Engine
	Server       *server.Server

	logger *logrus.Entry
}

// Option customizes construction, mostly for tests.
type Option func(*options)

type options struct {
	sched    schedule.Scheduler
	tmuxOpts []tmux.Option
	bdOpts   []beads.Option
}

func WithScheduler(s schedule.Scheduler) Option {
	return func(o *options) { o.sched = s }
}

func WithTmuxOptions(opts ...tmux.Option) Option {
	return func(o *options) { o.tmuxOpts = append(o.tmuxOpts, opts...) }
}

func WithTrackerOptions(opts ...beads.Option) Option {
	return func(o *options) { o.bdOpts = append(o.bdOpts, opts...) }
}

// New wires the components described by cfg. Nothing runs until Run.
func New(cfg *config.Config, opts ...Option) *Daemon {
	o := options{sched: schedule.New()}
	for _, opt := range opts {
		opt(&o)
	}
	logger := logging.NewLogger("agentwatch")

	dir := SessionsDir(cfg)
	store := sessions.NewStore(dir, logging.NewLogger("sessions"))

	tmuxClient := tmux.NewClient(append([]tmux.Option{
		tmux.WithBinary(cfg.Tmux.Binary),
		tmux.WithLogger(logging.NewLogger("tmux")),
	}, o.tmuxOpts...)...)

	tracker := beads.NewClient(append([]beads.Option{
		beads.WithBinary(cfg.Tracker.Binary),
		beads.WithTimeout(cfg.Tracker.Timeout.Std()),
		beads.WithLogger(logging.NewLogger("beads")),
	}, o.bdOpts...)...)

	w := watcher.New(dir,
		watcher.WithDebounce(cfg.Watcher.Debounce.Std()),
		watcher.WithPollInterval(cfg.Watcher.PollInterval.Std()),
		watcher.WithScheduler(o.sched),
		watcher.WithLogger(logging.NewLogger("watcher")))

	b := cfg.Broadcast
	broadcastLog := logging.NewLogger("broadcast")
	sessionsMgr := broadcast.NewSessionsManager(broadcast.SessionsConfig{
		MaxClients:     b.MaxSessionClients,
		SlowThreshold:  b.SlowClientThreshold,
		ResyncInterval: b.ResyncInterval.Std(),
	}, store, tmuxClient, w, o.sched, broadcastLog)
	terminalMgr := broadcast.NewTerminalManager(broadcast.TerminalConfig{
		MaxClients:    b.MaxTerminalClients,
		SlowThreshold: b.SlowClientThreshold,
		PollInterval:  b.TerminalPollInterval.Std(),
		Lines:         b.TerminalLines,
	}, tmuxClient, o.sched, broadcastLog)
	beadsMgr := broadcast.NewBeadsManager(broadcast.BeadsConfig{
		MaxClients:    b.MaxBeadsClients,
		SlowThreshold: b.SlowClientThreshold,
		PollInterval:  b.BeadsPollInterval.Std(),
	}, tracker, o.sched, broadcastLog)

	orch := batch.New(batch.Config{
		CheckDelay:      cfg.Batch.CheckDelay.Std(),
		RetryDelay:      cfg.Batch.RetryDelay.Std(),
		DefaultTemplate: cfg.Batch.PromptTemplate,
	}, tracker, tmuxClient, store, w, o.sched, logging.NewLogger("batch"))

	eng := engine.New(logger)
	eng.Register(engine.NewStaleSweeper(store, cfg.Sessions.StaleSweepInterval.Std(), logging.NewLogger("sweeper")))

	srv := server.New(server.Deps{
		Store:    store,
		Tmux:     tmuxClient,
		Sessions: sessionsMgr,
		Terminal: terminalMgr,
		Beads:    beadsMgr,
		Batch:    orch,
		Running: &server.RunningConfig{
			Addr:                 cfg.Server.Addr(),
			SessionsDir:          dir,
			ResyncInterval:       b.ResyncInterval.Std(),
			TerminalPollInterval: b.TerminalPollInterval.Std(),
			StaleSweepInterval:   cfg.Sessions.StaleSweepInterval.Std(),
			StartedAt:            time.Now(),
		},
	}, logging.NewLogger("server"))

	return &Daemon{
		Config:       cfg,
		Store:        store,
		Tmux:         tmuxClient,
		Tracker:      tracker,
		Watcher:      w,
		Sessions:     sessionsMgr,
		Terminal:     terminalMgr,
		Beads:        beadsMgr,
		Orchestrator: orch,
		Engine:       eng,
		Server:       srv,
		logger:       logger,
	}
}

// SessionsDir is the configured sessions directory, or the default under
// the state dir.
func SessionsDir(cfg *config.Config) string {
	if cfg.Sessions.Dir != "" {
		return cfg.Sessions.Dir
	}
	return paths.SessionsDir()
}

// Run serves on listener until ctx is canceled, then shuts down within
// five seconds.
func (d *Daemon) Run(ctx context.Context, listener net.Listener) error {
	engineCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	engineDone := make(chan struct{})
	go func() {
		d.Engine.Start(engineCtx)
		close(engineDone)
	}()

	errc := make(chan error, 1)
	go func() { errc <- d.Server.Serve(listener) }()

	select {
	case err := <-errc:
		cancel()
		<-engineDone
		return err
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	err := d.Server.Shutdown(shutdownCtx)
	cancel()
	<-engineDone
	<-errc
	return err
}
