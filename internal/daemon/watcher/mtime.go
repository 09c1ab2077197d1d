package watcher

import (
	"sync"

	"github.com/grovetools/agentwatch/internal/daemon/schedule"
)

// MtimeWatcher polls a directory's entry mtimes and sizes. It is used for
// tracker directories, whose files are rewritten by another program with
// no guarantee about how.
type MtimeWatcher struct {
	dir string
	hub *hub

	mu      sync.Mutex
	gen     int
	task    schedule.Task
	lastSig string
}

func NewMtimeWatcher(dir string, opts ...Option) *MtimeWatcher {
	w := &MtimeWatcher{dir: dir}
	w.hub = &hub{opts: newOptions(opts), subs: map[int]*subscriber{}}
	w.hub.start = w.start
	w.hub.stop = w.stop
	return w
}

func (w *MtimeWatcher) Dir() string {
	return w.dir
}

func (w *MtimeWatcher) Subscribe(fn func()) func() {
	return w.hub.subscribe(fn)
}

func (w *MtimeWatcher) Subscribers() int {
	return w.hub.count()
}

func (w *MtimeWatcher) start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.gen++
	gen := w.gen
	w.lastSig = Signature(w.dir, nil)
	w.task = w.hub.opts.sched.Every(w.hub.opts.poll, func() { w.check(gen) })
	w.hub.opts.logger.WithField("dir", w.dir).Debug("Polling tracker directory")
}

func (w *MtimeWatcher) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.gen++
	if w.task != nil {
		w.task.Stop()
		w.task = nil
	}
}

func (w *MtimeWatcher) check(gen int) {
	sig := Signature(w.dir, nil)
	w.mu.Lock()
	if gen != w.gen || sig == w.lastSig {
		w.mu.Unlock()
		return
	}
	w.lastSig = sig
	w.mu.Unlock()
	w.hub.notify()
}
