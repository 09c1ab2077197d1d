// Package watcher turns file mutations in the sessions directory and in
// project tracker directories into debounced change notifications.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/grovetools/agentwatch/internal/daemon/schedule"
)

const (
	DefaultDebounce     = 50 * time.Millisecond
	DefaultPollInterval = time.Second
)

type options struct {
	debounce time.Duration
	poll     time.Duration
	sched    schedule.Scheduler
	logger   *logrus.Entry
	notifier func() (*fsnotify.Watcher, error)
}

type Option func(*options)

// WithDebounce sets how long events are coalesced before subscribers run.
func WithDebounce(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.debounce = d
		}
	}
}

// WithPollInterval sets the polling period used when fsnotify is
// unavailable, and by MtimeWatcher always.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.poll = d
		}
	}
}

func WithScheduler(s schedule.Scheduler) Option {
	return func(o *options) { o.sched = s }
}

func WithLogger(logger *logrus.Entry) Option {
	return func(o *options) { o.logger = logger }
}

func newOptions(opts []Option) options {
	o := options{
		debounce: DefaultDebounce,
		poll:     DefaultPollInterval,
		sched:    schedule.New(),
		logger:   logrus.NewEntry(logrus.StandardLogger()),
		notifier: fsnotify.NewWatcher,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

type subscriber struct {
	fn   func()
	slot *schedule.Slot
}

// hub is the subscriber registry shared by both watchers. The first
// subscriber starts the source, the last unsubscribe stops it.
type hub struct {
	// life orders count transitions with their start and stop calls, so a
	// late stop can never land after the next first subscriber's start.
	life sync.Mutex

	mu     sync.Mutex
	opts   options
	subs   map[int]*subscriber
	nextID int
	start  func()
	stop   func()
}

func (h *hub) subscribe(fn func()) func() {
	h.life.Lock()
	defer h.life.Unlock()
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.subs[id] = &subscriber{fn: fn, slot: schedule.NewSlot(h.opts.sched)}
	first := len(h.subs) == 1
	h.mu.Unlock()
	if first {
		h.start()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			h.life.Lock()
			defer h.life.Unlock()
			h.mu.Lock()
			sub, ok := h.subs[id]
			delete(h.subs, id)
			last := ok && len(h.subs) == 0
			h.mu.Unlock()
			if sub != nil {
				sub.slot.Cancel()
			}
			if last {
				h.stop()
			}
		})
	}
}

// notify arms one debounced callback per subscriber. Events arriving while
// a callback is armed fold into it.
func (h *hub) notify() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		sub.slot.Schedule(h.opts.debounce, sub.fn)
	}
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Watcher watches the sessions directory. It prefers fsnotify and falls
// back to polling a directory signature when fsnotify cannot be set up or
// reports an error.
type Watcher struct {
	dir string
	hub *hub

	mu      sync.Mutex
	gen     int
	fsw     *fsnotify.Watcher
	cancel  context.CancelFunc
	poll    schedule.Task
	lastSig string
}

func New(dir string, opts ...Option) *Watcher {
	w := &Watcher{dir: dir}
	w.hub = &hub{opts: newOptions(opts), subs: map[int]*subscriber{}}
	w.hub.start = w.start
	w.hub.stop = w.stop
	return w
}

// Subscribe registers fn and returns its unsubscribe function.
func (w *Watcher) Subscribe(fn func()) func() {
	return w.hub.subscribe(fn)
}

// Subscribers returns the current subscriber count.
func (w *Watcher) Subscribers() int {
	return w.hub.count()
}

// Polling reports whether the watcher is in poll mode.
func (w *Watcher) Polling() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.poll != nil
}

func (w *Watcher) logger() *logrus.Entry {
	return w.hub.opts.logger.WithField("dir", w.dir)
}

func (w *Watcher) start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.gen++

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		w.logger().WithError(err).Debug("Cannot create sessions directory")
	}
	fsw, err := w.hub.opts.notifier()
	if err == nil {
		if err = fsw.Add(w.dir); err != nil {
			fsw.Close()
		}
	}
	if err != nil {
		w.logger().WithError(err).Warn("fsnotify unavailable, polling instead")
		w.startPollLocked()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.fsw = fsw
	w.cancel = cancel
	go w.loop(ctx, fsw, w.gen)
	w.logger().Debug("Watching sessions directory")
}

func (w *Watcher) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.gen++
	w.stopLocked()
}

func (w *Watcher) stopLocked() {
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
	if w.fsw != nil {
		w.fsw.Close()
		w.fsw = nil
	}
	if w.poll != nil {
		w.poll.Stop()
		w.poll = nil
	}
}

func (w *Watcher) loop(ctx context.Context, fsw *fsnotify.Watcher, gen int) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			if relevant(ev) {
				w.hub.notify()
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.fallback(gen, err)
			return
		}
	}
}

// fallback swaps fsnotify for polling. Subscribers are kept.
func (w *Watcher) fallback(gen int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if gen != w.gen {
		return
	}
	w.logger().WithError(err).Warn("fsnotify failed, polling instead")
	w.stopLocked()
	w.startPollLocked()
	// Anything may have changed while the watch was broken.
	go w.hub.notify()
}

func (w *Watcher) startPollLocked() {
	w.lastSig = Signature(w.dir, isRecordFile)
	gen := w.gen
	w.poll = w.hub.opts.sched.Every(w.hub.opts.poll, func() { w.pollOnce(gen) })
}

func (w *Watcher) pollOnce(gen int) {
	sig := Signature(w.dir, isRecordFile)
	w.mu.Lock()
	if gen != w.gen || sig == w.lastSig {
		w.mu.Unlock()
		return
	}
	w.lastSig = sig
	w.mu.Unlock()
	w.hub.notify()
}

func relevant(ev fsnotify.Event) bool {
	if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	return isRecordFile(filepath.Base(ev.Name))
}

// isRecordFile skips dotfiles, which covers in-flight temp files.
func isRecordFile(name string) bool {
	return !strings.HasPrefix(name, ".") && strings.HasSuffix(name, ".json")
}

// Signature summarizes the names, sizes and mtimes of the entries in dir
// accepted by keep. A missing directory has the empty signature.
func Signature(dir string, keep func(name string) bool) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		if keep != nil && !keep(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s:%d:%d", e.Name(), info.Size(), info.ModTime().UnixNano()))
	}
	sort.Strings(parts)
	return strings.Join(parts, "|")
}
