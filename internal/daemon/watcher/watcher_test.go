package watcher

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grovetools/agentwatch/internal/daemon/schedule/schedtest"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestFsnotifyDebounces(t *testing.T) {
	dir := t.TempDir()
	w := New(dir, WithDebounce(30*time.Millisecond))

	var calls atomic.Int32
	unsubscribe := w.Subscribe(func() { calls.Add(1) })
	defer unsubscribe()
	require.False(t, w.Polling())

	for i := 0; i < 5; i++ {
		writeFile(t, filepath.Join(dir, "s1.json"), `{"id":"s1"}`)
	}
	assert.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	// Temp files are not record changes.
	writeFile(t, filepath.Join(dir, ".s1.json.123.tmp"), "x")
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestEachSubscriberNotified(t *testing.T) {
	dir := t.TempDir()
	w := New(dir, WithDebounce(10*time.Millisecond))

	var a, b atomic.Int32
	unsubA := w.Subscribe(func() { a.Add(1) })
	unsubB := w.Subscribe(func() { b.Add(1) })
	assert.Equal(t, 2, w.Subscribers())

	writeFile(t, filepath.Join(dir, "s1.json"), "{}")
	assert.Eventually(t, func() bool { return a.Load() == 1 && b.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	unsubA()
	unsubA()
	assert.Equal(t, 1, w.Subscribers())
	unsubB()
	assert.Zero(t, w.Subscribers())
}

func TestPollFallbackWhenFsnotifyUnavailable(t *testing.T) {
	dir := t.TempDir()
	clock := schedtest.New(time.Unix(0, 0))
	w := New(dir, WithScheduler(clock), WithPollInterval(time.Second), WithDebounce(50*time.Millisecond))
	w.hub.opts.notifier = func() (*fsnotify.Watcher, error) { return nil, errors.New("no inotify") }

	calls := 0
	unsubscribe := w.Subscribe(func() { calls++ })
	require.True(t, w.Polling())

	clock.Advance(2 * time.Second)
	assert.Zero(t, calls, "unchanged directory")

	writeFile(t, filepath.Join(dir, "s1.json"), "{}")
	clock.Advance(time.Second + 50*time.Millisecond)
	assert.Equal(t, 1, calls)

	writeFile(t, filepath.Join(dir, "s1.json"), `{"id":"s1"}`)
	require.NoError(t, os.Remove(filepath.Join(dir, "s1.json")))
	clock.Advance(time.Second + 50*time.Millisecond)
	assert.Equal(t, 2, calls)

	unsubscribe()
	assert.False(t, w.Polling())
	assert.Zero(t, clock.Pending())
}

func TestFallbackKeepsSubscribers(t *testing.T) {
	dir := t.TempDir()
	clock := schedtest.New(time.Unix(0, 0))
	w := New(dir, WithScheduler(clock))

	calls := 0
	w.Subscribe(func() { calls++ })
	require.False(t, w.Polling())

	w.fallback(w.gen, errors.New("queue overflow"))
	assert.True(t, w.Polling())
	assert.Equal(t, 1, w.Subscribers())

	// A stale generation is ignored.
	w.fallback(w.gen-1, errors.New("late"))
	assert.True(t, w.Polling())
}

func TestSignature(t *testing.T) {
	dir := t.TempDir()
	assert.Empty(t, Signature(filepath.Join(dir, "missing"), nil))

	writeFile(t, filepath.Join(dir, "a.json"), "1")
	writeFile(t, filepath.Join(dir, ".b.json"), "1")
	first := Signature(dir, isRecordFile)
	assert.Contains(t, first, "a.json")
	assert.NotContains(t, first, ".b.json")

	writeFile(t, filepath.Join(dir, "a.json"), "22")
	assert.NotEqual(t, first, Signature(dir, isRecordFile))
}

func TestMtimeWatcher(t *testing.T) {
	dir := t.TempDir()
	clock := schedtest.New(time.Unix(0, 0))
	w := NewMtimeWatcher(dir, WithScheduler(clock), WithPollInterval(500*time.Millisecond))

	calls := 0
	unsubscribe := w.Subscribe(func() { calls++ })
	assert.Equal(t, 1, clock.Pending())

	clock.Advance(time.Second)
	assert.Zero(t, calls)

	writeFile(t, filepath.Join(dir, "issues.jsonl"), `{"id":"bd-1"}`)
	clock.Advance(500*time.Millisecond + DefaultDebounce)
	assert.Equal(t, 1, calls)

	unsubscribe()
	assert.Zero(t, clock.Pending())
	assert.Equal(t, dir, w.Dir())
}

func TestHubStopCompletesBeforeNextStart(t *testing.T) {
	var (
		mu      sync.Mutex
		events  []string
		entered = make(chan struct{})
		release = make(chan struct{})
	)
	record := func(ev string) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	}
	h := &hub{opts: newOptions(nil), subs: map[int]*subscriber{}}
	h.start = func() { record("start") }
	h.stop = func() {
		close(entered)
		<-release
		record("stop")
	}

	unsubscribe := h.subscribe(func() {})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		unsubscribe()
	}()
	<-entered

	joined := make(chan struct{})
	go func() {
		defer close(joined)
		h.subscribe(func() {})
	}()
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, []string{"start"}, events, "next subscriber waits for the stop")
	mu.Unlock()

	close(release)
	<-stopped
	<-joined
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"start", "stop", "start"}, events)
	assert.Equal(t, 1, h.count())
}
