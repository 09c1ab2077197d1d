// Package schedtest provides a manually advanced Scheduler for tests.
package schedtest

import (
	"sort"
	"sync"
	"time"

	"github.com/grovetools/agentwatch/internal/daemon/schedule"
)

// Clock is a fake scheduler. Callbacks run synchronously inside Advance, in
// due-time order, on the caller's goroutine.
type Clock struct {
	mu    sync.Mutex
	now   time.Time
	seq   int
	tasks []*task
}

type task struct {
	clock   *Clock
	seq     int
	due     time.Time
	every   time.Duration
	fn      func()
	stopped bool
}

var _ schedule.Scheduler = (*Clock)(nil)

// New returns a clock starting at start.
func New(start time.Time) *Clock {
	return &Clock{now: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) After(d time.Duration, fn func()) schedule.Task {
	return c.add(d, 0, fn)
}

func (c *Clock) Every(d time.Duration, fn func()) schedule.Task {
	return c.add(d, d, fn)
}

func (c *Clock) add(d, every time.Duration, fn func()) *task {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &task{clock: c, seq: c.seq, due: c.now.Add(d), every: every, fn: fn}
	c.tasks = append(c.tasks, t)
	return t
}

// Pending returns the number of armed tasks.
func (c *Clock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.tasks {
		if !t.stopped {
			n++
		}
	}
	return n
}

// Advance moves the clock forward by d, running every task that falls due.
// Tasks scheduled by callbacks run in the same call if they fall due before
// the new time.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		next := c.nextDueLocked(target)
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		c.now = next.due
		if next.every > 0 {
			next.due = next.due.Add(next.every)
		} else {
			next.stopped = true
		}
		c.pruneLocked()
		fn := next.fn
		c.mu.Unlock()
		fn()
	}
}

func (c *Clock) nextDueLocked(limit time.Time) *task {
	var due []*task
	for _, t := range c.tasks {
		if !t.stopped && !t.due.After(limit) {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].due.Equal(due[j].due) {
			return due[i].seq < due[j].seq
		}
		return due[i].due.Before(due[j].due)
	})
	return due[0]
}

func (c *Clock) pruneLocked() {
	kept := c.tasks[:0]
	for _, t := range c.tasks {
		if !t.stopped {
			kept = append(kept, t)
		}
	}
	c.tasks = kept
}

func (t *task) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped {
		return false
	}
	t.stopped = true
	t.clock.pruneLocked()
	return true
}
