// Package schedule provides cancellable one-shot and periodic tasks. Owners
// keep the returned Task and stop it when the work is no longer wanted, so
// timers never outlive the client or run that created them.
package schedule

import (
	"sync"
	"time"
)

// Task is a scheduled callback.
type Task interface {
	// Stop cancels future runs. It reports whether the task was still
	// pending; a callback already running is not interrupted.
	Stop() bool
}

// Scheduler creates tasks.
type Scheduler interface {
	// After runs fn once after d.
	After(d time.Duration, fn func()) Task
	// Every runs fn every d until stopped. Runs never overlap.
	Every(d time.Duration, fn func()) Task
	Now() time.Time
}

// Real schedules on the wall clock.
type Real struct{}

// New returns the wall-clock scheduler.
func New() Scheduler {
	return Real{}
}

func (Real) Now() time.Time {
	return time.Now()
}

func (Real) After(d time.Duration, fn func()) Task {
	return &oneShot{timer: time.AfterFunc(d, fn)}
}

func (Real) Every(d time.Duration, fn func()) Task {
	t := &periodic{done: make(chan struct{})}
	ticker := time.NewTicker(d)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-t.done:
				return
			case <-ticker.C:
				// Stop may race with a tick; prefer stopping.
				select {
				case <-t.done:
					return
				default:
				}
				fn()
			}
		}
	}()
	return t
}

type oneShot struct {
	timer *time.Timer
}

func (o *oneShot) Stop() bool {
	return o.timer.Stop()
}

type periodic struct {
	once sync.Once
	done chan struct{}
}

func (p *periodic) Stop() bool {
	stopped := false
	p.once.Do(func() {
		close(p.done)
		stopped = true
	})
	return stopped
}

// Slot holds at most one pending one-shot task. Scheduling while a task is
// pending is a no-op.
type Slot struct {
	mu      sync.Mutex
	sched   Scheduler
	pending Task
	gen     uint64
}

func NewSlot(s Scheduler) *Slot {
	return &Slot{sched: s}
}

// Schedule arms fn after d unless a task is already pending. It reports
// whether a new task was armed.
func (s *Slot) Schedule(d time.Duration, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != nil {
		return false
	}
	s.gen++
	gen := s.gen
	s.pending = s.sched.After(d, func() {
		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			return
		}
		s.pending = nil
		s.mu.Unlock()
		fn()
	})
	return true
}

// Pending reports whether a task is armed.
func (s *Slot) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending != nil
}

// Cancel stops the pending task, if any.
func (s *Slot) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != nil {
		s.pending.Stop()
		s.pending = nil
		s.gen++
	}
}
