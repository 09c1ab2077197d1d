// Package profiling times the steps of short-lived commands and collects
// pprof profiles from long-running ones.
package profiling

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Stopper ends a span.
type Stopper interface {
	Stop()
}

type span struct {
	name     string
	depth    int
	start    time.Time
	duration time.Duration
	timer    *Timer
}

func (s *span) Stop() {
	s.timer.end(s)
}

// Timer records nested spans. A nil or disabled Timer records nothing.
type Timer struct {
	mu      sync.Mutex
	enabled bool
	started time.Time
	spans   []*span
	depth   int
	now     func() time.Time
}

// NewTimer returns an enabled timer.
func NewTimer() *Timer {
	return &Timer{enabled: true, started: time.Now(), now: time.Now}
}

// Start opens a span nested under any span still open.
func (t *Timer) Start(name string) Stopper {
	if t == nil || !t.enabled {
		return noopStopper{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	s := &span{name: name, depth: t.depth, start: t.now(), timer: t}
	t.spans = append(t.spans, s)
	t.depth++
	return s
}

func (t *Timer) end(s *span) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s.duration != 0 {
		return
	}
	s.duration = max(t.now().Sub(s.start), time.Nanosecond)
	t.depth = max(t.depth-1, 0)
}

// Summarize writes one line per span in start order with its share of the
// total elapsed time.
func (t *Timer) Summarize(w io.Writer) {
	if t == nil || !t.enabled {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	total := t.now().Sub(t.started)

	fmt.Fprintf(w, "timing: %v total\n", total.Round(100*time.Microsecond))
	for _, s := range t.spans {
		pct := 0.0
		if total > 0 {
			pct = float64(s.duration) / float64(total) * 100
		}
		fmt.Fprintf(w, "%*s- %s (%v, %.1f%%)\n", 2*s.depth, "", s.name, s.duration.Round(100*time.Microsecond), pct)
	}
}

type noopStopper struct{}

func (noopStopper) Stop() {}
