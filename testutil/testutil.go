// Package testutil provides fakes shared by package tests.
package testutil

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Response is the canned result of one faked subprocess.
type Response struct {
	Stdout string
	Stderr string
	Exit   int
	// Delay makes the process sleep before exiting, for timeout tests.
	Delay time.Duration
}

// FakeExecutor implements command.Executor by running a tiny shell script
// that prints a canned response. Responses are matched by the longest
// registered prefix of the command line ("name arg1 arg2 ...").
type FakeExecutor struct {
	mu       sync.Mutex
	handlers map[string]func(args []string) Response
	calls    [][]string
}

// NewFakeExecutor returns an executor with no responses registered.
// Unmatched commands exit 127.
func NewFakeExecutor() *FakeExecutor {
	return &FakeExecutor{handlers: make(map[string]func([]string) Response)}
}

// On registers a fixed response for commands starting with prefix.
func (f *FakeExecutor) On(prefix string, r Response) *FakeExecutor {
	return f.OnFunc(prefix, func([]string) Response { return r })
}

// OnFunc registers a computed response. fn receives the full argv.
func (f *FakeExecutor) OnFunc(prefix string, fn func(args []string) Response) *FakeExecutor {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[prefix] = fn
	return f
}

// Calls returns every argv seen so far, name first.
func (f *FakeExecutor) Calls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]string, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallsWithPrefix returns the command lines that start with prefix.
func (f *FakeExecutor) CallsWithPrefix(prefix string) []string {
	var out []string
	for _, argv := range f.Calls() {
		if line := strings.Join(argv, " "); strings.HasPrefix(line, prefix) {
			out = append(out, line)
		}
	}
	return out
}

func (f *FakeExecutor) CommandContext(ctx context.Context, name string, args ...string) *exec.Cmd {
	argv := append([]string{name}, args...)
	line := strings.Join(argv, " ")

	f.mu.Lock()
	f.calls = append(f.calls, argv)
	var best string
	var handler func([]string) Response
	for prefix, fn := range f.handlers {
		if strings.HasPrefix(line, prefix) && len(prefix) >= len(best) {
			best, handler = prefix, fn
		}
	}
	f.mu.Unlock()

	r := Response{Stderr: fmt.Sprintf("unexpected command: %s", line), Exit: 127}
	if handler != nil {
		r = handler(argv)
	}

	script := `printf '%s' "$1"; printf '%s' "$2" >&2; exit "$3"`
	if r.Delay > 0 {
		script = `sleep "$4"; ` + script
	}
	delay := strconv.FormatFloat(r.Delay.Seconds(), 'f', 3, 64)
	return exec.CommandContext(ctx, "sh", "-c", script, "fake", r.Stdout, r.Stderr, strconv.Itoa(r.Exit), delay)
}
