// Package pidfile guards the single agentwatch daemon per state directory.
// The file holds the daemon's PID on the first line and its listen
// address on the second.
package pidfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/grovetools/agentwatch/pkg/process"
)

// Info is the content of a pid file.
type Info struct {
	PID  int
	Addr string
}

// Acquire claims path for the current process. A file left by a dead
// process is replaced; a live owner is an error.
func Acquire(path, addr string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create pid directory: %w", err)
	}

	if info, err := Read(path); err == nil {
		if process.IsProcessAlive(info.PID) && info.PID != os.Getpid() {
			return fmt.Errorf("daemon already running with PID %d at %s", info.PID, info.Addr)
		}
		_ = os.Remove(path)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create pid file: %w", err)
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, "%d\n%s\n", os.Getpid(), addr); err != nil {
		return fmt.Errorf("failed to write pid file: %w", err)
	}
	return nil
}

// Release removes path if it still belongs to this process.
func Release(path string) error {
	info, err := Read(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.PID != os.Getpid() {
		return nil
	}
	return os.Remove(path)
}

func Read(path string) (Info, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Info{}, err
	}
	lines := strings.SplitN(strings.TrimSpace(string(content)), "\n", 2)
	pid, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil {
		return Info{}, fmt.Errorf("malformed pid file %s: %w", path, err)
	}
	info := Info{PID: pid}
	if len(lines) == 2 {
		info.Addr = strings.TrimSpace(lines[1])
	}
	return info, nil
}

// IsRunning reports whether the daemon recorded in path is alive.
func IsRunning(path string) (bool, Info, error) {
	info, err := Read(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, Info{}, nil
		}
		return false, Info{}, err
	}
	return process.IsProcessAlive(info.PID), info, nil
}
