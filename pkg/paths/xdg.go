// Package paths provides XDG-compliant path resolution for agentwatch.
//
// Resolution order:
// 1. AGENTWATCH_HOME (portable root) → $AGENTWATCH_HOME/{config,state}
// 2. XDG env vars → $XDG_*_HOME/agentwatch
// 3. Platform defaults → ~/.config/agentwatch, ~/.local/state/agentwatch
package paths

import (
	"os"
	"path/filepath"
)

const appName = "agentwatch"

// getConfigHome returns the base config home directory.
func getConfigHome() string {
	if home := os.Getenv("AGENTWATCH_HOME"); home != "" {
		return filepath.Join(home, "config")
	}
	if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
		return xdgConfigHome
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".config")
	}
	return ""
}

// getStateHome returns the base state home directory.
func getStateHome() string {
	if home := os.Getenv("AGENTWATCH_HOME"); home != "" {
		return filepath.Join(home, "state")
	}
	if xdgStateHome := os.Getenv("XDG_STATE_HOME"); xdgStateHome != "" {
		return xdgStateHome
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".local", "state")
	}
	return ""
}

// ConfigDir returns the configuration directory holding agentwatch.yml.
func ConfigDir() string {
	base := getConfigHome()
	if base == "" {
		return ""
	}
	// With AGENTWATCH_HOME the config root is already app specific.
	if os.Getenv("AGENTWATCH_HOME") != "" {
		return base
	}
	return filepath.Join(base, appName)
}

// StateDir returns the state directory.
// Used for session records, the links file, logs and the pid file.
func StateDir() string {
	base := getStateHome()
	if base == "" {
		return ""
	}
	if os.Getenv("AGENTWATCH_HOME") != "" {
		return base
	}
	return filepath.Join(base, appName)
}

// SessionsDir returns the directory holding one JSON file per session.
func SessionsDir() string {
	return filepath.Join(StateDir(), "sessions")
}

// LinksFilePath returns the path to the session links file.
func LinksFilePath() string {
	return filepath.Join(StateDir(), "links.json")
}

// AuditLogPath returns the path of the hook audit log.
func AuditLogPath() string {
	return filepath.Join(StateDir(), "hooks.log")
}

// LogDir returns the directory for component log files.
func LogDir() string {
	return filepath.Join(StateDir(), "logs")
}

// PidFilePath returns the path to the daemon PID file.
func PidFilePath() string {
	return filepath.Join(StateDir(), appName+".pid")
}

// EnsureDirs creates all agentwatch directories if they don't exist.
func EnsureDirs() error {
	dirs := []string{
		ConfigDir(),
		StateDir(),
		SessionsDir(),
		LogDir(),
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}
