package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grovetools/agentwatch/errors"
)

func TestLoadFromBytesDefaults(t *testing.T) {
	cfg, err := LoadFromBytes(nil, FormatYAML)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:7788", cfg.Server.Addr())
	assert.Equal(t, DefaultDebounce, cfg.Watcher.Debounce.Std())
	assert.Equal(t, DefaultPollInterval, cfg.Watcher.PollInterval.Std())
	assert.Equal(t, 50, cfg.Broadcast.MaxSessionClients)
	assert.Equal(t, 64*1024, cfg.Broadcast.SlowClientThreshold)
	assert.Equal(t, 200*time.Millisecond, cfg.Broadcast.TerminalPollInterval.Std())
	assert.Equal(t, "bd", cfg.Tracker.Binary)
	assert.Equal(t, 3*time.Second, cfg.Batch.CheckDelay.Std())
	assert.Equal(t, 10*time.Second, cfg.Batch.RetryDelay.Std())
	assert.Contains(t, cfg.Batch.PromptTemplate, "{{id}}")
}

func TestLoadFromBytesYAML(t *testing.T) {
	data := []byte(`
server:
  port: 9000
watcher:
  debounce: 10ms
broadcast:
  terminal_poll_interval: 500ms
  max_terminal_clients: 3
tracker:
  binary: br
logging:
  level: debug
  format:
    preset: json
`)
	cfg, err := LoadFromBytes(data, FormatYAML)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 10*time.Millisecond, cfg.Watcher.Debounce.Std())
	assert.Equal(t, 500*time.Millisecond, cfg.Broadcast.TerminalPollInterval.Std())
	assert.Equal(t, 3, cfg.Broadcast.MaxTerminalClients)
	assert.Equal(t, "br", cfg.Tracker.Binary)

	var logCfg struct {
		Level  string `yaml:"level"`
		Format struct {
			Preset string `yaml:"preset"`
		} `yaml:"format"`
	}
	require.NoError(t, cfg.UnmarshalExtension("logging", &logCfg))
	assert.Equal(t, "debug", logCfg.Level)
	assert.Equal(t, "json", logCfg.Format.Preset)
}

func TestLoadFromBytesTOML(t *testing.T) {
	data := []byte(`
[server]
host = "0.0.0.0"
port = 7000

[batch]
check_delay = "1s"
retry_delay = "5s"

[logging]
level = "warn"
`)
	cfg, err := LoadFromBytes(data, FormatTOML)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:7000", cfg.Server.Addr())
	assert.Equal(t, time.Second, cfg.Batch.CheckDelay.Std())
	assert.Equal(t, 5*time.Second, cfg.Batch.RetryDelay.Std())

	var logCfg struct {
		Level string `yaml:"level"`
	}
	require.NoError(t, cfg.UnmarshalExtension("logging", &logCfg))
	assert.Equal(t, "warn", logCfg.Level)
}

func TestLoadFromBytesInvalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"bad yaml", "server: [unclosed"},
		{"bad duration", "watcher:\n  debounce: soon\n"},
		{"port out of range", "server:\n  port: 70000\n"},
		{"negative cap", "broadcast:\n  max_session_clients: -1\n"},
		{"retry shorter than check", "batch:\n  check_delay: 5s\n  retry_delay: 1s\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromBytes([]byte(tt.data), FormatYAML)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrCodeConfigInvalid), "got %v", err)
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("AGENTWATCH_TEST_PORT", "7123")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"set variable", "port: ${AGENTWATCH_TEST_PORT}", "port: 7123"},
		{"default used", "host: ${AGENTWATCH_TEST_UNSET:-localhost}", "host: localhost"},
		{"default ignored", "port: ${AGENTWATCH_TEST_PORT:-1}", "port: 7123"},
		{"unset without default", "x: ${AGENTWATCH_TEST_UNSET}", "x: "},
		{"no references", "plain: text", "plain: text"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, expandEnvVars(tt.input))
		})
	}
}

func TestLoadAndFindConfigFile(t *testing.T) {
	dir := t.TempDir()

	_, err := FindConfigFile(dir)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeConfigNotFound))

	path := filepath.Join(dir, "agentwatch.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server]\nport = 7001\n"), 0o644))

	found, err := FindConfigFile(dir)
	require.NoError(t, err)
	assert.Equal(t, path, found)

	cfg, err := Load(found)
	require.NoError(t, err)
	assert.Equal(t, 7001, cfg.Server.Port)

	_, err = Load(filepath.Join(dir, "missing.yml"))
	assert.True(t, errors.Is(err, errors.ErrCodeConfigNotFound))
}

func TestLoadDefaultWithoutFile(t *testing.T) {
	t.Setenv("AGENTWATCH_HOME", t.TempDir())

	cfg, err := LoadDefault()
	require.NoError(t, err)
	assert.Equal(t, DefaultPort, cfg.Server.Port)
}

func TestSchema(t *testing.T) {
	data, err := Schema()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"broadcast"`)
	assert.Contains(t, string(data), `"terminal_poll_interval"`)
	assert.NotContains(t, string(data), `"Extensions"`)
}
