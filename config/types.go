package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Config is the agentwatch daemon configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server,omitempty" toml:"server,omitempty" json:"server,omitempty" jsonschema:"description=HTTP and websocket listener"`
	Sessions  SessionsConfig  `yaml:"sessions,omitempty" toml:"sessions,omitempty" json:"sessions,omitempty" jsonschema:"description=Session record storage"`
	Watcher   WatcherConfig   `yaml:"watcher,omitempty" toml:"watcher,omitempty" json:"watcher,omitempty" jsonschema:"description=Change detection on the sessions directory"`
	Broadcast BroadcastConfig `yaml:"broadcast,omitempty" toml:"broadcast,omitempty" json:"broadcast,omitempty" jsonschema:"description=Observer channel limits and intervals"`
	Tmux      TmuxConfig      `yaml:"tmux,omitempty" toml:"tmux,omitempty" json:"tmux,omitempty"`
	Tracker   TrackerConfig   `yaml:"tracker,omitempty" toml:"tracker,omitempty" json:"tracker,omitempty" jsonschema:"description=Issue tracker subprocess"`
	Batch     BatchConfig     `yaml:"batch,omitempty" toml:"batch,omitempty" json:"batch,omitempty" jsonschema:"description=Sequential task orchestrator"`

	// Extensions captures all other top-level keys (for example "logging").
	Extensions map[string]interface{} `yaml:",inline" toml:"-" json:"-"`
}

// ServerConfig configures the listener.
type ServerConfig struct {
	Host string `yaml:"host,omitempty" toml:"host,omitempty" json:"host,omitempty" jsonschema:"description=Interface to bind (default 127.0.0.1)"`
	Port int    `yaml:"port,omitempty" toml:"port,omitempty" json:"port,omitempty" jsonschema:"minimum=1,maximum=65535,description=TCP port (default 7788)"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// SessionsConfig configures record storage.
type SessionsConfig struct {
	// Dir overrides the sessions directory under the state dir.
	Dir string `yaml:"dir,omitempty" toml:"dir,omitempty" json:"dir,omitempty"`
	// StaleSweepInterval is how often the daemon removes records of dead processes.
	StaleSweepInterval Duration `yaml:"stale_sweep_interval,omitempty" toml:"stale_sweep_interval,omitempty" json:"stale_sweep_interval,omitempty"`
}

type WatcherConfig struct {
	Debounce     Duration `yaml:"debounce,omitempty" toml:"debounce,omitempty" json:"debounce,omitempty"`
	PollInterval Duration `yaml:"poll_interval,omitempty" toml:"poll_interval,omitempty" json:"poll_interval,omitempty" jsonschema:"description=Fallback poll interval when filesystem notifications are unavailable"`
}

// BroadcastConfig bounds the observer channels.
type BroadcastConfig struct {
	MaxSessionClients    int      `yaml:"max_session_clients,omitempty" toml:"max_session_clients,omitempty" json:"max_session_clients,omitempty" jsonschema:"minimum=1"`
	MaxTerminalClients   int      `yaml:"max_terminal_clients,omitempty" toml:"max_terminal_clients,omitempty" json:"max_terminal_clients,omitempty" jsonschema:"minimum=1,description=Limit per pane target"`
	MaxBeadsClients      int      `yaml:"max_beads_clients,omitempty" toml:"max_beads_clients,omitempty" json:"max_beads_clients,omitempty" jsonschema:"minimum=1,description=Limit per project"`
	SlowClientThreshold  int      `yaml:"slow_client_threshold,omitempty" toml:"slow_client_threshold,omitempty" json:"slow_client_threshold,omitempty" jsonschema:"minimum=1,description=Queued bytes after which a client is dropped"`
	ResyncInterval       Duration `yaml:"resync_interval,omitempty" toml:"resync_interval,omitempty" json:"resync_interval,omitempty"`
	TerminalPollInterval Duration `yaml:"terminal_poll_interval,omitempty" toml:"terminal_poll_interval,omitempty" json:"terminal_poll_interval,omitempty"`
	TerminalLines        int      `yaml:"terminal_lines,omitempty" toml:"terminal_lines,omitempty" json:"terminal_lines,omitempty" jsonschema:"minimum=1,description=Scrollback lines captured per terminal frame"`
	BeadsPollInterval    Duration `yaml:"beads_poll_interval,omitempty" toml:"beads_poll_interval,omitempty" json:"beads_poll_interval,omitempty"`
}

type TmuxConfig struct {
	Binary string `yaml:"binary,omitempty" toml:"binary,omitempty" json:"binary,omitempty"`
}

// TrackerConfig configures the issue tracker CLI.
type TrackerConfig struct {
	Binary  string   `yaml:"binary,omitempty" toml:"binary,omitempty" json:"binary,omitempty" jsonschema:"description=Tracker executable (default bd)"`
	Timeout Duration `yaml:"timeout,omitempty" toml:"timeout,omitempty" json:"timeout,omitempty"`
}

// BatchConfig configures the orchestrator.
type BatchConfig struct {
	CheckDelay     Duration `yaml:"check_delay,omitempty" toml:"check_delay,omitempty" json:"check_delay,omitempty" jsonschema:"description=Wait after a session goes idle before asking the tracker"`
	RetryDelay     Duration `yaml:"retry_delay,omitempty" toml:"retry_delay,omitempty" json:"retry_delay,omitempty"`
	PromptTemplate string   `yaml:"prompt_template,omitempty" toml:"prompt_template,omitempty" json:"prompt_template,omitempty" jsonschema:"description=Default prompt; supports {{id}} {{title}} {{description}}"`
}

// Duration is a time.Duration written as a Go duration string ("200ms", "2s").
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// UnmarshalText parses a duration string. TOML uses this path.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText renders the duration string.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalYAML parses a duration scalar.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", node.Line)
	}
	return d.UnmarshalText([]byte(node.Value))
}

// MarshalYAML renders the duration string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// MarshalJSON renders the duration string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON parses a duration string.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

// JSONSchema describes Duration as a pattern-checked string.
func (Duration) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:        "string",
		Pattern:     `^([0-9]+(\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$`,
		Description: "Go duration string, e.g. 200ms or 2s",
	}
}

// UnmarshalExtension decodes a top-level section that is not part of Config
// into target, which must be a pointer. A missing key leaves target untouched.
//
// Example:
//
//	var logCfg logging.Config
//	err := cfg.UnmarshalExtension("logging", &logCfg)
func (c *Config) UnmarshalExtension(key string, target interface{}) error {
	extensionConfig, ok := c.Extensions[key]
	if !ok {
		return nil
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  target,
		TagName: "yaml",
	})
	if err != nil {
		return fmt.Errorf("failed to create mapstructure decoder: %w", err)
	}

	if err := decoder.Decode(extensionConfig); err != nil {
		return fmt.Errorf("failed to decode extension config for '%s': %w", key, err)
	}

	return nil
}
