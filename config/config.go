package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/grovetools/agentwatch/errors"
	"github.com/grovetools/agentwatch/pkg/paths"
	"github.com/grovetools/agentwatch/schema"
)

// Format identifies the syntax of a configuration file.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// Defaults applied by SetDefaults.
const (
	DefaultHost                 = "127.0.0.1"
	DefaultPort                 = 7788
	DefaultDebounce             = 50 * time.Millisecond
	DefaultPollInterval         = time.Second
	DefaultResyncInterval       = 2 * time.Second
	DefaultTerminalPollInterval = 200 * time.Millisecond
	DefaultBeadsPollInterval    = time.Second
	DefaultTerminalLines        = 200
	DefaultMaxSessionClients    = 50
	DefaultMaxTerminalClients   = 10
	DefaultMaxBeadsClients      = 10
	DefaultSlowClientThreshold  = 64 * 1024
	DefaultStaleSweepInterval   = 30 * time.Second
	DefaultTmuxBinary           = "tmux"
	DefaultTrackerBinary        = "bd"
	DefaultTrackerTimeout       = 10 * time.Second
	DefaultCheckDelay           = 3 * time.Second
	DefaultRetryDelay           = 10 * time.Second
)

// DefaultPromptTemplate is sent for each task when a batch run names no template.
const DefaultPromptTemplate = "Work on task {{id}}: {{title}}\n\n{{description}}\n\nWhen you are done, close the task in the tracker."

var (
	envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

	configNames = []string{
		"agentwatch.yml",
		"agentwatch.yaml",
		"agentwatch.toml",
	}

	validatorOnce sync.Once
	validator     *schema.Validator
	validatorErr  error
)

// FindConfigFile returns the first config file present in dir.
func FindConfigFile(dir string) (string, error) {
	for _, name := range configNames {
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}
	return "", errors.ConfigNotFound(dir)
}

// LoadDefault loads the config file from the agentwatch config directory,
// falling back to built-in defaults when there is none.
func LoadDefault() (*Config, error) {
	path, err := FindConfigFile(paths.ConfigDir())
	if err != nil {
		cfg := &Config{}
		cfg.SetDefaults()
		return cfg, nil
	}
	return Load(path)
}

// Load reads, expands, defaults and validates a config file.
func Load(path string) (*Config, error) {
	logger := logrus.WithField("component", "config")
	logger.WithField("path", path).Debug("Loading configuration")

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.ConfigNotFound(path)
		}
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to read config").
			WithDetail("path", path)
	}

	cfg, err := LoadFromBytes(data, formatForPath(path))
	if err != nil {
		if agentErr, ok := err.(*errors.AgentError); ok {
			return nil, agentErr.WithDetail("path", path)
		}
		return nil, err
	}
	return cfg, nil
}

// LoadFromBytes parses data in the given format, then applies defaults and
// validation.
func LoadFromBytes(data []byte, format Format) (*Config, error) {
	expanded := []byte(expandEnvVars(string(data)))

	var cfg Config
	switch format {
	case FormatTOML:
		if err := decodeTOML(expanded, &cfg); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to parse config")
		}
	default:
		if len(bytes.TrimSpace(expanded)) > 0 {
			if err := yaml.Unmarshal(expanded, &cfg); err != nil {
				return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to parse config")
			}
		}
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// decodeTOML decodes the known sections, then keeps every other top-level
// table as an extension.
func decodeTOML(data []byte, cfg *Config) error {
	if err := toml.Unmarshal(data, cfg); err != nil {
		return err
	}
	var raw map[string]interface{}
	if err := toml.Unmarshal(data, &raw); err != nil {
		return err
	}
	known := map[string]bool{
		"server": true, "sessions": true, "watcher": true, "broadcast": true,
		"tmux": true, "tracker": true, "batch": true,
	}
	for key, value := range raw {
		if known[key] {
			continue
		}
		if cfg.Extensions == nil {
			cfg.Extensions = make(map[string]interface{})
		}
		cfg.Extensions[key] = value
	}
	return nil
}

func formatForPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FormatTOML
	}
	return FormatYAML
}

// SetDefaults fills every unset field.
func (c *Config) SetDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = DefaultHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Sessions.StaleSweepInterval == 0 {
		c.Sessions.StaleSweepInterval = Duration(DefaultStaleSweepInterval)
	}
	if c.Watcher.Debounce == 0 {
		c.Watcher.Debounce = Duration(DefaultDebounce)
	}
	if c.Watcher.PollInterval == 0 {
		c.Watcher.PollInterval = Duration(DefaultPollInterval)
	}

	b := &c.Broadcast
	if b.MaxSessionClients == 0 {
		b.MaxSessionClients = DefaultMaxSessionClients
	}
	if b.MaxTerminalClients == 0 {
		b.MaxTerminalClients = DefaultMaxTerminalClients
	}
	if b.MaxBeadsClients == 0 {
		b.MaxBeadsClients = DefaultMaxBeadsClients
	}
	if b.SlowClientThreshold == 0 {
		b.SlowClientThreshold = DefaultSlowClientThreshold
	}
	if b.ResyncInterval == 0 {
		b.ResyncInterval = Duration(DefaultResyncInterval)
	}
	if b.TerminalPollInterval == 0 {
		b.TerminalPollInterval = Duration(DefaultTerminalPollInterval)
	}
	if b.TerminalLines == 0 {
		b.TerminalLines = DefaultTerminalLines
	}
	if b.BeadsPollInterval == 0 {
		b.BeadsPollInterval = Duration(DefaultBeadsPollInterval)
	}

	if c.Tmux.Binary == "" {
		c.Tmux.Binary = DefaultTmuxBinary
	}
	if c.Tracker.Binary == "" {
		c.Tracker.Binary = DefaultTrackerBinary
	}
	if c.Tracker.Timeout == 0 {
		c.Tracker.Timeout = Duration(DefaultTrackerTimeout)
	}
	if c.Batch.CheckDelay == 0 {
		c.Batch.CheckDelay = Duration(DefaultCheckDelay)
	}
	if c.Batch.RetryDelay == 0 {
		c.Batch.RetryDelay = Duration(DefaultRetryDelay)
	}
	if c.Batch.PromptTemplate == "" {
		c.Batch.PromptTemplate = DefaultPromptTemplate
	}
}

// Validate checks the configuration against the generated JSON schema and
// a few cross-field rules the schema cannot express.
func (c *Config) Validate() error {
	v, err := configValidator()
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to build config schema")
	}
	if err := v.Validate(c); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigInvalid, "configuration does not match schema")
	}

	if c.Watcher.Debounce < 0 || c.Watcher.PollInterval <= 0 {
		return errors.ConfigInvalid("watcher intervals must be positive")
	}
	if c.Broadcast.ResyncInterval <= 0 || c.Broadcast.TerminalPollInterval <= 0 || c.Broadcast.BeadsPollInterval <= 0 {
		return errors.ConfigInvalid("broadcast intervals must be positive")
	}
	if c.Batch.RetryDelay < c.Batch.CheckDelay {
		return errors.ConfigInvalid("batch.retry_delay must not be shorter than batch.check_delay")
	}
	return nil
}

// Schema returns the JSON schema for the configuration file.
func Schema() ([]byte, error) {
	return schema.Generate(&Config{}, "agentwatch configuration")
}

func configValidator() (*schema.Validator, error) {
	validatorOnce.Do(func() {
		validator, validatorErr = schema.NewValidator("agentwatch-config", &Config{})
	})
	return validator, validatorErr
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} references.
func expandEnvVars(content string) string {
	return envVarRegex.ReplaceAllStringFunc(content, func(match string) string {
		varName := envVarRegex.FindStringSubmatch(match)[1]

		parts := strings.SplitN(varName, ":-", 2)
		varName = parts[0]
		defaultValue := ""
		if len(parts) > 1 {
			defaultValue = parts[1]
		}

		if value := os.Getenv(varName); value != "" {
			return value
		}

		return defaultValue
	})
}

// String renders the effective configuration as YAML.
func (c *Config) String() string {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Sprintf("<config: %v>", err)
	}
	return string(data)
}
