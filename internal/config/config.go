package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models rekenwolk.yml.
type Config struct {
	Poller struct {
		IntervalMS     int `yaml:"interval_ms"`
		TaskTimeoutSec int `yaml:"task_timeout_seconds"`
	} `yaml:"poller"`
	Run struct {
		// ActiveStatuses is the status set that blocks a second run for the
		// same project. scan_completed is included on purpose: a run that
		// finished scanning but has not calculated yet is still in flight.
		ActiveStatuses []string `yaml:"active_statuses"`
	} `yaml:"run"`
	PDF struct {
		RendererURL    string `yaml:"renderer_url"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"pdf"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
	Auth     struct {
		JWTSecret              string `yaml:"jwt_secret"`
		AllowLegacyActorHeader bool   `yaml:"allow_legacy_actor_header"`
	} `yaml:"auth"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret,omitempty"`
	Events         []string `yaml:"events,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty"`
}

// PollInterval returns the configured poll interval with the reference
// system's 4 second default.
func (c *Config) PollInterval() time.Duration {
	if c.Poller.IntervalMS <= 0 {
		return 4 * time.Second
	}
	return time.Duration(c.Poller.IntervalMS) * time.Millisecond
}

// TaskTimeout returns the per-task execution deadline.
func (c *Config) TaskTimeout() time.Duration {
	if c.Poller.TaskTimeoutSec <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.Poller.TaskTimeoutSec) * time.Second
}

// IsActiveStatus reports whether a run status counts as in flight for the
// at-most-one-active-run guard.
func (c *Config) IsActiveStatus(status string) bool {
	for _, s := range c.Run.ActiveStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Poller.IntervalMS < 0 {
		return fmt.Errorf("config.poller.interval_ms must not be negative")
	}
	if len(c.Run.ActiveStatuses) == 0 {
		return fmt.Errorf("config.run.active_statuses is required")
	}
	for _, s := range c.Run.ActiveStatuses {
		if s == "" {
			return fmt.Errorf("config.run.active_statuses contains empty status")
		}
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	return nil
}

// Load reads and validates config from the workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; run rw config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "rekenwolk.yml")
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// GenerateDefault returns the default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `poller:
  interval_ms: 4000
  task_timeout_seconds: 300

run:
  active_statuses:
    - queued
    - running
    - scanning
    - calculating
    - analysing_documents
    - generating_stabu
    - scan_completed

pdf:
  renderer_url: ""
  timeout_seconds: 30

webhooks: []

auth:
  jwt_secret: ""
  allow_legacy_actor_header: true
`
