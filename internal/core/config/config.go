// Package config handles configuration loading and validation for termq.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values can be written as "30s" or
// "1m".
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration back to its string form.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds the application configuration.
type Config struct {
	Broker        Broker         `yaml:"broker"`
	Session       SessionConfig  `yaml:"session"`
	TUI           TUIConfig      `yaml:"tui"`
	Subscriptions []Subscription `yaml:"subscriptions"`
}

// Broker describes the broker endpoint to connect to.
type Broker struct {
	// URL selects transport and address: mqtt://, mqtts://, ws:// or wss://.
	URL      string `yaml:"url"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// KeepAlive is the ping interval; zero disables keep-alive.
	KeepAlive Duration `yaml:"keep_alive"`

	// CleanSession requests a fresh broker-side session on every connect.
	CleanSession bool `yaml:"clean_session"`

	ConnectTimeout Duration `yaml:"connect_timeout"`
}

// SessionConfig tunes the session core.
type SessionConfig struct {
	// HistoryLimit caps the per-topic message history.
	HistoryLimit int `yaml:"history_limit"`

	// RetryInterval and MaxRetries drive QoS>0 retransmission.
	RetryInterval Duration `yaml:"retry_interval"`
	MaxRetries    int      `yaml:"max_retries"`

	// BackoffBase and BackoffCap bound the reconnect schedule.
	BackoffBase Duration `yaml:"backoff_base"`
	BackoffCap  Duration `yaml:"backoff_cap"`

	// StableAfter is how long a connection must survive before the
	// reconnect schedule resets.
	StableAfter Duration `yaml:"stable_after"`
}

// TUIConfig holds presentation settings.
type TUIConfig struct {
	Theme string `yaml:"theme"`

	// PollInterval is how often the TUI pumps the session core for fresh
	// snapshots.
	PollInterval Duration `yaml:"poll_interval"`
}

// Subscription is a topic filter subscribed automatically on connect.
type Subscription struct {
	Filter string `yaml:"filter"`
	QoS    byte   `yaml:"qos"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Broker: Broker{
			URL:            "mqtt://localhost:1883",
			KeepAlive:      Duration(30 * time.Second),
			CleanSession:   true,
			ConnectTimeout: Duration(10 * time.Second),
		},
		Session: SessionConfig{
			HistoryLimit:  200,
			RetryInterval: Duration(5 * time.Second),
			MaxRetries:    3,
			BackoffBase:   Duration(time.Second),
			BackoffCap:    Duration(60 * time.Second),
			StableAfter:   Duration(30 * time.Second),
		},
		TUI: TUIConfig{
			Theme:        "tokyo-night",
			PollInterval: Duration(100 * time.Millisecond),
		},
	}
}

// Load reads configuration from the given path. If the path is empty or the
// file doesn't exist, defaults are returned.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			data, err := os.ReadFile(configPath)
			if err != nil {
				return nil, fmt.Errorf("read config file: %w", err)
			}

			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// applyDefaults backfills zero values a user config may have cleared.
func (c *Config) applyDefaults() {
	def := DefaultConfig()

	if c.Broker.URL == "" {
		c.Broker.URL = def.Broker.URL
	}
	if c.Broker.ConnectTimeout <= 0 {
		c.Broker.ConnectTimeout = def.Broker.ConnectTimeout
	}
	if c.Session.HistoryLimit <= 0 {
		c.Session.HistoryLimit = def.Session.HistoryLimit
	}
	if c.Session.RetryInterval <= 0 {
		c.Session.RetryInterval = def.Session.RetryInterval
	}
	if c.Session.MaxRetries <= 0 {
		c.Session.MaxRetries = def.Session.MaxRetries
	}
	if c.Session.BackoffBase <= 0 {
		c.Session.BackoffBase = def.Session.BackoffBase
	}
	if c.Session.BackoffCap <= 0 {
		c.Session.BackoffCap = def.Session.BackoffCap
	}
	if c.Session.StableAfter <= 0 {
		c.Session.StableAfter = def.Session.StableAfter
	}
	if c.TUI.Theme == "" {
		c.TUI.Theme = def.TUI.Theme
	}
	if c.TUI.PollInterval <= 0 {
		c.TUI.PollInterval = def.TUI.PollInterval
	}
}
