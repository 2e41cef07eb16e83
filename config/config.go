// Package config defines the tunable policy constants of the messaging core
// and loads them from YAML. Every component takes its section by value at
// construction time; nothing reads configuration globally at runtime.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the messaging core.
type Config struct {
	DataDir      string             `yaml:"data_dir"`
	Transport    TransportConfig    `yaml:"transport"`
	Queue        QueueConfig        `yaml:"queue"`
	Session      SessionConfig      `yaml:"session"`
	Abuse        AbuseConfig        `yaml:"abuse"`
	KeyDirectory KeyDirectoryConfig `yaml:"key_directory"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// TransportConfig controls the real-time connection and its retry behavior.
type TransportConfig struct {
	URL               string        `yaml:"url"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	HeartbeatTimeout  time.Duration `yaml:"heartbeat_timeout"`
	BackoffBase       time.Duration `yaml:"backoff_base"`
	BackoffCap        time.Duration `yaml:"backoff_cap"`
	BackoffJitter     float64       `yaml:"backoff_jitter"`
	SendTimeout       time.Duration `yaml:"send_timeout"`
}

// QueueConfig controls the durable offline queue and its retry policy.
type QueueConfig struct {
	Path          string        `yaml:"path"`
	MaxAttempts   int           `yaml:"max_attempts"`
	BackoffBase   time.Duration `yaml:"backoff_base"`
	BackoffCap    time.Duration `yaml:"backoff_cap"`
	BackoffJitter float64       `yaml:"backoff_jitter"`
}

// SessionConfig controls session key rotation.
type SessionConfig struct {
	Lifetime    time.Duration `yaml:"lifetime"`
	MaxMessages uint32        `yaml:"max_messages"`
}

// AbuseConfig controls anonymous-send rate limiting and abuse escalation.
type AbuseConfig struct {
	HourlyLimit        int           `yaml:"hourly_limit"`
	DailyLimit         int           `yaml:"daily_limit"`
	ActivationCooldown time.Duration `yaml:"activation_cooldown"`
	FlagWeight         float64       `yaml:"flag_weight"`
	WarnScore          float64       `yaml:"warn_score"`
	CooldownScore      float64       `yaml:"cooldown_score"`
	CooldownDuration   time.Duration `yaml:"cooldown_duration"`
	SuspendScore       float64       `yaml:"suspend_score"`
	HideScore          float64       `yaml:"hide_score"`
}

// KeyDirectoryConfig points at the public-key directory REST service.
type KeyDirectoryConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// LoggingConfig controls structured log output.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Default returns the configuration used when no file overrides it. The
// numbers mirror the Sonet service defaults: 1s base / 30s cap ±20% jitter
// backoff, 10 send attempts, 24h or 1000-message session rotation, and
// 10/hour + 50/day anonymous-send caps with a 5-minute activation cooldown.
func Default() Config {
	return Config{
		DataDir: "sonet-data",
		Transport: TransportConfig{
			URL:               "wss://messaging.sonet.app/v1/stream",
			HeartbeatInterval: 30 * time.Second,
			HeartbeatTimeout:  20 * time.Second,
			BackoffBase:       time.Second,
			BackoffCap:        30 * time.Second,
			BackoffJitter:     0.2,
			SendTimeout:       10 * time.Second,
		},
		Queue: QueueConfig{
			Path:          "outbox.db",
			MaxAttempts:   10,
			BackoffBase:   time.Second,
			BackoffCap:    30 * time.Second,
			BackoffJitter: 0.2,
		},
		Session: SessionConfig{
			Lifetime:    24 * time.Hour,
			MaxMessages: 1000,
		},
		Abuse: AbuseConfig{
			HourlyLimit:        10,
			DailyLimit:         50,
			ActivationCooldown: 5 * time.Minute,
			FlagWeight:         1.0,
			WarnScore:          3.0,
			CooldownScore:      5.0,
			CooldownDuration:   time.Hour,
			SuspendScore:       10.0,
			HideScore:          5.0,
		},
		KeyDirectory: KeyDirectoryConfig{
			BaseURL: "https://keys.sonet.app",
			Timeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 14,
		},
	}
}

// Load reads a YAML config file over the defaults. A missing path returns
// the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}
