// Package assist – config.go defines the assistant service configuration.
package assist

import (
	"fmt"
	"time"

	"github.com/dynamic-capital/dcassist/pkg/dcassist/proxy"
	"github.com/dynamic-capital/dcassist/pkg/dcassist/telegram"
)

// Config holds the full assistant configuration.
type Config struct {
	// Name is the product name shown in logs and the CLI.
	Name string `yaml:"name"`

	// Proxy configures the remote assistant endpoint and retry bounds.
	Proxy proxy.Config `yaml:"proxy"`

	// Storage configures on-disk state: per-profile mirrors and the
	// history journal.
	Storage StorageConfig `yaml:"storage"`

	// Sessions configures per-profile session lifecycle.
	Sessions SessionsConfig `yaml:"sessions"`

	// Telegram configures the optional Telegram profile link.
	Telegram telegram.Config `yaml:"telegram"`

	// Gateway configures the HTTP API gateway the web widget talks to.
	Gateway GatewayConfig `yaml:"gateway"`

	// Scheduler configures background maintenance jobs.
	Scheduler SchedulerConfig `yaml:"scheduler"`

	// Logging configures log output.
	Logging LoggingConfig `yaml:"logging"`
}

// StorageConfig configures where the assistant keeps state.
type StorageConfig struct {
	// Dir is the root directory for per-profile storage (default: "./data").
	Dir string `yaml:"dir"`

	// Journal selects the history journal backend: "jsonl", "sqlite", or
	// "none" (default: "jsonl"). The journal keeps the full history; the
	// per-profile mirror stays capped.
	Journal string `yaml:"journal"`

	// Path overrides the journal location. For jsonl it is a directory,
	// for sqlite a database file. Empty derives it from Dir.
	Path string `yaml:"path"`
}

// SessionsConfig configures per-profile session lifecycle.
type SessionsConfig struct {
	// TTLHours is the idle time before a session is pruned (default: 24).
	TTLHours int `yaml:"ttl_hours"`

	// MaxSessions caps concurrently held sessions; the least recently
	// active are evicted past the cap (default: 256, 0 disables).
	MaxSessions int `yaml:"max_sessions"`
}

// TTL returns the idle TTL as a duration.
func (c SessionsConfig) TTL() time.Duration {
	hours := c.TTLHours
	if hours <= 0 {
		hours = 24
	}
	return time.Duration(hours) * time.Hour
}

// GatewayConfig configures the HTTP API gateway.
type GatewayConfig struct {
	// Enabled turns the gateway on/off (default: true).
	Enabled bool `yaml:"enabled"`

	// Address is the listen address (default: ":8090").
	Address string `yaml:"address"`

	// AuthToken is the Bearer token for /api/* auth (empty = no auth).
	AuthToken string `yaml:"auth_token"`

	// CORSOrigins lists allowed origins for CORS (empty = no CORS).
	CORSOrigins []string `yaml:"cors_origins"`
}

// SchedulerConfig configures background maintenance jobs.
type SchedulerConfig struct {
	// Enabled turns background maintenance on/off (default: true).
	Enabled bool `yaml:"enabled"`

	// PruneSpec is the cron spec for idle-session pruning (default: "@hourly").
	PruneSpec string `yaml:"prune_spec"`

	// MaintenanceSpec is the cron spec for journal maintenance, JSONL
	// rotation or SQLite vacuum (default: "30 3 * * *").
	MaintenanceSpec string `yaml:"maintenance_spec"`

	// RotateKeepLines is how many journal lines survive a JSONL rotation
	// (default: 2000).
	RotateKeepLines int `yaml:"rotate_keep_lines"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	// Level is the log level ("debug", "info", "warn", "error").
	Level string `yaml:"level"`

	// Format is the log format ("json", "text").
	Format string `yaml:"format"`
}

// Journal backend names accepted by StorageConfig.Journal.
const (
	JournalNone   = "none"
	JournalJSONL  = "jsonl"
	JournalSQLite = "sqlite"
)

// DefaultConfig returns the default assistant configuration.
func DefaultConfig() *Config {
	return &Config{
		Name: "Dynamic Capital Assistant",
		Proxy: proxy.Config{
			BaseURL:       "https://api.dynamic.capital",
			SystemPrompt:  proxy.DefaultSystemPrompt,
			Temperature:   0.7,
			HistoryWindow: proxy.DefaultHistoryWindow,
			Retry:         proxy.DefaultRetryConfig(),
		},
		Storage: StorageConfig{
			Dir:     "./data",
			Journal: JournalJSONL,
		},
		Sessions: SessionsConfig{
			TTLHours:    24,
			MaxSessions: 256,
		},
		Telegram: telegram.DefaultConfig(),
		Gateway: GatewayConfig{
			Enabled: true,
			Address: ":8090",
		},
		Scheduler: SchedulerConfig{
			Enabled:         true,
			PruneSpec:       "@hourly",
			MaintenanceSpec: "30 3 * * *",
			RotateKeepLines: 2000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks the configuration for values that cannot work at runtime.
func (c *Config) Validate() error {
	switch c.Storage.Journal {
	case "", JournalNone, JournalJSONL, JournalSQLite:
	default:
		return fmt.Errorf("unknown journal backend %q (want none, jsonl, or sqlite)", c.Storage.Journal)
	}
	if c.Proxy.BaseURL == "" {
		return fmt.Errorf("proxy.base_url is required")
	}
	if c.Sessions.TTLHours < 0 {
		return fmt.Errorf("sessions.ttl_hours cannot be negative")
	}
	if c.Sessions.MaxSessions < 0 {
		return fmt.Errorf("sessions.max_sessions cannot be negative")
	}
	if c.Gateway.Enabled && c.Gateway.Address == "" {
		return fmt.Errorf("gateway.address is required when the gateway is enabled")
	}
	return nil
}
