// Package config handles supply bot configuration loading and validation.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration structure for the supply bot.
type Config struct {
	// Database settings
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`

	// Logging settings
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`

	// Marketplace API settings
	Marketplace MarketplaceConfig `yaml:"marketplace" mapstructure:"marketplace"`

	// Draft lifecycle settings
	Draft DraftConfig `yaml:"draft" mapstructure:"draft"`

	// Retry settings for polling operations
	Retry RetryConfig `yaml:"retry" mapstructure:"retry"`

	// Recovery service settings
	Recovery RecoveryConfig `yaml:"recovery" mapstructure:"recovery"`

	// Wizard settings
	Wizard WizardConfig `yaml:"wizard" mapstructure:"wizard"`
}

// DatabaseConfig contains database settings.
type DatabaseConfig struct {
	// Path is the SQLite database file path.
	Path string `yaml:"path" mapstructure:"path"`

	// BusyTimeoutMs is how long to wait for a locked database (milliseconds).
	BusyTimeoutMs int `yaml:"busy_timeout_ms" mapstructure:"busy_timeout_ms"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `yaml:"level" mapstructure:"level"`

	// Format is the output format (json, console).
	Format string `yaml:"format" mapstructure:"format"`

	// EnableCaller adds caller information to logs.
	EnableCaller bool `yaml:"enable_caller" mapstructure:"enable_caller"`
}

// MarketplaceConfig contains marketplace API client settings.
type MarketplaceConfig struct {
	// BaseURL is the seller API endpoint.
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`

	// Timeout is the per-request HTTP timeout.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// DraftConfig bounds the draft lifecycle machine.
type DraftConfig struct {
	// Lifetime is how long a created draft stays valid remotely.
	Lifetime time.Duration `yaml:"lifetime" mapstructure:"lifetime"`

	// PollInterval is the delay between draft-info polls.
	PollInterval time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`

	// PollAttempts bounds the draft-info poll loop.
	PollAttempts int `yaml:"poll_attempts" mapstructure:"poll_attempts"`

	// RecreateAttempts bounds auto-recreation after failed/expired drafts.
	RecreateAttempts int `yaml:"recreate_attempts" mapstructure:"recreate_attempts"`

	// RecreatePause is the pause between recreation attempts.
	RecreatePause time.Duration `yaml:"recreate_pause" mapstructure:"recreate_pause"`
}

// RetryConfig bounds the retry engine's polling operations.
type RetryConfig struct {
	// OrderIDAttempts bounds create-status polling for order ids.
	OrderIDAttempts int `yaml:"order_id_attempts" mapstructure:"order_id_attempts"`

	// OrderIDDelay is the fixed interval between order-id polls.
	OrderIDDelay time.Duration `yaml:"order_id_delay" mapstructure:"order_id_delay"`

	// CancelAttempts bounds cancel-status polling.
	CancelAttempts int `yaml:"cancel_attempts" mapstructure:"cancel_attempts"`

	// CancelDelay is the fixed interval between cancel-status polls.
	CancelDelay time.Duration `yaml:"cancel_delay" mapstructure:"cancel_delay"`
}

// RecoveryConfig drives the task resumption and recovery service.
type RecoveryConfig struct {
	// OrderIDInterval is how often missing order ids are re-resolved.
	OrderIDInterval time.Duration `yaml:"order_id_interval" mapstructure:"order_id_interval"`

	// CleanupInterval is how often expired pending tasks are purged.
	CleanupInterval time.Duration `yaml:"cleanup_interval" mapstructure:"cleanup_interval"`

	// SummaryInterval is how often the pending-task digest is broadcast.
	SummaryInterval time.Duration `yaml:"summary_interval" mapstructure:"summary_interval"`

	// StaleAfter is how old a supply record without an order id must be
	// before a permanent-miss resolution failure marks it terminal.
	StaleAfter time.Duration `yaml:"stale_after" mapstructure:"stale_after"`
}

// WizardConfig bounds wizard input validation.
type WizardConfig struct {
	// MaxReadyDays is the inclusive upper bound for the ready-days input.
	MaxReadyDays int `yaml:"max_ready_days" mapstructure:"max_ready_days"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:          "supplybot.db",
			BusyTimeoutMs: 5000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Marketplace: MarketplaceConfig{
			BaseURL: "https://api-seller.ozon.ru",
			Timeout: 30 * time.Second,
		},
		Draft: DraftConfig{
			Lifetime:         30 * time.Minute,
			PollInterval:     10 * time.Second,
			PollAttempts:     1000,
			RecreateAttempts: 1000,
			RecreatePause:    5 * time.Second,
		},
		Retry: RetryConfig{
			OrderIDAttempts: 10,
			OrderIDDelay:    5 * time.Second,
			CancelAttempts:  30,
			CancelDelay:     5 * time.Second,
		},
		Recovery: RecoveryConfig{
			OrderIDInterval: 10 * time.Minute,
			CleanupInterval: 15 * time.Minute,
			SummaryInterval: 5 * time.Minute,
			StaleAfter:      2 * time.Hour,
		},
		Wizard: WizardConfig{
			MaxReadyDays: 28,
		},
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path must not be empty")
	}
	if c.Marketplace.BaseURL == "" {
		return fmt.Errorf("marketplace.base_url must not be empty")
	}
	if c.Draft.PollInterval <= 0 {
		return fmt.Errorf("draft.poll_interval must be positive")
	}
	if c.Draft.PollAttempts <= 0 {
		return fmt.Errorf("draft.poll_attempts must be positive")
	}
	if c.Draft.RecreateAttempts <= 0 {
		return fmt.Errorf("draft.recreate_attempts must be positive")
	}
	if c.Retry.OrderIDAttempts <= 0 {
		return fmt.Errorf("retry.order_id_attempts must be positive")
	}
	if c.Retry.CancelAttempts <= 0 {
		return fmt.Errorf("retry.cancel_attempts must be positive")
	}
	if c.Recovery.StaleAfter <= 0 {
		return fmt.Errorf("recovery.stale_after must be positive")
	}
	if c.Wizard.MaxReadyDays <= 0 {
		return fmt.Errorf("wizard.max_ready_days must be positive")
	}
	return nil
}
