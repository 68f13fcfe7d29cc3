package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader handles configuration loading with Viper.
type Loader struct {
	v          *viper.Viper
	configFile string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v: viper.New(),
	}
}

// SetConfigFile sets an explicit config file path.
func (l *Loader) SetConfigFile(path string) {
	l.configFile = path
}

// Load loads configuration with proper precedence:
// defaults < config file < env vars
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	l.setupViper(cfg)

	if err := l.loadConfigFile(); err != nil {
		// Config file is optional, only error if explicitly specified
		if l.configFile != "" {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Database.Path = expandTilde(cfg.Database.Path)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func (l *Loader) setupViper(defaults *Config) {
	l.v.SetDefault("database.path", defaults.Database.Path)
	l.v.SetDefault("database.busy_timeout_ms", defaults.Database.BusyTimeoutMs)
	l.v.SetDefault("logging.level", defaults.Logging.Level)
	l.v.SetDefault("logging.format", defaults.Logging.Format)
	l.v.SetDefault("logging.enable_caller", defaults.Logging.EnableCaller)
	l.v.SetDefault("marketplace.base_url", defaults.Marketplace.BaseURL)
	l.v.SetDefault("marketplace.timeout", defaults.Marketplace.Timeout)
	l.v.SetDefault("draft.lifetime", defaults.Draft.Lifetime)
	l.v.SetDefault("draft.poll_interval", defaults.Draft.PollInterval)
	l.v.SetDefault("draft.poll_attempts", defaults.Draft.PollAttempts)
	l.v.SetDefault("draft.recreate_attempts", defaults.Draft.RecreateAttempts)
	l.v.SetDefault("draft.recreate_pause", defaults.Draft.RecreatePause)
	l.v.SetDefault("retry.order_id_attempts", defaults.Retry.OrderIDAttempts)
	l.v.SetDefault("retry.order_id_delay", defaults.Retry.OrderIDDelay)
	l.v.SetDefault("retry.cancel_attempts", defaults.Retry.CancelAttempts)
	l.v.SetDefault("retry.cancel_delay", defaults.Retry.CancelDelay)
	l.v.SetDefault("recovery.order_id_interval", defaults.Recovery.OrderIDInterval)
	l.v.SetDefault("recovery.cleanup_interval", defaults.Recovery.CleanupInterval)
	l.v.SetDefault("recovery.summary_interval", defaults.Recovery.SummaryInterval)
	l.v.SetDefault("recovery.stale_after", defaults.Recovery.StaleAfter)
	l.v.SetDefault("wizard.max_ready_days", defaults.Wizard.MaxReadyDays)

	l.v.SetEnvPrefix("SUPPLYBOT")
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()
}

func (l *Loader) loadConfigFile() error {
	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
		return l.v.ReadInConfig()
	}

	l.v.SetConfigName("supplybot")
	l.v.SetConfigType("yaml")
	l.v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		l.v.AddConfigPath(filepath.Join(home, ".config", "supplybot"))
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return err
	}
	return nil
}

// expandTilde expands ~ to the user's home directory.
func expandTilde(path string) string {
	if path == "" {
		return path
	}
	if path == "~" {
		home, _ := os.UserHomeDir()
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}
