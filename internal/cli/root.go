// Package cli provides the supplybot command line interface.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/supplywise/supplybot/internal/config"
	"github.com/supplywise/supplybot/internal/db"
	"github.com/supplywise/supplybot/internal/logging"
)

var (
	rootConfigFile string
	rootLogLevel   string
	rootLogFormat  string
)

var rootCmd = &cobra.Command{
	Use:   "supplybot",
	Short: "Chat-driven supply order automation",
	Long:  "supplybot walks warehouse supply orders through a marketplace seller API:\ndraft creation, timeslot selection, order submission and recovery.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logging.Init(logging.Config{
			Level:        cfg.Logging.Level,
			Format:       cfg.Logging.Format,
			EnableCaller: cfg.Logging.EnableCaller,
		})
		return nil
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootConfigFile, "config", "", "config file (default is $HOME/.config/supplybot/supplybot.yaml)")
	rootCmd.PersistentFlags().StringVar(&rootLogLevel, "log-level", "", "override logging level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&rootLogFormat, "log-format", "", "override logging format (json, console)")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	loader := config.NewLoader()
	if rootConfigFile != "" {
		loader.SetConfigFile(rootConfigFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	if rootLogLevel != "" {
		cfg.Logging.Level = rootLogLevel
	}
	if rootLogFormat != "" {
		cfg.Logging.Format = rootLogFormat
	}
	return cfg, nil
}

func openDatabase(cfg *config.Config) (*db.DB, error) {
	database, err := db.Open(cfg.Database.Path, cfg.Database.BusyTimeoutMs)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return database, nil
}
