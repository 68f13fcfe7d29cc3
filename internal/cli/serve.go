package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/supplywise/supplybot/internal/abort"
	"github.com/supplywise/supplybot/internal/db"
	"github.com/supplywise/supplybot/internal/logging"
	"github.com/supplywise/supplybot/internal/marketplace"
	"github.com/supplywise/supplybot/internal/notify"
	"github.com/supplywise/supplybot/internal/orchestrator"
	"github.com/supplywise/supplybot/internal/recovery"
	"github.com/supplywise/supplybot/internal/wizard"
)

// Version information (set by goreleaser)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the supply order daemon",
	Long:  "Run the daemon: resume persisted pending tasks, keep the recovery loops running and serve wizard sessions until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		logger := logging.Component("serve")
		logger.Info().
			Str("version", version).
			Str("commit", commit).
			Str("built", date).
			Msg("supplybot starting")

		database, err := openDatabase(cfg)
		if err != nil {
			return err
		}
		defer database.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		orders := db.NewOrderRepository(database)
		creds := db.NewCredentialRepository(database)
		sessions := db.NewSessionRepository(database)

		client := marketplace.NewHTTPClient(cfg.Marketplace.BaseURL, cfg.Marketplace.Timeout)
		runner := orchestrator.NewRunner(client, cfg.Draft)
		notifier := notify.NewLogNotifier()
		aborts := abort.NewRegistry()

		handler := wizard.NewHandler(cfg, wizard.NewStore(sessions), orders, creds, client, runner, aborts, notifier)

		recoverer := recovery.NewService(cfg.Recovery, cfg.Retry, orders, creds, client, handler, notifier)
		if err := recoverer.Start(ctx); err != nil {
			return err
		}

		logger.Info().Str("database", cfg.Database.Path).Msg("supplybot running")
		<-ctx.Done()
		logger.Info().Msg("shutdown signal received")

		aborts.AbortAll()
		if err := recoverer.Stop(); err != nil {
			logger.Warn().Err(err).Msg("recovery service stop failed")
		}
		return nil
	},
}
