package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dimzachar/ScholarsXP/review-service/internal/app"
	"github.com/dimzachar/ScholarsXP/review-service/internal/config"
	"github.com/dimzachar/ScholarsXP/review-service/internal/database"
	"github.com/dimzachar/ScholarsXP/review-service/pkg/logger"
)

const programName = "review-service"

var globalFlags = struct {
	configFile string
	debug      bool
}{}

func main() {
	rootCmd := &cobra.Command{
		Use:           programName,
		Short:         "Peer-review orchestration and trust engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&globalFlags.configFile, "config", "", "path to config file")
	rootCmd.PersistentFlags().BoolVarP(&globalFlags.debug, "debug", "D", false, "enable debug logging")

	rootCmd.AddCommand(serveCommand())
	rootCmd.AddCommand(workerCommand())
	rootCmd.AddCommand(migrateCommand())
	rootCmd.AddCommand(reshuffleCommand())
	rootCmd.AddCommand(auditCommand())
	rootCmd.AddCommand(watchlistCommand())
	rootCmd.AddCommand(sweepCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// bootstrap загружает конфигурацию и логгер, общие для всех команд.
func bootstrap() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(globalFlags.configFile)
	if err != nil {
		return nil, logger.New(), err
	}

	level := cfg.Logging.Level
	if globalFlags.debug {
		level = "debug"
	}

	return cfg, logger.NewWithConfig(level, cfg.Logging.Pretty, cfg.Logging.NoColor), nil
}

// openApp поднимает БД и полный граф сервисов. Вызывающий обязан закрыть App.
func openApp(cfg *config.Config, log zerolog.Logger) (*app.App, error) {
	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		return nil, err
	}

	log.Info().Msg("Database connection established")

	application, err := app.New(cfg, log, db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create application: %w", err)
	}

	return application, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
