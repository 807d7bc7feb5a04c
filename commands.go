package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dimzachar/ScholarsXP/review-service/internal/database"
	"github.com/dimzachar/ScholarsXP/review-service/internal/delivery/httpd"
	"github.com/dimzachar/ScholarsXP/review-service/internal/models"
	"github.com/dimzachar/ScholarsXP/review-service/internal/service"
)

func serveCommand() *cobra.Command {
	var withWorker bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the operator HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := bootstrap()
			if err != nil {
				return err
			}

			application, err := openApp(cfg, log)
			if err != nil {
				return err
			}

			ctx, stop := signalContext()
			defer stop()

			if withWorker {
				if err := application.StartWorker(ctx); err != nil {
					application.Close()
					return err
				}
			}

			serverErr := make(chan error, 1)
			go func() {
				serverErr <- application.RunServer()
			}()

			select {
			case <-ctx.Done():
			case err := <-serverErr:
				if err != nil {
					log.Error().Err(err).Msg("HTTP server failed")
				}
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()

			return application.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().BoolVar(&withWorker, "with-worker", false, "also run the event consumer and scheduler in this process")
	return cmd
}

func workerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume review.completed events and run scheduled sweeps and audits",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := bootstrap()
			if err != nil {
				return err
			}

			application, err := openApp(cfg, log)
			if err != nil {
				return err
			}

			ctx, stop := signalContext()
			defer stop()

			if err := application.StartWorker(ctx); err != nil {
				application.Close()
				return err
			}

			log.Info().Msg("Worker started")
			<-ctx.Done()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()

			return application.Shutdown(shutdownCtx)
		},
	}
}

func migrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back schema migrations",
	}

	run := func(direction string) func(cmd *cobra.Command, args []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, log, err := bootstrap()
			if err != nil {
				return err
			}

			migrator, err := database.NewMigrator(cfg.Database)
			if err != nil {
				return err
			}

			switch direction {
			case "up":
				if err := migrator.Up(); err != nil {
					return err
				}
				log.Info().Msg("Migrations applied successfully")
			case "down":
				if err := migrator.Down(); err != nil {
					return err
				}
				log.Info().Msg("Migration rolled back successfully")
			}
			return nil
		}
	}

	cmd.AddCommand(&cobra.Command{Use: "up", Short: "Apply all pending migrations", RunE: run("up")})
	cmd.AddCommand(&cobra.Command{Use: "down", Short: "Roll back the latest migration", RunE: run("down")})

	return cmd
}

func reshuffleCommand() *cobra.Command {
	var req models.ReshuffleRequest

	cmd := &cobra.Command{
		Use:   "reshuffle <assignment-id>",
		Short: "Release an assignment and hand it to a replacement reviewer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, svc httpd.Services) (interface{}, error) {
				return svc.Reshuffle.Reshuffle(ctx, args[0], req)
			})
		},
	}

	cmd.Flags().BoolVar(&req.DryRun, "dry-run", false, "report the candidate without changing anything")
	cmd.Flags().StringVar(&req.Reason, "reason", service.DefaultReshuffleReason, "release reason recorded on the assignment")
	return cmd
}

func auditCommand() *cobra.Command {
	var (
		apply    bool
		accounts []string
	)

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Reconcile running totals against the ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, svc httpd.Services) (interface{}, error) {
				return svc.Audit.Audit(ctx, models.AuditRequest{DryRun: !apply, AccountIDs: accounts})
			})
		},
	}

	cmd.Flags().BoolVar(&apply, "apply", false, "write corrective transactions (default is dry run)")
	cmd.Flags().StringSliceVar(&accounts, "account", nil, "restrict the audit to these account ids")
	return cmd
}

func watchlistCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "watchlist",
		Short: "List at-risk reviewers, worst first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, svc httpd.Services) (interface{}, error) {
				return svc.Reliability.Watchlist(ctx, limit)
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of reviewers to list")
	return cmd
}

func sweepCommand() *cobra.Command {
	var reshuffle bool

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Mark expired assignments as missed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, svc httpd.Services) (interface{}, error) {
				return svc.Sweep.SweepExpired(ctx, time.Now(), reshuffle)
			})
		},
	}

	cmd.Flags().BoolVar(&reshuffle, "reshuffle", false, "reshuffle each missed assignment to a new reviewer")
	return cmd
}

// withApp выполняет одну операцию и печатает результат в stdout как JSON.
func withApp(fn func(ctx context.Context, svc httpd.Services) (interface{}, error)) error {
	cfg, log, err := bootstrap()
	if err != nil {
		return err
	}

	application, err := openApp(cfg, log)
	if err != nil {
		return err
	}
	defer application.Close()

	ctx, stop := signalContext()
	defer stop()

	result, err := fn(ctx, application.Services)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(result); err != nil {
		return fmt.Errorf("failed to print result: %w", err)
	}
	return nil
}
