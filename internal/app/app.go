package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/dimzachar/ScholarsXP/review-service/internal/config"
	"github.com/dimzachar/ScholarsXP/review-service/internal/delivery/httpd"
	"github.com/dimzachar/ScholarsXP/review-service/internal/metrics"
	"github.com/dimzachar/ScholarsXP/review-service/internal/repository"
	"github.com/dimzachar/ScholarsXP/review-service/internal/service"
	"github.com/dimzachar/ScholarsXP/review-service/internal/service/analyzer"
	"github.com/dimzachar/ScholarsXP/review-service/internal/service/integration"
	"github.com/dimzachar/ScholarsXP/review-service/internal/worker"
	"github.com/dimzachar/ScholarsXP/review-service/internal/worker/queue"
)

// App собирает репозитории, сервисы и транспорт. Режимы serve, worker и CLI-команды
// используют один и тот же граф зависимостей.
type App struct {
	Services httpd.Services

	config       *config.Config
	logger       zerolog.Logger
	db           *sql.DB
	registry     *prometheus.Registry
	metrics      *metrics.Metrics
	rabbitMQRepo repository.RabbitMQRepository
	server       *http.Server
	eventWorker  worker.ReviewEventWorker
	scheduler    *worker.Scheduler
}

func New(cfg *config.Config, log zerolog.Logger, db *sql.DB) (*App, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	a := &App{
		config:   cfg,
		logger:   log,
		db:       db,
		registry: registry,
		metrics:  m,
	}

	scorer, err := analyzer.NewReliabilityScorerFromIDs(cfg.Reliability.ActiveFormula, cfg.Reliability.ShadowFormulas)
	if err != nil {
		return nil, fmt.Errorf("failed to build reliability scorer: %w", err)
	}

	archive, err := a.setupArchive()
	if err != nil {
		return nil, err
	}

	// Брокер последним: после него ошибок сборки уже нет, соединение не утечет.
	notifier, events, err := a.setupBroker()
	if err != nil {
		return nil, err
	}

	submissionRepo := repository.NewSubmissionRepository(db, log)
	assignmentRepo := repository.NewAssignmentRepository(db, log)
	reviewRepo := repository.NewReviewRepository(db, log)
	voteRepo := repository.NewVoteRepository(db, log)
	reliabilityRepo := repository.NewReliabilityRepository(db, log)
	ledgerRepo := repository.NewLedgerRepository(db, log)
	poolRepo := repository.NewReviewerPoolRepository(db, log, cfg.Assignment.MaxActivePerReviewer)

	retryPolicy := service.RetryPolicy{
		MaxAttempts:     cfg.Retry.MaxAttempts,
		InitialInterval: cfg.Retry.InitialInterval,
		MaxInterval:     cfg.Retry.MaxInterval,
		Multiplier:      cfg.Retry.Multiplier,
	}

	assignmentConfig := service.AssignmentConfig{
		MinimumReviewers:  cfg.Assignment.MinimumReviewers,
		Deadline:          analyzer.NewDeadlinePolicy(cfg.Assignment.ReviewWindow, cfg.Location()),
		SubmissionURLBase: cfg.Assignment.SubmissionURLBase,
	}

	reliabilityService := service.NewReliabilityService(reliabilityRepo, voteRepo, scorer, service.ReliabilityConfig{
		AgreementTolerance:   cfg.Reliability.AgreementTolerance,
		HighDivergenceMargin: cfg.Reliability.HighDivergenceMargin,
		Thresholds: analyzer.BadReviewerThresholds{
			MaxLatenessRate:      cfg.Reliability.MaxLatenessRate,
			MinAgreementRate:     cfg.Reliability.MinAgreementRate,
			MaxHighDivergence:    cfg.Reliability.MaxHighDivergence,
			MinQualityAverage:    cfg.Reliability.MinQualityAverage,
			MinVolumeForRateRule: cfg.Reliability.MinVolumeForRateRule,
		},
		VoteThresholds:     analyzer.DefaultVoteThresholds(),
		WatchlistScanLimit: cfg.Reliability.WatchlistScanLimit,
		VoteAnalysisLimit:  cfg.Reliability.VoteLimit,
		VoteAnalysisWindow: cfg.Reliability.VoteWindow,
	}, m, log)

	ledgerService := service.NewLedgerService(ledgerRepo, retryPolicy, m, log)

	calculator := analyzer.NewConsensusCalculator(analyzer.ConsensusConfig{
		DivergenceThreshold:  cfg.Consensus.DivergenceThreshold,
		AIWeight:             cfg.Consensus.AIWeight,
		ReliabilityWeighting: cfg.Consensus.ReliabilityWeighting,
		MinReliabilityWeight: cfg.Consensus.MinReliabilityWeight,
	})

	consensusService := service.NewConsensusService(
		submissionRepo,
		assignmentRepo,
		reviewRepo,
		voteRepo,
		reliabilityRepo,
		calculator,
		reliabilityService,
		ledgerService,
		service.ConsensusConfig{
			MinVotes: cfg.Consensus.MinVotes,
			Rewards: service.RewardConfig{
				ReviewPoints:         cfg.Consensus.Rewards.ReviewPoints,
				LateReviewPoints:     cfg.Consensus.Rewards.LateReviewPoints,
				SubmissionMultiplier: cfg.Consensus.Rewards.SubmissionMultiplier,
			},
		},
		retryPolicy,
		m,
		log,
	)

	reshuffleService := service.NewReshuffleService(submissionRepo, assignmentRepo, poolRepo, notifier, assignmentConfig, retryPolicy, m, log)

	inspector := analyzer.NewLedgerInspector(analyzer.LedgerInspectorConfig{
		Tolerance:       cfg.Audit.Tolerance,
		DuplicateWindow: cfg.Audit.DuplicateWindow,
		RapidWindow:     cfg.Audit.RapidWindow,
	})

	a.Services = httpd.Services{
		Assignments: service.NewAssignmentService(submissionRepo, assignmentRepo, poolRepo, notifier, assignmentConfig, retryPolicy, m, log),
		Reshuffle:   reshuffleService,
		Reviews:     service.NewReviewService(assignmentRepo, reviewRepo, consensusService, events, retryPolicy, log),
		Consensus:   consensusService,
		Reliability: reliabilityService,
		Ledger:      ledgerService,
		Audit:       service.NewLedgerAuditService(ledgerRepo, submissionRepo, reviewRepo, inspector, archive, retryPolicy, m, log),
		Sweep:       service.NewSweepService(assignmentRepo, reshuffleService, cfg.Scheduler.SweepBatch, retryPolicy, m, log),
	}

	return a, nil
}

// setupBroker без брокера отдает NoopNotifier: события review.* просто не публикуются.
func (a *App) setupBroker() (integration.Notifier, integration.EventPublisher, error) {
	if !a.config.RabbitMQ.Enabled {
		noop := integration.NoopNotifier{Logger: a.logger}
		return noop, noop, nil
	}

	rabbitMQRepo, err := repository.NewRabbitMQRepository(a.config.RabbitMQ.URL, a.logger)
	if err != nil {
		return nil, nil, err
	}

	if err := rabbitMQRepo.SetupQueue(
		a.config.RabbitMQ.Exchange,
		a.config.RabbitMQ.QueueName,
		a.config.RabbitMQ.RoutingKey,
	); err != nil {
		rabbitMQRepo.Close()
		return nil, nil, err
	}

	a.rabbitMQRepo = rabbitMQRepo

	publisher := queue.NewRabbitMQPublisher(rabbitMQRepo.Channel(), a.config.RabbitMQ.PublishTimeout, a.logger)
	notifier := integration.NewRabbitMQNotifier(publisher, a.config.RabbitMQ.Exchange, a.logger)

	return notifier, notifier, nil
}

func (a *App) setupArchive() (integration.AuditArchive, error) {
	if !a.config.Storage.Enabled {
		return nil, nil
	}

	store, err := repository.NewMinIORepository(
		a.config.Storage.Endpoint,
		a.config.Storage.AccessKey,
		a.config.Storage.SecretKey,
		a.config.Storage.Bucket,
		a.config.Storage.Region,
		a.config.Storage.UseSSL,
		a.config.Storage.ConnectTimeout,
		a.logger,
	)
	if err != nil {
		return nil, err
	}

	return integration.NewAuditArchive(store, a.config.Storage.Prefix, a.logger), nil
}

func (a *App) RunServer() error {
	var gatherer prometheus.Gatherer
	if a.config.Metrics.Enabled {
		gatherer = a.registry
	}

	handler := httpd.NewHandler(a.Services, gatherer, a.logger)
	router := httpd.NewRouter(handler, a.metrics, httpd.RouterConfig{
		Timeout: a.config.Server.RequestTimeout,
		CORS: httpd.CORSOptions{
			AllowedOrigins:   a.config.CORS.AllowedOrigins,
			AllowedMethods:   a.config.CORS.AllowedMethods,
			AllowedHeaders:   a.config.CORS.AllowedHeaders,
			ExposedHeaders:   a.config.CORS.ExposedHeaders,
			AllowCredentials: a.config.CORS.AllowCredentials,
			MaxAge:           a.config.CORS.MaxAge,
		},
	}, a.logger)

	a.server = &http.Server{
		Addr:         a.config.Server.Address,
		Handler:      router,
		ReadTimeout:  a.config.Server.ReadTimeout,
		WriteTimeout: a.config.Server.WriteTimeout,
		IdleTimeout:  a.config.Server.IdleTimeout,
	}

	a.logger.Info().Msgf("Starting review service on %s", a.config.Server.Address)
	if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// StartWorker запускает consumer review.completed (если есть брокер) и планировщик.
func (a *App) StartWorker(ctx context.Context) error {
	if a.rabbitMQRepo != nil {
		consumer := queue.NewRabbitMQConsumer(
			a.rabbitMQRepo.Channel(),
			a.config.RabbitMQ.QueueName,
			a.config.RabbitMQ.ConsumerTag,
			a.config.RabbitMQ.PrefetchCount,
			a.logger,
		)

		pool := worker.NewWorkerPool(a.config.Worker.MaxWorkers, a.config.Worker.SubmitTimeout, a.logger)
		a.eventWorker = worker.NewReviewEventWorker(pool, consumer, a.Services.Reviews, a.metrics, a.logger)
		if err := a.eventWorker.Start(ctx); err != nil {
			return err
		}
	} else {
		a.logger.Warn().Msg("RabbitMQ disabled, review completed events will not be consumed")
	}

	a.scheduler = worker.NewScheduler(a.Services.Sweep, a.Services.Audit, worker.SchedulerConfig{
		SweepInterval: a.config.Scheduler.SweepInterval,
		AutoReshuffle: a.config.Scheduler.AutoReshuffle,
		AuditInterval: a.config.Scheduler.AuditInterval,
		AuditApply:    a.config.Scheduler.AuditApply,
	}, a.logger)
	a.scheduler.Start(ctx)

	return nil
}

func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info().Msg("Shutting down review service...")

	var shutdownErr error
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			a.logger.Error().Err(err).Msg("Failed to shutdown HTTP server")
			shutdownErr = err
		}
	}

	if a.scheduler != nil {
		a.scheduler.Stop()
	}

	if a.eventWorker != nil {
		if err := a.eventWorker.Stop(); err != nil {
			a.logger.Error().Err(err).Msg("Failed to stop review event worker")
		}
	}

	a.Close()

	a.logger.Info().Msg("Review service stopped")
	return shutdownErr
}

// Close освобождает соединения без остановки HTTP; достаточно для CLI-команд.
func (a *App) Close() {
	if a.rabbitMQRepo != nil {
		if err := a.rabbitMQRepo.Close(); err != nil {
			a.logger.Error().Err(err).Msg("Failed to close RabbitMQ connection")
		}
		a.rabbitMQRepo = nil
	}

	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error().Err(err).Msg("Failed to close database connection")
		}
		a.db = nil
	}
}
