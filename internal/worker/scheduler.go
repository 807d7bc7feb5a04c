package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dimzachar/ScholarsXP/review-service/internal/models"
	"github.com/dimzachar/ScholarsXP/review-service/internal/service"
)

type SchedulerConfig struct {
	SweepInterval time.Duration
	AutoReshuffle bool
	AuditInterval time.Duration
	AuditApply    bool
}

// Scheduler периодически запускает sweep просроченных назначений и аудит ledger.
// Нулевой интервал отключает соответствующую задачу.
type Scheduler struct {
	sweep  service.SweepService
	audit  service.LedgerAuditService
	config SchedulerConfig
	logger zerolog.Logger
	now    func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func NewScheduler(sweep service.SweepService, audit service.LedgerAuditService, config SchedulerConfig, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		sweep:  sweep,
		audit:  audit,
		config: config,
		logger: logger,
		now:    time.Now,
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	if s.config.SweepInterval > 0 && s.sweep != nil {
		s.every(ctx, "sweep", s.config.SweepInterval, s.RunSweep)
	}
	if s.config.AuditInterval > 0 && s.audit != nil {
		s.every(ctx, "audit", s.config.AuditInterval, s.RunAudit)
	}

	s.logger.Info().
		Dur("sweep_interval", s.config.SweepInterval).
		Dur("audit_interval", s.config.AuditInterval).
		Bool("auto_reshuffle", s.config.AutoReshuffle).
		Bool("audit_apply", s.config.AuditApply).
		Msg("Scheduler started")
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()

	s.logger.Info().Msg("Scheduler stopped")
}

func (s *Scheduler) every(ctx context.Context, name string, interval time.Duration, job func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Debug().Str("job", name).Msg("Scheduled job stopped")
				return
			case <-ticker.C:
				job(ctx)
			}
		}
	}()
}

func (s *Scheduler) RunSweep(ctx context.Context) {
	result, err := s.sweep.SweepExpired(ctx, s.now(), s.config.AutoReshuffle)
	if err != nil {
		s.logger.Error().Err(err).Msg("Scheduled sweep failed")
		return
	}

	if result.MarkedMissed == 0 {
		return
	}

	s.logger.Info().
		Int("marked_missed", result.MarkedMissed).
		Int("reshuffled", result.Reshuffled).
		Int("needs_follow_up", result.NeedsFollowUp).
		Int("failed", result.Failed).
		Msg("Scheduled sweep completed")
}

func (s *Scheduler) RunAudit(ctx context.Context) {
	report, err := s.audit.Audit(ctx, models.AuditRequest{DryRun: !s.config.AuditApply})
	if err != nil {
		s.logger.Error().Err(err).Msg("Scheduled ledger audit failed")
		return
	}

	s.logger.Info().
		Str("audit_id", report.ID).
		Bool("dry_run", report.DryRun).
		Int("accounts_checked", report.AccountsChecked).
		Int("inconsistencies", len(report.Inconsistencies)).
		Int("fixed", report.FixedCount).
		Msg("Scheduled ledger audit completed")
}
