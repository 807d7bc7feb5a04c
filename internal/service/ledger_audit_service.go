package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dimzachar/ScholarsXP/review-service/internal/metrics"
	"github.com/dimzachar/ScholarsXP/review-service/internal/models"
	"github.com/dimzachar/ScholarsXP/review-service/internal/repository"
	"github.com/dimzachar/ScholarsXP/review-service/internal/service/analyzer"
	"github.com/dimzachar/ScholarsXP/review-service/internal/service/integration"
)

type LedgerAuditService interface {
	Audit(ctx context.Context, req models.AuditRequest) (*models.AuditReport, error)
}

type ledgerAuditService struct {
	ledgerRepo     repository.LedgerRepository
	submissionRepo repository.SubmissionRepository
	reviewRepo     repository.ReviewRepository
	inspector      *analyzer.LedgerInspector
	archive        integration.AuditArchive
	retry          *retrier
	metrics        *metrics.Metrics
	logger         zerolog.Logger
	now            func() time.Time
}

// NewLedgerAuditService: archive может быть nil, тогда отчет не выгружается.
func NewLedgerAuditService(
	ledgerRepo repository.LedgerRepository,
	submissionRepo repository.SubmissionRepository,
	reviewRepo repository.ReviewRepository,
	inspector *analyzer.LedgerInspector,
	archive integration.AuditArchive,
	retryPolicy RetryPolicy,
	m *metrics.Metrics,
	logger zerolog.Logger,
) LedgerAuditService {
	return &ledgerAuditService{
		ledgerRepo:     ledgerRepo,
		submissionRepo: submissionRepo,
		reviewRepo:     reviewRepo,
		inspector:      inspector,
		archive:        archive,
		retry:          newRetrier(retryPolicy, m, logger),
		metrics:        m,
		logger:         logger,
		now:            time.Now,
	}
}

func (s *ledgerAuditService) Audit(ctx context.Context, req models.AuditRequest) (*models.AuditReport, error) {
	report := &models.AuditReport{
		ID:              uuid.New().String(),
		DryRun:          req.DryRun,
		StartedAt:       s.now(),
		Inconsistencies: []models.AccountInconsistency{},
		Duplicates:      []models.DuplicateTransactionGroup{},
		RapidPairs:      []models.RapidTransactionPair{},
		Orphans:         []models.OrphanedTransaction{},
	}

	accountIDs := req.AccountIDs
	if len(accountIDs) == 0 {
		err := s.retry.do(ctx, "list_accounts", func() error {
			var err error
			accountIDs, err = s.ledgerRepo.ListAccountIDs(ctx)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list accounts: %w", err)
		}
	}

	var rewardTxs []models.LedgerTransaction
	for _, accountID := range accountIDs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		inconsistency, txs, err := s.inspectAccount(ctx, report, accountID)
		if err != nil {
			return nil, err
		}
		report.AccountsChecked++

		for _, tx := range txs {
			if models.IsRewardTransactionType(tx.Type) {
				rewardTxs = append(rewardTxs, tx)
			}
		}

		if inconsistency == nil {
			continue
		}
		if !req.DryRun {
			s.fix(ctx, report.ID, inconsistency)
			if inconsistency.Fixed {
				report.FixedCount++
			}
		}
		report.Inconsistencies = append(report.Inconsistencies, *inconsistency)
	}

	orphans, err := s.findOrphans(ctx, rewardTxs)
	if err != nil {
		return nil, err
	}
	report.Orphans = append(report.Orphans, orphans...)
	report.CompletedAt = s.now()

	if s.archive != nil {
		key, err := s.archive.Archive(ctx, report)
		if err != nil {
			s.logger.Warn().Err(err).Str("audit_id", report.ID).Msg("Failed to archive audit report")
		} else {
			report.ArchiveKey = key
		}
	}

	if err := s.ledgerRepo.SaveAuditRun(ctx, report); err != nil {
		s.logger.Warn().Err(err).Str("audit_id", report.ID).Msg("Failed to save audit run")
	}

	s.observe(report)

	s.logger.Info().
		Str("audit_id", report.ID).
		Bool("dry_run", report.DryRun).
		Int("accounts", report.AccountsChecked).
		Int("inconsistencies", len(report.Inconsistencies)).
		Int("fixed", report.FixedCount).
		Int("duplicates", len(report.Duplicates)).
		Int("rapid_pairs", len(report.RapidPairs)).
		Int("orphans", len(report.Orphans)).
		Msg("Ledger audit completed")

	return report, nil
}

// inspectAccount читает сохраненный итог раньше журнала: проводка, попавшая между чтениями,
// видна как расхождение, и ApplyCorrection отклонит исправление по изменившемуся итогу.
func (s *ledgerAuditService) inspectAccount(ctx context.Context, report *models.AuditReport, accountID string) (*models.AccountInconsistency, []models.LedgerTransaction, error) {
	var stored float64
	err := s.retry.do(ctx, "get_running_total", func() error {
		var err error
		stored, err = s.ledgerRepo.GetRunningTotal(ctx, accountID)
		return err
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get running total for %s: %w", accountID, err)
	}

	var txs []models.LedgerTransaction
	err = s.retry.do(ctx, "list_transactions", func() error {
		var err error
		txs, err = s.ledgerRepo.ListTransactions(ctx, accountID, models.TransactionFilter{})
		return err
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list transactions for %s: %w", accountID, err)
	}

	report.Duplicates = append(report.Duplicates, s.inspector.FindDuplicates(accountID, txs)...)
	report.RapidPairs = append(report.RapidPairs, s.inspector.FindRapidPairs(accountID, txs)...)

	return s.inspector.Reconcile(accountID, stored, txs), txs, nil
}

func (s *ledgerAuditService) fix(ctx context.Context, auditID string, inconsistency *models.AccountInconsistency) {
	sourceRef := analyzer.CorrectionSourceRef(auditID)
	correction := &models.LedgerTransaction{
		ID:        uuid.New().String(),
		AccountID: inconsistency.AccountID,
		Amount:    inconsistency.Difference,
		Type:      models.TransactionTypeAuditCorrection.String(),
		SourceRef: &sourceRef,
		CreatedAt: s.now(),
	}

	var totalAfter float64
	err := s.retry.do(ctx, "apply_correction", func() error {
		var err error
		totalAfter, err = s.ledgerRepo.ApplyCorrection(ctx, inconsistency.StoredTotal, inconsistency.LedgerTotal, correction)
		return err
	})
	if err != nil {
		inconsistency.FixError = err.Error()
		s.logger.Error().
			Err(err).
			Str("audit_id", auditID).
			Str("account_id", inconsistency.AccountID).
			Msg("Failed to apply audit correction")
		return
	}

	inconsistency.Fixed = true
	inconsistency.CorrectionID = correction.ID
	inconsistency.TotalAfter = &totalAfter

	if s.metrics != nil {
		s.metrics.AuditFixes.Inc()
	}

	s.logger.Warn().
		Str("audit_id", auditID).
		Str("account_id", inconsistency.AccountID).
		Float64("stored_total", inconsistency.StoredTotal).
		Float64("ledger_total", inconsistency.LedgerTotal).
		Float64("correction", correction.Amount).
		Msg("Running total corrected")
}

// findOrphans проверяет существование источников наград пачкой на каждый вид ссылки.
func (s *ledgerAuditService) findOrphans(ctx context.Context, rewardTxs []models.LedgerTransaction) ([]models.OrphanedTransaction, error) {
	refs := analyzer.RewardSourceRefs(rewardTxs)
	if len(refs) == 0 {
		return nil, nil
	}

	idsByKind := make(map[string][]string)
	for _, ref := range refs {
		kind, id, ok := models.ParseSourceRef(ref)
		if !ok {
			continue
		}
		idsByKind[kind] = append(idsByKind[kind], id)
	}

	existing := make(map[string]bool, len(refs))
	lookups := map[string]func(context.Context, []string) (map[string]bool, error){
		models.SourceKindSubmission: s.submissionRepo.ExistingIDs,
		models.SourceKindReview:     s.reviewRepo.ExistingIDs,
	}

	for kind, ids := range idsByKind {
		lookup, ok := lookups[kind]
		if !ok {
			continue
		}

		var found map[string]bool
		err := s.retry.do(ctx, "existing_"+kind+"s", func() error {
			var err error
			found, err = lookup(ctx, ids)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to check %s sources: %w", kind, err)
		}

		for id, ok := range found {
			if ok {
				existing[kind+":"+id] = true
			}
		}
	}

	return s.inspector.FindOrphans(rewardTxs, existing), nil
}

func (s *ledgerAuditService) observe(report *models.AuditReport) {
	if s.metrics == nil {
		return
	}

	mode := "apply"
	if report.DryRun {
		mode = "dry_run"
	}
	s.metrics.AuditRuns.WithLabelValues(mode).Inc()
	s.metrics.AuditInconsistencies.Set(float64(len(report.Inconsistencies)))
}
