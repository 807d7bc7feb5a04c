package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dimzachar/ScholarsXP/review-service/internal/metrics"
	"github.com/dimzachar/ScholarsXP/review-service/internal/models"
	"github.com/dimzachar/ScholarsXP/review-service/internal/repository"
	"github.com/dimzachar/ScholarsXP/review-service/internal/service/analyzer"
)

type LedgerService interface {
	Append(ctx context.Context, req models.AppendTransactionRequest) (*models.LedgerTransaction, float64, error)
	GetRunningTotal(ctx context.Context, accountID string) (float64, error)
	ListTransactions(ctx context.Context, accountID string, filter models.TransactionFilter) ([]models.LedgerTransaction, error)
	GetAccount(ctx context.Context, accountID string) (*models.AccountSummary, error)
}

type ledgerService struct {
	ledgerRepo repository.LedgerRepository
	retry      *retrier
	metrics    *metrics.Metrics
	logger     zerolog.Logger
	now        func() time.Time
}

func NewLedgerService(
	ledgerRepo repository.LedgerRepository,
	retryPolicy RetryPolicy,
	m *metrics.Metrics,
	logger zerolog.Logger,
) LedgerService {
	return &ledgerService{
		ledgerRepo: ledgerRepo,
		retry:      newRetrier(retryPolicy, m, logger),
		metrics:    m,
		logger:     logger,
		now:        time.Now,
	}
}

// Append пишет проводку и итог атомарно. AUDIT_CORRECTION пишет только аудитор.
func (s *ledgerService) Append(ctx context.Context, req models.AppendTransactionRequest) (*models.LedgerTransaction, float64, error) {
	if err := validateTransaction(req); err != nil {
		return nil, 0, err
	}

	transaction := &models.LedgerTransaction{
		ID:        uuid.New().String(),
		AccountID: strings.TrimSpace(req.AccountID),
		Amount:    math.Round(req.Amount*100) / 100,
		Type:      req.Type,
		SourceRef: req.SourceRef,
		CreatedAt: s.now(),
	}

	var total float64
	err := s.retry.do(ctx, "append_transaction", func() error {
		var err error
		total, err = s.ledgerRepo.AppendTransaction(ctx, transaction)
		return err
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to append transaction: %w", err)
	}

	if s.metrics != nil {
		s.metrics.LedgerAppends.WithLabelValues(transaction.Type).Inc()
	}

	s.logger.Info().
		Str("transaction_id", transaction.ID).
		Str("account_id", transaction.AccountID).
		Str("type", transaction.Type).
		Float64("amount", transaction.Amount).
		Float64("running_total", total).
		Msg("Ledger transaction appended")

	return transaction, total, nil
}

func (s *ledgerService) GetRunningTotal(ctx context.Context, accountID string) (float64, error) {
	var total float64
	err := s.retry.do(ctx, "get_running_total", func() error {
		var err error
		total, err = s.ledgerRepo.GetRunningTotal(ctx, accountID)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get running total: %w", err)
	}

	return total, nil
}

func (s *ledgerService) ListTransactions(ctx context.Context, accountID string, filter models.TransactionFilter) ([]models.LedgerTransaction, error) {
	var transactions []models.LedgerTransaction
	err := s.retry.do(ctx, "list_transactions", func() error {
		var err error
		transactions, err = s.ledgerRepo.ListTransactions(ctx, accountID, filter)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}

	return transactions, nil
}

func (s *ledgerService) GetAccount(ctx context.Context, accountID string) (*models.AccountSummary, error) {
	total, err := s.GetRunningTotal(ctx, accountID)
	if err != nil {
		return nil, err
	}

	transactions, err := s.ListTransactions(ctx, accountID, models.TransactionFilter{})
	if err != nil {
		return nil, err
	}

	return &models.AccountSummary{
		AccountID:        accountID,
		RunningTotal:     total,
		LedgerTotal:      analyzer.SumTransactions(transactions),
		TransactionCount: len(transactions),
	}, nil
}

func validateTransaction(req models.AppendTransactionRequest) error {
	if strings.TrimSpace(req.AccountID) == "" {
		return fmt.Errorf("%w: account_id is required", ErrInvalidTransaction)
	}
	if !models.IsValidTransactionType(req.Type) {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidTransaction, req.Type)
	}
	if req.Type == models.TransactionTypeAuditCorrection.String() {
		return fmt.Errorf("%w: audit corrections are written by the auditor only", ErrInvalidTransaction)
	}
	if math.IsNaN(req.Amount) || math.IsInf(req.Amount, 0) || req.Amount == 0 {
		return fmt.Errorf("%w: amount must be a non-zero number", ErrInvalidTransaction)
	}
	if models.IsRewardTransactionType(req.Type) && (req.SourceRef == nil || strings.TrimSpace(*req.SourceRef) == "") {
		return fmt.Errorf("%w: %s requires a source_ref", ErrInvalidTransaction, req.Type)
	}

	return nil
}
