package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/dimzachar/ScholarsXP/review-service/internal/metrics"
	"github.com/dimzachar/ScholarsXP/review-service/internal/models"
	"github.com/dimzachar/ScholarsXP/review-service/internal/repository"
)

const DefaultSweepBatchSize = 200

type SweepService interface {
	SweepExpired(ctx context.Context, now time.Time, autoReshuffle bool) (*models.SweepResult, error)
}

type sweepService struct {
	assignmentRepo repository.AssignmentRepository
	reshuffle      ReshuffleService
	batchSize      int
	retry          *retrier
	metrics        *metrics.Metrics
	logger         zerolog.Logger
}

func NewSweepService(
	assignmentRepo repository.AssignmentRepository,
	reshuffle ReshuffleService,
	batchSize int,
	retryPolicy RetryPolicy,
	m *metrics.Metrics,
	logger zerolog.Logger,
) SweepService {
	if batchSize <= 0 {
		batchSize = DefaultSweepBatchSize
	}

	return &sweepService{
		assignmentRepo: assignmentRepo,
		reshuffle:      reshuffle,
		batchSize:      batchSize,
		retry:          newRetrier(retryPolicy, m, logger),
		metrics:        m,
		logger:         logger,
	}
}

// SweepExpired помечает просроченные назначения MISSED и при необходимости сразу ищет замену.
// Одна пачка за вызов: планировщик доберет остаток на следующем тике.
func (s *sweepService) SweepExpired(ctx context.Context, now time.Time, autoReshuffle bool) (*models.SweepResult, error) {
	var missed []models.ReviewAssignment
	err := s.retry.do(ctx, "mark_missed", func() error {
		var err error
		missed, err = s.assignmentRepo.MarkMissedExpired(ctx, now, s.batchSize)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to mark expired assignments: %w", err)
	}

	result := &models.SweepResult{
		MarkedMissed:  len(missed),
		AssignmentIDs: make([]string, 0, len(missed)),
	}

	if s.metrics != nil {
		s.metrics.SweepMissed.Add(float64(len(missed)))
	}

	for _, assignment := range missed {
		result.AssignmentIDs = append(result.AssignmentIDs, assignment.ID)

		if !autoReshuffle {
			continue
		}

		reshuffled, err := s.reshuffle.Reshuffle(ctx, assignment.ID, models.ReshuffleRequest{Reason: DeadlineMissedReason})
		if err != nil {
			result.Failed++
			s.logger.Error().
				Err(err).
				Str("assignment_id", assignment.ID).
				Msg("Failed to reshuffle missed assignment")
			continue
		}

		switch {
		case reshuffled.Success:
			result.Reshuffled++
		case reshuffled.NeedsManualFollowUp:
			result.NeedsFollowUp++
		}
	}

	if len(missed) > 0 {
		s.logger.Info().
			Int("marked_missed", result.MarkedMissed).
			Int("reshuffled", result.Reshuffled).
			Int("needs_follow_up", result.NeedsFollowUp).
			Int("failed", result.Failed).
			Msg("Deadline sweep completed")
	}

	return result, nil
}
