package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dimzachar/ScholarsXP/review-service/internal/models"
	"github.com/dimzachar/ScholarsXP/review-service/internal/repository"
	"github.com/dimzachar/ScholarsXP/review-service/internal/service/integration"
)

type ReviewService interface {
	SubmitReview(ctx context.Context, req models.SubmitReviewRequest) (*models.SubmitReviewResult, error)
	HandleReviewCompleted(ctx context.Context, event *models.ReviewCompletedEvent) error
}

type reviewService struct {
	assignmentRepo repository.AssignmentRepository
	reviewRepo     repository.ReviewRepository
	consensus      ConsensusService
	events         integration.EventPublisher
	retry          *retrier
	logger         zerolog.Logger
	now            func() time.Time
}

func NewReviewService(
	assignmentRepo repository.AssignmentRepository,
	reviewRepo repository.ReviewRepository,
	consensus ConsensusService,
	events integration.EventPublisher,
	retryPolicy RetryPolicy,
	logger zerolog.Logger,
) ReviewService {
	return &reviewService{
		assignmentRepo: assignmentRepo,
		reviewRepo:     reviewRepo,
		consensus:      consensus,
		events:         events,
		retry:          newRetrier(retryPolicy, nil, logger),
		logger:         logger,
		now:            time.Now,
	}
}

func (s *reviewService) SubmitReview(ctx context.Context, req models.SubmitReviewRequest) (*models.SubmitReviewResult, error) {
	if math.IsNaN(req.Score) || req.Score < models.MinReviewScore || req.Score > models.MaxReviewScore {
		return nil, ErrInvalidScore
	}
	if req.QualityRating != nil && (*req.QualityRating < 1 || *req.QualityRating > 5) {
		return nil, ErrInvalidRating
	}

	var assignment *models.ReviewAssignment
	err := s.retry.do(ctx, "get_assignment", func() error {
		var err error
		assignment, err = s.assignmentRepo.GetByID(ctx, req.AssignmentID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get assignment: %w", err)
	}
	if assignment == nil {
		return nil, ErrAssignmentNotFound
	}
	if assignment.ReviewerID != req.ReviewerID {
		return nil, ErrReviewerMismatch
	}
	if !assignment.IsActive() {
		return nil, ErrAssignmentNotActive
	}

	completedAt := s.now()
	review := &models.PeerReview{
		ID:            uuid.New().String(),
		AssignmentID:  assignment.ID,
		ReviewerID:    assignment.ReviewerID,
		SubmissionID:  assignment.SubmissionID,
		Score:         req.Score,
		QualityRating: req.QualityRating,
		IsLate:        completedAt.After(assignment.Deadline),
		CreatedAt:     completedAt,
	}

	var completed bool
	err = s.retry.do(ctx, "complete_assignment", func() error {
		var err error
		completed, err = s.reviewRepo.CompleteAssignment(ctx, review, completedAt)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record review: %w", err)
	}
	if !completed {
		// Назначение успели освободить или закрыть параллельно.
		return nil, ErrAssignmentNotActive
	}

	s.logger.Info().
		Str("review_id", review.ID).
		Str("assignment_id", assignment.ID).
		Str("submission_id", assignment.SubmissionID).
		Str("reviewer_id", assignment.ReviewerID).
		Float64("score", review.Score).
		Bool("late", review.IsLate).
		Msg("Peer review submitted")

	s.publishCompleted(ctx, review)

	result := &models.SubmitReviewResult{Review: *review}

	remaining, outcome, err := s.checkCompletion(ctx, assignment.SubmissionID)
	if err != nil {
		// Рецензия уже записана, финализацию повторит воркер по событию.
		s.logger.Error().
			Err(err).
			Str("submission_id", assignment.SubmissionID).
			Msg("Failed to run consensus after review")
	}
	result.RemainingActive = remaining
	result.Consensus = outcome

	return result, nil
}

// HandleReviewCompleted повторяет проверку "активных назначений не осталось"; вызов идемпотентен.
func (s *reviewService) HandleReviewCompleted(ctx context.Context, event *models.ReviewCompletedEvent) error {
	if event == nil || event.SubmissionID == "" {
		return fmt.Errorf("review completed event without submission id")
	}

	remaining, outcome, err := s.checkCompletion(ctx, event.SubmissionID)
	if err != nil {
		return err
	}

	logEvent := s.logger.Debug().
		Str("submission_id", event.SubmissionID).
		Str("review_id", event.ReviewID).
		Int("remaining_active", remaining)
	if outcome != nil {
		logEvent = logEvent.Str("consensus", string(outcome.Status))
	}
	logEvent.Msg("Review completed event handled")

	return nil
}

func (s *reviewService) checkCompletion(ctx context.Context, submissionID string) (int, *models.ConsensusOutcome, error) {
	var remaining int
	err := s.retry.do(ctx, "count_active_assignments", func() error {
		var err error
		remaining, err = s.assignmentRepo.CountActiveBySubmission(ctx, submissionID)
		return err
	})
	if err != nil {
		return 0, nil, fmt.Errorf("failed to count active assignments: %w", err)
	}
	if remaining > 0 {
		return remaining, nil, nil
	}

	outcome, err := s.consensus.Finalize(ctx, submissionID)
	if err != nil {
		// Параллельный reshuffle мог добавить назначение между подсчетом и финализацией.
		if errors.Is(err, ErrReviewsOutstanding) {
			return 0, nil, nil
		}
		return 0, nil, err
	}

	return 0, outcome, nil
}

func (s *reviewService) publishCompleted(ctx context.Context, review *models.PeerReview) {
	if s.events == nil {
		return
	}

	event := &models.ReviewCompletedEvent{
		ReviewID:     review.ID,
		AssignmentID: review.AssignmentID,
		SubmissionID: review.SubmissionID,
		ReviewerID:   review.ReviewerID,
		Timestamp:    review.CreatedAt.Unix(),
	}

	if err := s.events.PublishReviewCompleted(ctx, event); err != nil {
		s.logger.Warn().
			Err(err).
			Str("review_id", review.ID).
			Str("submission_id", review.SubmissionID).
			Msg("Failed to publish review completed event")
	}
}
