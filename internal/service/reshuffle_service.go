package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/dimzachar/ScholarsXP/review-service/internal/metrics"
	"github.com/dimzachar/ScholarsXP/review-service/internal/models"
	"github.com/dimzachar/ScholarsXP/review-service/internal/repository"
	"github.com/dimzachar/ScholarsXP/review-service/internal/service/integration"
)

const (
	DefaultReshuffleReason = "manual_reshuffle"
	DeadlineMissedReason   = "deadline_missed"
)

type ReshuffleService interface {
	Reshuffle(ctx context.Context, assignmentID string, req models.ReshuffleRequest) (*models.ReshuffleResult, error)
}

type reshuffleService struct {
	submissionRepo repository.SubmissionRepository
	assignmentRepo repository.AssignmentRepository
	poolRepo       repository.ReviewerPoolRepository
	notifier       integration.Notifier
	config         AssignmentConfig
	retry          *retrier
	metrics        *metrics.Metrics
	logger         zerolog.Logger
	now            func() time.Time
}

func NewReshuffleService(
	submissionRepo repository.SubmissionRepository,
	assignmentRepo repository.AssignmentRepository,
	poolRepo repository.ReviewerPoolRepository,
	notifier integration.Notifier,
	config AssignmentConfig,
	retryPolicy RetryPolicy,
	m *metrics.Metrics,
	logger zerolog.Logger,
) ReshuffleService {
	return &reshuffleService{
		submissionRepo: submissionRepo,
		assignmentRepo: assignmentRepo,
		poolRepo:       poolRepo,
		notifier:       notifier,
		config:         config,
		retry:          newRetrier(retryPolicy, m, logger),
		metrics:        m,
		logger:         logger,
		now:            time.Now,
	}
}

func (s *reshuffleService) Reshuffle(ctx context.Context, assignmentID string, req models.ReshuffleRequest) (*models.ReshuffleResult, error) {
	reason := req.Reason
	if reason == "" {
		reason = DefaultReshuffleReason
	}

	result := &models.ReshuffleResult{
		AssignmentID: assignmentID,
		DryRun:       req.DryRun,
	}

	var assignment *models.ReviewAssignment
	err := s.retry.do(ctx, "get_assignment", func() error {
		var err error
		assignment, err = s.assignmentRepo.GetByID(ctx, assignmentID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get assignment: %w", err)
	}
	if assignment == nil {
		return s.finish(result, models.ReshuffleReasonNotFound), nil
	}

	switch models.AssignmentStatus(assignment.Status) {
	case models.AssignmentStatusCompleted, models.AssignmentStatusReleased, models.AssignmentStatusReassigned:
		return s.finish(result, models.ReshuffleReasonAlreadyProcessed), nil
	}

	var submission *models.Submission
	err = s.retry.do(ctx, "get_submission", func() error {
		var err error
		submission, err = s.submissionRepo.GetByID(ctx, assignment.SubmissionID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get submission: %w", err)
	}
	if submission == nil {
		return nil, fmt.Errorf("%w: %s", ErrSubmissionNotFound, assignment.SubmissionID)
	}
	if !models.IsAwaitingReviewStatus(submission.Status) {
		return s.closeOnSettledSubmission(ctx, result, assignment, submission.Status, reason, req.DryRun)
	}

	var assignments []models.ReviewAssignment
	err = s.retry.do(ctx, "list_assignments", func() error {
		var err error
		assignments, err = s.assignmentRepo.ListBySubmission(ctx, assignment.SubmissionID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}

	exclude := exclusionList(submission.OwnerID, assignment.ReviewerID, nil, assignments)

	var candidates []string
	err = s.retry.do(ctx, "find_replacement", func() error {
		var err error
		candidates, err = s.poolRepo.FindEligibleReviewers(ctx, exclude, 1)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find replacement reviewer: %w", err)
	}

	released := *assignment
	released.Status = models.AssignmentStatusReleased.String()
	released.ReleaseReason = &reason
	result.Released = &released

	if req.DryRun {
		if len(candidates) == 0 {
			result.NeedsManualFollowUp = true
			return s.finish(result, models.ReshuffleReasonNoReplacementAvailable), nil
		}
		result.CandidateReviewerID = candidates[0]
		return s.finish(result, models.ReshuffleReasonSuccess), nil
	}

	var replacement *models.ReviewAssignment
	if len(candidates) > 0 {
		replacement = buildAssignment(s.now(), s.config.Deadline, assignment.SubmissionID, candidates[0], &assignment.ID)
		result.CandidateReviewerID = candidates[0]
	}

	ok, err := s.releaseAndReplace(ctx, assignmentID, reason, replacement)
	if errors.Is(err, repository.ErrActiveAssignmentExists) {
		// кандидата уже назначили параллельно: освобождаем без замены
		s.logger.Warn().
			Str("assignment_id", assignmentID).
			Str("candidate_id", replacement.ReviewerID).
			Msg("Replacement reviewer assigned concurrently, releasing without replacement")
		replacement = nil
		result.CandidateReviewerID = ""
		ok, err = s.releaseAndReplace(ctx, assignmentID, reason, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to release assignment: %w", err)
	}
	if !ok {
		result.Released = nil
		result.CandidateReviewerID = ""
		return s.finish(result, models.ReshuffleReasonAlreadyProcessed), nil
	}

	released.UpdatedAt = s.now()

	if replacement == nil {
		result.NeedsManualFollowUp = true
		s.logger.Warn().
			Str("assignment_id", assignmentID).
			Str("submission_id", assignment.SubmissionID).
			Str("reason", reason).
			Msg("Assignment released without replacement, manual follow-up required")
		return s.finish(result, models.ReshuffleReasonNoReplacementAvailable), nil
	}

	result.Replacement = replacement
	if s.metrics != nil {
		s.metrics.AssignmentsCreated.Inc()
	}

	notifyAssigned(ctx, s.notifier, s.config.SubmissionURLBase, replacement.ReviewerID, assignment.SubmissionID, s.metrics, s.logger)

	s.logger.Info().
		Str("assignment_id", assignmentID).
		Str("replacement_id", replacement.ID).
		Str("from_reviewer", assignment.ReviewerID).
		Str("to_reviewer", replacement.ReviewerID).
		Str("reason", reason).
		Msg("Assignment reshuffled")

	return s.finish(result, models.ReshuffleReasonSuccess), nil
}

// closeOnSettledSubmission освобождает назначение без замены: рецензия по закрытой заявке уже не учитывается.
func (s *reshuffleService) closeOnSettledSubmission(
	ctx context.Context,
	result *models.ReshuffleResult,
	assignment *models.ReviewAssignment,
	submissionStatus, reason string,
	dryRun bool,
) (*models.ReshuffleResult, error) {
	released := *assignment
	released.Status = models.AssignmentStatusReleased.String()
	released.ReleaseReason = &reason

	if dryRun {
		result.Released = &released
		return s.finish(result, models.ReshuffleReasonAlreadyProcessed), nil
	}

	ok, err := s.releaseAndReplace(ctx, assignment.ID, reason, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to release assignment: %w", err)
	}
	if ok {
		released.UpdatedAt = s.now()
		result.Released = &released
	}

	s.logger.Info().
		Str("assignment_id", assignment.ID).
		Str("submission_id", assignment.SubmissionID).
		Str("submission_status", submissionStatus).
		Bool("released", ok).
		Msg("Submission no longer accepts reviews, assignment released without replacement")

	return s.finish(result, models.ReshuffleReasonAlreadyProcessed), nil
}

func (s *reshuffleService) releaseAndReplace(ctx context.Context, assignmentID, reason string, replacement *models.ReviewAssignment) (bool, error) {
	var ok bool
	err := s.retry.do(ctx, "release_and_replace", func() error {
		var err error
		ok, err = s.assignmentRepo.ReleaseAndReplace(ctx, assignmentID, reason, replacement)
		return err
	})
	return ok, err
}

func (s *reshuffleService) finish(result *models.ReshuffleResult, reason models.ReshuffleReason) *models.ReshuffleResult {
	result.Reason = reason
	result.Success = reason == models.ReshuffleReasonSuccess

	if s.metrics != nil {
		s.metrics.Reshuffles.WithLabelValues(string(reason), strconv.FormatBool(result.DryRun)).Inc()
	}

	return result
}
