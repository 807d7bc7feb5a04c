package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dimzachar/ScholarsXP/review-service/internal/metrics"
	"github.com/dimzachar/ScholarsXP/review-service/internal/models"
	"github.com/dimzachar/ScholarsXP/review-service/internal/repository"
	"github.com/dimzachar/ScholarsXP/review-service/internal/service/analyzer"
	"github.com/dimzachar/ScholarsXP/review-service/internal/service/integration"
)

const DefaultMinimumReviewers = 3

type AssignmentService interface {
	EnsureAssignments(ctx context.Context, submissionID string, req models.EnsureAssignmentsRequest) (*models.EnsureAssignmentsResult, error)
	StartReview(ctx context.Context, assignmentID, reviewerID string) (*models.ReviewAssignment, error)
}

type AssignmentConfig struct {
	MinimumReviewers  int
	Deadline          analyzer.DeadlinePolicy
	SubmissionURLBase string
}

type assignmentService struct {
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

func NewAssignmentService(
	submissionRepo repository.SubmissionRepository,
	assignmentRepo repository.AssignmentRepository,
	poolRepo repository.ReviewerPoolRepository,
	notifier integration.Notifier,
	config AssignmentConfig,
	retryPolicy RetryPolicy,
	m *metrics.Metrics,
	logger zerolog.Logger,
) AssignmentService {
	if config.MinimumReviewers <= 0 {
		config.MinimumReviewers = DefaultMinimumReviewers
	}

	return &assignmentService{
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

func (s *assignmentService) EnsureAssignments(ctx context.Context, submissionID string, req models.EnsureAssignmentsRequest) (*models.EnsureAssignmentsResult, error) {
	minimum := req.MinimumReviewers
	if minimum <= 0 {
		minimum = s.config.MinimumReviewers
	}

	var submission *models.Submission
	err := s.retry.do(ctx, "get_submission", func() error {
		var err error
		submission, err = s.submissionRepo.GetByID(ctx, submissionID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get submission: %w", err)
	}
	if submission == nil {
		return nil, ErrSubmissionNotFound
	}
	if !models.IsAwaitingReviewStatus(submission.Status) {
		return nil, fmt.Errorf("%w: status %s", ErrSubmissionClosed, submission.Status)
	}

	var assignments []models.ReviewAssignment
	err = s.retry.do(ctx, "list_assignments", func() error {
		var err error
		assignments, err = s.assignmentRepo.ListBySubmission(ctx, submissionID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}

	existing := 0
	for i := range assignments {
		if assignments[i].IsActive() {
			existing++
		}
	}

	result := &models.EnsureAssignmentsResult{
		SubmissionID:  submissionID,
		ExistingCount: existing,
		Created:       []models.ReviewAssignment{},
	}

	if existing >= minimum {
		result.Status = models.EnsureStatusSkippedAlreadyAssigned
		result.Success = true
		s.observeEnsure(result)
		return result, nil
	}

	remaining := minimum - existing
	exclude := exclusionList(submission.OwnerID, req.OwnerID, req.ExcludeIDs, assignments)

	var candidates []string
	err = s.retry.do(ctx, "find_eligible_reviewers", func() error {
		var err error
		candidates, err = s.poolRepo.FindEligibleReviewers(ctx, exclude, remaining)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find eligible reviewers: %w", err)
	}

	for _, reviewerID := range candidates {
		assignment := s.newAssignment(submissionID, reviewerID, nil)

		err := s.retry.do(ctx, "create_assignment", func() error {
			return s.assignmentRepo.Create(ctx, assignment)
		})
		if errors.Is(err, repository.ErrActiveAssignmentExists) {
			// параллельный вызов успел назначить этого рецензента
			result.ExistingCount++
			s.logger.Debug().
				Str("submission_id", submissionID).
				Str("reviewer_id", reviewerID).
				Msg("Reviewer assigned concurrently, counting as existing")
			continue
		}
		if err != nil {
			s.observeEnsure(result)
			return nil, fmt.Errorf("failed to create assignment for reviewer %s: %w", reviewerID, err)
		}

		result.Created = append(result.Created, *assignment)
		if s.metrics != nil {
			s.metrics.AssignmentsCreated.Inc()
		}

		notifyAssigned(ctx, s.notifier, s.config.SubmissionURLBase, reviewerID, submissionID, s.metrics, s.logger)
	}

	if len(result.Created) > 0 {
		if _, err := s.submissionRepo.MarkUnderReview(ctx, submissionID); err != nil {
			s.logger.Warn().Err(err).Str("submission_id", submissionID).Msg("Failed to mark submission under review")
		}
	}

	result.Shortfall = minimum - result.ExistingCount - len(result.Created)
	if result.Shortfall < 0 {
		result.Shortfall = 0
	}

	switch {
	case result.Shortfall == 0:
		result.Status = models.EnsureStatusAssigned
		result.Success = true
	case req.AllowPartial:
		result.Status = models.EnsureStatusPartial
		result.Success = true
		result.Warning = fmt.Sprintf("only %d of %d reviewers assigned; reviewer pool exhausted",
			result.ExistingCount+len(result.Created), minimum)
	default:
		result.Status = models.EnsureStatusFailedShortfall
		result.Success = false
	}

	s.logger.Info().
		Str("submission_id", submissionID).
		Str("status", string(result.Status)).
		Int("existing", result.ExistingCount).
		Int("created", len(result.Created)).
		Int("shortfall", result.Shortfall).
		Msg("Assignments ensured")

	s.observeEnsure(result)
	return result, nil
}

func (s *assignmentService) StartReview(ctx context.Context, assignmentID, reviewerID string) (*models.ReviewAssignment, error) {
	assignment, err := s.assignmentRepo.GetByID(ctx, assignmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get assignment: %w", err)
	}
	if assignment == nil {
		return nil, ErrAssignmentNotFound
	}
	if assignment.ReviewerID != reviewerID {
		return nil, ErrReviewerMismatch
	}
	if assignment.Status == models.AssignmentStatusInProgress.String() {
		return assignment, nil
	}

	started, err := s.assignmentRepo.Start(ctx, assignmentID, reviewerID)
	if err != nil {
		return nil, fmt.Errorf("failed to start assignment: %w", err)
	}
	if !started {
		return nil, fmt.Errorf("%w: status %s", ErrAssignmentNotActive, assignment.Status)
	}

	assignment.Status = models.AssignmentStatusInProgress.String()
	assignment.UpdatedAt = s.now()

	s.logger.Info().
		Str("assignment_id", assignmentID).
		Str("reviewer_id", reviewerID).
		Msg("Review started")

	return assignment, nil
}

func (s *assignmentService) newAssignment(submissionID, reviewerID string, replaces *string) *models.ReviewAssignment {
	return buildAssignment(s.now(), s.config.Deadline, submissionID, reviewerID, replaces)
}

func buildAssignment(now time.Time, policy analyzer.DeadlinePolicy, submissionID, reviewerID string, replaces *string) *models.ReviewAssignment {
	return &models.ReviewAssignment{
		ID:                   uuid.New().String(),
		SubmissionID:         submissionID,
		ReviewerID:           reviewerID,
		AssignedAt:           now,
		Deadline:             policy.Deadline(now),
		Status:               models.AssignmentStatusPending.String(),
		ReplacesAssignmentID: replaces,
		UpdatedAt:            now,
	}
}

// notifyAssigned не влияет на результат: ошибка публикации только логируется.
func notifyAssigned(ctx context.Context, notifier integration.Notifier, urlBase, reviewerID, submissionID string, m *metrics.Metrics, logger zerolog.Logger) {
	if notifier == nil {
		return
	}

	url := SubmissionURL(urlBase, submissionID)
	if err := notifier.NotifyReviewAssigned(ctx, reviewerID, submissionID, url); err != nil {
		if m != nil {
			m.NotificationFailures.Inc()
		}
		logger.Warn().
			Err(err).
			Str("reviewer_id", reviewerID).
			Str("submission_id", submissionID).
			Msg("Failed to notify reviewer")
	}
}

func (s *assignmentService) observeEnsure(result *models.EnsureAssignmentsResult) {
	if s.metrics == nil || result.Status == "" {
		return
	}
	s.metrics.EnsureOutcomes.WithLabelValues(string(result.Status)).Inc()
}

func SubmissionURL(base, submissionID string) string {
	return strings.TrimRight(base, "/") + "/" + submissionID
}

// exclusionList: владелец, явные исключения и все, кто когда-либо был назначен на заявку.
func exclusionList(ownerID, requestOwnerID string, excludeIDs []string, assignments []models.ReviewAssignment) []string {
	seen := make(map[string]bool)
	var exclude []string

	add := func(id string) {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		exclude = append(exclude, id)
	}

	add(ownerID)
	add(requestOwnerID)
	for _, id := range excludeIDs {
		add(id)
	}
	for i := range assignments {
		add(assignments[i].ReviewerID)
	}

	return exclude
}
