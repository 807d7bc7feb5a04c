package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dimzachar/ScholarsXP/review-service/internal/metrics"
	"github.com/dimzachar/ScholarsXP/review-service/internal/models"
	"github.com/dimzachar/ScholarsXP/review-service/internal/repository"
	"github.com/dimzachar/ScholarsXP/review-service/internal/service/analyzer"
)

const DefaultMinVotes = 3

type ConsensusService interface {
	Finalize(ctx context.Context, submissionID string) (*models.ConsensusOutcome, error)
	CastVote(ctx context.Context, submissionID string, req models.CastVoteRequest) (*models.JudgmentVote, error)
	ResolveDispute(ctx context.Context, submissionID string, minVotes int) (*models.ConsensusOutcome, error)
}

// RewardConfig задает начисления после финализации. Нулевые значения отключают соответствующую награду.
type RewardConfig struct {
	ReviewPoints         float64
	LateReviewPoints     float64
	SubmissionMultiplier float64
}

type ConsensusConfig struct {
	MinVotes int
	Rewards  RewardConfig
}

type consensusService struct {
	submissionRepo  repository.SubmissionRepository
	assignmentRepo  repository.AssignmentRepository
	reviewRepo      repository.ReviewRepository
	voteRepo        repository.VoteRepository
	reliabilityRepo repository.ReliabilityRepository
	calculator      analyzer.ConsensusCalculator
	reliability     ReliabilityService
	ledger          LedgerService
	config          ConsensusConfig
	retry           *retrier
	metrics         *metrics.Metrics
	logger          zerolog.Logger
	now             func() time.Time
}

func NewConsensusService(
	submissionRepo repository.SubmissionRepository,
	assignmentRepo repository.AssignmentRepository,
	reviewRepo repository.ReviewRepository,
	voteRepo repository.VoteRepository,
	reliabilityRepo repository.ReliabilityRepository,
	calculator analyzer.ConsensusCalculator,
	reliability ReliabilityService,
	ledger LedgerService,
	config ConsensusConfig,
	retryPolicy RetryPolicy,
	m *metrics.Metrics,
	logger zerolog.Logger,
) ConsensusService {
	if config.MinVotes <= 0 {
		config.MinVotes = DefaultMinVotes
	}

	return &consensusService{
		submissionRepo:  submissionRepo,
		assignmentRepo:  assignmentRepo,
		reviewRepo:      reviewRepo,
		voteRepo:        voteRepo,
		reliabilityRepo: reliabilityRepo,
		calculator:      calculator,
		reliability:     reliability,
		ledger:          ledger,
		config:          config,
		retry:           newRetrier(retryPolicy, m, logger),
		metrics:         m,
		logger:          logger,
		now:             time.Now,
	}
}

// Finalize идемпотентен: повторный вызов по закрытой или спорной заявке ничего не пишет.
func (s *consensusService) Finalize(ctx context.Context, submissionID string) (*models.ConsensusOutcome, error) {
	submission, err := s.getSubmission(ctx, submissionID)
	if err != nil {
		return nil, err
	}

	if outcome := settledOutcome(submission); outcome != nil {
		s.recordOutcome(outcome)
		return outcome, nil
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

	active, completed := 0, 0
	for _, a := range assignments {
		switch {
		case a.IsActive():
			active++
		case a.Status == models.AssignmentStatusCompleted.String():
			completed++
		}
	}
	if active > 0 {
		return nil, fmt.Errorf("%w: %d active", ErrReviewsOutstanding, active)
	}

	reviews, err := s.listReviews(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if len(reviews) == 0 {
		return nil, ErrNoReviews
	}
	// частичные данные не оцениваем: каждое завершенное назначение должно иметь рецензию
	if len(reviews) < completed {
		return nil, fmt.Errorf("%w: %d reviews for %d completed assignments", ErrMissingReviews, len(reviews), completed)
	}

	inputs, err := s.reviewInputs(ctx, reviews)
	if err != nil {
		return nil, err
	}

	result, err := s.calculator.Calculate(inputs, submission.AIScore)
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.ConsensusSpread.Observe(result.Spread)
	}

	outcome := &models.ConsensusOutcome{
		SubmissionID: submissionID,
		Spread:       result.Spread,
		PeerScores:   result.PeerScores,
		AIScore:      submission.AIScore,
	}

	if result.Divergent {
		var applied bool
		err = s.retry.do(ctx, "mark_disputed", func() error {
			var err error
			applied, err = s.submissionRepo.MarkDisputed(ctx, submissionID, len(reviews), result.ConflictSummary)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to mark submission disputed: %w", err)
		}
		if !applied {
			return s.lostRace(ctx, submissionID)
		}

		outcome.Status = models.ConsensusStatusDisputed
		outcome.ConflictSummary = result.ConflictSummary
		s.recordOutcome(outcome)

		s.logger.Warn().
			Str("submission_id", submissionID).
			Float64("spread", result.Spread).
			Str("conflict_summary", result.ConflictSummary).
			Msg("Peer reviews diverge, submission disputed")

		return outcome, nil
	}

	var applied bool
	err = s.retry.do(ctx, "finalize_submission", func() error {
		var err error
		applied, err = s.submissionRepo.Finalize(ctx, submissionID, result.FinalScore, result.Confidence,
			len(reviews), models.AwaitingReviewStatuses)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to finalize submission: %w", err)
	}
	if !applied {
		return s.lostRace(ctx, submissionID)
	}

	finalScore, confidence := result.FinalScore, result.Confidence
	outcome.Status = models.ConsensusStatusFinalized
	outcome.FinalScore = &finalScore
	outcome.Confidence = &confidence
	s.recordOutcome(outcome)

	s.logger.Info().
		Str("submission_id", submissionID).
		Float64("final_score", finalScore).
		Float64("confidence", confidence).
		Int("reviews", len(reviews)).
		Msg("Submission finalized")

	s.afterFinalize(ctx, submission, reviews, finalScore)

	return outcome, nil
}

func (s *consensusService) CastVote(ctx context.Context, submissionID string, req models.CastVoteRequest) (*models.JudgmentVote, error) {
	if math.IsNaN(req.Score) || req.Score < models.MinReviewScore || req.Score > models.MaxReviewScore {
		return nil, ErrInvalidScore
	}

	submission, err := s.getSubmission(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if submission.Status != models.SubmissionStatusDisputed.String() {
		return nil, ErrNotDisputed
	}

	vote := &models.JudgmentVote{
		ID:           uuid.New().String(),
		VoterID:      req.VoterID,
		SubmissionID: submissionID,
		Score:        req.Score,
		CreatedAt:    s.now(),
	}

	err = s.retry.do(ctx, "cast_vote", func() error {
		return s.voteRepo.Create(ctx, vote)
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateVote) {
			return nil, ErrDuplicateVote
		}
		return nil, fmt.Errorf("failed to cast vote: %w", err)
	}

	if s.metrics != nil {
		s.metrics.VotesCast.Inc()
	}

	s.logger.Info().
		Str("submission_id", submissionID).
		Str("voter_id", req.VoterID).
		Float64("score", req.Score).
		Msg("Judgment vote cast")

	return vote, nil
}

// ResolveDispute закрывает спорную заявку по голосам судей.
func (s *consensusService) ResolveDispute(ctx context.Context, submissionID string, minVotes int) (*models.ConsensusOutcome, error) {
	if minVotes <= 0 {
		minVotes = s.config.MinVotes
	}

	submission, err := s.getSubmission(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if models.IsTerminalSubmissionStatus(submission.Status) {
		outcome := settledOutcome(submission)
		s.recordOutcome(outcome)
		return outcome, nil
	}
	if submission.Status != models.SubmissionStatusDisputed.String() {
		return nil, ErrNotDisputed
	}

	var votes []models.JudgmentVote
	err = s.retry.do(ctx, "list_votes", func() error {
		var err error
		votes, err = s.voteRepo.ListBySubmission(ctx, submissionID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list votes: %w", err)
	}

	if len(votes) < minVotes {
		outcome := &models.ConsensusOutcome{
			SubmissionID: submissionID,
			Status:       models.ConsensusStatusInsufficientVotes,
			VoteCount:    len(votes),
		}
		s.recordOutcome(outcome)
		return outcome, nil
	}

	reviews, err := s.listReviews(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if len(reviews) == 0 {
		return nil, ErrNoReviews
	}

	peerScores := make([]float64, len(reviews))
	for i, review := range reviews {
		peerScores[i] = review.Score
	}
	voteScores := make([]float64, len(votes))
	for i, vote := range votes {
		voteScores[i] = vote.Score
	}

	resolution, err := s.calculator.ResolveVotes(peerScores, voteScores)
	if err != nil {
		return nil, err
	}

	// Уверенность - доля принятых голосов за победившее значение.
	confidence := math.Round(float64(resolution.Tally[resolution.Score])/float64(resolution.Accepted)*100) / 100
	finalScore := resolution.Score

	var applied bool
	err = s.retry.do(ctx, "resolve_dispute", func() error {
		var err error
		applied, err = s.submissionRepo.Finalize(ctx, submissionID, finalScore, confidence,
			len(reviews), []string{models.SubmissionStatusDisputed.String()})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to finalize disputed submission: %w", err)
	}
	if !applied {
		return s.lostRace(ctx, submissionID)
	}

	low, high := resolution.RangeLow, resolution.RangeHigh
	outcome := &models.ConsensusOutcome{
		SubmissionID:  submissionID,
		Status:        models.ConsensusStatusResolved,
		FinalScore:    &finalScore,
		Confidence:    &confidence,
		Spread:        high - low,
		PeerScores:    peerScores,
		AIScore:       submission.AIScore,
		VoteCount:     len(votes),
		AcceptedVotes: resolution.Accepted,
	}
	s.recordOutcome(outcome)

	s.logger.Info().
		Str("submission_id", submissionID).
		Float64("final_score", finalScore).
		Float64("confidence", confidence).
		Int("votes", len(votes)).
		Int("clamped", resolution.Clamped).
		Msg("Dispute resolved by judgment votes")

	s.afterFinalize(ctx, submission, reviews, finalScore)

	return outcome, nil
}

func (s *consensusService) getSubmission(ctx context.Context, submissionID string) (*models.Submission, error) {
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

	return submission, nil
}

func (s *consensusService) listReviews(ctx context.Context, submissionID string) ([]models.PeerReview, error) {
	var reviews []models.PeerReview
	err := s.retry.do(ctx, "list_reviews", func() error {
		var err error
		reviews, err = s.reviewRepo.ListBySubmission(ctx, submissionID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list reviews: %w", err)
	}

	return reviews, nil
}

func (s *consensusService) reviewInputs(ctx context.Context, reviews []models.PeerReview) ([]analyzer.ReviewInput, error) {
	inputs := make([]analyzer.ReviewInput, len(reviews))
	for i, review := range reviews {
		inputs[i] = analyzer.ReviewInput{ReviewerID: review.ReviewerID, Score: review.Score}
	}

	if !s.calculator.Config().ReliabilityWeighting {
		return inputs, nil
	}

	reviewerIDs := make([]string, len(reviews))
	for i, review := range reviews {
		reviewerIDs[i] = review.ReviewerID
	}

	var scores map[string]float64
	err := s.retry.do(ctx, "get_active_scores", func() error {
		var err error
		scores, err = s.reliabilityRepo.GetActiveScores(ctx, reviewerIDs)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get reliability scores: %w", err)
	}

	for i := range inputs {
		if score, ok := scores[inputs[i].ReviewerID]; ok {
			score := score
			inputs[i].Reliability = &score
		}
	}

	return inputs, nil
}

// lostRace перечитывает заявку после guarded update, не изменившего ни одной строки.
func (s *consensusService) lostRace(ctx context.Context, submissionID string) (*models.ConsensusOutcome, error) {
	submission, err := s.getSubmission(ctx, submissionID)
	if err != nil {
		return nil, err
	}

	outcome := settledOutcome(submission)
	if outcome == nil {
		return nil, fmt.Errorf("submission %s changed concurrently to status %s", submissionID, submission.Status)
	}

	s.logger.Info().
		Str("submission_id", submissionID).
		Str("status", string(outcome.Status)).
		Msg("Submission settled by a concurrent call")

	s.recordOutcome(outcome)
	return outcome, nil
}

// afterFinalize пересчитывает надежность рецензентов и начисляет награды.
// Ошибки только логируются: итог заявки уже записан.
func (s *consensusService) afterFinalize(ctx context.Context, submission *models.Submission, reviews []models.PeerReview, finalScore float64) {
	seen := make(map[string]bool, len(reviews))
	for _, review := range reviews {
		if seen[review.ReviewerID] {
			continue
		}
		seen[review.ReviewerID] = true

		if s.reliability == nil {
			continue
		}
		if _, err := s.reliability.Recompute(ctx, review.ReviewerID); err != nil {
			s.logger.Warn().
				Err(err).
				Str("submission_id", submission.ID).
				Str("reviewer_id", review.ReviewerID).
				Msg("Failed to recompute reviewer reliability")
		}
	}

	if s.ledger == nil {
		return
	}

	rewards := s.config.Rewards
	for _, review := range reviews {
		points := rewards.ReviewPoints
		if review.IsLate {
			points = rewards.LateReviewPoints
		}
		s.reward(ctx, review.ReviewerID, points, models.TransactionTypeReviewReward, models.ReviewSourceRef(review.ID))
	}

	s.reward(ctx, submission.OwnerID, finalScore*rewards.SubmissionMultiplier,
		models.TransactionTypeSubmissionReward, models.SubmissionSourceRef(submission.ID))
}

func (s *consensusService) reward(ctx context.Context, accountID string, amount float64, txType models.TransactionType, sourceRef string) {
	if amount == 0 || accountID == "" {
		return
	}

	_, _, err := s.ledger.Append(ctx, models.AppendTransactionRequest{
		AccountID: accountID,
		Amount:    amount,
		Type:      txType.String(),
		SourceRef: &sourceRef,
	})
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("account_id", accountID).
			Str("type", txType.String()).
			Str("source_ref", sourceRef).
			Msg("Failed to append reward")
	}
}

func (s *consensusService) recordOutcome(outcome *models.ConsensusOutcome) {
	if s.metrics != nil && outcome != nil {
		s.metrics.ConsensusOutcomes.WithLabelValues(string(outcome.Status)).Inc()
	}
}

// settledOutcome возвращает no-op исход для заявки, которую уже нельзя финализировать заново.
func settledOutcome(submission *models.Submission) *models.ConsensusOutcome {
	switch {
	case models.IsTerminalSubmissionStatus(submission.Status):
		return &models.ConsensusOutcome{
			SubmissionID: submission.ID,
			Status:       models.ConsensusStatusAlreadyFinalized,
			FinalScore:   submission.FinalScore,
			Confidence:   submission.Confidence,
			AIScore:      submission.AIScore,
		}
	case submission.Status == models.SubmissionStatusDisputed.String():
		outcome := &models.ConsensusOutcome{
			SubmissionID: submission.ID,
			Status:       models.ConsensusStatusAlreadyDisputed,
			AIScore:      submission.AIScore,
		}
		if submission.ConflictSummary != nil {
			outcome.ConflictSummary = *submission.ConflictSummary
		}
		return outcome
	default:
		return nil
	}
}
