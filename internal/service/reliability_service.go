package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dimzachar/ScholarsXP/review-service/internal/metrics"
	"github.com/dimzachar/ScholarsXP/review-service/internal/models"
	"github.com/dimzachar/ScholarsXP/review-service/internal/repository"
	"github.com/dimzachar/ScholarsXP/review-service/internal/service/analyzer"
)

type ReliabilityService interface {
	Recompute(ctx context.Context, reviewerID string) (*models.ReviewerReliability, error)
	Get(ctx context.Context, reviewerID string) (*models.ReviewerReliability, error)
	Watchlist(ctx context.Context, limit int) ([]models.ReviewerReliability, error)
	VoterAnomalies(ctx context.Context, window time.Duration) ([]models.VoterAnomaly, error)
}

type ReliabilityConfig struct {
	AgreementTolerance   float64
	HighDivergenceMargin float64
	Thresholds           analyzer.BadReviewerThresholds
	VoteThresholds       analyzer.VoteThresholds
	WatchlistScanLimit   int
	VoteAnalysisLimit    int
	VoteAnalysisWindow   time.Duration
}

func DefaultReliabilityConfig() ReliabilityConfig {
	return ReliabilityConfig{
		AgreementTolerance:   15,
		HighDivergenceMargin: 30,
		Thresholds:           analyzer.DefaultBadReviewerThresholds(),
		VoteThresholds:       analyzer.DefaultVoteThresholds(),
		WatchlistScanLimit:   500,
		VoteAnalysisLimit:    10000,
		VoteAnalysisWindow:   30 * 24 * time.Hour,
	}
}

type reliabilityService struct {
	reliabilityRepo repository.ReliabilityRepository
	voteRepo        repository.VoteRepository
	scorer          *analyzer.ReliabilityScorer
	config          ReliabilityConfig
	metrics         *metrics.Metrics
	logger          zerolog.Logger
	now             func() time.Time
}

func NewReliabilityService(
	reliabilityRepo repository.ReliabilityRepository,
	voteRepo repository.VoteRepository,
	scorer *analyzer.ReliabilityScorer,
	config ReliabilityConfig,
	m *metrics.Metrics,
	logger zerolog.Logger,
) ReliabilityService {
	defaults := DefaultReliabilityConfig()
	if config.WatchlistScanLimit <= 0 {
		config.WatchlistScanLimit = defaults.WatchlistScanLimit
	}
	if config.VoteAnalysisLimit <= 0 {
		config.VoteAnalysisLimit = defaults.VoteAnalysisLimit
	}
	if config.VoteAnalysisWindow <= 0 {
		config.VoteAnalysisWindow = defaults.VoteAnalysisWindow
	}

	return &reliabilityService{
		reliabilityRepo: reliabilityRepo,
		voteRepo:        voteRepo,
		scorer:          scorer,
		config:          config,
		metrics:         m,
		logger:          logger,
		now:             time.Now,
	}
}

// Recompute считает активную и теневые формулы по одному снимку метрик и сохраняет все записи.
func (s *reliabilityService) Recompute(ctx context.Context, reviewerID string) (*models.ReviewerReliability, error) {
	reliability, err := s.evaluate(ctx, reviewerID)
	if err != nil {
		return nil, err
	}

	records := make([]models.ReliabilityScoreRecord, 0, len(reliability.Shadows)+1)
	records = append(records, models.ReliabilityScoreRecord{
		ID:         uuid.New().String(),
		ReviewerID: reviewerID,
		FormulaID:  reliability.FormulaID,
		Score:      reliability.Score,
		IsActive:   true,
		ComputedAt: reliability.ComputedAt,
	})

	for _, shadow := range reliability.Shadows {
		delta := shadow.Delta
		records = append(records, models.ReliabilityScoreRecord{
			ID:         uuid.New().String(),
			ReviewerID: reviewerID,
			FormulaID:  shadow.FormulaID,
			Score:      shadow.Score,
			IsActive:   false,
			Delta:      &delta,
			ComputedAt: reliability.ComputedAt,
		})

		if s.metrics != nil {
			s.metrics.ShadowDelta.WithLabelValues(shadow.FormulaID).Observe(shadow.Delta)
		}
		s.logger.Debug().
			Str("reviewer_id", reviewerID).
			Str("active_formula", reliability.FormulaID).
			Str("shadow_formula", shadow.FormulaID).
			Float64("active_score", reliability.Score).
			Float64("shadow_score", shadow.Score).
			Float64("delta", shadow.Delta).
			Msg("Shadow formula compared")
	}

	if err := s.reliabilityRepo.SaveScores(ctx, records); err != nil {
		return nil, fmt.Errorf("failed to save reliability scores: %w", err)
	}

	if s.metrics != nil {
		s.metrics.ReliabilityRecomputes.Inc()
	}

	s.logger.Info().
		Str("reviewer_id", reviewerID).
		Str("formula", reliability.FormulaID).
		Float64("score", reliability.Score).
		Str("status", reliability.Status.String()).
		Bool("flagged", reliability.Flagged).
		Msg("Reviewer reliability recomputed")

	return reliability, nil
}

func (s *reliabilityService) Get(ctx context.Context, reviewerID string) (*models.ReviewerReliability, error) {
	return s.evaluate(ctx, reviewerID)
}

// Watchlist возвращает рецензентов со статусом AT_RISK, худшие первыми.
func (s *reliabilityService) Watchlist(ctx context.Context, limit int) ([]models.ReviewerReliability, error) {
	reviewerIDs, err := s.reliabilityRepo.ListRecentReviewers(ctx, s.config.WatchlistScanLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list reviewers: %w", err)
	}

	watchlist := []models.ReviewerReliability{}
	for _, reviewerID := range reviewerIDs {
		reliability, err := s.evaluate(ctx, reviewerID)
		if err != nil {
			return nil, err
		}
		if reliability.Status == models.ReliabilityStatusAtRisk {
			watchlist = append(watchlist, *reliability)
		}
	}

	sort.SliceStable(watchlist, func(i, j int) bool {
		if watchlist[i].Score != watchlist[j].Score {
			return watchlist[i].Score < watchlist[j].Score
		}
		return watchlist[i].ReviewerID < watchlist[j].ReviewerID
	})

	if limit > 0 && len(watchlist) > limit {
		watchlist = watchlist[:limit]
	}

	return watchlist, nil
}

func (s *reliabilityService) VoterAnomalies(ctx context.Context, window time.Duration) ([]models.VoterAnomaly, error) {
	if window <= 0 {
		window = s.config.VoteAnalysisWindow
	}

	votes, err := s.voteRepo.ListSince(ctx, s.now().Add(-window), s.config.VoteAnalysisLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list votes: %w", err)
	}

	anomalies := analyzer.AnalyzeVoters(votes, s.config.VoteThresholds)

	flagged := 0
	for _, anomaly := range anomalies {
		if anomaly.Flagged {
			flagged++
		}
	}

	s.logger.Info().
		Int("votes", len(votes)).
		Int("voters", len(anomalies)).
		Int("flagged", flagged).
		Msg("Voter anomaly analysis completed")

	if anomalies == nil {
		anomalies = []models.VoterAnomaly{}
	}

	return anomalies, nil
}

func (s *reliabilityService) evaluate(ctx context.Context, reviewerID string) (*models.ReviewerReliability, error) {
	m, err := s.reliabilityRepo.ComputeMetrics(ctx, reviewerID, s.config.AgreementTolerance, s.config.HighDivergenceMargin)
	if err != nil {
		return nil, fmt.Errorf("failed to compute reliability metrics: %w", err)
	}

	report := s.scorer.Score(*m)
	bad, reasons := analyzer.IdentifyBad(*m, s.config.Thresholds)

	return &models.ReviewerReliability{
		ReviewerID: reviewerID,
		Metrics:    *m,
		FormulaID:  report.FormulaID,
		Score:      report.Active,
		Status:     analyzer.Classify(report.Active, bad),
		Flagged:    bad,
		Reasons:    reasons,
		Shadows:    report.Shadows,
		ComputedAt: s.now(),
	}, nil
}
