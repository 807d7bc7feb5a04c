package repository

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/dimzachar/ScholarsXP/review-service/internal/models"
)

type ReliabilityRepository interface {
	ComputeMetrics(ctx context.Context, reviewerID string, agreementTolerance, divergenceMargin float64) (*models.ReliabilityMetrics, error)
	SaveScores(ctx context.Context, records []models.ReliabilityScoreRecord) error
	GetLatestScores(ctx context.Context, reviewerID string) ([]models.ReliabilityScoreRecord, error)
	GetActiveScores(ctx context.Context, reviewerIDs []string) (map[string]float64, error)
	ListRecentReviewers(ctx context.Context, limit int) ([]string, error)
}

type reliabilityRepository struct {
	*PostgresRepository
}

func NewReliabilityRepository(db *sql.DB, logger zerolog.Logger) ReliabilityRepository {
	return &reliabilityRepository{
		PostgresRepository: NewPostgresRepository(db, logger),
	}
}

// ComputeMetrics агрегирует историю рецензий. Согласие и расхождение считаются только по
// заявкам с итоговой оценкой; при отсутствии данных доли остаются NULL.
func (r *reliabilityRepository) ComputeMetrics(ctx context.Context, reviewerID string, agreementTolerance, divergenceMargin float64) (*models.ReliabilityMetrics, error) {
	query := `
		SELECT
			COUNT(*),
			AVG(CASE WHEN pr.is_late THEN 1.0 ELSE 0.0 END),
			AVG(pr.quality_rating),
			AVG(CASE
				WHEN s.final_score IS NULL THEN NULL
				WHEN ABS(pr.score - s.final_score) <= $2 THEN 1.0
				ELSE 0.0
			END),
			COUNT(*) FILTER (WHERE s.final_score IS NOT NULL AND ABS(pr.score - s.final_score) > $3)
		FROM peer_reviews pr
		JOIN submissions s ON s.id = pr.submission_id
		WHERE pr.reviewer_id = $1
	`

	metrics := &models.ReliabilityMetrics{ReviewerID: reviewerID}
	var lateness, quality, agreement sql.NullFloat64

	err := r.db.QueryRowContext(ctx, query, reviewerID, agreementTolerance, divergenceMargin).Scan(
		&metrics.Volume,
		&lateness,
		&quality,
		&agreement,
		&metrics.HighDivergenceCount,
	)
	if err != nil {
		return nil, mapError(err)
	}

	metrics.LatenessRate = nullFloat(lateness)
	metrics.QualityAverage = nullFloat(quality)
	metrics.AgreementRate = nullFloat(agreement)

	return metrics, nil
}

func (r *reliabilityRepository) SaveScores(ctx context.Context, records []models.ReliabilityScoreRecord) error {
	if len(records) == 0 {
		return nil
	}

	return r.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO reliability_scores (id, reviewer_id, formula_id, score, is_active, delta, computed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`)
		if err != nil {
			return mapError(err)
		}
		defer stmt.Close()

		for _, record := range records {
			_, err := stmt.ExecContext(ctx,
				record.ID,
				record.ReviewerID,
				record.FormulaID,
				record.Score,
				record.IsActive,
				record.Delta,
				record.ComputedAt,
			)
			if err != nil {
				return mapError(err)
			}
		}

		return nil
	})
}

// GetLatestScores возвращает последнюю запись по каждой формуле, активная первой.
func (r *reliabilityRepository) GetLatestScores(ctx context.Context, reviewerID string) ([]models.ReliabilityScoreRecord, error) {
	query := `
		SELECT id, reviewer_id, formula_id, score, is_active, delta, computed_at
		FROM (
			SELECT DISTINCT ON (formula_id)
				id, reviewer_id, formula_id, score, is_active, delta, computed_at
			FROM reliability_scores
			WHERE reviewer_id = $1
			ORDER BY formula_id, computed_at DESC
		) latest
		ORDER BY is_active DESC, formula_id ASC
	`

	rows, err := r.db.QueryContext(ctx, query, reviewerID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var records []models.ReliabilityScoreRecord
	for rows.Next() {
		var record models.ReliabilityScoreRecord
		var delta sql.NullFloat64

		err := rows.Scan(
			&record.ID,
			&record.ReviewerID,
			&record.FormulaID,
			&record.Score,
			&record.IsActive,
			&delta,
			&record.ComputedAt,
		)
		if err != nil {
			return nil, err
		}

		record.Delta = nullFloat(delta)
		records = append(records, record)
	}

	return records, rows.Err()
}

func (r *reliabilityRepository) GetActiveScores(ctx context.Context, reviewerIDs []string) (map[string]float64, error) {
	scores := make(map[string]float64, len(reviewerIDs))
	if len(reviewerIDs) == 0 {
		return scores, nil
	}

	query := `
		SELECT DISTINCT ON (reviewer_id) reviewer_id, score
		FROM reliability_scores
		WHERE reviewer_id = ANY($1) AND is_active
		ORDER BY reviewer_id, computed_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, pq.Array(reviewerIDs))
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	for rows.Next() {
		var reviewerID string
		var score float64
		if err := rows.Scan(&reviewerID, &score); err != nil {
			return nil, err
		}
		scores[reviewerID] = score
	}

	return scores, rows.Err()
}

func (r *reliabilityRepository) ListRecentReviewers(ctx context.Context, limit int) ([]string, error) {
	query := `
		SELECT reviewer_id
		FROM peer_reviews
		GROUP BY reviewer_id
		ORDER BY MAX(created_at) DESC
		LIMIT $1
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var reviewerIDs []string
	for rows.Next() {
		var reviewerID string
		if err := rows.Scan(&reviewerID); err != nil {
			return nil, err
		}
		reviewerIDs = append(reviewerIDs, reviewerID)
	}

	return reviewerIDs, rows.Err()
}
