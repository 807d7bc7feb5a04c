package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/dimzachar/ScholarsXP/review-service/internal/models"
)

type ReviewRepository interface {
	CompleteAssignment(ctx context.Context, review *models.PeerReview, completedAt time.Time) (bool, error)
	ListBySubmission(ctx context.Context, submissionID string) ([]models.PeerReview, error)
	ExistingIDs(ctx context.Context, ids []string) (map[string]bool, error)
}

type reviewRepository struct {
	*PostgresRepository
}

func NewReviewRepository(db *sql.DB, logger zerolog.Logger) ReviewRepository {
	return &reviewRepository{
		PostgresRepository: NewPostgresRepository(db, logger),
	}
}

// CompleteAssignment закрывает активное назначение и записывает рецензию одной транзакцией.
// false: назначение уже не активно или принадлежит другому рецензенту.
func (r *reviewRepository) CompleteAssignment(ctx context.Context, review *models.PeerReview, completedAt time.Time) (bool, error) {
	completed := false

	err := r.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE review_assignments
			SET status = $3, completed_at = $4, updated_at = NOW()
			WHERE id = $1 AND reviewer_id = $2 AND status = ANY($5)
		`,
			review.AssignmentID,
			review.ReviewerID,
			models.AssignmentStatusCompleted,
			completedAt,
			pq.Array(models.ActiveAssignmentStatuses),
		)
		if err != nil {
			return mapError(err)
		}

		completed, err = rowsAffected(result)
		if err != nil || !completed {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO peer_reviews (
				id, assignment_id, reviewer_id, submission_id, score, quality_rating, is_late, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`,
			review.ID,
			review.AssignmentID,
			review.ReviewerID,
			review.SubmissionID,
			review.Score,
			review.QualityRating,
			review.IsLate,
			review.CreatedAt,
		)

		return mapError(err)
	})
	if err != nil {
		return false, err
	}

	return completed, nil
}

func (r *reviewRepository) ListBySubmission(ctx context.Context, submissionID string) ([]models.PeerReview, error) {
	query := `
		SELECT id, assignment_id, reviewer_id, submission_id, score, quality_rating, is_late, created_at
		FROM peer_reviews
		WHERE submission_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, submissionID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var reviews []models.PeerReview
	for rows.Next() {
		var review models.PeerReview
		var qualityRating sql.NullInt64

		err := rows.Scan(
			&review.ID,
			&review.AssignmentID,
			&review.ReviewerID,
			&review.SubmissionID,
			&review.Score,
			&qualityRating,
			&review.IsLate,
			&review.CreatedAt,
		)
		if err != nil {
			return nil, err
		}

		if qualityRating.Valid {
			rating := int(qualityRating.Int64)
			review.QualityRating = &rating
		}

		reviews = append(reviews, review)
	}

	return reviews, rows.Err()
}

func (r *reviewRepository) ExistingIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	existing := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return existing, nil
	}

	rows, err := r.db.QueryContext(ctx, `SELECT id FROM peer_reviews WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		existing[id] = true
	}

	return existing, rows.Err()
}
