package repository

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/dimzachar/ScholarsXP/review-service/internal/models"
)

type SubmissionRepository interface {
	GetByID(ctx context.Context, id string) (*models.Submission, error)
	MarkUnderReview(ctx context.Context, id string) (bool, error)
	MarkDisputed(ctx context.Context, id string, reviewCount int, conflictSummary string) (bool, error)
	Finalize(ctx context.Context, id string, finalScore, confidence float64, reviewCount int, fromStatuses []string) (bool, error)
	ExistingIDs(ctx context.Context, ids []string) (map[string]bool, error)
}

type submissionRepository struct {
	*PostgresRepository
}

func NewSubmissionRepository(db *sql.DB, logger zerolog.Logger) SubmissionRepository {
	return &submissionRepository{
		PostgresRepository: NewPostgresRepository(db, logger),
	}
}

func (r *submissionRepository) GetByID(ctx context.Context, id string) (*models.Submission, error) {
	query := `
		SELECT
			id, owner_id, status, ai_score, final_score, confidence,
			review_count, flag_count, conflict_summary, created_at, updated_at
		FROM submissions
		WHERE id = $1
	`

	submission := &models.Submission{}
	var aiScore, finalScore, confidence sql.NullFloat64
	var conflictSummary sql.NullString

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&submission.ID,
		&submission.OwnerID,
		&submission.Status,
		&aiScore,
		&finalScore,
		&confidence,
		&submission.ReviewCount,
		&submission.FlagCount,
		&conflictSummary,
		&submission.CreatedAt,
		&submission.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, mapError(err)
	}

	submission.AIScore = nullFloat(aiScore)
	submission.FinalScore = nullFloat(finalScore)
	submission.Confidence = nullFloat(confidence)
	if conflictSummary.Valid {
		submission.ConflictSummary = &conflictSummary.String
	}

	return submission, nil
}

// MarkUnderReview переводит заявку в UNDER_PEER_REVIEW только из PENDING или AI_REVIEWED.
func (r *submissionRepository) MarkUnderReview(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE submissions
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status IN ($3, $4)
	`

	result, err := r.db.ExecContext(ctx, query, id,
		models.SubmissionStatusUnderPeerReview,
		models.SubmissionStatusPending,
		models.SubmissionStatusAIReviewed,
	)
	if err != nil {
		return false, mapError(err)
	}

	return rowsAffected(result)
}

func (r *submissionRepository) MarkDisputed(ctx context.Context, id string, reviewCount int, conflictSummary string) (bool, error) {
	query := `
		UPDATE submissions
		SET status = $2, review_count = $3, conflict_summary = $4,
			flag_count = flag_count + 1, updated_at = NOW()
		WHERE id = $1 AND status = ANY($5)
	`

	result, err := r.db.ExecContext(ctx, query, id,
		models.SubmissionStatusDisputed,
		reviewCount,
		conflictSummary,
		pq.Array(models.AwaitingReviewStatuses),
	)
	if err != nil {
		return false, mapError(err)
	}

	return rowsAffected(result)
}

// Finalize пишет итог только если текущий статус входит в fromStatuses. Ноль строк
// означает, что другой вызов уже перевел заявку дальше.
func (r *submissionRepository) Finalize(ctx context.Context, id string, finalScore, confidence float64, reviewCount int, fromStatuses []string) (bool, error) {
	query := `
		UPDATE submissions
		SET status = $2, final_score = $3, confidence = $4, review_count = $5, updated_at = NOW()
		WHERE id = $1 AND status = ANY($6)
	`

	result, err := r.db.ExecContext(ctx, query, id,
		models.SubmissionStatusFinalized,
		finalScore,
		confidence,
		reviewCount,
		pq.Array(fromStatuses),
	)
	if err != nil {
		return false, mapError(err)
	}

	return rowsAffected(result)
}

func (r *submissionRepository) ExistingIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	existing := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return existing, nil
	}

	rows, err := r.db.QueryContext(ctx, `SELECT id FROM submissions WHERE id = ANY($1)`, pq.Array(ids))
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

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
