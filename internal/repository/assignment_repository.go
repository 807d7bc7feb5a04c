package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/dimzachar/ScholarsXP/review-service/internal/models"
)

type AssignmentRepository interface {
	Create(ctx context.Context, assignment *models.ReviewAssignment) error
	GetByID(ctx context.Context, id string) (*models.ReviewAssignment, error)
	ListBySubmission(ctx context.Context, submissionID string) ([]models.ReviewAssignment, error)
	CountActiveBySubmission(ctx context.Context, submissionID string) (int, error)
	Start(ctx context.Context, id, reviewerID string) (bool, error)
	ReleaseAndReplace(ctx context.Context, id, reason string, replacement *models.ReviewAssignment) (bool, error)
	MarkMissedExpired(ctx context.Context, now time.Time, limit int) ([]models.ReviewAssignment, error)
}

type assignmentRepository struct {
	*PostgresRepository
}

func NewAssignmentRepository(db *sql.DB, logger zerolog.Logger) AssignmentRepository {
	return &assignmentRepository{
		PostgresRepository: NewPostgresRepository(db, logger),
	}
}

const assignmentColumns = `
	id, submission_id, reviewer_id, assigned_at, deadline, status,
	completed_at, release_reason, replaces_assignment_id, updated_at
`

func (r *assignmentRepository) Create(ctx context.Context, assignment *models.ReviewAssignment) error {
	return insertAssignment(ctx, r.db, assignment)
}

func insertAssignment(ctx context.Context, q querier, assignment *models.ReviewAssignment) error {
	query := `
		INSERT INTO review_assignments (` + assignmentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := q.ExecContext(ctx, query,
		assignment.ID,
		assignment.SubmissionID,
		assignment.ReviewerID,
		assignment.AssignedAt,
		assignment.Deadline,
		assignment.Status,
		assignment.CompletedAt,
		assignment.ReleaseReason,
		assignment.ReplacesAssignmentID,
		assignment.UpdatedAt,
	)
	if isUniqueViolation(err, activeAssignmentIndex) {
		return fmt.Errorf("%w: submission %s reviewer %s",
			ErrActiveAssignmentExists, assignment.SubmissionID, assignment.ReviewerID)
	}

	return mapError(err)
}

func (r *assignmentRepository) GetByID(ctx context.Context, id string) (*models.ReviewAssignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM review_assignments WHERE id = $1`

	assignment, err := scanAssignment(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, mapError(err)
	}

	return assignment, nil
}

func (r *assignmentRepository) ListBySubmission(ctx context.Context, submissionID string) ([]models.ReviewAssignment, error) {
	query := `
		SELECT ` + assignmentColumns + `
		FROM review_assignments
		WHERE submission_id = $1
		ORDER BY assigned_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, submissionID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	return scanAssignments(rows)
}

func (r *assignmentRepository) CountActiveBySubmission(ctx context.Context, submissionID string) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM review_assignments
		WHERE submission_id = $1 AND status = ANY($2)
	`

	var count int
	err := r.db.QueryRowContext(ctx, query, submissionID, pq.Array(models.ActiveAssignmentStatuses)).Scan(&count)
	if err != nil {
		return 0, mapError(err)
	}

	return count, nil
}

func (r *assignmentRepository) Start(ctx context.Context, id, reviewerID string) (bool, error) {
	query := `
		UPDATE review_assignments
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND reviewer_id = $2 AND status = $4
	`

	result, err := r.db.ExecContext(ctx, query, id, reviewerID,
		models.AssignmentStatusInProgress,
		models.AssignmentStatusPending,
	)
	if err != nil {
		return false, mapError(err)
	}

	return rowsAffected(result)
}

// ReleaseAndReplace освобождает назначение и, если replacement не nil, вставляет замену
// в той же транзакции. false без ошибки: назначение уже обработано конкурентным вызовом.
func (r *assignmentRepository) ReleaseAndReplace(ctx context.Context, id, reason string, replacement *models.ReviewAssignment) (bool, error) {
	released := false

	err := r.withTx(ctx, func(tx *sql.Tx) error {
		query := `
			UPDATE review_assignments
			SET status = $2, release_reason = $3, updated_at = NOW()
			WHERE id = $1 AND status IN ($4, $5, $6)
		`

		result, err := tx.ExecContext(ctx, query, id,
			models.AssignmentStatusReleased,
			reason,
			models.AssignmentStatusPending,
			models.AssignmentStatusInProgress,
			models.AssignmentStatusMissed,
		)
		if err != nil {
			return mapError(err)
		}

		released, err = rowsAffected(result)
		if err != nil || !released {
			return err
		}

		if replacement == nil {
			return nil
		}

		return insertAssignment(ctx, tx, replacement)
	})
	if err != nil {
		return false, err
	}

	return released, nil
}

func (r *assignmentRepository) MarkMissedExpired(ctx context.Context, now time.Time, limit int) ([]models.ReviewAssignment, error) {
	query := `
		UPDATE review_assignments
		SET status = $2, updated_at = NOW()
		WHERE id IN (
			SELECT id FROM review_assignments
			WHERE status = ANY($3) AND deadline < $1
			ORDER BY deadline ASC
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + assignmentColumns

	rows, err := r.db.QueryContext(ctx, query, now,
		models.AssignmentStatusMissed,
		pq.Array(models.ActiveAssignmentStatuses),
		limit,
	)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	return scanAssignments(rows)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAssignment(row rowScanner) (*models.ReviewAssignment, error) {
	assignment := &models.ReviewAssignment{}
	var completedAt sql.NullTime
	var releaseReason, replacesID sql.NullString

	err := row.Scan(
		&assignment.ID,
		&assignment.SubmissionID,
		&assignment.ReviewerID,
		&assignment.AssignedAt,
		&assignment.Deadline,
		&assignment.Status,
		&completedAt,
		&releaseReason,
		&replacesID,
		&assignment.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if completedAt.Valid {
		assignment.CompletedAt = &completedAt.Time
	}
	if releaseReason.Valid {
		assignment.ReleaseReason = &releaseReason.String
	}
	if replacesID.Valid {
		assignment.ReplacesAssignmentID = &replacesID.String
	}

	return assignment, nil
}

func scanAssignments(rows *sql.Rows) ([]models.ReviewAssignment, error) {
	var assignments []models.ReviewAssignment
	for rows.Next() {
		assignment, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		assignments = append(assignments, *assignment)
	}

	return assignments, rows.Err()
}
