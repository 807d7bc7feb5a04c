package repository

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/dimzachar/ScholarsXP/review-service/internal/models"
)

// ReviewerPoolRepository выдает кандидатов в рецензенты. Меньше id, чем запрошено, - это нехватка, а не ошибка.
type ReviewerPoolRepository interface {
	FindEligibleReviewers(ctx context.Context, excludeIDs []string, count int) ([]string, error)
}

type reviewerPoolRepository struct {
	*PostgresRepository
	maxActivePerReviewer int
	neutralReliability   float64
}

func NewReviewerPoolRepository(db *sql.DB, logger zerolog.Logger, maxActivePerReviewer int) ReviewerPoolRepository {
	return &reviewerPoolRepository{
		PostgresRepository:   NewPostgresRepository(db, logger),
		maxActivePerReviewer: maxActivePerReviewer,
		neutralReliability:   0.5,
	}
}

// FindEligibleReviewers: меньше всего активных назначений, потом выше активная оценка
// надежности, потом дольше всех без назначений.
func (r *reviewerPoolRepository) FindEligibleReviewers(ctx context.Context, excludeIDs []string, count int) ([]string, error) {
	if count <= 0 {
		return nil, nil
	}
	if excludeIDs == nil {
		excludeIDs = []string{}
	}

	query := `
		SELECT rv.id
		FROM reviewers rv
		LEFT JOIN (
			SELECT reviewer_id, COUNT(*) AS active_count
			FROM review_assignments
			WHERE status = ANY($2)
			GROUP BY reviewer_id
		) active ON active.reviewer_id = rv.id
		LEFT JOIN (
			SELECT reviewer_id, MAX(assigned_at) AS last_assigned_at
			FROM review_assignments
			GROUP BY reviewer_id
		) recent ON recent.reviewer_id = rv.id
		LEFT JOIN LATERAL (
			SELECT rs.score
			FROM reliability_scores rs
			WHERE rs.reviewer_id = rv.id AND rs.is_active
			ORDER BY rs.computed_at DESC
			LIMIT 1
		) reliability ON TRUE
		WHERE rv.is_active
			AND NOT (rv.id = ANY($1))
			AND COALESCE(active.active_count, 0) < $3
		ORDER BY
			COALESCE(active.active_count, 0) ASC,
			COALESCE(reliability.score, $4) DESC,
			recent.last_assigned_at ASC NULLS FIRST,
			rv.id ASC
		LIMIT $5
	`

	rows, err := r.db.QueryContext(ctx, query,
		pq.Array(excludeIDs),
		pq.Array(models.ActiveAssignmentStatuses),
		r.maxActivePerReviewer,
		r.neutralReliability,
		count,
	)
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

	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}

	r.logger.Debug().
		Int("requested", count).
		Int("found", len(reviewerIDs)).
		Int("excluded", len(excludeIDs)).
		Msg("Eligible reviewers selected")

	return reviewerIDs, nil
}
