package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/dimzachar/ScholarsXP/review-service/internal/models"
)

type VoteRepository interface {
	Create(ctx context.Context, vote *models.JudgmentVote) error
	ListBySubmission(ctx context.Context, submissionID string) ([]models.JudgmentVote, error)
	ListSince(ctx context.Context, since time.Time, limit int) ([]models.JudgmentVote, error)
}

type voteRepository struct {
	*PostgresRepository
}

func NewVoteRepository(db *sql.DB, logger zerolog.Logger) VoteRepository {
	return &voteRepository{
		PostgresRepository: NewPostgresRepository(db, logger),
	}
}

func (r *voteRepository) Create(ctx context.Context, vote *models.JudgmentVote) error {
	query := `
		INSERT INTO judgment_votes (id, voter_id, submission_id, score, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.db.ExecContext(ctx, query,
		vote.ID,
		vote.VoterID,
		vote.SubmissionID,
		vote.Score,
		vote.CreatedAt,
	)
	if isUniqueViolation(err, judgmentVoteUniqueIndex) {
		return fmt.Errorf("%w: voter %s submission %s", ErrDuplicateVote, vote.VoterID, vote.SubmissionID)
	}

	return mapError(err)
}

func (r *voteRepository) ListBySubmission(ctx context.Context, submissionID string) ([]models.JudgmentVote, error) {
	query := `
		SELECT id, voter_id, submission_id, score, created_at
		FROM judgment_votes
		WHERE submission_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, submissionID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	return scanVotes(rows)
}

func (r *voteRepository) ListSince(ctx context.Context, since time.Time, limit int) ([]models.JudgmentVote, error) {
	query := `
		SELECT id, voter_id, submission_id, score, created_at
		FROM judgment_votes
		WHERE created_at >= $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, since, limit)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	return scanVotes(rows)
}

func scanVotes(rows *sql.Rows) ([]models.JudgmentVote, error) {
	var votes []models.JudgmentVote
	for rows.Next() {
		var vote models.JudgmentVote
		if err := rows.Scan(&vote.ID, &vote.VoterID, &vote.SubmissionID, &vote.Score, &vote.CreatedAt); err != nil {
			return nil, err
		}
		votes = append(votes, vote)
	}

	return votes, rows.Err()
}
