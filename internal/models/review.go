package models

import (
	"time"
)

// PeerReview неизменяем после записи.
type PeerReview struct {
	ID            string    `json:"id" db:"id"`
	AssignmentID  string    `json:"assignment_id" db:"assignment_id"`
	ReviewerID    string    `json:"reviewer_id" db:"reviewer_id"`
	SubmissionID  string    `json:"submission_id" db:"submission_id"`
	Score         float64   `json:"score" db:"score"`
	QualityRating *int      `json:"quality_rating,omitempty" db:"quality_rating"`
	IsLate        bool      `json:"is_late" db:"is_late"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

type JudgmentVote struct {
	ID           string    `json:"id" db:"id"`
	VoterID      string    `json:"voter_id" db:"voter_id"`
	SubmissionID string    `json:"submission_id" db:"submission_id"`
	Score        float64   `json:"score" db:"score"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// Допустимая шкала оценок рецензента.
const (
	MinReviewScore = 0
	MaxReviewScore = 100
)
