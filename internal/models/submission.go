package models

import (
	"time"
)

type Submission struct {
	ID          string    `json:"id" db:"id"`
	OwnerID     string    `json:"owner_id" db:"owner_id"`
	Status      string    `json:"status" db:"status"`
	AIScore     *float64  `json:"ai_score,omitempty" db:"ai_score"`
	FinalScore  *float64  `json:"final_score,omitempty" db:"final_score"`
	Confidence  *float64  `json:"confidence,omitempty" db:"confidence"`
	ReviewCount int       `json:"review_count" db:"review_count"`
	FlagCount   int       `json:"flag_count" db:"flag_count"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`

	ConflictSummary *string `json:"conflict_summary,omitempty" db:"conflict_summary"`
}

type SubmissionStatus string

const (
	SubmissionStatusPending         SubmissionStatus = "PENDING"
	SubmissionStatusAIReviewed      SubmissionStatus = "AI_REVIEWED"
	SubmissionStatusUnderPeerReview SubmissionStatus = "UNDER_PEER_REVIEW"
	SubmissionStatusDisputed        SubmissionStatus = "DISPUTED"
	SubmissionStatusFinalized       SubmissionStatus = "FINALIZED"
	SubmissionStatusRejected        SubmissionStatus = "REJECTED"
)

func (s SubmissionStatus) String() string {
	return string(s)
}

// IsTerminalSubmissionStatus сообщает, что по заявке больше не пересчитывается консенсус.
func IsTerminalSubmissionStatus(status string) bool {
	switch SubmissionStatus(status) {
	case SubmissionStatusFinalized, SubmissionStatusRejected:
		return true
	default:
		return false
	}
}

// AwaitingReviewStatuses - статусы, из которых консенсус может финализировать заявку.
var AwaitingReviewStatuses = []string{
	SubmissionStatusPending.String(),
	SubmissionStatusAIReviewed.String(),
	SubmissionStatusUnderPeerReview.String(),
}

func IsAwaitingReviewStatus(status string) bool {
	switch SubmissionStatus(status) {
	case SubmissionStatusPending, SubmissionStatusAIReviewed, SubmissionStatusUnderPeerReview:
		return true
	default:
		return false
	}
}
