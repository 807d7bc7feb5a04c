package models

import (
	"strings"
	"time"
)

type LedgerTransaction struct {
	ID        string    `json:"id" db:"id"`
	AccountID string    `json:"account_id" db:"account_id"`
	Amount    float64   `json:"amount" db:"amount"`
	Type      string    `json:"type" db:"type"`
	SourceRef *string   `json:"source_ref,omitempty" db:"source_ref"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type AccountBalance struct {
	AccountID    string    `json:"account_id" db:"account_id"`
	RunningTotal float64   `json:"running_total" db:"running_total"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

type TransactionType string

const (
	TransactionTypeReviewReward     TransactionType = "REVIEW_REWARD"
	TransactionTypeSubmissionReward TransactionType = "SUBMISSION_REWARD"
	TransactionTypePenalty          TransactionType = "PENALTY"
	TransactionTypeAdminAdjustment  TransactionType = "ADMIN_ADJUSTMENT"
	TransactionTypeAuditCorrection  TransactionType = "AUDIT_CORRECTION"
)

func (t TransactionType) String() string {
	return string(t)
}

func IsValidTransactionType(t string) bool {
	switch TransactionType(t) {
	case TransactionTypeReviewReward, TransactionTypeSubmissionReward, TransactionTypePenalty,
		TransactionTypeAdminAdjustment, TransactionTypeAuditCorrection:
		return true
	default:
		return false
	}
}

// IsRewardTransactionType - награды всегда ссылаются на исходную сущность.
func IsRewardTransactionType(t string) bool {
	switch TransactionType(t) {
	case TransactionTypeReviewReward, TransactionTypeSubmissionReward:
		return true
	default:
		return false
	}
}

type TransactionFilter struct {
	Types []string
	Since *time.Time
	Until *time.Time
}

const (
	SourceKindReview     = "review"
	SourceKindSubmission = "submission"
	SourceKindAudit      = "audit"
)

func ReviewSourceRef(reviewID string) string {
	return SourceKindReview + ":" + reviewID
}

func SubmissionSourceRef(submissionID string) string {
	return SourceKindSubmission + ":" + submissionID
}

// ParseSourceRef разбирает ссылку вида "kind:id".
func ParseSourceRef(ref string) (kind, id string, ok bool) {
	kind, id, ok = strings.Cut(ref, ":")
	if !ok || kind == "" || id == "" {
		return "", "", false
	}
	return kind, id, true
}
