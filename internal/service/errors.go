package service

import (
	"errors"

	"github.com/dimzachar/ScholarsXP/review-service/internal/service/analyzer"
)

// Типизированные ошибки для маппинга на HTTP-коды в delivery-слое.
// Ожидаемые бизнес-исходы (нехватка рецензентов, already_processed) ошибками не являются.
var (
	ErrSubmissionNotFound  = errors.New("submission not found")
	ErrSubmissionClosed    = errors.New("submission is no longer accepting reviewers")
	ErrAssignmentNotFound  = errors.New("assignment not found")
	ErrAssignmentNotActive = errors.New("assignment is not active")
	ErrReviewerMismatch    = errors.New("assignment belongs to another reviewer")
	ErrReviewsOutstanding  = errors.New("submission still has active assignments")
	ErrMissingReviews      = errors.New("completed assignments are missing peer reviews")
	ErrNotDisputed         = errors.New("submission is not disputed")
	ErrDuplicateVote       = errors.New("voter already voted on this submission")
	ErrInvalidScore        = errors.New("score must be within [0, 100]")
	ErrInvalidRating       = errors.New("quality rating must be within [1, 5]")
	ErrInvalidTransaction  = errors.New("invalid ledger transaction")

	ErrNoReviews       = analyzer.ErrNoReviews
	ErrMalformedReview = analyzer.ErrMalformedReview
)
