package models

import "time"

// Data Transfer Objects

type EnsureStatus string

const (
	EnsureStatusSkippedAlreadyAssigned EnsureStatus = "SKIPPED_ALREADY_ASSIGNED"
	EnsureStatusAssigned               EnsureStatus = "ASSIGNED"
	EnsureStatusPartial                EnsureStatus = "PARTIAL"
	EnsureStatusFailedShortfall        EnsureStatus = "FAILED_SHORTFALL"
)

type EnsureAssignmentsRequest struct {
	OwnerID          string   `json:"owner_id"`
	MinimumReviewers int      `json:"minimum_reviewers"`
	ExcludeIDs       []string `json:"exclude_ids"`
	AllowPartial     bool     `json:"allow_partial"`
}

type EnsureAssignmentsResult struct {
	SubmissionID  string             `json:"submission_id"`
	Status        EnsureStatus       `json:"status"`
	Success       bool               `json:"success"`
	ExistingCount int                `json:"existing_count"`
	Created       []ReviewAssignment `json:"created"`
	Shortfall     int                `json:"shortfall"`
	Warning       string             `json:"warning,omitempty"`
}

type ReshuffleReason string

const (
	ReshuffleReasonNotFound               ReshuffleReason = "not_found"
	ReshuffleReasonAlreadyProcessed       ReshuffleReason = "already_processed"
	ReshuffleReasonNoReplacementAvailable ReshuffleReason = "no_replacement_available"
	ReshuffleReasonSuccess                ReshuffleReason = "success"
)

type ReshuffleRequest struct {
	Reason string `json:"reason"`
	DryRun bool   `json:"dry_run"`
}

type ReshuffleResult struct {
	AssignmentID        string            `json:"assignment_id"`
	Reason              ReshuffleReason   `json:"reason"`
	Success             bool              `json:"success"`
	DryRun              bool              `json:"dry_run"`
	Released            *ReviewAssignment `json:"released,omitempty"`
	Replacement         *ReviewAssignment `json:"replacement,omitempty"`
	CandidateReviewerID string            `json:"candidate_reviewer_id,omitempty"`
	NeedsManualFollowUp bool              `json:"needs_manual_follow_up"`
}

type SubmitReviewRequest struct {
	AssignmentID  string  `json:"assignment_id"`
	ReviewerID    string  `json:"reviewer_id"`
	Score         float64 `json:"score"`
	QualityRating *int    `json:"quality_rating,omitempty"`
}

type SubmitReviewResult struct {
	Review          PeerReview        `json:"review"`
	RemainingActive int               `json:"remaining_active"`
	Consensus       *ConsensusOutcome `json:"consensus,omitempty"`
}

type ConsensusStatus string

const (
	ConsensusStatusFinalized         ConsensusStatus = "finalized"
	ConsensusStatusDisputed          ConsensusStatus = "disputed"
	ConsensusStatusResolved          ConsensusStatus = "resolved"
	ConsensusStatusAlreadyFinalized  ConsensusStatus = "already_finalized"
	ConsensusStatusAlreadyDisputed   ConsensusStatus = "already_disputed"
	ConsensusStatusInsufficientVotes ConsensusStatus = "insufficient_votes"
)

type ConsensusOutcome struct {
	SubmissionID    string          `json:"submission_id"`
	Status          ConsensusStatus `json:"status"`
	FinalScore      *float64        `json:"final_score,omitempty"`
	Confidence      *float64        `json:"confidence,omitempty"`
	Spread          float64         `json:"spread"`
	PeerScores      []float64       `json:"peer_scores"`
	AIScore         *float64        `json:"ai_score,omitempty"`
	ConflictSummary string          `json:"conflict_summary,omitempty"`
	VoteCount       int             `json:"vote_count,omitempty"`
	AcceptedVotes   int             `json:"accepted_votes,omitempty"`
}

type CastVoteRequest struct {
	VoterID string  `json:"voter_id"`
	Score   float64 `json:"score"`
}

type ShadowScore struct {
	FormulaID string  `json:"formula_id"`
	Score     float64 `json:"score"`
	Delta     float64 `json:"delta"`
}

type ReviewerReliability struct {
	ReviewerID string             `json:"reviewer_id"`
	Metrics    ReliabilityMetrics `json:"metrics"`
	FormulaID  string             `json:"formula_id"`
	Score      float64            `json:"score"`
	Status     ReliabilityStatus  `json:"status"`
	Flagged    bool               `json:"flagged"`
	Reasons    []string           `json:"reasons,omitempty"`
	Shadows    []ShadowScore      `json:"shadows,omitempty"`
	ComputedAt time.Time          `json:"computed_at"`
}

type VoterAnomaly struct {
	VoterID            string   `json:"voter_id"`
	VoteCount          int      `json:"vote_count"`
	HighPercentage     float64  `json:"high_percentage"`
	LowPercentage      float64  `json:"low_percentage"`
	AvgIntervalSeconds float64  `json:"avg_interval_seconds"`
	Flagged            bool     `json:"flagged"`
	Reasons            []string `json:"reasons,omitempty"`
}

type AppendTransactionRequest struct {
	AccountID string  `json:"account_id"`
	Amount    float64 `json:"amount"`
	Type      string  `json:"type"`
	SourceRef *string `json:"source_ref,omitempty"`
}

type AccountSummary struct {
	AccountID        string  `json:"account_id"`
	RunningTotal     float64 `json:"running_total"`
	LedgerTotal      float64 `json:"ledger_total"`
	TransactionCount int     `json:"transaction_count"`
}

type AuditRequest struct {
	DryRun     bool     `json:"dry_run"`
	AccountIDs []string `json:"account_ids,omitempty"`
}

type AccountInconsistency struct {
	AccountID    string   `json:"account_id"`
	StoredTotal  float64  `json:"stored_total"`
	LedgerTotal  float64  `json:"ledger_total"`
	Difference   float64  `json:"difference"`
	Fixed        bool     `json:"fixed"`
	CorrectionID string   `json:"correction_id,omitempty"`
	TotalAfter   *float64 `json:"total_after,omitempty"`
	FixError     string   `json:"fix_error,omitempty"`
}

type DuplicateTransactionGroup struct {
	AccountID      string    `json:"account_id"`
	SourceRef      string    `json:"source_ref"`
	Amount         float64   `json:"amount"`
	Type           string    `json:"type"`
	Bucket         time.Time `json:"bucket"`
	Count          int       `json:"count"`
	TransactionIDs []string  `json:"transaction_ids"`
}

type RapidTransactionPair struct {
	AccountID string  `json:"account_id"`
	FirstID   string  `json:"first_id"`
	SecondID  string  `json:"second_id"`
	GapMs     float64 `json:"gap_ms"`
}

type OrphanedTransaction struct {
	TransactionID string `json:"transaction_id"`
	AccountID     string `json:"account_id"`
	Type          string `json:"type"`
	SourceRef     string `json:"source_ref"`
}

type AuditReport struct {
	ID              string                      `json:"id"`
	DryRun          bool                        `json:"dry_run"`
	StartedAt       time.Time                   `json:"started_at"`
	CompletedAt     time.Time                   `json:"completed_at"`
	AccountsChecked int                         `json:"accounts_checked"`
	Inconsistencies []AccountInconsistency      `json:"inconsistencies"`
	Duplicates      []DuplicateTransactionGroup `json:"duplicates"`
	RapidPairs      []RapidTransactionPair      `json:"rapid_pairs"`
	Orphans         []OrphanedTransaction       `json:"orphans"`
	FixedCount      int                         `json:"fixed_count"`
	ArchiveKey      string                      `json:"archive_key,omitempty"`
}

type SweepResult struct {
	MarkedMissed  int      `json:"marked_missed"`
	Reshuffled    int      `json:"reshuffled"`
	NeedsFollowUp int      `json:"needs_follow_up"`
	Failed        int      `json:"failed"`
	AssignmentIDs []string `json:"assignment_ids"`
}
