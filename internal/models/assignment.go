package models

import (
	"time"
)

type ReviewAssignment struct {
	ID                   string     `json:"id" db:"id"`
	SubmissionID         string     `json:"submission_id" db:"submission_id"`
	ReviewerID           string     `json:"reviewer_id" db:"reviewer_id"`
	AssignedAt           time.Time  `json:"assigned_at" db:"assigned_at"`
	Deadline             time.Time  `json:"deadline" db:"deadline"`
	Status               string     `json:"status" db:"status"`
	CompletedAt          *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	ReleaseReason        *string    `json:"release_reason,omitempty" db:"release_reason"`
	ReplacesAssignmentID *string    `json:"replaces_assignment_id,omitempty" db:"replaces_assignment_id"`
	UpdatedAt            time.Time  `json:"updated_at" db:"updated_at"`
}

type AssignmentStatus string

const (
	AssignmentStatusPending    AssignmentStatus = "PENDING"
	AssignmentStatusInProgress AssignmentStatus = "IN_PROGRESS"
	AssignmentStatusCompleted  AssignmentStatus = "COMPLETED"
	AssignmentStatusMissed     AssignmentStatus = "MISSED"
	AssignmentStatusReleased   AssignmentStatus = "RELEASED"
	AssignmentStatusReassigned AssignmentStatus = "REASSIGNED"
)

func (s AssignmentStatus) String() string {
	return string(s)
}

// ActiveAssignmentStatuses - статусы, которые занимают пару (submission, reviewer).
var ActiveAssignmentStatuses = []string{
	AssignmentStatusPending.String(),
	AssignmentStatusInProgress.String(),
}

func IsActiveAssignmentStatus(status string) bool {
	switch AssignmentStatus(status) {
	case AssignmentStatusPending, AssignmentStatusInProgress:
		return true
	default:
		return false
	}
}

func IsValidAssignmentStatus(status string) bool {
	switch AssignmentStatus(status) {
	case AssignmentStatusPending, AssignmentStatusInProgress, AssignmentStatusCompleted,
		AssignmentStatusMissed, AssignmentStatusReleased, AssignmentStatusReassigned:
		return true
	default:
		return false
	}
}

func (a *ReviewAssignment) IsActive() bool {
	return IsActiveAssignmentStatus(a.Status)
}
