package models

type ReviewAssignedEvent struct {
	ReviewerID    string `json:"reviewer_id"`
	SubmissionID  string `json:"submission_id"`
	SubmissionURL string `json:"submission_url"`
	Timestamp     int64  `json:"timestamp"`
}

type ReviewCompletedEvent struct {
	ReviewID     string `json:"review_id"`
	AssignmentID string `json:"assignment_id"`
	SubmissionID string `json:"submission_id"`
	ReviewerID   string `json:"reviewer_id"`
	Timestamp    int64  `json:"timestamp"`
}
