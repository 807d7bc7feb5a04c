package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dimzachar/ScholarsXP/review-service/internal/models"
	"github.com/dimzachar/ScholarsXP/review-service/internal/repository"
)

func reshuffleFixture(t *testing.T, reviewers ...string) *fixture {
	t.Helper()
	f := newFixture(t)
	f.db.addSubmission(models.Submission{ID: "s1", OwnerID: "owner", Status: models.SubmissionStatusUnderPeerReview.String()})
	f.db.addAssignment(pendingAssignment("a1", "s1", "r1"))
	f.db.reviewers = reviewers
	return f
}

func TestReshuffleReplacesReviewer(t *testing.T) {
	f := reshuffleFixture(t, "owner", "r1", "r2")

	result, err := f.reshuffle.Reshuffle(context.Background(), "a1", models.ReshuffleRequest{})
	require.NoError(t, err)

	assert.Equal(t, models.ReshuffleReasonSuccess, result.Reason)
	assert.True(t, result.Success)
	assert.False(t, result.NeedsManualFollowUp)
	require.NotNil(t, result.Replacement)
	assert.Equal(t, "r2", result.Replacement.ReviewerID)
	require.NotNil(t, result.Replacement.ReplacesAssignmentID)
	assert.Equal(t, "a1", *result.Replacement.ReplacesAssignmentID)

	released := f.db.assignment("a1")
	assert.Equal(t, models.AssignmentStatusReleased.String(), released.Status)
	require.NotNil(t, released.ReleaseReason)
	assert.Equal(t, DefaultReshuffleReason, *released.ReleaseReason)

	assert.Equal(t, 1, f.db.activeCount("s1"))
	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, "r2", f.notifier.sent[0].ReviewerID)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Reshuffles.WithLabelValues("success", "false")))
}

func TestReshuffleIsIdempotent(t *testing.T) {
	f := reshuffleFixture(t, "r2", "r3")

	first, err := f.reshuffle.Reshuffle(context.Background(), "a1", models.ReshuffleRequest{Reason: "reviewer_unavailable"})
	require.NoError(t, err)
	require.True(t, first.Success)

	second, err := f.reshuffle.Reshuffle(context.Background(), "a1", models.ReshuffleRequest{Reason: "reviewer_unavailable"})
	require.NoError(t, err)
	assert.Equal(t, models.ReshuffleReasonAlreadyProcessed, second.Reason)
	assert.False(t, second.Success)
	assert.Nil(t, second.Replacement)

	assert.Equal(t, 1, f.db.activeCount("s1"))
}

func TestReshuffleCompletedAssignmentIsAlreadyProcessed(t *testing.T) {
	f := reshuffleFixture(t, "r2")
	completed := pendingAssignment("a2", "s1", "r3")
	completed.Status = models.AssignmentStatusCompleted.String()
	f.db.addAssignment(completed)

	result, err := f.reshuffle.Reshuffle(context.Background(), "a2", models.ReshuffleRequest{})
	require.NoError(t, err)

	assert.Equal(t, models.ReshuffleReasonAlreadyProcessed, result.Reason)
	assert.Equal(t, models.AssignmentStatusCompleted.String(), f.db.assignment("a2").Status)
	assert.Zero(t, f.db.callCount("assignment.release"))
}

func TestReshuffleDryRunWritesNothing(t *testing.T) {
	f := reshuffleFixture(t, "r2")

	result, err := f.reshuffle.Reshuffle(context.Background(), "a1", models.ReshuffleRequest{DryRun: true})
	require.NoError(t, err)

	assert.True(t, result.DryRun)
	assert.True(t, result.Success)
	assert.Equal(t, "r2", result.CandidateReviewerID)
	require.NotNil(t, result.Released)
	assert.Equal(t, models.AssignmentStatusReleased.String(), result.Released.Status)
	assert.Nil(t, result.Replacement)

	assert.Equal(t, models.AssignmentStatusPending.String(), f.db.assignment("a1").Status)
	assert.Zero(t, f.db.callCount("assignment.release"))
	assert.Empty(t, f.notifier.sent)
}

func TestReshuffleWithoutCandidateReleasesForFollowUp(t *testing.T) {
	f := reshuffleFixture(t, "owner", "r1")

	result, err := f.reshuffle.Reshuffle(context.Background(), "a1", models.ReshuffleRequest{})
	require.NoError(t, err)

	assert.Equal(t, models.ReshuffleReasonNoReplacementAvailable, result.Reason)
	assert.False(t, result.Success)
	assert.True(t, result.NeedsManualFollowUp)
	assert.Equal(t, models.AssignmentStatusReleased.String(), f.db.assignment("a1").Status)
	assert.Zero(t, f.db.activeCount("s1"))
}

func TestReshuffleCandidateTakenConcurrently(t *testing.T) {
	f := reshuffleFixture(t, "r2")
	f.db.failNext("assignment.release", fmt.Errorf("%w: race", repository.ErrActiveAssignmentExists))

	result, err := f.reshuffle.Reshuffle(context.Background(), "a1", models.ReshuffleRequest{})
	require.NoError(t, err)

	assert.Equal(t, models.ReshuffleReasonNoReplacementAvailable, result.Reason)
	assert.True(t, result.NeedsManualFollowUp)
	assert.Empty(t, result.CandidateReviewerID)
	assert.Equal(t, models.AssignmentStatusReleased.String(), f.db.assignment("a1").Status)
	assert.Equal(t, 2, f.db.callCount("assignment.release"))
}

func TestReshuffleUnknownAssignment(t *testing.T) {
	f := reshuffleFixture(t)

	result, err := f.reshuffle.Reshuffle(context.Background(), "missing", models.ReshuffleRequest{})
	require.NoError(t, err)
	assert.Equal(t, models.ReshuffleReasonNotFound, result.Reason)
	assert.False(t, result.Success)
}

func TestReshuffleMissedAssignment(t *testing.T) {
	f := reshuffleFixture(t, "r2")
	missed := pendingAssignment("a2", "s1", "r3")
	missed.Status = models.AssignmentStatusMissed.String()
	f.db.addAssignment(missed)

	result, err := f.reshuffle.Reshuffle(context.Background(), "a2", models.ReshuffleRequest{Reason: DeadlineMissedReason})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, "r2", result.Replacement.ReviewerID)
	assert.Equal(t, models.AssignmentStatusReleased.String(), f.db.assignment("a2").Status)
}

func TestReshuffleOnSettledSubmissionNeverReplaces(t *testing.T) {
	statuses := []models.SubmissionStatus{
		models.SubmissionStatusFinalized,
		models.SubmissionStatusRejected,
		models.SubmissionStatusDisputed,
	}

	for _, status := range statuses {
		t.Run(status.String(), func(t *testing.T) {
			f := newFixture(t)
			f.db.addSubmission(models.Submission{ID: "s1", OwnerID: "owner", Status: status.String()})
			missed := pendingAssignment("a1", "s1", "r1")
			missed.Status = models.AssignmentStatusMissed.String()
			f.db.addAssignment(missed)
			f.db.reviewers = []string{"r2"}

			result, err := f.reshuffle.Reshuffle(context.Background(), "a1", models.ReshuffleRequest{Reason: DeadlineMissedReason})
			require.NoError(t, err)

			assert.Equal(t, models.ReshuffleReasonAlreadyProcessed, result.Reason)
			assert.False(t, result.Success)
			assert.Nil(t, result.Replacement)
			assert.Empty(t, result.CandidateReviewerID)
			assert.Equal(t, models.AssignmentStatusReleased.String(), f.db.assignment("a1").Status)
			assert.Zero(t, f.db.activeCount("s1"))
			assert.Empty(t, f.notifier.sent)
			assert.Zero(t, f.db.callCount("pool.find"))
		})
	}
}

func TestReshuffleDryRunOnSettledSubmission(t *testing.T) {
	f := newFixture(t)
	f.db.addSubmission(models.Submission{ID: "s1", OwnerID: "owner", Status: models.SubmissionStatusFinalized.String()})
	f.db.addAssignment(pendingAssignment("a1", "s1", "r1"))
	f.db.reviewers = []string{"r2"}

	result, err := f.reshuffle.Reshuffle(context.Background(), "a1", models.ReshuffleRequest{DryRun: true})
	require.NoError(t, err)

	assert.Equal(t, models.ReshuffleReasonAlreadyProcessed, result.Reason)
	assert.Equal(t, models.AssignmentStatusPending.String(), f.db.assignment("a1").Status)
	assert.Zero(t, f.db.callCount("assignment.release"))
}
