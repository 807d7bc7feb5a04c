package httpd

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dimzachar/ScholarsXP/review-service/internal/models"
)

type resolveDisputeRequest struct {
	MinVotes int `json:"min_votes"`
}

func (h *Handler) SubmitReview(w http.ResponseWriter, r *http.Request) {
	var req models.SubmitReviewRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.AssignmentID == "" || req.ReviewerID == "" {
		writeError(w, http.StatusBadRequest, "assignment_id and reviewer_id are required")
		return
	}

	result, err := h.services.Reviews.SubmitReview(r.Context(), req)
	if err != nil {
		h.handleServiceError(w, err, "Failed to submit review")
		return
	}

	writeStatus(w, http.StatusCreated, result)
}

func (h *Handler) FinalizeConsensus(w http.ResponseWriter, r *http.Request) {
	submissionID := chi.URLParam(r, "submission_id")

	outcome, err := h.services.Consensus.Finalize(r.Context(), submissionID)
	if err != nil {
		h.handleServiceError(w, err, "Failed to finalize consensus")
		return
	}

	writeSuccess(w, outcome)
}

func (h *Handler) CastVote(w http.ResponseWriter, r *http.Request) {
	submissionID := chi.URLParam(r, "submission_id")

	var req models.CastVoteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.VoterID == "" {
		writeError(w, http.StatusBadRequest, "voter_id is required")
		return
	}

	vote, err := h.services.Consensus.CastVote(r.Context(), submissionID, req)
	if err != nil {
		h.handleServiceError(w, err, "Failed to cast vote")
		return
	}

	writeStatus(w, http.StatusCreated, vote)
}

func (h *Handler) ResolveDispute(w http.ResponseWriter, r *http.Request) {
	submissionID := chi.URLParam(r, "submission_id")

	var req resolveDisputeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	outcome, err := h.services.Consensus.ResolveDispute(r.Context(), submissionID, req.MinVotes)
	if err != nil {
		h.handleServiceError(w, err, "Failed to resolve dispute")
		return
	}

	writeSuccess(w, outcome)
}
