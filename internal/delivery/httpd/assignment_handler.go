package httpd

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dimzachar/ScholarsXP/review-service/internal/models"
)

type startReviewRequest struct {
	ReviewerID string `json:"reviewer_id"`
}

func (h *Handler) EnsureAssignments(w http.ResponseWriter, r *http.Request) {
	submissionID := chi.URLParam(r, "submission_id")
	if submissionID == "" {
		writeError(w, http.StatusBadRequest, "Submission ID is required")
		return
	}

	var req models.EnsureAssignmentsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.services.Assignments.EnsureAssignments(r.Context(), submissionID, req)
	if err != nil {
		h.handleServiceError(w, err, "Failed to ensure assignments")
		return
	}

	// Нехватка рецензентов - штатный исход, а не ошибка запроса.
	status := http.StatusOK
	if len(result.Created) > 0 {
		status = http.StatusCreated
	}
	writeStatus(w, status, result)
}

func (h *Handler) StartReview(w http.ResponseWriter, r *http.Request) {
	assignmentID := chi.URLParam(r, "assignment_id")

	var req startReviewRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ReviewerID == "" {
		writeError(w, http.StatusBadRequest, "reviewer_id is required")
		return
	}

	assignment, err := h.services.Assignments.StartReview(r.Context(), assignmentID, req.ReviewerID)
	if err != nil {
		h.handleServiceError(w, err, "Failed to start review")
		return
	}

	writeSuccess(w, assignment)
}

func (h *Handler) Reshuffle(w http.ResponseWriter, r *http.Request) {
	assignmentID := chi.URLParam(r, "assignment_id")

	var req models.ReshuffleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.services.Reshuffle.Reshuffle(r.Context(), assignmentID, req)
	if err != nil {
		h.handleServiceError(w, err, "Failed to reshuffle assignment")
		return
	}

	writeSuccess(w, result)
}

func (h *Handler) SweepExpired(w http.ResponseWriter, r *http.Request) {
	result, err := h.services.Sweep.SweepExpired(r.Context(), h.now(), getBoolQueryParam(r, "reshuffle"))
	if err != nil {
		h.handleServiceError(w, err, "Failed to sweep expired assignments")
		return
	}

	writeSuccess(w, result)
}
