package httpd

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

const defaultWatchlistLimit = 20

func (h *Handler) GetWatchlist(w http.ResponseWriter, r *http.Request) {
	limit := getIntQueryParam(r, "limit", defaultWatchlistLimit)
	if limit <= 0 {
		limit = defaultWatchlistLimit
	}

	watchlist, err := h.services.Reliability.Watchlist(r.Context(), limit)
	if err != nil {
		h.handleServiceError(w, err, "Failed to build watchlist")
		return
	}

	writeSuccess(w, watchlist)
}

func (h *Handler) GetReviewerReliability(w http.ResponseWriter, r *http.Request) {
	reviewerID := chi.URLParam(r, "reviewer_id")

	reliability, err := h.services.Reliability.Get(r.Context(), reviewerID)
	if err != nil {
		h.handleServiceError(w, err, "Failed to get reviewer reliability")
		return
	}

	writeSuccess(w, reliability)
}

func (h *Handler) GetVoterAnomalies(w http.ResponseWriter, r *http.Request) {
	var window time.Duration
	if raw := r.URL.Query().Get("window"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "window must be a positive duration")
			return
		}
		window = parsed
	}

	anomalies, err := h.services.Reliability.VoterAnomalies(r.Context(), window)
	if err != nil {
		h.handleServiceError(w, err, "Failed to analyze voters")
		return
	}

	writeSuccess(w, anomalies)
}
