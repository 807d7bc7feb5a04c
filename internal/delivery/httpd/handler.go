package httpd

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/dimzachar/ScholarsXP/review-service/internal/repository"
	"github.com/dimzachar/ScholarsXP/review-service/internal/service"
)

type Services struct {
	Assignments service.AssignmentService
	Reshuffle   service.ReshuffleService
	Reviews     service.ReviewService
	Consensus   service.ConsensusService
	Reliability service.ReliabilityService
	Ledger      service.LedgerService
	Audit       service.LedgerAuditService
	Sweep       service.SweepService
}

type Handler struct {
	services Services
	gatherer prometheus.Gatherer
	logger   zerolog.Logger
	now      func() time.Time
}

func NewHandler(services Services, gatherer prometheus.Gatherer, logger zerolog.Logger) *Handler {
	return &Handler{
		services: services,
		gatherer: gatherer,
		logger:   logger,
		now:      time.Now,
	}
}

func (h *Handler) RegisterRoutes(router chi.Router) {
	router.Get("/health", h.HealthCheck)
	if h.gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}

	router.Route("/api/v1", func(api chi.Router) {
		api.Route("/submissions/{submission_id}", func(r chi.Router) {
			r.Post("/assignments", h.EnsureAssignments)
			r.Post("/consensus", h.FinalizeConsensus)
			r.Post("/votes", h.CastVote)
			r.Post("/resolve", h.ResolveDispute)
		})

		api.Route("/assignments/{assignment_id}", func(r chi.Router) {
			r.Post("/start", h.StartReview)
			r.Post("/reshuffle", h.Reshuffle)
		})

		api.Post("/reviews", h.SubmitReview)

		api.Route("/ledger", func(r chi.Router) {
			r.Post("/transactions", h.AppendTransaction)
			r.Get("/accounts/{account_id}", h.GetAccount)
			r.Get("/accounts/{account_id}/transactions", h.ListTransactions)
			r.Post("/audit", h.RunAudit)
		})

		api.Route("/reliability", func(r chi.Router) {
			r.Get("/watchlist", h.GetWatchlist)
			r.Get("/reviewers/{reviewer_id}", h.GetReviewerReliability)
			r.Get("/voters/anomalies", h.GetVoterAnomalies)
		})

		api.Post("/sweep", h.SweepExpired)
	})
}

// handleServiceError переводит сентинел-ошибки сервисов в HTTP-коды.
func (h *Handler) handleServiceError(w http.ResponseWriter, err error, msg string) {
	switch {
	case errors.Is(err, service.ErrSubmissionNotFound),
		errors.Is(err, service.ErrAssignmentNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrInvalidScore),
		errors.Is(err, service.ErrInvalidRating),
		errors.Is(err, service.ErrInvalidTransaction):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrReviewerMismatch):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, service.ErrSubmissionClosed),
		errors.Is(err, service.ErrAssignmentNotActive),
		errors.Is(err, service.ErrReviewsOutstanding),
		errors.Is(err, service.ErrNotDisputed),
		errors.Is(err, service.ErrDuplicateVote):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrNoReviews),
		errors.Is(err, service.ErrMissingReviews),
		errors.Is(err, service.ErrMalformedReview):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case repository.IsTransient(err):
		h.logger.Warn().Err(err).Msg(msg)
		writeError(w, http.StatusServiceUnavailable, "Storage temporarily unavailable")
	default:
		h.logger.Error().Err(err).Msg(msg)
		writeError(w, http.StatusInternalServerError, msg)
	}
}

// decodeJSON допускает пустое тело: все поля запросов опциональны или проверяются сервисом.
func decodeJSON(r *http.Request, dst interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

func getIntQueryParam(r *http.Request, key string, defaultValue int) int {
	value := r.URL.Query().Get(key)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return intValue
}

func getBoolQueryParam(r *http.Request, key string) bool {
	value, err := strconv.ParseBool(r.URL.Query().Get(key))
	if err != nil {
		return false
	}
	return value
}

func getTimeQueryParam(r *http.Request, key string) (*time.Time, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return nil, nil
	}

	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   http.StatusText(status),
		"message": message,
	})
}

func writeSuccess(w http.ResponseWriter, data interface{}) {
	writeStatus(w, http.StatusOK, data)
}

func writeStatus(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, map[string]interface{}{
		"success": true,
		"data":    data,
	})
}
