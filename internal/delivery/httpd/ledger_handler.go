package httpd

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dimzachar/ScholarsXP/review-service/internal/models"
)

type appendTransactionResponse struct {
	Transaction  *models.LedgerTransaction `json:"transaction"`
	RunningTotal float64                   `json:"running_total"`
}

func (h *Handler) AppendTransaction(w http.ResponseWriter, r *http.Request) {
	var req models.AppendTransactionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	tx, total, err := h.services.Ledger.Append(r.Context(), req)
	if err != nil {
		h.handleServiceError(w, err, "Failed to append transaction")
		return
	}

	writeStatus(w, http.StatusCreated, appendTransactionResponse{
		Transaction:  tx,
		RunningTotal: total,
	})
}

func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "account_id")

	account, err := h.services.Ledger.GetAccount(r.Context(), accountID)
	if err != nil {
		h.handleServiceError(w, err, "Failed to get account")
		return
	}

	writeSuccess(w, account)
}

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "account_id")

	since, err := getTimeQueryParam(r, "since")
	if err != nil {
		writeError(w, http.StatusBadRequest, "since must be RFC3339")
		return
	}
	until, err := getTimeQueryParam(r, "until")
	if err != nil {
		writeError(w, http.StatusBadRequest, "until must be RFC3339")
		return
	}

	filter := models.TransactionFilter{Since: since, Until: until}
	if types := r.URL.Query().Get("types"); types != "" {
		filter.Types = strings.Split(types, ",")
	}

	transactions, err := h.services.Ledger.ListTransactions(r.Context(), accountID, filter)
	if err != nil {
		h.handleServiceError(w, err, "Failed to list transactions")
		return
	}

	writeSuccess(w, transactions)
}

func (h *Handler) RunAudit(w http.ResponseWriter, r *http.Request) {
	// Без явного dry_run=false аудит только читает.
	req := models.AuditRequest{DryRun: true}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	report, err := h.services.Audit.Audit(r.Context(), req)
	if err != nil {
		h.handleServiceError(w, err, "Failed to run ledger audit")
		return
	}

	writeSuccess(w, report)
}
