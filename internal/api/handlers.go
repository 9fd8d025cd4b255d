/**
 * @description
 * HTTP handlers exposing the live accrual snapshot of a loan and letting the
 * host start or stop a loan's engine.
 */
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/transfa/loan-accrual-service/internal/app"
	"github.com/transfa/loan-accrual-service/internal/domain"
)

// LoanAccrualService is the subset of the supervisor the handlers need.
type LoanAccrualService interface {
	Watch(ctx context.Context, loanID string) (domain.Snapshot, error)
	Unwatch(loanID string) bool
	Status(ctx context.Context, loanID string) (domain.Snapshot, error)
}

// Handler holds the application service that handlers will interact with.
type Handler struct {
	service LoanAccrualService
	logger  *slog.Logger
}

// NewHandler creates a new Handler with the given service.
func NewHandler(service LoanAccrualService, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) handleGetAccrual(w http.ResponseWriter, r *http.Request) {
	loanID := strings.TrimSpace(chi.URLParam(r, "loanID"))

	snapshot, err := h.service.Status(r.Context(), loanID)
	if err != nil {
		if errors.Is(err, app.ErrLoanNotWatched) {
			respondWithError(w, http.StatusNotFound, err.Error())
			return
		}
		h.logger.Error("failed to read loan accrual", "loan_id", loanID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "failed to read loan accrual")
		return
	}

	if snapshot.Status == domain.StatusUnavailable {
		respondWithJSON(w, http.StatusServiceUnavailable, snapshot)
		return
	}
	respondWithJSON(w, http.StatusOK, snapshot)
}

func (h *Handler) handleWatch(w http.ResponseWriter, r *http.Request) {
	loanID := strings.TrimSpace(chi.URLParam(r, "loanID"))

	snapshot, err := h.service.Watch(r.Context(), loanID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrLoanTermsNotFound):
			respondWithJSON(w, http.StatusNotFound, snapshot)
		case errors.Is(err, app.ErrCannotInitialize):
			respondWithJSON(w, http.StatusServiceUnavailable, snapshot)
		default:
			h.logger.Error("failed to watch loan", "loan_id", loanID, "error", err)
			respondWithError(w, http.StatusInternalServerError, "failed to watch loan")
		}
		return
	}

	respondWithJSON(w, http.StatusOK, snapshot)
}

func (h *Handler) handleUnwatch(w http.ResponseWriter, r *http.Request) {
	loanID := strings.TrimSpace(chi.URLParam(r, "loanID"))

	if !h.service.Unwatch(loanID) {
		respondWithError(w, http.StatusNotFound, app.ErrLoanNotWatched.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
