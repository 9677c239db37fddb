// Package handler exposes the engine's operations over HTTP.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/marlonbarreto-git/nimbus-psp-router/internal/candidate"
	"github.com/marlonbarreto-git/nimbus-psp-router/internal/model"
	"github.com/marlonbarreto-git/nimbus-psp-router/internal/predictor"
	"github.com/marlonbarreto-git/nimbus-psp-router/internal/router"
)

// StatusCodeClientClosedRequest mirrors the nginx convention for a caller
// that cancelled mid-request.
const StatusCodeClientClosedRequest = 499

// ModelStatusSource is implemented by predictors that expose their
// readiness state machine, such as the local ensemble.
type ModelStatusSource interface {
	State() predictor.State
	ModelVersion() string
}

// Handler holds the HTTP handler dependencies.
type Handler struct {
	router   *router.Router
	store    *candidate.Store
	ingestor *candidate.Ingestor
	pred     predictor.Predictor
	logger   *zap.Logger
}

// New creates a Handler.
func New(r *router.Router, store *candidate.Store, ingestor *candidate.Ingestor, pred predictor.Predictor, logger *zap.Logger) *Handler {
	return &Handler{router: r, store: store, ingestor: ingestor, pred: pred, logger: logger}
}

// RegisterRoutes registers all API routes on the given mux router.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/v1/decisions", h.Decide).Methods(http.MethodPost)
	r.HandleFunc("/v1/feedback", h.Feedback).Methods(http.MethodPost)
	r.HandleFunc("/v1/candidates", h.ListCandidates).Methods(http.MethodGet)
	r.HandleFunc("/v1/model/status", h.ModelStatus).Methods(http.MethodGet)
}

// Decide handles POST /v1/decisions.
func (h *Handler) Decide(w http.ResponseWriter, r *http.Request) {
	var txn model.Transaction
	if err := json.NewDecoder(r.Body).Decode(&txn); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	decision, err := h.router.Decide(r.Context(), txn)
	if err != nil {
		h.writeDecideError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

func (h *Handler) writeDecideError(w http.ResponseWriter, err error) {
	switch model.ErrorKind(err) {
	case "invalid_argument":
		writeError(w, http.StatusBadRequest, err.Error())
	case "no_eligible_candidate":
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case "candidate_unavailable":
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case "cancelled":
		writeError(w, StatusCodeClientClosedRequest, "request cancelled")
	case "deadline_exceeded":
		writeError(w, http.StatusGatewayTimeout, "routing deadline exceeded")
	default:
		// Opaque correlation id only; the detail stays in the logs.
		id := uuid.NewString()
		h.logger.Error("decide_internal_error",
			zap.String("correlation_id", id),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal error: "+id)
	}
}

// Feedback handles POST /v1/feedback. Acceptance is an acknowledgement
// only: application is asynchronous and idempotent by decision id.
func (h *Handler) Feedback(w http.ResponseWriter, r *http.Request) {
	var fb model.Feedback
	if err := json.NewDecoder(r.Body).Decode(&fb); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := fb.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.ingestor.Offer(fb)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":      "accepted",
		"decision_id": fb.DecisionID,
	})
}

// ListCandidates handles GET /v1/candidates.
func (h *Handler) ListCandidates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"candidates": h.store.GetAllCandidates(),
	})
}

// ModelStatus handles GET /v1/model/status.
func (h *Handler) ModelStatus(w http.ResponseWriter, r *http.Request) {
	status := "not_loaded"
	version := ""
	if src, ok := h.pred.(ModelStatusSource); ok {
		switch src.State() {
		case predictor.StateReady, predictor.StateReloading:
			status = "ready"
		case predictor.StateFailed:
			status = "failed"
		}
		version = src.ModelVersion()
	} else if h.pred.IsReady() {
		status = "ready"
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":        status,
		"model_version": version,
	})
}
