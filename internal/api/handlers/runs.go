package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/wonny/charlie/backend/internal/contracts"
	"github.com/wonny/charlie/backend/pkg/logger"
)

// RunHandler serves pipeline run records and the audit log
type RunHandler struct {
	runs   contracts.RunRepository
	audit  contracts.AuditRepository
	logger *logger.Logger
}

// NewRunHandler creates a new run handler
func NewRunHandler(runs contracts.RunRepository, audit contracts.AuditRepository, log *logger.Logger) *RunHandler {
	return &RunHandler{
		runs:   runs,
		audit:  audit,
		logger: log,
	}
}

// ListRuns returns the latest runs, newest first
// GET /api/runs?limit=20
func (h *RunHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.runs.List(r.Context(), parseLimit(r))
	if err != nil {
		h.logger.WithError(err).Error("Failed to list runs")
		respondError(w, http.StatusInternalServerError, "Failed to retrieve runs")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count": len(runs),
		"runs":  runs,
	})
}

// GetRun returns one run with its summary
// GET /api/runs/{id}
func (h *RunHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(mux.Vars(r)["id"])
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid run id")
		return
	}

	run, err := h.runs.Get(r.Context(), id)
	if err != nil {
		if statusFor(err) == http.StatusInternalServerError {
			h.logger.WithError(err).WithField("run_id", id).Error("Failed to get run")
		}
		respondError(w, statusFor(err), "run not found")
		return
	}

	respondJSON(w, http.StatusOK, run)
}

// ListAudit returns the latest audit entries, optionally of one kind
// GET /api/audit?kind=duplicate_conflict&limit=50
func (h *RunHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	kind := contracts.AuditKind(r.URL.Query().Get("kind"))
	if kind != "" && !validKind(kind) {
		respondError(w, http.StatusBadRequest, "unknown audit kind "+string(kind))
		return
	}

	entries, err := h.audit.List(r.Context(), kind, parseLimit(r))
	if err != nil {
		h.logger.WithError(err).Error("Failed to list audit entries")
		respondError(w, http.StatusInternalServerError, "Failed to retrieve audit entries")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(entries),
		"entries": entries,
	})
}

func validKind(k contracts.AuditKind) bool {
	switch k {
	case contracts.AuditDuplicateConflict, contracts.AuditParseFailure,
		contracts.AuditLeakageGuard, contracts.AuditDistillFailure:
		return true
	}
	return false
}
