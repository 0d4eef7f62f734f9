package api

import (
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/csvqa/csvqa/internal/audit"
)

func handleAuditRecent(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Audit == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "AUDIT_NOT_CONFIGURED", "query audit is not enabled", false, nil)
		return
	}
	limit, err := intParam(r.URL.Query().Get("limit"), 50)
	if err != nil || limit <= 0 {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer", false, nil)
		return
	}

	records, err := deps.Audit.Recent(r.Context(), limit)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "AUDIT_FETCH_FAILED", "failed to load query audit", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

func handleAuditGet(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Audit == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "AUDIT_NOT_CONFIGURED", "query audit is not enabled", false, nil)
		return
	}
	queryID, err := uuid.Parse(r.PathValue("query_id"))
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_QUERY_ID", "query id must be a UUID", false, nil)
		return
	}

	record, err := deps.Audit.Get(r.Context(), queryID)
	if err != nil {
		if errors.Is(err, audit.ErrNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "AUDIT_RECORD_NOT_FOUND", "query audit record not found", false, map[string]any{"query_id": queryID.String()})
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "AUDIT_FETCH_FAILED", "failed to load query audit", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, record)
}
