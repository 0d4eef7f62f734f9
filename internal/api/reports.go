package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/csvqa/csvqa/internal/config"
	"github.com/csvqa/csvqa/internal/query"
	"github.com/csvqa/csvqa/internal/reports"
)

func handleCustomerReport(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Reports == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "REPORTS_NOT_CONFIGURED", "reports are not configured", false, nil)
		return
	}
	cid, err := reports.ParseCustomerID(r.PathValue("cid"))
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_CUSTOMER_ID", "customer id must be an integer", false, map[string]any{"cid": r.PathValue("cid")})
		return
	}
	refreshDataset(deps, r)

	report, err := deps.Reports.Customer(r.Context(), cid)
	if err != nil {
		writeEngineError(r.Context(), w, "REPORT_FAILED", "Failed to build customer report", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func handlePricelist(cfg config.Config, deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Reports == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "REPORTS_NOT_CONFIGURED", "reports are not configured", false, nil)
		return
	}
	values := r.URL.Query()
	limit, err := intParam(values.Get("limit"), cfg.Query.DefaultLimit)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be an integer", false, nil)
		return
	}
	offset, err := intParam(values.Get("offset"), 0)
	if err != nil || offset < 0 {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_OFFSET", "offset must be a non-negative integer", false, nil)
		return
	}
	limit = query.ClampLimit(limit, cfg.Query.DefaultLimit, cfg.Query.MaxLimit)
	refreshDataset(deps, r)

	page, err := deps.Reports.Pricelist(r.Context(), values.Get("q"), limit, offset)
	if err != nil {
		writeEngineError(r.Context(), w, "PRICELIST_FAILED", "Failed to load pricelist", err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func intParam(raw string, fallback int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}
