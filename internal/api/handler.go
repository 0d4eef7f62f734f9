package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/csvqa/csvqa/internal/audit"
	"github.com/csvqa/csvqa/internal/chat"
	"github.com/csvqa/csvqa/internal/config"
	"github.com/csvqa/csvqa/internal/dataset"
	"github.com/csvqa/csvqa/internal/observability"
	"github.com/csvqa/csvqa/internal/query"
	"github.com/csvqa/csvqa/internal/reports"
)

type ReadinessCheck func(ctx context.Context) error

// DatasetState is the dataset lifecycle as seen by handlers.
type DatasetState interface {
	ReloadIfChanged(ctx context.Context) (bool, error)
	Files() []dataset.FileStatus
	LoadedAt() time.Time
	Location() string
}

type SchemaDescriber interface {
	Describe(ctx context.Context) (map[string][]query.Column, error)
}

type ChatAnswerer interface {
	Answer(ctx context.Context, request chat.Request) (chat.Response, error)
}

type ReportService interface {
	Customer(ctx context.Context, cid int64) (reports.CustomerReport, error)
	Pricelist(ctx context.Context, search string, limit, offset int) (reports.PricelistPage, error)
}

type AuditReader interface {
	Recent(ctx context.Context, limit int) ([]audit.Record, error)
	Get(ctx context.Context, queryID uuid.UUID) (audit.Record, error)
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	DependencyTimeout time.Duration
	Dataset           DatasetState
	Schema            SchemaDescriber
	Chat              ChatAnswerer
	Reports           ReportService
	Audit             AuditReader
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, r *http.Request) {
		handleHealth(cfg, deps, w, r)
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	mux.HandleFunc("GET /v1/schema", func(w http.ResponseWriter, r *http.Request) {
		handleSchema(deps, w, r)
	})
	mux.HandleFunc("POST /v1/chat", func(w http.ResponseWriter, r *http.Request) {
		handleChat(deps, w, r)
	})
	mux.HandleFunc("GET /v1/report/customer/{cid}", func(w http.ResponseWriter, r *http.Request) {
		handleCustomerReport(deps, w, r)
	})
	mux.HandleFunc("GET /v1/pricelist", func(w http.ResponseWriter, r *http.Request) {
		handlePricelist(cfg, deps, w, r)
	})
	mux.HandleFunc("GET /v1/audit/recent", func(w http.ResponseWriter, r *http.Request) {
		handleAuditRecent(deps, w, r)
	})
	mux.HandleFunc("GET /v1/audit/{query_id}", func(w http.ResponseWriter, r *http.Request) {
		handleAuditGet(deps, w, r)
	})

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORS.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"*"},
			ExposedHeaders: []string{"X-Trace-ID"},
			MaxAge:         300,
		}),
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

func handleHealth(cfg config.Config, deps Dependencies, w http.ResponseWriter, r *http.Request) {
	response := map[string]any{"status": "ok", "service": cfg.Service.Name}
	if deps.Dataset == nil {
		writeJSON(w, http.StatusOK, response)
		return
	}
	reloaded, err := deps.Dataset.ReloadIfChanged(r.Context())
	if err != nil {
		response["status"] = "degraded"
		response["reload_error"] = err.Error()
	}
	response["reloaded"] = reloaded
	response["dataset"] = map[string]any{
		"location":  deps.Dataset.Location(),
		"loaded_at": deps.Dataset.LoadedAt(),
		"files":     deps.Dataset.Files(),
	}
	writeJSON(w, http.StatusOK, response)
}

// refreshDataset picks up changed dataset files before a data endpoint runs.
// A failed reload keeps serving the previously loaded data.
func refreshDataset(deps Dependencies, r *http.Request) {
	if deps.Dataset == nil {
		return
	}
	if _, err := deps.Dataset.ReloadIfChanged(r.Context()); err != nil && deps.Logger != nil {
		deps.Logger.WarnContext(r.Context(), "dataset_refresh_failed",
			slog.String("trace_id", observability.TraceIDFromContext(r.Context())),
			slog.Any("error", err),
		)
	}
}

func handleSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Schema == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SCHEMA_NOT_CONFIGURED", "schema dependency is not configured", false, nil)
		return
	}
	refreshDataset(deps, r)

	tables, err := deps.Schema.Describe(r.Context())
	if err != nil {
		writeEngineError(r.Context(), w, "SCHEMA_FETCH_FAILED", "failed to load schema", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tables": tables})
}

func CheckDatasetLoaded(state DatasetState) ReadinessCheck {
	return func(_ context.Context) error {
		if state == nil || state.LoadedAt().IsZero() {
			return errors.New("dataset is not loaded")
		}
		return nil
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}

// writeEngineError maps engine failures that are not the caller's fault.
func writeEngineError(ctx context.Context, w http.ResponseWriter, code, message string, err error) {
	if errors.Is(err, query.ErrNotLoaded) {
		writeError(ctx, w, http.StatusServiceUnavailable, "DATASET_NOT_LOADED", "dataset is not loaded", true, nil)
		return
	}
	writeError(ctx, w, http.StatusBadRequest, code, message, false, map[string]any{"error": err.Error()})
}
