package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/csvqa/csvqa/internal/api"
	"github.com/csvqa/csvqa/internal/audit"
	auditpostgres "github.com/csvqa/csvqa/internal/audit/postgres"
	"github.com/csvqa/csvqa/internal/chat"
	"github.com/csvqa/csvqa/internal/config"
	"github.com/csvqa/csvqa/internal/dataset"
	"github.com/csvqa/csvqa/internal/llm"
	"github.com/csvqa/csvqa/internal/nl2sql"
	"github.com/csvqa/csvqa/internal/observability"
	duckdbengine "github.com/csvqa/csvqa/internal/query/duckdb"
	"github.com/csvqa/csvqa/internal/reports"
	"github.com/csvqa/csvqa/internal/storage/local"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadFromEnv("csvqa-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := dataset.OpenStore(ctx, cfg)
	if err != nil {
		logger.Error("failed to initialize dataset store", slog.Any("error", err))
		os.Exit(1)
	}
	engine := duckdbengine.NewEngine()
	defer func() { _ = engine.Close() }()

	manager := dataset.NewManager(store, engine, cfg.Dataset.Format, logger)
	if err := manager.Load(ctx); err != nil {
		// keep serving: /v1/ready reports not-ready and the next request retries
		logger.Warn("initial dataset load failed", slog.String("location", store.Location()), slog.Any("error", err))
	}
	if localStore, ok := store.(*local.Store); ok && cfg.Dataset.Watch {
		go func() {
			if err := manager.Watch(ctx, localStore.Root()); err != nil {
				logger.Warn("dataset watch stopped", slog.Any("error", err))
			}
		}()
	}

	var recorder audit.Recorder = audit.Nop{}
	readiness := []api.ReadinessCheck{api.CheckDatasetLoaded(manager)}
	deps := api.Dependencies{
		Logger:            logger,
		DependencyTimeout: time.Second,
		Dataset:           manager,
		Schema:            engine,
		Reports:           reports.NewService(engine),
	}
	if cfg.Audit.Enabled {
		auditDB, err := auditpostgres.Open(ctx, auditpostgres.DBConfig{
			DSN:             cfg.Audit.DSN,
			MaxOpenConns:    cfg.Audit.MaxOpenConns,
			MaxIdleConns:    cfg.Audit.MaxIdleConns,
			ConnMaxIdleTime: cfg.Audit.ConnMaxIdleTime,
			ConnMaxLifetime: cfg.Audit.ConnMaxLifetime,
		})
		if err != nil {
			logger.Error("failed to open audit db", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() { _ = auditDB.Close() }()
		repo := auditpostgres.NewRepository(auditDB)
		recorder = repo
		deps.Audit = repo
		readiness = append(readiness, repo.HealthCheck)
	}
	deps.Readiness = api.CombineReadinessChecks(readiness...)

	planGenerator := newGenerator(ctx, logger, cfg, cfg.AI.Model)
	faqGenerator := planGenerator
	if cfg.AI.FAQModel != "" && cfg.AI.FAQModel != cfg.AI.Model {
		faqGenerator = newGenerator(ctx, logger, cfg, cfg.AI.FAQModel)
	}

	deps.Chat = chat.NewService(chat.Dependencies{
		Engine:    engine,
		Previewer: engine,
		Planner:   nl2sql.NewPlanner(planGenerator, logger),
		FAQ:       nl2sql.NewFAQ(faqGenerator, cfg.AI.FAQSystemPrompt, logger),
		Audit:     recorder,
		Logger:    logger,
	}, chat.Options{
		UsePlanner:        cfg.Features.UseLLMPlan,
		UseRepair:         cfg.Features.UseLLMRepair,
		UseFAQ:            cfg.Features.UseFAQ,
		DefaultLimit:      cfg.Query.DefaultLimit,
		MaxLimit:          cfg.Query.MaxLimit,
		PlannerSampleRows: cfg.Dataset.PlannerSampleRows,
	})

	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      api.NewHandler(cfg, deps),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("dataset", store.Location()),
			slog.Bool("llm_plan", cfg.Features.UseLLMPlan),
			slog.Bool("llm_repair", cfg.Features.UseLLMRepair),
			slog.Bool("audit", cfg.Audit.Enabled),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}

// newGenerator returns nil when no API key is configured; the planner and
// FAQ then report themselves unavailable.
func newGenerator(ctx context.Context, logger *slog.Logger, cfg config.Config, model string) llm.Generator {
	generator, err := llm.New(ctx, llm.Config{
		Provider:          cfg.AI.Provider,
		BaseURL:           cfg.AI.BaseURL,
		APIKey:            cfg.AI.APIKey,
		Model:             model,
		Timeout:           cfg.AI.Timeout,
		RequestsPerMinute: cfg.AI.RequestsPerMinute,
	})
	if err != nil {
		if errors.Is(err, llm.ErrNotConfigured) {
			logger.Info("generator not configured", slog.String("model", model))
		} else {
			logger.Warn("failed to initialize generator", slog.String("model", model), slog.Any("error", err))
		}
		return nil
	}
	return generator
}
