package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/csvqa/csvqa/internal/config"
	"github.com/csvqa/csvqa/internal/dataset"
	"github.com/csvqa/csvqa/internal/observability"
	"github.com/csvqa/csvqa/internal/seed"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadFromEnv("csvqa-seed")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg, os.Stdout)

	seedCfg, err := seed.LoadConfigFromEnv(os.LookupEnv)
	if err != nil {
		logger.Error("failed to load seed config", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := dataset.OpenStore(ctx, cfg)
	if err != nil {
		logger.Error("failed to initialize dataset store", slog.Any("error", err))
		os.Exit(1)
	}

	ds := seed.NewGenerator(seedCfg).Generate()
	infos, err := seed.Write(ctx, store, ds, cfg.Dataset.Format)
	if err != nil {
		logger.Error("failed to write dataset", slog.Any("error", err))
		os.Exit(1)
	}
	for _, info := range infos {
		logger.Info("dataset file written",
			slog.String("key", info.Key),
			slog.Int64("size", info.Size),
			slog.String("etag", info.ETag),
		)
	}
	logger.Info("seed complete",
		slog.String("location", store.Location()),
		slog.String("format", cfg.Dataset.Format),
		slog.Int("customers", len(ds.Customers)),
		slog.Int("orders", len(ds.Inventory)),
		slog.Int("detail_lines", len(ds.Detail)),
		slog.Int64("seed", seedCfg.Seed),
	)
}
