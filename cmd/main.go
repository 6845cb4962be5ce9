package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/UnknownOlympus/pinpoint/internal/cache"
	"github.com/UnknownOlympus/pinpoint/internal/config"
	"github.com/UnknownOlympus/pinpoint/internal/geocoding"
	"github.com/UnknownOlympus/pinpoint/internal/metrics"
	"github.com/UnknownOlympus/pinpoint/internal/places"
	"github.com/UnknownOlympus/pinpoint/internal/repository"
	"github.com/UnknownOlympus/pinpoint/internal/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Constants for different environment types.
const (
	envLocal = "local"
	envDev   = "development"
	envProd  = "production"
)

// main is the entry point of the application.
func main() {
	// Create a context that will be canceled when an interrupt signal is received.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load application configuration.
	cfg := config.MustLoad()

	// Set up the logger based on the environment.
	logger := setupLogger(cfg.Env)

	// Create a separate registry for metrics.
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	appMetrics := metrics.NewMetrics(reg)

	err := run(ctx, cfg, logger, appMetrics)

	if cfg.MetricsFile != "" {
		if werr := prometheus.WriteToTextfile(cfg.MetricsFile, reg); werr != nil {
			logger.ErrorContext(ctx, "Failed to write metrics file", "path", cfg.MetricsFile, "error", werr)
		}
	}

	if err != nil {
		stop()
		log.Fatalf("Geocoding run failed: %v", err)
	}
}

// run performs a single geocoding pass over the configured input table.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, appMetrics *metrics.Metrics) error {
	table, err := places.ReadFile(cfg.InputPath)
	if err != nil {
		return err
	}
	logger.InfoContext(ctx, "Input loaded", "path", cfg.InputPath, "rows", len(table.Places))

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	// Create geocoding provider using factory pattern based on configuration.
	geoProvider, err := geocoding.NewProvider(geocoding.ProviderConfig{
		Type:      geocoding.ProviderType(cfg.ProviderType),
		APIKey:    cfg.APIKey,
		RateLimit: cfg.RateLimit,
		Timeout:   cfg.Timeout,
		Language:  cfg.Language,
		UserAgent: cfg.UserAgent,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create geocoding provider: %w", err)
	}
	logger.InfoContext(ctx, "Geocoding provider initialized", "type", cfg.ProviderType)

	client := geocoding.NewClient(geoProvider, cfg.ProviderType, store, appMetrics, logger)
	svc := service.NewPlaceService(logger, client, appMetrics, cfg.Delay, cfg.QuerySuffix)

	summary, err := svc.Run(ctx, table)
	if err != nil {
		return err
	}

	if err = places.WriteFile(cfg.OutputPath, table); err != nil {
		return err
	}

	logger.InfoContext(ctx, "Geocoding finished",
		"output", cfg.OutputPath,
		"total", summary.Total,
		"skipped", summary.Skipped,
		"found", summary.Found,
		"not_found", summary.NotFound,
		"failed", summary.Failed,
		"network_calls", summary.NetworkCalls,
	)

	return nil
}

// openStore returns the configured cache backend and a function releasing it.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (cache.Store, func(), error) {
	if cfg.CacheBackend != config.CacheBackendPostgres {
		store, err := cache.Open(cfg.CachePath, logger)
		if err != nil {
			return nil, nil, err
		}
		logger.InfoContext(ctx, "Cache loaded", "path", cfg.CachePath, "entries", store.Len())

		return store, func() {}, nil
	}

	dtb, err := repository.NewDatabase(
		ctx, cfg.Database.Host, cfg.Database.Port, cfg.Database.User, cfg.Database.Password, cfg.Database.Name,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to DB: %w", err)
	}

	repo := repository.NewRepository(dtb, logger)
	if err = repo.EnsureSchema(ctx); err != nil {
		dtb.Close()
		return nil, nil, err
	}
	logger.InfoContext(ctx, "Cache database ready", "host", cfg.Database.Host, "db", cfg.Database.Name)

	return repo, dtb.Close, nil
}

// setupLogger initializes and returns a logger based on the environment provided.
func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
				Level:     slog.LevelDebug,
				AddSource: true,
			}),
		)
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
				Level: slog.LevelInfo,
			}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
				Level:       slog.LevelWarn,
				ReplaceAttr: dropTime,
			}),
		)
	default:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
				Level:       slog.LevelError,
				ReplaceAttr: dropTime,
			}),
		)

		log.Error(
			"The env parameter was not specified or was invalid. Logging will be minimal, by default.",
			slog.String("available_envs", "local, development, production"))
	}

	return log
}

func dropTime(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey {
		return slog.Attr{}
	}
	return a
}
