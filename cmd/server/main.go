// Command server runs the Striga risk HTTP API and, when enabled, the Kafka
// batch pipeline that assesses requests from a topic.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"

	"github.com/couchcryptid/striga-risk/internal/adapter/geotiff"
	httpadapter "github.com/couchcryptid/striga-risk/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/striga-risk/internal/adapter/kafka"
	"github.com/couchcryptid/striga-risk/internal/adapter/openmeteo"
	"github.com/couchcryptid/striga-risk/internal/adapter/postgres"
	"github.com/couchcryptid/striga-risk/internal/assessment"
	"github.com/couchcryptid/striga-risk/internal/config"
	"github.com/couchcryptid/striga-risk/internal/observability"
	"github.com/couchcryptid/striga-risk/internal/pipeline"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	if err := run(cfg, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	metrics := observability.NewMetrics()

	soil, err := geotiff.Open(cfg.SoilFertilityRaster)
	if err != nil {
		return err
	}
	habitat, err := geotiff.Open(cfg.HabitatSuitabilityRaster)
	if err != nil {
		return err
	}
	logger.Info("rasters loaded",
		"soil_fertility", soil.Path(), "soil_crs", soil.CRS(),
		"habitat_suitability", habitat.Path(), "habitat_crs", habitat.CRS(),
	)

	baseURL := cfg.OpenMeteoBaseURL
	if baseURL == "" {
		baseURL = openmeteo.DefaultBaseURL(cfg.OpenMeteoAPIKey)
	}
	client := openmeteo.NewClient(cfg.OpenMeteoAPIKey, baseURL, cfg.OpenMeteoTimeout, cfg.OpenMeteoRetries, metrics, logger)
	weather, err := openmeteo.NewCachedArchive(client, cfg.OpenMeteoCacheSize, metrics)
	if err != nil {
		return err
	}
	logger.Info("weather archive configured", "base_url", baseURL, "cache_size", cfg.OpenMeteoCacheSize, "variable", cfg.WeatherVariable)

	svc := assessment.NewService(soil, habitat, weather, cfg.WeatherVariable, metrics, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var ready readiness

	// Assessment history (feature-flagged via DATABASE_URL).
	var store *postgres.Store
	if cfg.DatabaseURL != "" {
		store, err = postgres.Open(ctx, cfg.DatabaseURL, metrics, logger)
		if err != nil {
			return err
		}
		defer closeLogged(logger, "assessment store", store.Close)
		if err := store.Migrate(ctx); err != nil {
			return err
		}
		ready = append(ready, store)
	} else {
		logger.Info("assessment history disabled")
	}

	// Kafka batch pipeline (feature-flagged via KAFKA_ENABLED).
	var done chan struct{}
	if cfg.KafkaEnabled {
		reader := kafkaadapter.NewReader(cfg, logger)
		writer := kafkaadapter.NewWriter(cfg, logger)
		defer closeLogged(logger, "kafka reader", reader.Close)
		defer closeLogged(logger, "kafka writer", writer.Close)

		var loader pipeline.BatchLoader = writer
		if store != nil {
			loader = pipeline.FanOutLoader{writer, store}
		}
		p := pipeline.New(reader, pipeline.NewTransformer(svc), loader, logger, metrics, cfg.BatchSize)
		// Ready once the loop is up; Kafka traffic is not required.
		ready = append(ready, checkFunc(p.CheckRunning))

		done = make(chan struct{})
		go func() {
			defer close(done)
			if err := p.Run(ctx); err != nil {
				logger.Error("pipeline error", "error", err)
			}
		}()
	} else {
		logger.Info("kafka pipeline disabled")
	}

	var historyStore httpadapter.AssessmentStore
	if store != nil {
		historyStore = store
	}
	srv := httpadapter.NewServer(cfg.HTTPAddr, svc, historyStore, ready, logger)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if done != nil {
		select {
		case <-done:
		case <-shutdownCtx.Done():
			logger.Warn("pipeline did not stop before shutdown timeout")
		}
	}

	logger.Info("shutdown complete")
	return nil
}

// readiness is ready when every component is.
type readiness []sharedobs.ReadinessChecker

func (r readiness) CheckReadiness(ctx context.Context) error {
	for _, c := range r {
		if err := c.CheckReadiness(ctx); err != nil {
			return err
		}
	}
	return nil
}

// checkFunc adapts a check method to sharedobs.ReadinessChecker.
type checkFunc func(context.Context) error

func (f checkFunc) CheckReadiness(ctx context.Context) error { return f(ctx) }

func closeLogged(logger *slog.Logger, name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logger.Error(name+" close error", "error", err)
	}
}
