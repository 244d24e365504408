package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/seismic-locator/internal/adapter/fdsn"
	httpadapter "github.com/couchcryptid/seismic-locator/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/seismic-locator/internal/adapter/kafka"
	"github.com/couchcryptid/seismic-locator/internal/config"
	"github.com/couchcryptid/seismic-locator/internal/locator"
	"github.com/couchcryptid/seismic-locator/internal/observability"
	"github.com/couchcryptid/seismic-locator/internal/pipeline"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	var opts []pipeline.Option

	// FDSN waveform downloads (feature-flagged via FDSN_ENABLED).
	if cfg.FDSNEnabled {
		client := fdsn.NewClient(cfg.FDSNBaseURL, cfg.FDSNTimeout, metrics, logger)
		opts = append(opts, pipeline.WithFetcher(fdsn.NewCachedClient(client, cfg.FDSNCacheSize, metrics)))
		logger.Info("fdsn downloads enabled", "base_url", cfg.FDSNBaseURL, "cache_size", cfg.FDSNCacheSize, "timeout", cfg.FDSNTimeout)
	} else {
		logger.Info("fdsn downloads disabled")
	}
	// Job path sources are confined to WAVEFORM_DIR and disabled without it.
	if cfg.WaveformDir != "" {
		root, err := os.OpenRoot(cfg.WaveformDir)
		if err != nil {
			logger.Error("failed to open waveform dir", "dir", cfg.WaveformDir, "error", err)
			os.Exit(1)
		}
		defer root.Close()
		opts = append(opts, pipeline.WithWaveformRoot(root))
		logger.Info("path waveform sources enabled", "dir", cfg.WaveformDir)
	} else {
		logger.Info("path waveform sources disabled")
	}
	if cfg.ChartDir != "" {
		opts = append(opts, pipeline.WithChartDir(cfg.ChartDir))
		logger.Info("diagnostic charts enabled", "dir", cfg.ChartDir)
	}

	loc := locator.New(cfg.Picker, cfg.WaveSpeed, cfg.Resample, logger)
	transformer := pipeline.NewLocateTransformer(loc, cfg.Channel, metrics, logger, opts...)

	reader := kafkaadapter.NewReader(cfg, logger)
	writer := kafkaadapter.NewWriter(cfg, logger)

	p := pipeline.New(reader, transformer, writer, logger, metrics, cfg.BatchSize, cfg.LocateWorkers)

	srv := httpadapter.NewServer(cfg.HTTPAddr, p, transformer, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start locate pipeline.
	go func() {
		if err := p.Run(ctx); err != nil {
			logger.Error("pipeline error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if err := reader.Close(); err != nil {
		logger.Error("kafka reader close error", "error", err)
	}
	if err := writer.Close(); err != nil {
		logger.Error("kafka writer close error", "error", err)
	}

	logger.Info("shutdown complete")
}
