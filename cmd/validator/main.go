// Package main provides the AI Validator Worker entry point: it consumes
// anomaly.detected, classifies each anomaly through the Weighted Model
// Router, and emits confirmed glitches to anomaly.confirmed.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/glitchwatch/core/internal/adapter/ai/httpmodel"
	"github.com/glitchwatch/core/internal/adapter/bus/redisstream"
	kvredis "github.com/glitchwatch/core/internal/adapter/kv/redis"
	"github.com/glitchwatch/core/internal/adapter/observability"
	"github.com/glitchwatch/core/internal/adapter/repo/kvrepo"
	"github.com/glitchwatch/core/internal/config"
	"github.com/glitchwatch/core/internal/consumer"
	"github.com/glitchwatch/core/internal/domain"
	"github.com/glitchwatch/core/internal/modelpool"
	"github.com/glitchwatch/core/internal/router"
	"github.com/glitchwatch/core/internal/shutdown"
	"github.com/glitchwatch/core/internal/validator"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	observability.InitMetrics()
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(":9090", mux); err != nil {
			slog.Error("validator metrics server error", slog.Any("error", err))
		}
	}()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	slog.Info("starting validator", slog.String("env", cfg.AppEnv))

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("redis url parse failed", slog.Any("error", err))
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)

	bus := redisstream.New(rdb)
	kv := kvredis.New(rdb)
	anomalyRepo := kvrepo.NewAnomalyStore(kv)

	ctx := context.Background()
	models := modelpool.ApplyDisabled(modelpool.Default(), cfg.ModelPoolDisabled)
	r := router.New(ctx, models, kv, router.Config{
		EnableSOTAModels:        cfg.EnableSOTAModels,
		CircuitBreakerThreshold: cfg.CircuitBreakerThreshold,
		CircuitBreakerWindow:    cfg.CircuitBreakerWindow(),
	}, logger)

	endpoint := httpmodel.New(cfg)
	v := validator.New(r, endpoint, bus, models, anomalyRepo, logger)

	coord := shutdown.New(cfg.GracefulShutdownTimeout())
	coord.Register("redis", func(context.Context) error { return rdb.Close() })

	runner := consumer.New(bus, kv, coord, consumer.Config{
		Stream:       validator.DetectedStream,
		BatchSize:    cfg.StreamBatchSize,
		PollInterval: cfg.StreamPollInterval(),
		MaxRetries:   cfg.StreamMaxRetries,
	}, logger,
		func(stream string) { observability.ConsumerBatchesTotal.WithLabelValues(stream).Inc() },
		func(stream string) {
			observability.ConsumerRetriesTotal.WithLabelValues(stream).Inc()
			observability.MirrorIncr(ctx, kv, "consumer_retries_total", map[string]string{"stream": stream})
		},
		func(stream string, entry domain.StreamEntry, cause error) {
			observability.DLQEntriesTotal.WithLabelValues(stream).Inc()
			observability.MirrorIncr(ctx, kv, "dlq_entries_total", map[string]string{"stream": stream})
		},
	)

	go func() {
		if err := runner.Run(ctx, v.Handle); err != nil {
			slog.Error("validator runner stopped", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	slog.Info("validator started successfully, waiting for shutdown signal")
	os.Exit(coord.Run(ctx, logger))
}
