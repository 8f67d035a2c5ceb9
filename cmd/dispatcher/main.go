// Package main provides the Tiered Notification Dispatcher entry point: it
// consumes anomaly.confirmed, schedules per-tier Delay Queue jobs, and runs
// the Delay Queue consumer that fans each job out to subscribers.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	asynqadp "github.com/glitchwatch/core/internal/delayqueue/asynq"

	"github.com/glitchwatch/core/internal/adapter/bus/redisstream"
	kvredis "github.com/glitchwatch/core/internal/adapter/kv/redis"
	"github.com/glitchwatch/core/internal/adapter/observability"
	"github.com/glitchwatch/core/internal/adapter/ratelimiter"
	"github.com/glitchwatch/core/internal/adapter/repo/kvrepo"
	"github.com/glitchwatch/core/internal/channels"
	"github.com/glitchwatch/core/internal/config"
	"github.com/glitchwatch/core/internal/consumer"
	"github.com/glitchwatch/core/internal/dispatcher"
	"github.com/glitchwatch/core/internal/domain"
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
		if err := http.ListenAndServe(":9091", mux); err != nil {
			slog.Error("dispatcher metrics server error", slog.Any("error", err))
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

	slog.Info("starting dispatcher", slog.String("env", cfg.AppEnv))

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("redis url parse failed", slog.Any("error", err))
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)

	bus := redisstream.New(rdb)
	kv := kvredis.New(rdb)
	subs := kvrepo.NewSubscriberStore(kv)
	anomalyRepo := kvrepo.NewAnomalyStore(kv)
	limiter := ratelimiter.New(rdb, logger)

	queue, err := asynqadp.New(cfg.RedisURL)
	if err != nil {
		slog.Error("delay queue init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = queue.Close() }()

	policy := config.DefaultTierPolicy()
	channelRegistry := channels.Build(cfg)

	// No public-feed broadcast provider is configured by default; every
	// channel here is subscriber-targeted through the tier policy.
	var broadcast []domain.ChannelProvider

	d := dispatcher.New(bus, kv, queue, policy, channelRegistry, broadcast, limiter, subs, anomalyRepo, cfg.NotifyDedupTTL(), logger)

	coord := shutdown.New(cfg.GracefulShutdownTimeout())
	coord.Register("redis", func(context.Context) error { return rdb.Close() })

	ctx := context.Background()

	runner := consumer.New(bus, kv, coord, consumer.Config{
		Stream:       validator.ConfirmedStream,
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
		if err := runner.Run(ctx, d.Handle); err != nil {
			slog.Error("dispatcher scheduling runner stopped", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	go func() {
		if err := queue.Consume(ctx, dispatcher.JobTaskName, d.ProcessJob, cfg.StreamBatchSize); err != nil {
			slog.Error("dispatcher job consumer stopped", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	slog.Info("dispatcher started successfully, waiting for shutdown signal")
	os.Exit(coord.Run(ctx, logger))
}
