// Package main provides the admin/inspection HTTP surface entry point:
// health checks, metrics, DLQ peek, and router stats.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/glitchwatch/core/internal/adapter/bus/redisstream"
	kvredis "github.com/glitchwatch/core/internal/adapter/kv/redis"
	"github.com/glitchwatch/core/internal/adapter/observability"
	"github.com/glitchwatch/core/internal/adminhttp"
	"github.com/glitchwatch/core/internal/config"
	"github.com/glitchwatch/core/internal/modelpool"
	"github.com/glitchwatch/core/internal/router"
	"github.com/glitchwatch/core/internal/shutdown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	adminhttp.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("redis url parse failed", slog.Any("error", err))
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)

	bus := redisstream.New(rdb)
	kv := kvredis.New(rdb)

	ctx := context.Background()
	models := modelpool.ApplyDisabled(modelpool.Default(), cfg.ModelPoolDisabled)
	r := router.New(ctx, models, kv, router.Config{
		EnableSOTAModels:        cfg.EnableSOTAModels,
		CircuitBreakerThreshold: cfg.CircuitBreakerThreshold,
		CircuitBreakerWindow:    cfg.CircuitBreakerWindow(),
	}, logger)

	srv := adminhttp.New(bus, kv, r, logger)

	addr := net.JoinHostPort("", strconv.Itoa(cfg.AdminPort))
	httpServer := &http.Server{Addr: addr, Handler: srv.Handler()}

	coord := shutdown.New(cfg.GracefulShutdownTimeout())
	coord.Register("admin-http", func(shutdownCtx context.Context) error {
		return httpServer.Shutdown(shutdownCtx)
	})
	coord.Register("redis", func(context.Context) error { return rdb.Close() })

	go func() {
		slog.Info("admin http listening", slog.String("addr", addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("admin http server error", slog.Any("error", err))
		}
	}()

	os.Exit(coord.Run(ctx, logger))
}
