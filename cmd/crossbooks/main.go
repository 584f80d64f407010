package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/crossbooks/crossbooks/internal/app"
	"github.com/crossbooks/crossbooks/internal/books"
	"github.com/crossbooks/crossbooks/internal/dispatch"
	"github.com/crossbooks/crossbooks/internal/exchange"
	"github.com/crossbooks/crossbooks/internal/mirror"
	"github.com/crossbooks/crossbooks/internal/platform"
	"github.com/crossbooks/crossbooks/internal/webhook"
	"github.com/crossbooks/crossbooks/jobs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	api := platform.NewClient(cfg.PlatformURL, cfg.PlatformAPIKey)

	var cache exchange.Cache = exchange.NewMemoryCache()
	if cfg.RatesCacheStore == "redis" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("redis ping", slog.Any("error", err))
		}
		cache = exchange.NewRedisCache(redisClient, logger)
	}
	rates := exchange.NewService(cache, exchange.NewFetcher(logger), cfg.RatesCacheTTL)

	endpoints := books.EndpointOptions{
		DefaultURL: cfg.DefaultRatesURL(),
		Agent:      mirror.AgentID,
	}
	dispatcher := dispatch.NewDispatcher(api, rates, dispatch.Options{
		BatchSize: cfg.FanoutBatchSize,
		Endpoints: endpoints,
	}, logger)

	queue, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init queue client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := queue.Close(); err != nil {
			logger.Warn("queue close", slog.Any("error", err))
		}
	}()

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		WebhookHandler: webhook.NewHandler(dispatcher, queue, logger),
		JobHandler:     jobs.NewHandler(inspector, logger),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
