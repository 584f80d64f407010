package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/crossbooks/crossbooks/internal/app"
	"github.com/crossbooks/crossbooks/internal/books"
	"github.com/crossbooks/crossbooks/internal/exchange"
	"github.com/crossbooks/crossbooks/internal/gainloss"
	"github.com/crossbooks/crossbooks/internal/mirror"
	"github.com/crossbooks/crossbooks/internal/platform"
	"github.com/crossbooks/crossbooks/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}

	api := platform.NewClient(cfg.PlatformURL, cfg.PlatformAPIKey)

	var cache exchange.Cache = exchange.NewMemoryCache()
	if cfg.RatesCacheStore == "redis" {
		cache = exchange.NewRedisCache(redisClient, logger)
	}
	rates := exchange.NewService(cache, exchange.NewFetcher(logger), cfg.RatesCacheTTL)

	endpoints := books.EndpointOptions{
		DefaultURL: cfg.DefaultRatesURL(),
		Agent:      mirror.AgentID,
	}
	reconciler := gainloss.NewReconciler(api, rates, endpoints, logger)
	gainLossJob := jobs.NewGainLossUpdateJob(reconciler, logger)

	cron, err := gainLossSchedule(cfg)
	if err != nil {
		logger.Error("build gain/loss schedule", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskGainLossUpdate, Handler: gainLossJob.Handle},
		},
		Cron: cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("starting worker", slog.String("redis", cfg.RedisAddr))
	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

// gainLossSchedule builds one cron registration per configured book. Tasks
// carry no date, so each run reconciles as of the day it fires.
func gainLossSchedule(cfg *app.Config) ([]jobs.CronRegistration, error) {
	if cfg.GainLossCron == "" {
		return nil, nil
	}
	var cron []jobs.CronRegistration
	for _, bookID := range cfg.GainLossBooks {
		bookID = strings.TrimSpace(bookID)
		if bookID == "" {
			continue
		}
		task, err := jobs.NewGainLossUpdateTask(jobs.GainLossPayload{BookID: bookID})
		if err != nil {
			return nil, err
		}
		cron = append(cron, jobs.CronRegistration{
			Spec:    cfg.GainLossCron,
			Task:    task,
			Options: []asynq.Option{asynq.Queue(jobs.QueueDefault)},
		})
	}
	return cron, nil
}
