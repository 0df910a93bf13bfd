package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"scanattend/internal/attendance"
	"scanattend/internal/config"
	"scanattend/internal/logging"
	"scanattend/internal/queue"
	"scanattend/internal/store"
)

// Worker consumes attendance events and drops the month summaries they make
// stale.
func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.QueueBackend == "memory" {
		logger.Error("worker needs QUEUE_BACKEND=redis; the memory queue is consumed inside the api process")
		os.Exit(1)
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()
	if !redisClient.Healthy(ctx) {
		logger.Warn("redis not reachable yet, consumer will keep retrying", "addr", cfg.RedisAddr)
	}

	q := queue.NewRedisQueue(redisClient.Client, queue.DefaultKey)
	cache := attendance.NewRedisMonthCache(redisClient.Client, cfg.MonthCacheTTL)

	messages, err := q.Consume(ctx)
	if err != nil {
		logger.Error("queue consume init failed", "error", err)
		os.Exit(1)
	}

	logger.Info("worker started, waiting for messages", "queue", queue.DefaultKey)
	applied := attendance.ConsumeRecorded(ctx, messages, cache, logger)
	logger.Info("worker stopped", "applied", applied)
}
