// Package main runs the background persistence worker (chat history and
// stream wrap-ups).
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/campus-music/backend/config"
	"github.com/campus-music/backend/internal/chat"
	"github.com/campus-music/backend/internal/streams"
	"github.com/campus-music/backend/internal/worker"
	"github.com/campus-music/backend/pkg/database"
	"github.com/campus-music/backend/pkg/queue"
	"github.com/campus-music/backend/pkg/redis"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	chatRepo := chat.NewRepository(pool)
	streamRepo := streams.NewRepository(pool, rdb.Client)
	jobQueue := queue.NewQueue(rdb.Client, logger)
	processor := worker.NewProcessor(chatRepo, streamRepo, jobQueue, logger)

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		cancel()
	}()

	logger.Info("persistence worker started")
	processor.Run(runCtx)
	logger.Info("persistence worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
