// Package main runs the Campus Music live-streaming signaling server.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/campus-music/backend/config"
	"github.com/campus-music/backend/internal/auth"
	"github.com/campus-music/backend/internal/chat"
	"github.com/campus-music/backend/internal/middleware"
	"github.com/campus-music/backend/internal/models"
	"github.com/campus-music/backend/internal/rtcconfig"
	"github.com/campus-music/backend/internal/signaling"
	"github.com/campus-music/backend/internal/streams"
	"github.com/campus-music/backend/pkg/database"
	"github.com/campus-music/backend/pkg/queue"
	"github.com/campus-music/backend/pkg/redis"
	"github.com/campus-music/backend/pkg/response"
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

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)

	// Auth
	authRepo := auth.NewRepository(pool)
	authHandler := auth.NewHandler(authRepo, jwtService, logger)

	// Stream records (the signaling layer's storage collaborator)
	streamRepo := streams.NewRepository(pool, rdb.Client)
	chatRepo := chat.NewRepository(pool)
	chatHandler := chat.NewHandler(chatRepo, logger)

	// Signaling: registry, synchronizer, coordinator
	jobQueue := queue.NewQueue(rdb.Client, logger)
	archiver := chatQueueArchiver{queue: jobQueue}
	wrapUpStore := wrapUpStore{inner: streamRepo, queue: jobQueue, logger: logger}

	registry := signaling.NewRegistry(logger)
	synchronizer := signaling.NewSynchronizer(wrapUpStore, archiver, logger)
	coordinator := signaling.NewCoordinator(registry, streamRepo, synchronizer, logger)

	streamHandler := streams.NewHandler(streamRepo, coordinator, logger)
	iceHandler := rtcconfig.NewHandler(cfg.WebRTC.ICEUrls)

	authenticate := func(token string) (userID, displayName string, err error) {
		claims, err := jwtService.Validate(token)
		if err != nil {
			return "", "", err
		}
		return claims.UserID.String(), claims.DisplayName, nil
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Auth (public)
	authGroup := router.Group("/auth")
	{
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/register", authHandler.Register)
	}

	// ICE configuration for clients (public)
	router.GET("/webrtc/ice-servers", iceHandler.GetICEServers)

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		api.POST("/streams", middleware.RequireRole(string(models.RoleArtist), string(models.RoleAdmin)), streamHandler.Create)
		api.GET("/streams", streamHandler.ListLive)
		api.GET("/streams/:id", streamHandler.GetByID)
		api.GET("/streams/:id/viewers", streamHandler.ViewerCount)
		api.GET("/streams/:id/chat", chatHandler.ListByStream)
		api.POST("/streams/:id/end", streamHandler.End)
	}

	// WebSocket (token in query; no Authorization header required)
	router.GET("/ws/live", signaling.ServeLive(coordinator, logger, authenticate))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	syncCtx, syncCancel := context.WithCancel(context.Background())
	defer syncCancel()
	go synchronizer.Run(syncCtx)

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	syncCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

// chatQueueArchiver hands chat messages to the Redis job queue; the worker
// binary writes them to Postgres.
type chatQueueArchiver struct {
	queue *queue.Queue
}

func (a chatQueueArchiver) ArchiveChatMessage(ctx context.Context, m signaling.Chat) error {
	return a.queue.EnqueueChatMessage(ctx, queue.ChatMessagePayload{
		StreamID:  m.StreamID,
		UserID:    m.UserID,
		UserName:  m.UserName,
		Body:      m.Message,
		Timestamp: m.Timestamp,
	})
}

// wrapUpStore decorates the stream repository so that ending a stream also
// enqueues the wrap-up job for the worker.
type wrapUpStore struct {
	inner  signaling.StreamStore
	queue  *queue.Queue
	logger *zap.Logger
}

func (w wrapUpStore) MarkStreamLive(ctx context.Context, streamID string) error {
	return w.inner.MarkStreamLive(ctx, streamID)
}

func (w wrapUpStore) UpdateViewerCount(ctx context.Context, streamID string, count int) error {
	return w.inner.UpdateViewerCount(ctx, streamID, count)
}

func (w wrapUpStore) MarkStreamEnded(ctx context.Context, streamID string, peakViewers int) error {
	if err := w.queue.EnqueueStreamWrapUp(ctx, queue.StreamWrapUpPayload{StreamID: streamID}); err != nil {
		w.logger.Warn("enqueue stream wrap-up", zap.String("stream_id", streamID), zap.Error(err))
	}
	return w.inner.MarkStreamEnded(ctx, streamID, peakViewers)
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
