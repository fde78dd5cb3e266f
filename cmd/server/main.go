// Package main runs the ingestion HTTP server: webhook endpoints, the
// management API and (when storage is configured) an embedded job worker.
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

	"github.com/meetingscribe/backend/config"
	"github.com/meetingscribe/backend/internal/auth"
	"github.com/meetingscribe/backend/internal/importer"
	"github.com/meetingscribe/backend/internal/integrations"
	"github.com/meetingscribe/backend/internal/middleware"
	"github.com/meetingscribe/backend/internal/recordings"
	"github.com/meetingscribe/backend/internal/worker"
	"github.com/meetingscribe/backend/internal/zoom"
	"github.com/meetingscribe/backend/pkg/crypto"
	"github.com/meetingscribe/backend/pkg/database"
	"github.com/meetingscribe/backend/pkg/queue"
	"github.com/meetingscribe/backend/pkg/redis"
	"github.com/meetingscribe/backend/pkg/response"
	"github.com/meetingscribe/backend/pkg/storage"
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

	cipher, err := crypto.NewSecretboxCipher(cfg.Crypto.Key)
	if err != nil {
		logger.Fatal("token encryption key", zap.Error(err))
	}

	var s3Client *storage.S3
	if cfg.AWS.Region != "" {
		s3Cfg := storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			RecordingsBucket:     cfg.AWS.RecordingsBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}
		s3Client, err = storage.NewS3(ctx, s3Cfg, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		}
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)

	// One limiter per process: every outbound provider call shares the quota.
	limiter := zoom.NewRateLimiter(cfg.Zoom.RateLimit, time.Minute)

	integRepo := integrations.NewRepository(pool)
	vault := integrations.NewVault(integRepo, cipher, cfg.Zoom, logger)
	zoomClient := zoom.NewClient(vault, limiter, cfg.Zoom.APIBaseURL, logger)

	recRepo := recordings.NewRepository(pool)
	jobQueue := queue.NewQueue(pool, logger)

	integHandler := integrations.NewHandler(integRepo, logger)
	recHandler := recordings.NewHandler(recRepo, s3Client, logger)
	webhookHandler := recordings.NewWebhookHandler(integRepo, recRepo, jobQueue, cfg.Zoom.WebhookSecret, logger)

	importSvc := importer.NewImporter(zoomClient, recRepo, integRepo, jobQueue, cfg.Import.PageSize, cfg.Import.EnqueueDelay, logger)
	importHandler := importer.NewHandler(importSvc, integRepo, jobQueue, rdb.Client, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Webhooks (no JWT; signature verified in the handler)
	router.GET("/webhooks/zoom", webhookHandler.Challenge)
	router.POST("/webhooks/zoom", webhookHandler.Receive)

	api := router.Group("/api")
	api.Use(middleware.JWT(jwtService))
	{
		api.POST("/integrations", integHandler.Connect)
		api.GET("/integrations", integHandler.List)
		api.DELETE("/integrations/:id", integHandler.Disconnect)

		api.POST("/integrations/:id/import", importHandler.Start)
		api.GET("/integrations/:id/import", importHandler.Progress)
		api.DELETE("/integrations/:id/import", importHandler.Cancel)

		api.GET("/recordings", recHandler.List)
		api.GET("/recordings/:id", recHandler.Get)
		api.GET("/recordings/:id/download-url", recHandler.DownloadURL)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Embedded worker (recording import pipeline)
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	if s3Client != nil {
		processor := worker.NewProcessor(recRepo, zoomClient, s3Client, jobQueue, logger)
		wrk := worker.NewWorker(jobQueue, recRepo, cfg.Worker.PollInterval, cfg.Worker.BatchSize, cfg.Worker.JobTimeout, logger)
		wrk.Register(queue.JobTypeImportRecording, processor.Process)
		go wrk.Run(workerCtx)
		logger.Info("recording worker started")
	} else {
		logger.Warn("recording worker disabled (no storage configured)")
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	workerCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
