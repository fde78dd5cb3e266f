// Package main runs a standalone recording worker: it claims import jobs from
// the durable queue and processes them, with no HTTP surface. Deploy it to
// scale processing independently of the API server.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/meetingscribe/backend/config"
	"github.com/meetingscribe/backend/internal/integrations"
	"github.com/meetingscribe/backend/internal/recordings"
	"github.com/meetingscribe/backend/internal/worker"
	"github.com/meetingscribe/backend/internal/zoom"
	"github.com/meetingscribe/backend/pkg/crypto"
	"github.com/meetingscribe/backend/pkg/database"
	"github.com/meetingscribe/backend/pkg/queue"
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

	cipher, err := crypto.NewSecretboxCipher(cfg.Crypto.Key)
	if err != nil {
		logger.Fatal("token encryption key", zap.Error(err))
	}

	s3Cfg := storage.S3Config{
		Region:               cfg.AWS.Region,
		AccessKeyID:          cfg.AWS.AccessKeyID,
		SecretAccessKey:      cfg.AWS.SecretAccessKey,
		RecordingsBucket:     cfg.AWS.RecordingsBucket,
		PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
	}
	s3Client, err := storage.NewS3(ctx, s3Cfg, logger)
	if err != nil {
		logger.Fatal("s3", zap.Error(err))
	}

	limiter := zoom.NewRateLimiter(cfg.Zoom.RateLimit, time.Minute)

	integRepo := integrations.NewRepository(pool)
	vault := integrations.NewVault(integRepo, cipher, cfg.Zoom, logger)
	zoomClient := zoom.NewClient(vault, limiter, cfg.Zoom.APIBaseURL, logger)

	recRepo := recordings.NewRepository(pool)
	jobQueue := queue.NewQueue(pool, logger)

	processor := worker.NewProcessor(recRepo, zoomClient, s3Client, jobQueue, logger)
	wrk := worker.NewWorker(jobQueue, recRepo, cfg.Worker.PollInterval, cfg.Worker.BatchSize, cfg.Worker.JobTimeout, logger)
	wrk.Register(queue.JobTypeImportRecording, processor.Process)

	runCtx, cancel := context.WithCancel(context.Background())
	go wrk.Run(runCtx)
	logger.Info("worker started",
		zap.Duration("poll_interval", cfg.Worker.PollInterval),
		zap.Int("batch_size", cfg.Worker.BatchSize),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
