package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"detectweb/internal/config"
	"detectweb/internal/detector"
	"detectweb/internal/repository"
	"detectweb/internal/server"
	"detectweb/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("CRITICAL: Failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		os.Stderr.WriteString("CRITICAL: Failed to initialize logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.S3.Enabled {
		store, err := repository.NewS3Repository(ctx, &cfg.S3, log)
		if err != nil {
			log.Fatal("Failed to create S3 repository", zap.Error(err))
		}
		if err := detector.EnsureWeights(ctx, store, cfg.S3.ModelKey, cfg.Detector.Model, log); err != nil {
			log.Fatal("Failed to fetch model weights",
				zap.String("bucket", cfg.S3.BucketName),
				zap.String("key", cfg.S3.ModelKey),
				zap.Error(err))
		}
	}

	det, err := detector.New(&cfg.Detector, log)
	if err != nil {
		log.Fatal("Failed to create detector",
			zap.String("backend", cfg.Detector.Backend),
			zap.String("model", cfg.Detector.Model),
			zap.Error(err))
	}

	gin.SetMode(gin.ReleaseMode)

	srv, err := server.New(cfg, det, log)
	if err != nil {
		det.Close()
		log.Fatal("Failed to create server", zap.Error(err))
	}

	go func() {
		if err := srv.Run(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down gracefully...")

	start := time.Now()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited", zap.Duration("shutdown", time.Since(start)))
}
