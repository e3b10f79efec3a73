// Package main provides the API server entry point for the photostudio backend.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sasha9954/photostudio-core/internal/adapter"
	"github.com/sasha9954/photostudio-core/internal/api"
	"github.com/sasha9954/photostudio-core/internal/config"
	"github.com/sasha9954/photostudio-core/internal/job"
	"github.com/sasha9954/photostudio-core/internal/logging"
	"github.com/sasha9954/photostudio-core/internal/service"
	"github.com/sasha9954/photostudio-core/internal/storage"
	"github.com/sasha9954/photostudio-core/internal/worker"
)

func main() {
	fmt.Println("Photostudio API Server")

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]any{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
		"driver": cfg.Database.Driver,
	}).Info("Structured logging initialized")

	store, err := storage.Open(&cfg.Database)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open database")
	}
	defer store.Close()

	if err := storage.RunMigrations(cfg.Database.Driver, storage.DatabaseURL(&cfg.Database)); err != nil {
		logger.WithError(err).Fatal("Failed to run migrations")
	}

	var balanceCache service.BalanceCache
	if cfg.RedisEnabled() {
		redis, err := storage.NewRedisCache(&cfg.Database.Redis)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to Redis")
		}
		defer redis.Close()
		balanceCache = storage.NewBalanceCache(redis, cfg.Cache.BalanceTTL)
		logger.Info("Redis balance cache enabled")
	}
	ledger := service.NewLedgerService(store, balanceCache)

	artifacts, closeArtifacts := openArtifactStore(cfg, logger)
	defer closeArtifacts()

	generator := adapter.NewGeminiClient(&adapter.GeminiConfig{
		APIKey:  cfg.Engine.GeminiAPIKey,
		BaseURL: cfg.Engine.GeminiBaseURL,
		Model:   cfg.Engine.GeminiImageModel,
		Timeout: cfg.Engine.Timeout,
		Debug:   cfg.Engine.Debug || cfg.Debug,
	})
	if cfg.Engine.GeminiAPIKey == "" {
		logger.Warn("GEMINI_API_KEY is empty, generation jobs will fail and be refunded")
	}

	pool := worker.NewPool(cfg.Jobs.Workers)
	jobs := job.NewStore(store)
	locks := job.NewRunLock(store)
	runner, err := job.NewRunner(&job.RunnerConfig{
		Jobs:           jobs,
		Locks:          locks,
		Ledger:         ledger,
		Generator:      generator,
		Artifacts:      artifacts,
		Pool:           pool,
		LockTTL:        cfg.Jobs.LockTTL,
		CreditsPerUnit: cfg.Jobs.CreditsPerUnit,
		ResourceKeys:   cfg.Jobs.ResourceKeys,
		Heartbeat:      cfg.Jobs.Heartbeat,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create job runner")
	}

	janitor, err := worker.NewJanitor(&worker.JanitorConfig{
		Recoverer:    runner,
		Sessions:     store,
		Interval:     cfg.Janitor.Interval,
		RecoverAfter: cfg.Jobs.RecoverAfter,
		SessionTTL:   cfg.Janitor.SessionTTL,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create janitor")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := janitor.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start janitor")
	}

	serverConfig := &api.ServerConfig{
		Host:              cfg.Server.Host,
		Port:              cfg.Server.Port,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ShutdownTimeout:   10 * time.Second,
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		Burst:             cfg.RateLimit.Burst,
		Debug:             cfg.Debug,
	}
	server := api.NewServer(serverConfig, &api.Services{
		Ledger: ledger,
		Runner: runner,
		Jobs:   jobs,
		Locks:  locks,
		Health: store,
	})

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	logger.WithFields(map[string]any{
		"host":          cfg.Server.Host,
		"port":          cfg.Server.Port,
		"workers":       cfg.Jobs.Workers,
		"resource_keys": cfg.Jobs.ResourceKeys,
	}).Info("Server started successfully")

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		logger.WithError(err).Error("Server failed")
	}

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}
	if err := janitor.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Janitor did not stop cleanly")
	}
	// jobs cut off here stay queued/running and are refunded by the next start's recovery
	if err := pool.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Jobs still running at shutdown were cancelled")
	}

	logger.Info("Server exited")
}

// openArtifactStore picks GCS when a bucket is configured, otherwise the local directory
func openArtifactStore(cfg *config.Config, logger *logging.Logger) (storage.ArtifactStore, func()) {
	if cfg.Assets.GCSBucket != "" {
		gcs, err := storage.NewGCSArtifactStore(context.Background(), cfg.Assets.GCSBucket, cfg.Assets.GCSPrefix)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create GCS artifact store")
		}
		logger.WithField("bucket", cfg.Assets.GCSBucket).Info("Artifacts stored in GCS")
		return gcs, func() { _ = gcs.Close() }
	}

	local, err := storage.NewLocalArtifactStore(cfg.Assets.Dir, cfg.Server.PublicBaseURL)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create artifact directory")
	}
	return local, func() {}
}
