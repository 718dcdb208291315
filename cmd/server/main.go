package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/meridian/newsgraph/internal/config"
	"github.com/meridian/newsgraph/internal/di"
	"github.com/meridian/newsgraph/internal/scheduler"
	"github.com/meridian/newsgraph/internal/server"
	"github.com/meridian/newsgraph/pkg/logger"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Load configuration first so the log level is right from the start
	cfg, err := config.Load()
	if err != nil {
		logger.New(logger.Config{Level: "info", Pretty: true}).
			Error().Err(err).Msg("Configuration validation failed")
		return 2
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().Int("workers", cfg.Workers).Msg("Starting newsgraph")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	container, err := di.Build(ctx, cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize services")
		return 1
	}
	defer container.Close()

	// Background jobs
	sched := scheduler.New(log)
	if err := registerJobs(sched, container, log); err != nil {
		log.Error().Err(err).Msg("Failed to register jobs")
		return 1
	}
	sched.Start()
	defer sched.Stop()

	// HTTP server
	srv := server.New(server.Config{
		Port:      cfg.Port,
		DevMode:   cfg.DevMode,
		Log:       log,
		Config:    cfg,
		Container: container,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("Server failed")
			return 1
		}
	case <-quit:
		log.Info().Msg("Shutting down server...")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
		return 1
	}

	log.Info().Msg("Server stopped")
	return 0
}

func registerJobs(sched *scheduler.Scheduler, container *di.Container, log zerolog.Logger) error {
	if err := sched.AddJob("17 * * * *", scheduler.NewReconcileJob(container.Reconciler)); err != nil {
		return err
	}
	if container.BackupService != nil {
		if err := sched.AddJob("0 3 * * *", scheduler.NewBackupJob(container.BackupService)); err != nil {
			return err
		}
	}
	if container.EmbeddingCache != nil {
		if err := sched.AddJob("@daily", scheduler.NewCacheCleanupJob(container.EmbeddingCache, log)); err != nil {
			return err
		}
	}
	return nil
}
