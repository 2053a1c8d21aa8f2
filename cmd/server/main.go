// Package main is the entry point for the Watchpost uptime monitoring
// service: an agent-native HTTP API that schedules probes, evaluates
// status/incident transitions, fans out notifications, and streams
// events over SSE, backed by a single durable SQLite store.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aristath/watchpost/internal/auth"
	"github.com/aristath/watchpost/internal/config"
	"github.com/aristath/watchpost/internal/events"
	"github.com/aristath/watchpost/internal/incident"
	"github.com/aristath/watchpost/internal/notify"
	"github.com/aristath/watchpost/internal/reliability"
	"github.com/aristath/watchpost/internal/scheduler"
	"github.com/aristath/watchpost/internal/server"
	"github.com/aristath/watchpost/internal/store"
	"github.com/aristath/watchpost/pkg/logger"
	"github.com/rs/zerolog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("failed to load configuration")
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	log.Info().Msg("starting watchpost")

	dataDir := filepath.Dir(cfg.DatabasePath)

	// Restores are staged by the backup subsystem and applied here, before
	// any connection to the live store is opened, so a restore can never
	// race an in-flight write.
	var r2Client *reliability.R2Client
	if cfg.R2Configured() {
		r2Client, err = reliability.NewR2Client(cfg.R2AccountID, cfg.R2AccessKeyID, cfg.R2SecretAccessKey, cfg.R2Bucket, log)
		if err != nil {
			log.Error().Err(err).Msg("failed to build R2 client, backups/restore disabled")
		}
	}
	restoreSvc := reliability.NewRestoreService(r2Client, dataDir, log)
	if pending, err := restoreSvc.CheckPendingRestore(); err != nil {
		log.Error().Err(err).Msg("failed to check for pending restore")
	} else if pending {
		log.Warn().Msg("pending restore detected, executing staged restore")
		if err := restoreSvc.ExecuteStagedRestore(); err != nil {
			log.Fatal().Err(err).Msg("failed to execute staged restore")
		}
		log.Info().Msg("restore completed, proceeding with normal startup")
	}

	db, err := store.Open(store.Config{Path: cfg.DatabasePath, Profile: store.ProfileLedger})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate store")
	}

	seedAdminKey(db, cfg, log)

	bus := events.NewBus(log, events.DefaultCapacity)
	defer bus.Close()

	notifier := notify.NewDispatcher(db, cfg, log)

	sched := scheduler.New(db, bus, notifier, log)
	ticker := incident.NewTicker(db, bus, notifier, cfg, log)

	var backupTicker *reliability.BackupTicker
	var r2BackupService *reliability.R2BackupService
	if cfg.R2Configured() && r2Client != nil {
		backupService := reliability.NewBackupService(cfg.DatabasePath)
		r2BackupService = reliability.NewR2BackupService(r2Client, backupService, dataDir, log)
		backupTicker = reliability.NewBackupTicker(cfg, r2BackupService, log)
	} else {
		log.Info().Msg("R2 not configured, scheduled backups disabled")
	}

	router := server.NewRouter(server.Dependencies{
		DB:             db,
		Bus:            bus,
		Notifier:       notifier,
		BackupService:  r2BackupService,
		RestoreService: restoreSvc,
		Config:         cfg,
		Log:            log,
	})

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched.Start(ctx)
	log.Info().Msg("scheduler started")

	ticker.Start(ctx)
	log.Info().Msg("incident ticker started")

	if backupTicker != nil {
		backupTicker.Start(ctx)
		log.Info().Msg("backup ticker started")
	}

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("http server listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutdown signal received")

	cancel()
	sched.Stop()
	ticker.Stop()
	if backupTicker != nil {
		backupTicker.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server forced to shutdown")
	}

	log.Info().Msg("watchpost stopped")
}

// seedAdminKey stores the hash of ADMIN_KEY as the admin_key_hash setting
// when ADMIN_KEY is set and no admin_key_hash exists yet, so a fresh
// deployment has a working admin key without calling an API first. An
// existing admin_key_hash is left unchanged.
func seedAdminKey(db *store.DB, cfg *config.Config, log zerolog.Logger) {
	if cfg.AdminKey == "" {
		return
	}
	ctx := context.Background()
	if _, err := db.GetSetting(ctx, "admin_key_hash"); err == nil {
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		log.Error().Err(err).Msg("failed to read admin_key_hash setting")
		return
	}
	if err := db.SetSetting(ctx, "admin_key_hash", auth.Hash(cfg.AdminKey)); err != nil {
		log.Error().Err(err).Msg("failed to seed admin key from ADMIN_KEY")
		return
	}
	log.Info().Msg("admin key seeded from ADMIN_KEY")
}
