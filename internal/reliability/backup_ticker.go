package reliability

import (
	"context"
	"fmt"

	"github.com/aristath/watchpost/internal/config"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// defaultRetentionDays bounds how long an R2 backup is kept before
// RotateOldBackups considers deleting it (always subject to the
// minBackupsToKeep floor).
const defaultRetentionDays = 30

// BackupTicker drives the R2 backup-and-rotate cycle on the interval named
// by BACKUP_INTERVAL_MINUTES, reading config.Config.R2Configured to decide
// whether backups run at all. Adapted from the teacher's job-queue-driven
// R2BackupJob/R2BackupRotationJob pair: their hand-rolled
// shouldRunDaily/hasBeenMoreThan bookkeeping is replaced outright by a
// cron "@every" schedule built from the configured interval, since nothing
// else in this codebase polls a generic job queue the way the teacher's
// scheduler did.
type BackupTicker struct {
	cfg     *config.Config
	service *R2BackupService
	log     zerolog.Logger
	cron    *cron.Cron
}

// NewBackupTicker builds a BackupTicker. service may be nil, in which case
// Start is a no-op (R2 backups are an optional, configured-in deployment
// feature — see config.Config.R2Configured).
func NewBackupTicker(cfg *config.Config, service *R2BackupService, log zerolog.Logger) *BackupTicker {
	return &BackupTicker{
		cfg:     cfg,
		service: service,
		log:     log.With().Str("component", "backup_ticker").Logger(),
		cron:    cron.New(),
	}
}

// Start schedules the backup-and-rotate tick and returns immediately. It is
// a no-op when the service is unconfigured or R2 credentials are absent.
func (t *BackupTicker) Start(ctx context.Context) {
	if t.service == nil || t.cfg == nil || !t.cfg.R2Configured() {
		return
	}

	interval := t.cfg.BackupIntervalMin
	if interval < 1 {
		interval = 60
	}
	schedule := fmt.Sprintf("@every %dm", interval)

	_, err := t.cron.AddFunc(schedule, func() { t.tick(ctx) })
	if err != nil {
		t.log.Error().Err(err).Msg("schedule backup ticker")
		return
	}
	t.cron.Start()

	go func() {
		<-ctx.Done()
		<-t.cron.Stop().Done()
	}()
}

// Stop blocks until any in-flight tick completes and the schedule halts.
func (t *BackupTicker) Stop() {
	<-t.cron.Stop().Done()
}

func (t *BackupTicker) tick(ctx context.Context) {
	t.log.Info().Msg("starting scheduled backup")
	info, err := t.service.Run(ctx)
	if err != nil {
		t.log.Error().Err(err).Msg("scheduled backup failed")
	} else {
		t.log.Info().Str("filename", info.Filename).Int64("bytes", info.SizeBytes).Msg("scheduled backup complete")
	}

	if err := t.service.RotateOldBackups(ctx, defaultRetentionDays); err != nil {
		t.log.Error().Err(err).Msg("backup rotation failed")
	}
}
