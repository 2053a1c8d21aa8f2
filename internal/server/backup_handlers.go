package server

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/aristath/watchpost/internal/reliability"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// BackupHandlers exposes the R2 backup/restore cycle to the admin surface,
// adapted from the teacher's R2BackupHandlers: the work-queue indirection
// (ExecuteNow("maintenance:r2-backup", ...)) is gone since this codebase has
// no generic job queue, so a manual trigger runs the service directly; the
// systemctl-restart side effect on restore staging is gone too, since a
// staged restore here is applied on the next process startup
// (RestoreService.ExecuteStagedRestore), not by the HTTP handler itself.
type BackupHandlers struct {
	backupService  *reliability.R2BackupService
	restoreService *reliability.RestoreService
	log            zerolog.Logger
}

// NewBackupHandlers builds BackupHandlers. Either service may be nil when
// R2 credentials are not configured for this deployment; each handler
// reports 503 in that case rather than panicking.
func NewBackupHandlers(backupService *reliability.R2BackupService, restoreService *reliability.RestoreService, log zerolog.Logger) *BackupHandlers {
	return &BackupHandlers{
		backupService:  backupService,
		restoreService: restoreService,
		log:            log.With().Str("handler", "backup").Logger(),
	}
}

// RegisterRoutes mounts the backup/restore endpoints under /api/v1/admin,
// all gated by RequireAdminKey at the caller.
func (h *BackupHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/backups", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Post("/", h.handleCreate)
		r.Delete("/{filename}", h.handleDelete)
		r.Post("/restore", h.handleStageRestore)
		r.Delete("/restore", h.handleCancelRestore)
	})
}

func (h *BackupHandlers) handleList(w http.ResponseWriter, r *http.Request) {
	if h.backupService == nil {
		writeError(w, http.StatusServiceUnavailable, "BACKUP_NOT_CONFIGURED", "r2 backup is not configured")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	backups, err := h.backupService.List(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("list backups")
		internalError(w, "failed to list backups")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"backups": backups, "count": len(backups)})
}

func (h *BackupHandlers) handleCreate(w http.ResponseWriter, r *http.Request) {
	if h.backupService == nil {
		writeError(w, http.StatusServiceUnavailable, "BACKUP_NOT_CONFIGURED", "r2 backup is not configured")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Minute)
	defer cancel()

	info, err := h.backupService.Run(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("manual backup failed")
		internalError(w, fmt.Sprintf("backup failed: %v", err))
		return
	}

	h.log.Info().Str("filename", info.Filename).Msg("manual backup triggered")
	writeJSON(w, http.StatusCreated, info)
}

func (h *BackupHandlers) handleDelete(w http.ResponseWriter, r *http.Request) {
	if h.backupService == nil {
		writeError(w, http.StatusServiceUnavailable, "BACKUP_NOT_CONFIGURED", "r2 backup is not configured")
		return
	}

	filename, err := validateBackupFilename(chi.URLParam(r, "filename"))
	if err != nil {
		badRequest(w, "INVALID_FILENAME", err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), time.Minute)
	defer cancel()

	if err := h.backupService.Delete(ctx, filename); err != nil {
		h.log.Error().Err(err).Str("filename", filename).Msg("delete backup")
		internalError(w, "failed to delete backup")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *BackupHandlers) handleStageRestore(w http.ResponseWriter, r *http.Request) {
	if h.restoreService == nil {
		writeError(w, http.StatusServiceUnavailable, "RESTORE_NOT_CONFIGURED", "restore is not configured")
		return
	}

	var req struct {
		Filename string `json:"filename"`
	}
	if !decodeJSON(r, &req) {
		malformedJSON(w)
		return
	}

	filename, err := validateBackupFilename(req.Filename)
	if err != nil {
		badRequest(w, "INVALID_FILENAME", err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Minute)
	defer cancel()

	if err := h.restoreService.StageRestoreFromR2(ctx, filename); err != nil {
		h.log.Error().Err(err).Str("filename", filename).Msg("stage restore")
		internalError(w, fmt.Sprintf("failed to stage restore: %v", err))
		return
	}

	h.log.Info().Str("filename", filename).Msg("restore staged, will apply on next startup")
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "staged",
		"message": "restore staged; will be applied automatically on next startup",
	})
}

func (h *BackupHandlers) handleCancelRestore(w http.ResponseWriter, r *http.Request) {
	if h.restoreService == nil {
		writeError(w, http.StatusServiceUnavailable, "RESTORE_NOT_CONFIGURED", "restore is not configured")
		return
	}

	if err := h.restoreService.CancelStagedRestore(); err != nil {
		h.log.Error().Err(err).Msg("cancel staged restore")
		internalError(w, "failed to cancel staged restore")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// validateBackupFilename guards against path traversal and enforces the
// archive naming convention backup_service.go writes.
func validateBackupFilename(filename string) (string, error) {
	if filename == "" {
		return "", fmt.Errorf("filename is empty")
	}

	clean := filepath.Base(filename)
	if strings.Contains(filename, "..") || strings.ContainsAny(filename, "/\\") {
		return "", fmt.Errorf("invalid filename: contains path separators")
	}
	if !strings.HasPrefix(clean, "watchpost-backup-") || !strings.HasSuffix(clean, ".tar.gz") {
		return "", fmt.Errorf("invalid filename format")
	}
	if len(clean) > 255 {
		return "", fmt.Errorf("filename too long")
	}
	return clean, nil
}
