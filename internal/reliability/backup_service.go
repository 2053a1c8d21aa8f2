package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

// backupFilePrefix/backupFileLayout name the tar.gz archives this service
// writes to and lists from R2.
const (
	backupFilePrefix = "watchpost-backup-"
	backupFileLayout = "2006-01-02-150405"
	minBackupsToKeep = 3
)

// DatabaseMetadata describes one file included in a backup archive. Kept
// as a slice on BackupMetadata rather than a single field so a future
// split of the store across multiple files needs no format change.
type DatabaseMetadata struct {
	Name      string `json:"name"`
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum"`
}

// BackupMetadata is the manifest written alongside the database file(s)
// inside every backup archive, as backup-metadata.json.
type BackupMetadata struct {
	Timestamp        time.Time          `json:"timestamp"`
	Version          string             `json:"version"`
	WatchpostVersion string             `json:"watchpost_version"`
	Databases        []DatabaseMetadata `json:"databases"`
}

// BackupInfo describes one archive found in R2, as returned by List.
type BackupInfo struct {
	Filename  string
	Timestamp time.Time
	SizeBytes int64
}

// BackupService holds the path of the live store file. It has no methods
// of its own; R2BackupService.Run makes the local copy of that file which
// it then archives and uploads.
type BackupService struct {
	storePath string
}

// NewBackupService builds a BackupService for the store file at storePath.
func NewBackupService(storePath string) *BackupService {
	return &BackupService{storePath: storePath}
}

// R2BackupService drives the archive-and-upload cycle against Cloudflare
// R2, grounded on the local backup/rotation job pair the teacher ran
// through its job queue, adapted here to a single-database target
// (watchpost.sqlite) instead of the teacher's per-concern database split.
type R2BackupService struct {
	r2Client      *R2Client
	backupService *BackupService
	dataDir       string
	log           zerolog.Logger
}

// NewR2BackupService builds an R2BackupService. dataDir is scratch space
// for staging archives before upload.
func NewR2BackupService(r2Client *R2Client, backupService *BackupService, dataDir string, log zerolog.Logger) *R2BackupService {
	return &R2BackupService{
		r2Client:      r2Client,
		backupService: backupService,
		dataDir:       dataDir,
		log:           log.With().Str("service", "r2_backup").Logger(),
	}
}

// Run snapshots the store, archives it with its metadata manifest, and
// uploads the result to R2.
func (s *R2BackupService) Run(ctx context.Context) (BackupInfo, error) {
	if s.backupService == nil {
		return BackupInfo{}, fmt.Errorf("backup service not configured")
	}

	stagingDir := filepath.Join(s.dataDir, "backup-staging")
	if err := os.RemoveAll(stagingDir); err != nil {
		return BackupInfo{}, fmt.Errorf("clean staging dir: %w", err)
	}
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return BackupInfo{}, fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	dbDest := filepath.Join(stagingDir, "watchpost.sqlite")
	if err := copyFile(s.backupService.storePath, dbDest); err != nil {
		return BackupInfo{}, fmt.Errorf("snapshot store: %w", err)
	}

	info, err := os.Stat(dbDest)
	if err != nil {
		return BackupInfo{}, fmt.Errorf("stat snapshot: %w", err)
	}

	checksum, err := s.calculateChecksum(dbDest)
	if err != nil {
		return BackupInfo{}, fmt.Errorf("checksum snapshot: %w", err)
	}

	now := time.Now().UTC()
	metadata := BackupMetadata{
		Timestamp:        now,
		Version:          "1",
		WatchpostVersion: "0.1.0",
		Databases: []DatabaseMetadata{{
			Name:      "watchpost",
			Filename:  "watchpost.sqlite",
			SizeBytes: info.Size(),
			Checksum:  checksum,
		}},
	}
	metadataPath := filepath.Join(stagingDir, "backup-metadata.json")
	if err := writeJSONFile(metadataPath, metadata); err != nil {
		return BackupInfo{}, fmt.Errorf("write metadata: %w", err)
	}

	filename := backupFilePrefix + now.Format(backupFileLayout) + ".tar.gz"
	archivePath := filepath.Join(s.dataDir, filename)
	if err := s.createArchive(archivePath, stagingDir, []string{"watchpost.sqlite", "backup-metadata.json"}); err != nil {
		return BackupInfo{}, fmt.Errorf("create archive: %w", err)
	}
	defer os.Remove(archivePath)

	archiveInfo, err := os.Stat(archivePath)
	if err != nil {
		return BackupInfo{}, fmt.Errorf("stat archive: %w", err)
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return BackupInfo{}, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	if err := s.r2Client.Upload(ctx, filename, f, archiveInfo.Size()); err != nil {
		return BackupInfo{}, fmt.Errorf("upload archive: %w", err)
	}

	s.log.Info().Str("filename", filename).Int64("bytes", archiveInfo.Size()).Msg("backup uploaded to r2")
	return BackupInfo{Filename: filename, Timestamp: now, SizeBytes: archiveInfo.Size()}, nil
}

// List returns every backup archive currently in R2, newest first.
func (s *R2BackupService) List(ctx context.Context) ([]BackupInfo, error) {
	objs, err := s.r2Client.List(ctx, backupFilePrefix)
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}

	out := make([]BackupInfo, 0, len(objs))
	for _, obj := range objs {
		if obj.Key == nil {
			continue
		}
		ts, err := parseBackupTimestamp(*obj.Key)
		if err != nil {
			continue
		}
		var size int64
		if obj.Size != nil {
			size = *obj.Size
		}
		out = append(out, BackupInfo{Filename: *obj.Key, Timestamp: ts, SizeBytes: size})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

// Delete removes a single backup archive from R2 by filename, for the
// admin-triggered delete endpoint.
func (s *R2BackupService) Delete(ctx context.Context, filename string) error {
	if err := s.r2Client.Delete(ctx, filename); err != nil {
		return fmt.Errorf("delete backup %s: %w", filename, err)
	}
	return nil
}

// RotateOldBackups deletes backups older than retentionDays, always
// keeping at least minBackupsToKeep regardless of age. retentionDays <= 0
// disables rotation entirely.
func (s *R2BackupService) RotateOldBackups(ctx context.Context, retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}

	backups, err := s.List(ctx)
	if err != nil {
		return fmt.Errorf("list backups for rotation: %w", err)
	}
	if len(backups) <= minBackupsToKeep {
		return nil
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	deleted := 0
	for i := minBackupsToKeep; i < len(backups); i++ {
		if backups[i].Timestamp.After(cutoff) {
			continue
		}
		if err := s.r2Client.Delete(ctx, backups[i].Filename); err != nil {
			s.log.Warn().Err(err).Str("filename", backups[i].Filename).Msg("failed to delete old backup")
			continue
		}
		deleted++
	}
	s.log.Info().Int("deleted", deleted).Int("kept", len(backups)-deleted).Msg("backup rotation complete")
	return nil
}

func (s *R2BackupService) calculateChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil)), nil
}

func (s *R2BackupService) createArchive(archivePath, sourceDir string, filenames []string) error {
	out, err := os.Create(archivePath)
	if err != nil {
		return err
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	defer gz.Close()
	tw := tar.NewWriter(gz)
	defer tw.Close()

	for _, name := range filenames {
		if err := addFileToArchive(tw, filepath.Join(sourceDir, name), name); err != nil {
			return err
		}
	}
	return nil
}

func addFileToArchive(tw *tar.Writer, path, nameInArchive string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = nameInArchive
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

func writeJSONFile(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseBackupTimestamp(filename string) (time.Time, error) {
	base := filepath.Base(filename)
	const suffix = ".tar.gz"
	if len(base) < len(backupFilePrefix)+len(suffix) {
		return time.Time{}, fmt.Errorf("unexpected backup filename: %s", filename)
	}
	stamp := base[len(backupFilePrefix) : len(base)-len(suffix)]
	return time.Parse(backupFileLayout, stamp)
}
