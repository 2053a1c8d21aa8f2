package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite" // SQLite driver
)

// RestoreService applies a staged backup back onto the store's data
// directory, using the two-phase stage/apply split so a bad download or a
// crash mid-copy never corrupts a running store.
type RestoreService struct {
	r2Client *R2Client
	dataDir  string
	log      zerolog.Logger
}

// RestoreFlag records a restore staged by StageRestoreFromR2, consumed by
// ExecuteStagedRestore on the next process startup. Databases carries the
// same per-file manifest entries the backup was written with, so restore
// never has to guess a filename from a database name.
type RestoreFlag struct {
	BackupFilename string             `json:"backup_filename"`
	StagedAt       time.Time          `json:"staged_at"`
	Databases      []DatabaseMetadata `json:"databases"`
}

// NewRestoreService builds a RestoreService rooted at dataDir.
func NewRestoreService(r2Client *R2Client, dataDir string, log zerolog.Logger) *RestoreService {
	return &RestoreService{
		r2Client: r2Client,
		dataDir:  dataDir,
		log:      log.With().Str("service", "restore").Logger(),
	}
}

// CheckPendingRestore reports whether a restore was staged and is waiting
// to be applied.
func (s *RestoreService) CheckPendingRestore() (bool, error) {
	flagPath := filepath.Join(s.dataDir, ".pending-restore")
	_, err := os.Stat(flagPath)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check pending restore flag: %w", err)
	}
	return true, nil
}

// StageRestoreFromR2 downloads filename from R2, validates the extracted
// store file against its manifest, and writes a restore flag for
// ExecuteStagedRestore to pick up on the next startup. Phase 1 of the
// two-phase restore.
func (s *RestoreService) StageRestoreFromR2(ctx context.Context, filename string) error {
	s.log.Info().Str("filename", filename).Msg("staging restore from r2")
	startTime := time.Now()

	stagingDir := filepath.Join(s.dataDir, "restore-staging")
	if err := os.RemoveAll(stagingDir); err != nil {
		return fmt.Errorf("clean staging directory: %w", err)
	}
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return fmt.Errorf("create staging directory: %w", err)
	}

	archivePath := filepath.Join(stagingDir, filename)
	archiveFile, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("create archive file: %w", err)
	}

	writerAt := &FileWriterAt{File: archiveFile, Offset: 0}
	bytesDownloaded, err := s.r2Client.Download(ctx, filename, writerAt)
	archiveFile.Close()
	if err != nil {
		os.RemoveAll(stagingDir)
		return fmt.Errorf("download from r2: %w", err)
	}
	s.log.Info().Str("filename", filename).Int64("bytes", bytesDownloaded).Msg("downloaded backup")

	if err := s.extractArchive(archivePath, stagingDir); err != nil {
		os.RemoveAll(stagingDir)
		return fmt.Errorf("extract archive: %w", err)
	}

	if err := s.validateStagedBackup(stagingDir); err != nil {
		os.RemoveAll(stagingDir)
		return fmt.Errorf("validate staged backup: %w", err)
	}

	metadataPath := filepath.Join(stagingDir, "backup-metadata.json")
	metadata, err := s.readMetadata(metadataPath)
	if err != nil {
		os.RemoveAll(stagingDir)
		return fmt.Errorf("read metadata: %w", err)
	}

	flag := RestoreFlag{
		BackupFilename: filename,
		StagedAt:       time.Now().UTC(),
		Databases:      metadata.Databases,
	}

	flagPath := filepath.Join(s.dataDir, ".pending-restore")
	if err := s.writeRestoreFlag(flagPath, flag); err != nil {
		os.RemoveAll(stagingDir)
		return fmt.Errorf("write restore flag: %w", err)
	}

	s.log.Info().
		Dur("duration_ms", time.Since(startTime)).
		Str("filename", filename).
		Int("databases", len(flag.Databases)).
		Msg("restore staged, restart service to apply")

	return nil
}

// ExecuteStagedRestore applies a previously staged restore: it copies the
// current store file(s) aside into a safety backup, then overwrites them
// with the staged files, keyed by DatabaseMetadata.Filename. Phase 2 of
// the two-phase restore, called on startup.
func (s *RestoreService) ExecuteStagedRestore() error {
	s.log.Warn().Msg("executing staged restore")
	startTime := time.Now()

	flagPath := filepath.Join(s.dataDir, ".pending-restore")
	flag, err := s.readRestoreFlag(flagPath)
	if err != nil {
		return fmt.Errorf("read restore flag: %w", err)
	}

	stagingDir := filepath.Join(s.dataDir, "restore-staging")
	if _, err := os.Stat(stagingDir); err != nil {
		return fmt.Errorf("staging directory not found: %w", err)
	}

	if err := s.validateStagedBackup(stagingDir); err != nil {
		return fmt.Errorf("validate staged backup: %w", err)
	}

	safetyBackupDir := filepath.Join(s.dataDir, fmt.Sprintf("pre-restore-backup-%s", time.Now().Format("20060102-150405")))
	if err := os.MkdirAll(safetyBackupDir, 0o755); err != nil {
		return fmt.Errorf("create safety backup directory: %w", err)
	}
	s.log.Info().Str("backup_dir", safetyBackupDir).Msg("creating safety backup of current store")

	for _, dbInfo := range flag.Databases {
		currentPath := filepath.Join(s.dataDir, dbInfo.Filename)
		if _, err := os.Stat(currentPath); err != nil {
			continue
		}
		safetyPath := filepath.Join(safetyBackupDir, dbInfo.Filename)
		if err := s.copyFile(currentPath, safetyPath); err != nil {
			s.log.Error().Err(err).Str("database", dbInfo.Name).Msg("failed to create safety backup")
			continue
		}
		s.log.Debug().Str("database", dbInfo.Name).Msg("safety backup created")
	}

	s.log.Info().Msg("applying restore")
	for _, dbInfo := range flag.Databases {
		stagedPath := filepath.Join(stagingDir, dbInfo.Filename)
		productionPath := filepath.Join(s.dataDir, dbInfo.Filename)

		os.Remove(productionPath)
		os.Remove(productionPath + "-wal")
		os.Remove(productionPath + "-shm")

		if err := s.copyFile(stagedPath, productionPath); err != nil {
			return fmt.Errorf("copy %s to production: %w", dbInfo.Name, err)
		}
		s.log.Info().Str("database", dbInfo.Name).Msg("database restored")
	}

	if err := os.Remove(flagPath); err != nil {
		s.log.Error().Err(err).Msg("failed to delete restore flag")
	}
	if err := os.RemoveAll(stagingDir); err != nil {
		s.log.Error().Err(err).Msg("failed to delete staging directory")
	}

	s.log.Info().
		Dur("duration_ms", time.Since(startTime)).
		Int("databases", len(flag.Databases)).
		Str("safety_backup", safetyBackupDir).
		Msg("restore complete")

	return nil
}

// CancelStagedRestore discards a pending restore flag and its staging
// directory without applying it.
func (s *RestoreService) CancelStagedRestore() error {
	flagPath := filepath.Join(s.dataDir, ".pending-restore")
	if err := os.Remove(flagPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete restore flag: %w", err)
	}

	stagingDir := filepath.Join(s.dataDir, "restore-staging")
	if err := os.RemoveAll(stagingDir); err != nil {
		return fmt.Errorf("delete staging directory: %w", err)
	}

	s.log.Info().Msg("staged restore canceled")
	return nil
}

// validateStagedBackup checks every file named in the staged manifest
// exists at its expected size and passes a SQLite integrity check.
func (s *RestoreService) validateStagedBackup(stagingDir string) error {
	metadataPath := filepath.Join(stagingDir, "backup-metadata.json")
	metadata, err := s.readMetadata(metadataPath)
	if err != nil {
		return fmt.Errorf("metadata validation failed: %w", err)
	}

	for _, dbInfo := range metadata.Databases {
		dbPath := filepath.Join(stagingDir, dbInfo.Filename)

		info, err := os.Stat(dbPath)
		if err != nil {
			return fmt.Errorf("database %s not found: %w", dbInfo.Name, err)
		}
		if info.Size() != dbInfo.SizeBytes {
			return fmt.Errorf("database %s size mismatch: expected %d, got %d",
				dbInfo.Name, dbInfo.SizeBytes, info.Size())
		}
		if err := s.checkIntegrity(dbPath); err != nil {
			return fmt.Errorf("database %s integrity check failed: %w", dbInfo.Name, err)
		}
		s.log.Debug().Str("database", dbInfo.Name).Msg("database validated")
	}

	return nil
}

// checkIntegrity runs SQLite's PRAGMA integrity_check on dbPath.
func (s *RestoreService) checkIntegrity(dbPath string) error {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check query failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	return nil
}

// extractArchive extracts a tar.gz archive into destDir.
func (s *RestoreService) extractArchive(archivePath, destDir string) error {
	archiveFile, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer archiveFile.Close()

	gzipReader, err := gzip.NewReader(archiveFile)
	if err != nil {
		return fmt.Errorf("create gzip reader: %w", err)
	}
	defer gzipReader.Close()

	tarReader := tar.NewReader(gzipReader)
	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read tar header: %w", err)
		}

		targetPath := filepath.Join(destDir, header.Name)
		if !filepath.HasPrefix(targetPath, filepath.Clean(destDir)+string(os.PathSeparator)) {
			return fmt.Errorf("invalid file path in archive: %s", header.Name)
		}

		if header.Typeflag != tar.TypeReg {
			continue
		}
		outFile, err := os.Create(targetPath)
		if err != nil {
			return fmt.Errorf("create file %s: %w", header.Name, err)
		}
		if _, err := io.Copy(outFile, tarReader); err != nil {
			outFile.Close()
			return fmt.Errorf("write file %s: %w", header.Name, err)
		}
		outFile.Close()
	}

	return nil
}

// copyFile copies src to dst, fsyncing the destination before returning.
func (s *RestoreService) copyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	destFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer destFile.Close()

	if _, err := io.Copy(destFile, sourceFile); err != nil {
		return err
	}
	return destFile.Sync()
}

// readMetadata reads a backup-metadata.json manifest.
func (s *RestoreService) readMetadata(path string) (*BackupMetadata, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var metadata BackupMetadata
	if err := json.NewDecoder(file).Decode(&metadata); err != nil {
		return nil, err
	}
	return &metadata, nil
}

// readRestoreFlag reads a staged .pending-restore flag.
func (s *RestoreService) readRestoreFlag(path string) (*RestoreFlag, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var flag RestoreFlag
	if err := json.NewDecoder(file).Decode(&flag); err != nil {
		return nil, err
	}
	return &flag, nil
}

// writeRestoreFlag writes a .pending-restore flag.
func (s *RestoreService) writeRestoreFlag(path string, flag RestoreFlag) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(flag)
}

// FileWriterAt adapts an *os.File to io.WriterAt for R2Client.Download,
// rejecting any write that isn't the next sequential chunk.
type FileWriterAt struct {
	File   *os.File
	Offset int64
}

func (f *FileWriterAt) WriteAt(p []byte, off int64) (n int, err error) {
	if off != f.Offset {
		return 0, fmt.Errorf("FileWriterAt only supports sequential writes")
	}
	n, err = f.File.Write(p)
	f.Offset += int64(n)
	return n, err
}
