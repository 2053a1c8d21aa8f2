package reliability

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNewRestoreService(t *testing.T) {
	log := zerolog.New(io.Discard)

	r2Client, _ := NewR2Client("test-account", "test-key", "test-secret", "test-bucket", log)
	dataDir := "/tmp/test"

	service := NewRestoreService(r2Client, dataDir, log)

	if service == nil {
		t.Fatal("expected service, got nil")
	}
	if service.r2Client != r2Client {
		t.Error("r2Client not set correctly")
	}
	if service.dataDir != dataDir {
		t.Error("dataDir not set correctly")
	}
}

func TestRestoreFlagJSON(t *testing.T) {
	flag := RestoreFlag{
		BackupFilename: "watchpost-backup-2026-01-08-143022.tar.gz",
		StagedAt:       time.Date(2026, 1, 8, 14, 30, 0, 0, time.UTC),
		Databases: []DatabaseMetadata{{
			Name:      "watchpost",
			Filename:  "watchpost.sqlite",
			SizeBytes: 4096,
			Checksum:  "sha256:abc123",
		}},
	}

	data, err := json.Marshal(flag)
	if err != nil {
		t.Fatalf("failed to marshal flag: %v", err)
	}

	var decoded RestoreFlag
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to unmarshal flag: %v", err)
	}

	if decoded.BackupFilename != flag.BackupFilename {
		t.Errorf("expected filename %s, got %s", flag.BackupFilename, decoded.BackupFilename)
	}
	if len(decoded.Databases) != 1 {
		t.Fatalf("expected 1 database, got %d", len(decoded.Databases))
	}
	if decoded.Databases[0].Filename != "watchpost.sqlite" {
		t.Errorf("expected filename watchpost.sqlite, got %s", decoded.Databases[0].Filename)
	}
}

func TestCheckPendingRestore(t *testing.T) {
	log := zerolog.New(io.Discard)
	tempDir := t.TempDir()
	service := NewRestoreService(nil, tempDir, log)

	hasPending, err := service.CheckPendingRestore()
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if hasPending {
		t.Error("expected no pending restore, got pending")
	}

	flagPath := filepath.Join(tempDir, ".pending-restore")
	if err := os.WriteFile(flagPath, []byte("{}"), 0644); err != nil {
		t.Fatalf("failed to create flag file: %v", err)
	}

	hasPending, err = service.CheckPendingRestore()
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if !hasPending {
		t.Error("expected pending restore, got no pending")
	}
}

func TestCancelStagedRestore(t *testing.T) {
	log := zerolog.New(io.Discard)
	tempDir := t.TempDir()
	service := NewRestoreService(nil, tempDir, log)

	flagPath := filepath.Join(tempDir, ".pending-restore")
	if err := os.WriteFile(flagPath, []byte("{}"), 0644); err != nil {
		t.Fatalf("failed to create flag file: %v", err)
	}

	stagingDir := filepath.Join(tempDir, "restore-staging")
	if err := os.MkdirAll(stagingDir, 0755); err != nil {
		t.Fatalf("failed to create staging dir: %v", err)
	}

	if err := service.CancelStagedRestore(); err != nil {
		t.Errorf("failed to cancel restore: %v", err)
	}

	if _, err := os.Stat(flagPath); !os.IsNotExist(err) {
		t.Error("expected flag file to be deleted")
	}
	if _, err := os.Stat(stagingDir); !os.IsNotExist(err) {
		t.Error("expected staging directory to be deleted")
	}
}

func TestWriteAndReadRestoreFlag(t *testing.T) {
	log := zerolog.New(io.Discard)
	tempDir := t.TempDir()
	service := NewRestoreService(nil, tempDir, log)

	flag := RestoreFlag{
		BackupFilename: "test-backup.tar.gz",
		StagedAt:       time.Now().UTC(),
		Databases: []DatabaseMetadata{{
			Name:      "watchpost",
			Filename:  "watchpost.sqlite",
			SizeBytes: 2048,
			Checksum:  "sha256:def456",
		}},
	}

	flagPath := filepath.Join(tempDir, "test-flag.json")
	if err := service.writeRestoreFlag(flagPath, flag); err != nil {
		t.Fatalf("failed to write flag: %v", err)
	}

	readFlag, err := service.readRestoreFlag(flagPath)
	if err != nil {
		t.Fatalf("failed to read flag: %v", err)
	}

	if readFlag.BackupFilename != flag.BackupFilename {
		t.Errorf("expected filename %s, got %s", flag.BackupFilename, readFlag.BackupFilename)
	}
	if len(readFlag.Databases) != 1 || readFlag.Databases[0].Filename != "watchpost.sqlite" {
		t.Errorf("expected one watchpost.sqlite database, got %+v", readFlag.Databases)
	}
}

func TestRestoreServiceCopyFile(t *testing.T) {
	log := zerolog.New(io.Discard)
	tempDir := t.TempDir()
	service := NewRestoreService(nil, tempDir, log)

	srcPath := filepath.Join(tempDir, "source.txt")
	testData := []byte("test data for copying")
	if err := os.WriteFile(srcPath, testData, 0644); err != nil {
		t.Fatalf("failed to create source file: %v", err)
	}

	dstPath := filepath.Join(tempDir, "destination.txt")
	if err := service.copyFile(srcPath, dstPath); err != nil {
		t.Fatalf("failed to copy file: %v", err)
	}

	copiedData, err := os.ReadFile(dstPath)
	if err != nil {
		t.Fatalf("failed to read copied file: %v", err)
	}
	if string(copiedData) != string(testData) {
		t.Errorf("content mismatch: expected %q, got %q", testData, copiedData)
	}
}

func TestFileWriterAt(t *testing.T) {
	tempDir := t.TempDir()

	filePath := filepath.Join(tempDir, "test.dat")
	file, err := os.Create(filePath)
	if err != nil {
		t.Fatalf("failed to create file: %v", err)
	}
	defer file.Close()

	writer := &FileWriterAt{File: file, Offset: 0}

	data1 := []byte("hello")
	n, err := writer.WriteAt(data1, 0)
	if err != nil {
		t.Errorf("failed to write at offset 0: %v", err)
	}
	if n != len(data1) {
		t.Errorf("expected to write %d bytes, wrote %d", len(data1), n)
	}

	data2 := []byte(" world")
	n, err = writer.WriteAt(data2, 5)
	if err != nil {
		t.Errorf("failed to write at offset 5: %v", err)
	}
	if n != len(data2) {
		t.Errorf("expected to write %d bytes, wrote %d", len(data2), n)
	}

	data3 := []byte("!")
	if _, err := writer.WriteAt(data3, 0); err == nil {
		t.Error("expected error for non-sequential write, got nil")
	}

	file.Close()
	content, err := os.ReadFile(filePath)
	if err != nil {
		t.Fatalf("failed to read file: %v", err)
	}
	if expected := "hello world"; string(content) != expected {
		t.Errorf("expected content %q, got %q", expected, string(content))
	}
}

func TestValidateStagedBackup(t *testing.T) {
	log := zerolog.New(io.Discard)
	tempDir := t.TempDir()
	service := NewRestoreService(nil, tempDir, log)

	if err := service.validateStagedBackup(tempDir); err == nil {
		t.Error("expected error for missing metadata, got nil")
	}

	metadata := BackupMetadata{
		Timestamp: time.Now(),
		Version:   "1",
		Databases: []DatabaseMetadata{
			{Name: "watchpost", Filename: "watchpost.sqlite", SizeBytes: 100, Checksum: "sha256:abc123"},
		},
	}

	metadataPath := filepath.Join(tempDir, "backup-metadata.json")
	file, err := os.Create(metadataPath)
	if err != nil {
		t.Fatalf("failed to create metadata file: %v", err)
	}
	json.NewEncoder(file).Encode(metadata)
	file.Close()

	// Validation should fail since watchpost.sqlite itself hasn't been staged.
	if err := service.validateStagedBackup(tempDir); err == nil {
		t.Error("expected error for missing database file, got nil")
	}
}

// writeSQLiteFile creates a minimal, valid SQLite database at path so
// checkIntegrity's PRAGMA integrity_check has a real file to inspect, and
// returns its contents for checksumming.
func writeSQLiteFile(t *testing.T, path string) []byte {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("failed to open sqlite file: %v", err)
	}
	if _, err := db.Exec("CREATE TABLE marker (id INTEGER PRIMARY KEY)"); err != nil {
		t.Fatalf("failed to create marker table: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("failed to close sqlite file: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read sqlite file: %v", err)
	}
	return content
}

// stageFakeBackup writes a staging directory holding a single watchpost.sqlite
// file and its matching backup-metadata.json, the shape StageRestoreFromR2
// leaves behind for ExecuteStagedRestore to apply.
func stageFakeBackup(t *testing.T, stagingDir string) []byte {
	t.Helper()
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		t.Fatalf("failed to create staging dir: %v", err)
	}

	content := writeSQLiteFile(t, filepath.Join(stagingDir, "watchpost.sqlite"))
	sum := sha256.Sum256(content)
	metadata := BackupMetadata{
		Timestamp: time.Now(),
		Version:   "1",
		Databases: []DatabaseMetadata{{
			Name:      "watchpost",
			Filename:  "watchpost.sqlite",
			SizeBytes: int64(len(content)),
			Checksum:  "sha256:" + hex.EncodeToString(sum[:]),
		}},
	}

	file, err := os.Create(filepath.Join(stagingDir, "backup-metadata.json"))
	if err != nil {
		t.Fatalf("failed to create metadata file: %v", err)
	}
	defer file.Close()
	if err := json.NewEncoder(file).Encode(metadata); err != nil {
		t.Fatalf("failed to write metadata: %v", err)
	}
	return content
}

// TestExecuteStagedRestoreAppliesWatchpostSqlite confirms ExecuteStagedRestore
// uses DatabaseMetadata.Filename end to end: the staged watchpost.sqlite is
// copied over the production file named identically, not a teacher-era
// "<name>.db" reconstruction.
func TestExecuteStagedRestoreAppliesWatchpostSqlite(t *testing.T) {
	log := zerolog.New(io.Discard)
	tempDir := t.TempDir()
	service := NewRestoreService(nil, tempDir, log)

	stagedContent := stageFakeBackup(t, filepath.Join(tempDir, "restore-staging"))

	productionPath := filepath.Join(tempDir, "watchpost.sqlite")
	writeSQLiteFile(t, productionPath)

	flag := RestoreFlag{
		BackupFilename: "watchpost-backup-test.tar.gz",
		StagedAt:       time.Now().UTC(),
		Databases: []DatabaseMetadata{
			{Name: "watchpost", Filename: "watchpost.sqlite", SizeBytes: int64(len(stagedContent))},
		},
	}
	flagPath := filepath.Join(tempDir, ".pending-restore")
	if err := service.writeRestoreFlag(flagPath, flag); err != nil {
		t.Fatalf("failed to write restore flag: %v", err)
	}

	if err := service.ExecuteStagedRestore(); err != nil {
		t.Fatalf("ExecuteStagedRestore failed: %v", err)
	}

	restored, err := os.ReadFile(productionPath)
	if err != nil {
		t.Fatalf("failed to read production file after restore: %v", err)
	}
	if string(restored) != string(stagedContent) {
		t.Error("expected production file to match the staged watchpost.sqlite contents")
	}

	if _, err := os.Stat(flagPath); !os.IsNotExist(err) {
		t.Error("expected restore flag to be deleted after apply")
	}
	if _, err := os.Stat(filepath.Join(tempDir, "restore-staging")); !os.IsNotExist(err) {
		t.Error("expected staging directory to be deleted after apply")
	}
}
