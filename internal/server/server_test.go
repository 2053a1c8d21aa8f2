package server

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/aristath/watchpost/internal/store"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// decodeBody unmarshals a recorded response body into dst.
func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) error {
	t.Helper()
	return json.Unmarshal(rec.Body.Bytes(), dst)
}

// newTestDB opens a fresh, fully-migrated database in a temp directory,
// closed automatically when the test ends.
func newTestDB(t *testing.T) *store.DB {
	t.Helper()
	dir := t.TempDir()
	db, err := store.Open(store.Config{Path: filepath.Join(dir, "watchpost.sqlite"), Profile: store.ProfileCache})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

// sampleMonitorRequest returns a minimal valid HTTP monitor request body,
// the baseline every create-test starts from and tweaks.
func sampleMonitorRequest(url string) monitorRequest {
	return monitorRequest{
		Name:            "Example",
		URL:             url,
		MonitorType:     "http",
		Method:          "GET",
		IntervalSeconds: 600,
		TimeoutMs:       5000,
	}
}
