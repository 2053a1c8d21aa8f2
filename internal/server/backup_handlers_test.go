package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBackupTestRouter() chi.Router {
	h := NewBackupHandlers(nil, nil, zerolog.Nop())
	r := chi.NewRouter()
	r.Route("/api/v1/admin", h.RegisterRoutes)
	return r
}

func TestBackupHandlersReportUnconfigured(t *testing.T) {
	r := newBackupTestRouter()

	cases := []struct {
		method, path string
	}{
		{http.MethodGet, "/api/v1/admin/backups"},
		{http.MethodPost, "/api/v1/admin/backups"},
		{http.MethodDelete, "/api/v1/admin/backups/watchpost-backup-2026-01-01-000000.tar.gz"},
		{http.MethodPost, "/api/v1/admin/backups/restore"},
		{http.MethodDelete, "/api/v1/admin/backups/restore"},
	}

	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, tc.path)
	}
}

func TestValidateBackupFilenameRejectsTraversal(t *testing.T) {
	_, err := validateBackupFilename("../../etc/passwd")
	require.Error(t, err)

	_, err = validateBackupFilename("not-a-backup.txt")
	require.Error(t, err)

	name, err := validateBackupFilename("watchpost-backup-2026-01-01-000000.tar.gz")
	require.NoError(t, err)
	assert.Equal(t, "watchpost-backup-2026-01-01-000000.tar.gz", name)
}
