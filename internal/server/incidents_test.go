package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aristath/watchpost/internal/auth"
	"github.com/aristath/watchpost/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newIncidentTestRouter(t *testing.T) (chi.Router, *store.DB) {
	db := newTestDB(t)
	h := NewIncidentHandlers(db, testLogger())
	r := chi.NewRouter()
	r.Route("/api/v1", h.RegisterRoutes)
	return r, db
}

func createTestMonitorWithKey(t *testing.T, db *store.DB) (*store.Monitor, string) {
	t.Helper()
	token, err := auth.Generate()
	require.NoError(t, err)

	m := &store.Monitor{
		ID: uuid.NewString(), ManageKeyHash: auth.Hash(token), Name: "Example", Slug: uuid.NewString(),
		URL: "https://example.com", MonitorType: "http", Method: "GET", Headers: "{}",
		IntervalSeconds: 600, TimeoutMs: 5000, ExpectedStatus: 200, ConfirmationThreshold: 1,
		IsPublic: true, SLAPeriodDays: 30,
	}
	require.NoError(t, db.CreateMonitor(context.Background(), m))
	return m, token
}

func TestAcknowledgeIncidentRequiresManageKey(t *testing.T) {
	r, db := newIncidentTestRouter(t)
	m, _ := createTestMonitorWithKey(t, db)

	inc, err := db.OpenIncident(context.Background(), uuid.NewString(), m.ID, "down")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/incidents/"+inc.ID+"/acknowledge", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAcknowledgeIncidentSucceedsWithManageKey(t *testing.T) {
	r, db := newIncidentTestRouter(t)
	m, token := createTestMonitorWithKey(t, db)

	inc, err := db.OpenIncident(context.Background(), uuid.NewString(), m.ID, "down")
	require.NoError(t, err)

	rec := doJSON(t, r, http.MethodPost, "/api/v1/incidents/"+inc.ID+"/acknowledge?key="+token,
		acknowledgeRequest{AcknowledgedBy: "ops", Note: "investigating"})
	assert.Equal(t, http.StatusOK, rec.Code)

	updated, err := db.GetIncident(context.Background(), inc.ID)
	require.NoError(t, err)
	assert.Equal(t, "ops", updated.AcknowledgedBy)
}

func TestAcknowledgeIncidentNotFound(t *testing.T) {
	r, _ := newIncidentTestRouter(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/incidents/missing/acknowledge", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
