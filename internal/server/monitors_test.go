package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMonitorTestRouter(t *testing.T) (chi.Router, *MonitorHandlers) {
	db := newTestDB(t)
	h := NewMonitorHandlers(db, NewRateLimiter(1000), testLogger())
	r := chi.NewRouter()
	r.Route("/api/v1", h.RegisterRoutes)
	return r, h
}

func doJSON(t *testing.T, r chi.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestCreateMonitorReturnsManageKeyOnce(t *testing.T) {
	r, _ := newMonitorTestRouter(t)

	rec := doJSON(t, r, http.MethodPost, "/api/v1/monitors", sampleMonitorRequest("https://example.com"))
	require.Equal(t, http.StatusCreated, rec.Code)

	var created createdMonitor
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEmpty(t, created.ManageKey)
	assert.Equal(t, "example", created.Monitor.Slug)
	assert.Equal(t, "unknown", created.Monitor.CurrentStatus)
}

func TestCreateMonitorRejectsShortInterval(t *testing.T) {
	r, _ := newMonitorTestRouter(t)

	req := sampleMonitorRequest("https://example.com")
	req.IntervalSeconds = 60
	rec := doJSON(t, r, http.MethodPost, "/api/v1/monitors", req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateMonitorSlugCollisionGetsSuffixed(t *testing.T) {
	r, _ := newMonitorTestRouter(t)

	rec1 := doJSON(t, r, http.MethodPost, "/api/v1/monitors", sampleMonitorRequest("https://one.example.com"))
	require.Equal(t, http.StatusCreated, rec1.Code)

	rec2 := doJSON(t, r, http.MethodPost, "/api/v1/monitors", sampleMonitorRequest("https://two.example.com"))
	require.Equal(t, http.StatusCreated, rec2.Code)

	var first, second createdMonitor
	require.NoError(t, json.Unmarshal(rec1.Body.Bytes(), &first))
	require.NoError(t, json.Unmarshal(rec2.Body.Bytes(), &second))
	assert.Equal(t, "example", first.Monitor.Slug)
	assert.Equal(t, "example-2", second.Monitor.Slug)
}

func TestBulkCreateRejectsOverCap(t *testing.T) {
	r, _ := newMonitorTestRouter(t)

	reqs := make([]monitorRequest, maxBulkMonitors+1)
	for i := range reqs {
		reqs[i] = sampleMonitorRequest("https://example.com")
	}
	rec := doJSON(t, r, http.MethodPost, "/api/v1/monitors/bulk", bulkCreateRequest{Monitors: reqs})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBulkCreatePartialSuccess(t *testing.T) {
	r, _ := newMonitorTestRouter(t)

	good := sampleMonitorRequest("https://good.example.com")
	bad := sampleMonitorRequest("https://bad.example.com")
	bad.IntervalSeconds = 1

	rec := doJSON(t, r, http.MethodPost, "/api/v1/monitors/bulk", bulkCreateRequest{Monitors: []monitorRequest{good, bad}})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp bulkCreateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Total)
	assert.Equal(t, 1, resp.Succeeded)
	assert.Equal(t, 1, resp.Failed)
	assert.Len(t, resp.Errors, 1)
}

func TestGetMonitorNotFound(t *testing.T) {
	r, _ := newMonitorTestRouter(t)
	rec := doJSON(t, r, http.MethodGet, "/api/v1/monitors/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateMonitorRequiresManageKey(t *testing.T) {
	r, _ := newMonitorTestRouter(t)

	createRec := doJSON(t, r, http.MethodPost, "/api/v1/monitors", sampleMonitorRequest("https://example.com"))
	var created createdMonitor
	require.NoError(t, json.Unmarshal(createRec.Body.Bytes(), &created))

	rec := doJSON(t, r, http.MethodPatch, "/api/v1/monitors/"+created.Monitor.ID, sampleMonitorRequest("https://example.com"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPauseResumeMonitor(t *testing.T) {
	r, _ := newMonitorTestRouter(t)

	createRec := doJSON(t, r, http.MethodPost, "/api/v1/monitors", sampleMonitorRequest("https://example.com"))
	var created createdMonitor
	require.NoError(t, json.Unmarshal(createRec.Body.Bytes(), &created))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/monitors/"+created.Monitor.ID+"/pause?key="+created.ManageKey, nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	getRec := doJSON(t, r, http.MethodGet, "/api/v1/monitors/"+created.Monitor.ID, nil)
	var view monitorView
	require.NoError(t, json.Unmarshal(getRec.Body.Bytes(), &view))
	assert.True(t, view.IsPaused)
}

func TestHeartbeatsAndIncidentsListEmptyForNewMonitor(t *testing.T) {
	r, _ := newMonitorTestRouter(t)

	createRec := doJSON(t, r, http.MethodPost, "/api/v1/monitors", sampleMonitorRequest("https://example.com"))
	var created createdMonitor
	require.NoError(t, json.Unmarshal(createRec.Body.Bytes(), &created))

	hbRec := doJSON(t, r, http.MethodGet, "/api/v1/monitors/"+created.Monitor.ID+"/heartbeats", nil)
	assert.Equal(t, http.StatusOK, hbRec.Code)
	assert.JSONEq(t, "[]", hbRec.Body.String())

	incRec := doJSON(t, r, http.MethodGet, "/api/v1/monitors/"+created.Monitor.ID+"/incidents", nil)
	assert.Equal(t, http.StatusOK, incRec.Code)
	assert.JSONEq(t, "[]", incRec.Body.String())
}
