package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newChannelTestRouter(t *testing.T) (chi.Router, *MonitorAndKey) {
	db := newTestDB(t)
	m, token := createTestMonitorWithKey(t, db)
	h := NewChannelHandlers(db, testLogger())
	r := chi.NewRouter()
	r.Route("/api/v1", h.RegisterRoutes)
	return r, &MonitorAndKey{MonitorID: m.ID, Token: token}
}

// MonitorAndKey bundles a freshly created monitor's ID and manage token
// for handler tests that need to act as its owner.
type MonitorAndKey struct {
	MonitorID string
	Token     string
}

func TestCreateChannelRequiresManageKey(t *testing.T) {
	r, mk := newChannelTestRouter(t)
	rec := doJSON(t, r, http.MethodPost, "/api/v1/monitors/"+mk.MonitorID+"/notifications",
		channelRequest{Name: "ops webhook", ChannelType: "webhook", Config: `{"url":"https://hooks.example.com"}`})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateChannelValidatesConfig(t *testing.T) {
	r, mk := newChannelTestRouter(t)
	path := "/api/v1/monitors/" + mk.MonitorID + "/notifications?key=" + mk.Token
	rec := doJSON(t, r, http.MethodPost, path, channelRequest{Name: "bad", ChannelType: "webhook", Config: `{}`})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChannelCreateListUpdateDelete(t *testing.T) {
	r, mk := newChannelTestRouter(t)
	path := "/api/v1/monitors/" + mk.MonitorID + "/notifications?key=" + mk.Token

	createRec := doJSON(t, r, http.MethodPost, path,
		channelRequest{Name: "ops webhook", ChannelType: "webhook", Config: `{"url":"https://hooks.example.com","payload_format":"json"}`, IsEnabled: true})
	require.Equal(t, http.StatusCreated, createRec.Code)

	var created channelView
	require.NoError(t, decodeBody(t, createRec, &created))

	listRec := doJSON(t, r, http.MethodGet, "/api/v1/monitors/"+mk.MonitorID+"/notifications", nil)
	assert.Equal(t, http.StatusOK, listRec.Code)

	updatePath := "/api/v1/monitors/" + mk.MonitorID + "/notifications/" + created.ID + "?key=" + mk.Token
	updateRec := doJSON(t, r, http.MethodPatch, updatePath,
		channelRequest{Name: "renamed", ChannelType: "webhook", Config: created.Config, IsEnabled: false})
	require.Equal(t, http.StatusOK, updateRec.Code)

	req := httptest.NewRequest(http.MethodDelete, updatePath, nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
