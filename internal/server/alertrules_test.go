package server

import (
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAlertRuleTestRouter(t *testing.T) (chi.Router, *MonitorAndKey) {
	db := newTestDB(t)
	m, token := createTestMonitorWithKey(t, db)
	h := NewAlertRuleHandlers(db, testLogger())
	r := chi.NewRouter()
	r.Route("/api/v1", h.RegisterRoutes)
	return r, &MonitorAndKey{MonitorID: m.ID, Token: token}
}

func TestAlertRuleRejectsIntervalUnderFive(t *testing.T) {
	r, mk := newAlertRuleTestRouter(t)
	path := "/api/v1/monitors/" + mk.MonitorID + "/alert-rules?key=" + mk.Token
	rec := doJSON(t, r, http.MethodPut, path, alertRuleRequest{RepeatIntervalMinutes: 3})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAlertRuleZeroDisablesAndIsValid(t *testing.T) {
	r, mk := newAlertRuleTestRouter(t)
	path := "/api/v1/monitors/" + mk.MonitorID + "/alert-rules?key=" + mk.Token
	rec := doJSON(t, r, http.MethodPut, path, alertRuleRequest{RepeatIntervalMinutes: 0, EscalationAfterMinutes: 0})
	require.Equal(t, http.StatusOK, rec.Code)

	getRec := doJSON(t, r, http.MethodGet, "/api/v1/monitors/"+mk.MonitorID+"/alert-rules", nil)
	assert.Equal(t, http.StatusOK, getRec.Code)
}

func TestAlertRulePutThenDelete(t *testing.T) {
	r, mk := newAlertRuleTestRouter(t)
	path := "/api/v1/monitors/" + mk.MonitorID + "/alert-rules?key=" + mk.Token

	putRec := doJSON(t, r, http.MethodPut, path, alertRuleRequest{RepeatIntervalMinutes: 15, MaxRepeats: 3, EscalationAfterMinutes: 30})
	require.Equal(t, http.StatusOK, putRec.Code)

	delRec := doJSON(t, r, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusNoContent, delRec.Code)

	getRec := doJSON(t, r, http.MethodGet, "/api/v1/monitors/"+mk.MonitorID+"/alert-rules", nil)
	assert.Equal(t, http.StatusNotFound, getRec.Code)
}
