package server

import (
	"errors"
	"net/http"

	"github.com/aristath/watchpost/internal/auth"
	"github.com/aristath/watchpost/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// IncidentHandlers serves the incident-acknowledge endpoint, authenticated
// via the parent monitor's manage key (spec §6).
type IncidentHandlers struct {
	db  *store.DB
	log zerolog.Logger
}

// NewIncidentHandlers builds an IncidentHandlers.
func NewIncidentHandlers(db *store.DB, log zerolog.Logger) *IncidentHandlers {
	return &IncidentHandlers{db: db, log: log.With().Str("component", "incident_handlers").Logger()}
}

// RegisterRoutes mounts the acknowledge endpoint under r. The manage-key
// check resolves the monitor owning the path's incident ID, since the
// incident itself carries no token.
func (h *IncidentHandlers) RegisterRoutes(r chi.Router) {
	r.With(auth.RequireMonitorManageKey(h.db, h.incidentMonitorID)).
		Post("/incidents/{id}/acknowledge", h.handleAcknowledge)
}

func (h *IncidentHandlers) incidentMonitorID(r *http.Request) string {
	inc, err := h.db.GetIncident(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return ""
	}
	return inc.MonitorID
}

type acknowledgeRequest struct {
	AcknowledgedBy string `json:"acknowledged_by"`
	Note           string `json:"note"`
}

func (h *IncidentHandlers) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req acknowledgeRequest
	if r.ContentLength != 0 && !decodeJSON(r, &req) {
		malformedJSON(w)
		return
	}

	if err := h.db.AcknowledgeIncident(r.Context(), id, req.AcknowledgedBy, req.Note); errors.Is(err, store.ErrNotFound) {
		notFound(w, "incident not found")
		return
	} else if err != nil {
		internalError(w, err.Error())
		return
	}

	inc, err := h.db.GetIncident(r.Context(), id)
	if err != nil {
		internalError(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, viewIncident(inc))
}
