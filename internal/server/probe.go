package server

import (
	"fmt"
	"net/http"

	"github.com/aristath/watchpost/internal/auth"
	"github.com/aristath/watchpost/internal/events"
	"github.com/aristath/watchpost/internal/ingest"
	"github.com/aristath/watchpost/internal/notify"
	"github.com/aristath/watchpost/internal/store"
	"github.com/aristath/watchpost/internal/timeutil"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const maxProbeResultsPerRequest = 100

var validHeartbeatStatuses = map[string]bool{"up": true, "down": true, "degraded": true}

// ProbeHandlers serves remote probe submission: a registered check
// location posting the outcomes it observed locally, entering the same
// Store-then-Status-engine path the local scheduler uses (spec §4.E).
type ProbeHandlers struct {
	db       *store.DB
	bus      *events.Bus
	notifier *notify.Dispatcher
	log      zerolog.Logger
}

// NewProbeHandlers builds a ProbeHandlers.
func NewProbeHandlers(db *store.DB, bus *events.Bus, notifier *notify.Dispatcher, log zerolog.Logger) *ProbeHandlers {
	return &ProbeHandlers{db: db, bus: bus, notifier: notifier, log: log.With().Str("component", "probe_handlers").Logger()}
}

// RegisterRoutes mounts the probe-submission endpoint under r, probe-key
// gated.
func (h *ProbeHandlers) RegisterRoutes(r chi.Router) {
	r.With(auth.RequireProbeKey(h.db)).Post("/probe", h.handleSubmit)
}

type probeResultRequest struct {
	MonitorID      string `json:"monitor_id"`
	Status         string `json:"status"`
	ResponseTimeMs int    `json:"response_time_ms"`
	StatusCode     *int   `json:"status_code"`
	ErrorMessage   string `json:"error_message"`
	CheckedAt      string `json:"checked_at"`
}

type probeSubmitRequest struct {
	Results []probeResultRequest `json:"results"`
}

type probeSubmitResponse struct {
	Accepted int      `json:"accepted"`
	Errors   []string `json:"errors,omitempty"`
}

func (h *ProbeHandlers) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req probeSubmitRequest
	if !decodeJSON(r, &req) {
		malformedJSON(w)
		return
	}
	if len(req.Results) > maxProbeResultsPerRequest {
		badRequest(w, "TOO_MANY_RESULTS", fmt.Sprintf("at most %d results per request", maxProbeResultsPerRequest))
		return
	}

	locationID := auth.LocationIDFromContext(r.Context())
	resp := probeSubmitResponse{}

	for _, res := range req.Results {
		if !validHeartbeatStatuses[res.Status] {
			resp.Errors = append(resp.Errors, fmt.Sprintf("%s: status must be one of up, down, degraded", res.MonitorID))
			continue
		}

		m, err := h.db.GetMonitor(r.Context(), res.MonitorID)
		if err != nil {
			resp.Errors = append(resp.Errors, fmt.Sprintf("%s: monitor not found", res.MonitorID))
			continue
		}

		checkedAt := timeutil.ToStore(timeutil.Now())
		if res.CheckedAt != "" {
			if t, err := timeutil.ParseWire(res.CheckedAt); err == nil {
				checkedAt = timeutil.ToStore(t)
			}
		}

		hb := &store.Heartbeat{
			ID: uuid.NewString(), MonitorID: res.MonitorID, LocationID: locationID,
			Status: res.Status, ResponseTimeMs: res.ResponseTimeMs, StatusCode: res.StatusCode,
			ErrorMessage: res.ErrorMessage, CheckedAt: checkedAt,
		}

		if _, err := ingest.Heartbeat(r.Context(), h.db, h.bus, h.notifier, m, hb); err != nil {
			h.log.Error().Err(err).Str("monitor_id", res.MonitorID).Msg("failed to record submitted heartbeat")
			resp.Errors = append(resp.Errors, fmt.Sprintf("%s: %v", res.MonitorID, err))
			continue
		}
		resp.Accepted++
	}

	writeJSON(w, http.StatusOK, resp)
}
