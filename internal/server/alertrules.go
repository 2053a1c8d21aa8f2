package server

import (
	"errors"
	"net/http"

	"github.com/aristath/watchpost/internal/auth"
	"github.com/aristath/watchpost/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// AlertRuleHandlers serves the single-rule-per-monitor reminder/escalation
// configuration endpoint (spec §4.G, §6).
type AlertRuleHandlers struct {
	db  *store.DB
	log zerolog.Logger
}

// NewAlertRuleHandlers builds an AlertRuleHandlers.
func NewAlertRuleHandlers(db *store.DB, log zerolog.Logger) *AlertRuleHandlers {
	return &AlertRuleHandlers{db: db, log: log.With().Str("component", "alert_rule_handlers").Logger()}
}

// RegisterRoutes mounts the alert-rules surface under r.
func (h *AlertRuleHandlers) RegisterRoutes(r chi.Router) {
	manageGate := auth.RequireMonitorManageKey(h.db, monitorIDParam)
	r.Route("/monitors/{id}/alert-rules", func(r chi.Router) {
		r.Get("/", h.handleGet)
		r.With(manageGate).Put("/", h.handlePut)
		r.With(manageGate).Delete("/", h.handleDelete)
	})
}

type alertRuleRequest struct {
	RepeatIntervalMinutes  int `json:"repeat_interval_minutes"`
	MaxRepeats             int `json:"max_repeats"`
	EscalationAfterMinutes int `json:"escalation_after_minutes"`
}

type alertRuleView struct {
	MonitorID              string `json:"monitor_id"`
	RepeatIntervalMinutes  int    `json:"repeat_interval_minutes"`
	MaxRepeats             int    `json:"max_repeats"`
	EscalationAfterMinutes int    `json:"escalation_after_minutes"`
	UpdatedAt              string `json:"updated_at"`
}

func viewAlertRule(r *store.AlertRule) alertRuleView {
	return alertRuleView{
		MonitorID: r.MonitorID, RepeatIntervalMinutes: r.RepeatIntervalMinutes,
		MaxRepeats: r.MaxRepeats, EscalationAfterMinutes: r.EscalationAfterMinutes,
		UpdatedAt: r.UpdatedAt,
	}
}

func (h *AlertRuleHandlers) handleGet(w http.ResponseWriter, r *http.Request) {
	rule, err := h.db.GetAlertRule(r.Context(), monitorIDParam(r))
	if errors.Is(err, store.ErrNotFound) {
		notFound(w, "no alert rule configured for this monitor")
		return
	}
	if err != nil {
		internalError(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, viewAlertRule(rule))
}

func (h *AlertRuleHandlers) handlePut(w http.ResponseWriter, r *http.Request) {
	var req alertRuleRequest
	if !decodeJSON(r, &req) {
		malformedJSON(w)
		return
	}

	rule := &store.AlertRule{
		MonitorID: monitorIDParam(r), RepeatIntervalMinutes: req.RepeatIntervalMinutes,
		MaxRepeats: req.MaxRepeats, EscalationAfterMinutes: req.EscalationAfterMinutes,
	}
	if err := validateAlertRule(rule); err != nil {
		badRequest(w, "VALIDATION_FAILED", err.Error())
		return
	}

	if err := h.db.UpsertAlertRule(r.Context(), rule); err != nil {
		internalError(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, viewAlertRule(rule))
}

func (h *AlertRuleHandlers) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.db.DeleteAlertRule(r.Context(), monitorIDParam(r)); errors.Is(err, store.ErrNotFound) {
		notFound(w, "no alert rule configured for this monitor")
		return
	} else if err != nil {
		internalError(w, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
