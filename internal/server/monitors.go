package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/aristath/watchpost/internal/auth"
	"github.com/aristath/watchpost/internal/store"
	"github.com/aristath/watchpost/internal/timeutil"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// MonitorHandlers serves the monitor CRUD/bulk/pause/resume surface and
// the per-monitor heartbeat/incident listings (spec §6).
type MonitorHandlers struct {
	db      *store.DB
	limiter *RateLimiter
	log     zerolog.Logger
}

// NewMonitorHandlers builds a MonitorHandlers. limiter gates the two
// create endpoints only (spec §4.J: "Create endpoints are open, subject
// to rate limit").
func NewMonitorHandlers(db *store.DB, limiter *RateLimiter, log zerolog.Logger) *MonitorHandlers {
	return &MonitorHandlers{db: db, limiter: limiter, log: log.With().Str("component", "monitor_handlers").Logger()}
}

// RegisterRoutes mounts the monitor surface under r.
func (h *MonitorHandlers) RegisterRoutes(r chi.Router) {
	r.With(h.limiter.Middleware).Post("/monitors", h.handleCreate)
	r.With(h.limiter.Middleware).Post("/monitors/bulk", h.handleBulkCreate)

	r.Route("/monitors/{id}", func(r chi.Router) {
		r.Get("/", h.handleGet)
		r.With(auth.RequireMonitorManageKey(h.db, monitorIDParam)).Patch("/", h.handleUpdate)
		r.With(auth.RequireMonitorManageKey(h.db, monitorIDParam)).Delete("/", h.handleDelete)
		r.With(auth.RequireMonitorManageKey(h.db, monitorIDParam)).Post("/pause", h.handlePause)
		r.With(auth.RequireMonitorManageKey(h.db, monitorIDParam)).Post("/resume", h.handleResume)
		r.Get("/heartbeats", h.handleHeartbeats)
		r.Get("/incidents", h.handleIncidents)
	})
}

func monitorIDParam(r *http.Request) string {
	return chi.URLParam(r, "id")
}

// monitorRequest is the wire shape accepted by create/update. Fields the
// status engine owns (current_status, consecutive_failures) are never
// read from the request.
type monitorRequest struct {
	Name                  string `json:"name"`
	URL                   string `json:"url"`
	MonitorType           string `json:"monitor_type"`
	Method                string `json:"method"`
	Headers               string `json:"headers"`
	BodyContains          string `json:"body_contains"`
	FollowRedirects       bool   `json:"follow_redirects"`
	DNSRecordType         string `json:"dns_record_type"`
	DNSExpected           string `json:"dns_expected"`
	IntervalSeconds       int    `json:"interval_seconds"`
	TimeoutMs             int    `json:"timeout_ms"`
	ExpectedStatus        int    `json:"expected_status"`
	ConfirmationThreshold int    `json:"confirmation_threshold"`
	ResponseTimeThreshold *int   `json:"response_time_threshold_ms"`
	ConsensusThreshold    *int   `json:"consensus_threshold"`
	IsPublic              bool   `json:"is_public"`
	Tags                  string `json:"tags"`
	GroupName             string `json:"group_name"`
	SLATarget             float64 `json:"sla_target"`
	SLAPeriodDays         int    `json:"sla_period_days"`
}

func (req monitorRequest) toMonitor() *store.Monitor {
	m := &store.Monitor{
		Name:                  req.Name,
		URL:                   req.URL,
		MonitorType:           req.MonitorType,
		Method:                req.Method,
		Headers:               req.Headers,
		BodyContains:          req.BodyContains,
		FollowRedirects:       req.FollowRedirects,
		DNSRecordType:         req.DNSRecordType,
		DNSExpected:           req.DNSExpected,
		IntervalSeconds:       req.IntervalSeconds,
		TimeoutMs:             req.TimeoutMs,
		ExpectedStatus:        req.ExpectedStatus,
		ConfirmationThreshold: req.ConfirmationThreshold,
		ResponseTimeThreshold: req.ResponseTimeThreshold,
		ConsensusThreshold:    req.ConsensusThreshold,
		IsPublic:              req.IsPublic,
		Tags:                  req.Tags,
		GroupName:             req.GroupName,
		SLATarget:             req.SLATarget,
		SLAPeriodDays:         req.SLAPeriodDays,
	}
	if m.ExpectedStatus == 0 {
		m.ExpectedStatus = 200
	}
	return m
}

type monitorView struct {
	ID                    string  `json:"id"`
	Name                  string  `json:"name"`
	Slug                  string  `json:"slug"`
	URL                    string  `json:"url"`
	MonitorType           string  `json:"monitor_type"`
	Method                string  `json:"method"`
	Headers               string  `json:"headers"`
	BodyContains          string  `json:"body_contains,omitempty"`
	FollowRedirects       bool    `json:"follow_redirects"`
	DNSRecordType         string  `json:"dns_record_type,omitempty"`
	DNSExpected           string  `json:"dns_expected,omitempty"`
	IntervalSeconds       int     `json:"interval_seconds"`
	TimeoutMs             int     `json:"timeout_ms"`
	ExpectedStatus        int     `json:"expected_status"`
	ConfirmationThreshold int     `json:"confirmation_threshold"`
	ResponseTimeThreshold *int    `json:"response_time_threshold_ms,omitempty"`
	ConsecutiveFailures   int     `json:"consecutive_failures"`
	ConsensusThreshold    *int    `json:"consensus_threshold,omitempty"`
	IsPublic              bool    `json:"is_public"`
	IsPaused              bool    `json:"is_paused"`
	Tags                  string  `json:"tags"`
	GroupName             string  `json:"group_name,omitempty"`
	SLATarget             float64 `json:"sla_target"`
	SLAPeriodDays         int     `json:"sla_period_days"`
	CurrentStatus         string  `json:"current_status"`
	LastCheckedAt         string  `json:"last_checked_at,omitempty"`
	CreatedAt             string  `json:"created_at"`
	UpdatedAt             string  `json:"updated_at"`
}

func viewMonitor(m *store.Monitor) monitorView {
	return monitorView{
		ID: m.ID, Name: m.Name, Slug: m.Slug, URL: m.URL, MonitorType: m.MonitorType,
		Method: m.Method, Headers: m.Headers, BodyContains: m.BodyContains,
		FollowRedirects: m.FollowRedirects, DNSRecordType: m.DNSRecordType, DNSExpected: m.DNSExpected,
		IntervalSeconds: m.IntervalSeconds, TimeoutMs: m.TimeoutMs, ExpectedStatus: m.ExpectedStatus,
		ConfirmationThreshold: m.ConfirmationThreshold, ResponseTimeThreshold: m.ResponseTimeThreshold,
		ConsecutiveFailures: m.ConsecutiveFailures, ConsensusThreshold: m.ConsensusThreshold,
		IsPublic: m.IsPublic, IsPaused: m.IsPaused, Tags: m.Tags, GroupName: m.GroupName,
		SLATarget: m.SLATarget, SLAPeriodDays: m.SLAPeriodDays, CurrentStatus: m.CurrentStatus,
		LastCheckedAt: timeutil.StoreToWire(m.LastCheckedAt),
		CreatedAt:     timeutil.StoreToWire(m.CreatedAt),
		UpdatedAt:     timeutil.StoreToWire(m.UpdatedAt),
	}
}

type createdMonitor struct {
	Monitor   monitorView `json:"monitor"`
	ManageKey string      `json:"manage_key"`
	ManageURL string      `json:"manage_url"`
	ViewURL   string      `json:"view_url"`
	APIBase   string      `json:"api_base"`
}

func (h *MonitorHandlers) createOne(r *http.Request, req monitorRequest) (createdMonitor, error) {
	m := req.toMonitor()
	if err := normalizeMonitor(m); err != nil {
		return createdMonitor{}, err
	}

	m.ID = uuid.NewString()
	base := slugify(m.Name)
	slug, err := uniqueSlug(r.Context(), h.db, base)
	if err != nil {
		return createdMonitor{}, err
	}
	m.Slug = slug

	token, err := auth.Generate()
	if err != nil {
		return createdMonitor{}, err
	}
	m.ManageKeyHash = auth.Hash(token)

	if err := h.db.CreateMonitor(r.Context(), m); err != nil {
		return createdMonitor{}, err
	}

	apiBase := apiBaseURL(r)
	return createdMonitor{
		Monitor:   viewMonitor(m),
		ManageKey: token,
		ManageURL: fmt.Sprintf("%s/monitors/%s?key=%s", apiBase, m.ID, token),
		ViewURL:   fmt.Sprintf("%s/m/%s", apiBase, m.Slug),
		APIBase:   apiBase,
	}, nil
}

func apiBaseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/api/v1", scheme, r.Host)
}

func (h *MonitorHandlers) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req monitorRequest
	if !decodeJSON(r, &req) {
		malformedJSON(w)
		return
	}

	created, err := h.createOne(r, req)
	if err != nil {
		h.writeCreateError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

type bulkCreateRequest struct {
	Monitors []monitorRequest `json:"monitors"`
}

type bulkCreateResponse struct {
	Created   []createdMonitor `json:"created"`
	Errors    []string         `json:"errors"`
	Total     int              `json:"total"`
	Succeeded int              `json:"succeeded"`
	Failed    int              `json:"failed"`
}

func (h *MonitorHandlers) handleBulkCreate(w http.ResponseWriter, r *http.Request) {
	var req bulkCreateRequest
	if !decodeJSON(r, &req) {
		malformedJSON(w)
		return
	}
	if len(req.Monitors) > maxBulkMonitors {
		badRequest(w, "BULK_LIMIT_EXCEEDED", fmt.Sprintf("bulk create accepts at most %d monitors", maxBulkMonitors))
		return
	}

	resp := bulkCreateResponse{Total: len(req.Monitors)}
	for _, mr := range req.Monitors {
		created, err := h.createOne(r, mr)
		if err != nil {
			resp.Failed++
			resp.Errors = append(resp.Errors, errMessage(err))
			continue
		}
		resp.Succeeded++
		resp.Created = append(resp.Created, created)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *MonitorHandlers) handleGet(w http.ResponseWriter, r *http.Request) {
	m, err := h.db.GetMonitor(r.Context(), monitorIDParam(r))
	if errors.Is(err, store.ErrNotFound) {
		notFound(w, "monitor not found")
		return
	}
	if err != nil {
		internalError(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, viewMonitor(m))
}

func (h *MonitorHandlers) handleUpdate(w http.ResponseWriter, r *http.Request) {
	existing, err := h.db.GetMonitor(r.Context(), monitorIDParam(r))
	if errors.Is(err, store.ErrNotFound) {
		notFound(w, "monitor not found")
		return
	}
	if err != nil {
		internalError(w, err.Error())
		return
	}

	var req monitorRequest
	if !decodeJSON(r, &req) {
		malformedJSON(w)
		return
	}

	m := req.toMonitor()
	m.ID = existing.ID
	m.Slug = existing.Slug
	m.ManageKeyHash = existing.ManageKeyHash
	if err := normalizeMonitor(m); err != nil {
		badRequest(w, "VALIDATION_FAILED", err.Error())
		return
	}

	if err := h.db.UpdateMonitor(r.Context(), m); err != nil {
		internalError(w, err.Error())
		return
	}

	updated, err := h.db.GetMonitor(r.Context(), m.ID)
	if err != nil {
		internalError(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, viewMonitor(updated))
}

func (h *MonitorHandlers) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.db.DeleteMonitor(r.Context(), monitorIDParam(r)); errors.Is(err, store.ErrNotFound) {
		notFound(w, "monitor not found")
		return
	} else if err != nil {
		internalError(w, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *MonitorHandlers) handlePause(w http.ResponseWriter, r *http.Request) {
	h.setPaused(w, r, true)
}

func (h *MonitorHandlers) handleResume(w http.ResponseWriter, r *http.Request) {
	h.setPaused(w, r, false)
}

func (h *MonitorHandlers) setPaused(w http.ResponseWriter, r *http.Request, paused bool) {
	if err := h.db.SetPaused(r.Context(), monitorIDParam(r), paused); errors.Is(err, store.ErrNotFound) {
		notFound(w, "monitor not found")
		return
	} else if err != nil {
		internalError(w, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func pageFromQuery(r *http.Request) store.Page {
	q := r.URL.Query()
	after, _ := strconv.ParseInt(q.Get("after"), 10, 64)
	limit, _ := strconv.Atoi(q.Get("limit"))
	return store.Page{After: after, Limit: limit}.Clamp(50, 200)
}

type heartbeatView struct {
	ID             string `json:"id"`
	MonitorID      string `json:"monitor_id"`
	LocationID     string `json:"location_id,omitempty"`
	Status         string `json:"status"`
	ResponseTimeMs int    `json:"response_time_ms"`
	StatusCode     *int   `json:"status_code,omitempty"`
	ErrorMessage   string `json:"error_message,omitempty"`
	CheckedAt      string `json:"checked_at"`
	Seq            int64  `json:"seq"`
}

func (h *MonitorHandlers) handleHeartbeats(w http.ResponseWriter, r *http.Request) {
	monitorID := monitorIDParam(r)
	if ok, err := h.db.MonitorExists(r.Context(), monitorID); err != nil {
		internalError(w, err.Error())
		return
	} else if !ok {
		notFound(w, "monitor not found")
		return
	}

	hbs, err := h.db.ListHeartbeats(r.Context(), monitorID, pageFromQuery(r))
	if err != nil {
		internalError(w, err.Error())
		return
	}

	out := make([]heartbeatView, 0, len(hbs))
	for _, hb := range hbs {
		out = append(out, heartbeatView{
			ID: hb.ID, MonitorID: hb.MonitorID, LocationID: hb.LocationID, Status: hb.Status,
			ResponseTimeMs: hb.ResponseTimeMs, StatusCode: hb.StatusCode, ErrorMessage: hb.ErrorMessage,
			CheckedAt: timeutil.StoreToWire(hb.CheckedAt), Seq: hb.Seq,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type incidentView struct {
	ID              string `json:"id"`
	MonitorID       string `json:"monitor_id"`
	StartedAt       string `json:"started_at"`
	ResolvedAt      string `json:"resolved_at,omitempty"`
	Cause           string `json:"cause"`
	Acknowledgement string `json:"acknowledgement,omitempty"`
	AcknowledgedBy  string `json:"acknowledged_by,omitempty"`
	AcknowledgedAt  string `json:"acknowledged_at,omitempty"`
	Seq             int64  `json:"seq"`
}

func viewIncident(i *store.Incident) incidentView {
	return incidentView{
		ID: i.ID, MonitorID: i.MonitorID, StartedAt: timeutil.StoreToWire(i.StartedAt),
		ResolvedAt: timeutil.StoreToWire(i.ResolvedAt), Cause: i.Cause,
		Acknowledgement: i.Acknowledgement, AcknowledgedBy: i.AcknowledgedBy,
		AcknowledgedAt: timeutil.StoreToWire(i.AcknowledgedAt), Seq: i.Seq,
	}
}

func (h *MonitorHandlers) handleIncidents(w http.ResponseWriter, r *http.Request) {
	monitorID := monitorIDParam(r)
	if ok, err := h.db.MonitorExists(r.Context(), monitorID); err != nil {
		internalError(w, err.Error())
		return
	} else if !ok {
		notFound(w, "monitor not found")
		return
	}

	incidents, err := h.db.ListIncidents(r.Context(), monitorID, pageFromQuery(r))
	if err != nil {
		internalError(w, err.Error())
		return
	}

	out := make([]incidentView, 0, len(incidents))
	for _, i := range incidents {
		out = append(out, viewIncident(i))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *MonitorHandlers) writeCreateError(w http.ResponseWriter, err error) {
	var verr *validationError
	if errors.As(err, &verr) {
		badRequest(w, "VALIDATION_FAILED", verr.Error())
		return
	}
	internalError(w, err.Error())
}

func errMessage(err error) string {
	var verr *validationError
	if errors.As(err, &verr) {
		return verr.Error()
	}
	return err.Error()
}

