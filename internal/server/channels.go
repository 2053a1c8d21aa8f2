package server

import (
	"errors"
	"net/http"

	"github.com/aristath/watchpost/internal/auth"
	"github.com/aristath/watchpost/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ChannelHandlers serves notification-channel CRUD, nested under a
// monitor and gated by its manage key (spec §6).
type ChannelHandlers struct {
	db  *store.DB
	log zerolog.Logger
}

// NewChannelHandlers builds a ChannelHandlers.
func NewChannelHandlers(db *store.DB, log zerolog.Logger) *ChannelHandlers {
	return &ChannelHandlers{db: db, log: log.With().Str("component", "channel_handlers").Logger()}
}

// RegisterRoutes mounts the channel surface under r, nested at
// /monitors/{id}/notifications.
func (h *ChannelHandlers) RegisterRoutes(r chi.Router) {
	manageGate := auth.RequireMonitorManageKey(h.db, monitorIDParam)
	r.Route("/monitors/{id}/notifications", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.With(manageGate).Post("/", h.handleCreate)
		r.With(manageGate).Patch("/{channelID}", h.handleUpdate)
		r.With(manageGate).Delete("/{channelID}", h.handleDelete)
	})
}

type channelRequest struct {
	Name        string `json:"name"`
	ChannelType string `json:"channel_type"`
	Config      string `json:"config"`
	IsEnabled   bool   `json:"is_enabled"`
}

type channelView struct {
	ID          string `json:"id"`
	MonitorID   string `json:"monitor_id"`
	Name        string `json:"name"`
	ChannelType string `json:"channel_type"`
	Config      string `json:"config"`
	IsEnabled   bool   `json:"is_enabled"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

func viewChannel(c *store.NotificationChannel) channelView {
	return channelView{
		ID: c.ID, MonitorID: c.MonitorID, Name: c.Name, ChannelType: c.ChannelType,
		Config: c.Config, IsEnabled: c.IsEnabled, CreatedAt: c.CreatedAt, UpdatedAt: c.UpdatedAt,
	}
}

func (h *ChannelHandlers) handleList(w http.ResponseWriter, r *http.Request) {
	monitorID := monitorIDParam(r)
	if ok, err := h.db.MonitorExists(r.Context(), monitorID); err != nil {
		internalError(w, err.Error())
		return
	} else if !ok {
		notFound(w, "monitor not found")
		return
	}

	channels, err := h.db.ListChannelsForMonitor(r.Context(), monitorID)
	if err != nil {
		internalError(w, err.Error())
		return
	}
	out := make([]channelView, 0, len(channels))
	for _, c := range channels {
		out = append(out, viewChannel(c))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *ChannelHandlers) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req channelRequest
	if !decodeJSON(r, &req) {
		malformedJSON(w)
		return
	}

	c := &store.NotificationChannel{
		ID: uuid.NewString(), MonitorID: monitorIDParam(r), Name: req.Name,
		ChannelType: req.ChannelType, Config: req.Config, IsEnabled: req.IsEnabled,
	}
	if err := validateChannel(c); err != nil {
		badRequest(w, "VALIDATION_FAILED", err.Error())
		return
	}

	if err := h.db.CreateChannel(r.Context(), c); err != nil {
		internalError(w, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, viewChannel(c))
}

func (h *ChannelHandlers) handleUpdate(w http.ResponseWriter, r *http.Request) {
	existing, err := h.db.GetChannel(r.Context(), chi.URLParam(r, "channelID"))
	if errors.Is(err, store.ErrNotFound) {
		notFound(w, "notification channel not found")
		return
	}
	if err != nil {
		internalError(w, err.Error())
		return
	}

	var req channelRequest
	if !decodeJSON(r, &req) {
		malformedJSON(w)
		return
	}

	existing.Name = req.Name
	existing.Config = req.Config
	existing.IsEnabled = req.IsEnabled
	if err := validateChannel(existing); err != nil {
		badRequest(w, "VALIDATION_FAILED", err.Error())
		return
	}

	if err := h.db.UpdateChannel(r.Context(), existing); err != nil {
		internalError(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, viewChannel(existing))
}

func (h *ChannelHandlers) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.db.DeleteChannel(r.Context(), chi.URLParam(r, "channelID")); errors.Is(err, store.ErrNotFound) {
		notFound(w, "notification channel not found")
		return
	} else if err != nil {
		internalError(w, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
