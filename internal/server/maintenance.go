package server

import (
	"errors"
	"net/http"

	"github.com/aristath/watchpost/internal/auth"
	"github.com/aristath/watchpost/internal/store"
	"github.com/aristath/watchpost/internal/timeutil"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// MaintenanceHandlers serves maintenance-window CRUD for a monitor,
// gated by its manage key (spec §3, §6).
type MaintenanceHandlers struct {
	db  *store.DB
	log zerolog.Logger
}

// NewMaintenanceHandlers builds a MaintenanceHandlers.
func NewMaintenanceHandlers(db *store.DB, log zerolog.Logger) *MaintenanceHandlers {
	return &MaintenanceHandlers{db: db, log: log.With().Str("component", "maintenance_handlers").Logger()}
}

// RegisterRoutes mounts the maintenance-window surface under r.
func (h *MaintenanceHandlers) RegisterRoutes(r chi.Router) {
	manageGate := auth.RequireMonitorManageKey(h.db, monitorIDParam)
	r.Route("/monitors/{id}/maintenance", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.With(manageGate).Post("/", h.handleCreate)
		r.With(manageGate).Delete("/{windowID}", h.handleDelete)
	})
}

type maintenanceRequest struct {
	Title    string `json:"title"`
	StartsAt string `json:"starts_at"`
	EndsAt   string `json:"ends_at"`
}

type maintenanceView struct {
	ID        string `json:"id"`
	MonitorID string `json:"monitor_id"`
	Title     string `json:"title"`
	StartsAt  string `json:"starts_at"`
	EndsAt    string `json:"ends_at"`
	CreatedAt string `json:"created_at"`
}

func viewMaintenance(w *store.MaintenanceWindow) maintenanceView {
	return maintenanceView{
		ID: w.ID, MonitorID: w.MonitorID, Title: w.Title,
		StartsAt: timeutil.StoreToWire(w.StartsAt), EndsAt: timeutil.StoreToWire(w.EndsAt),
		CreatedAt: w.CreatedAt,
	}
}

func (h *MaintenanceHandlers) handleList(w http.ResponseWriter, r *http.Request) {
	monitorID := monitorIDParam(r)
	if ok, err := h.db.MonitorExists(r.Context(), monitorID); err != nil {
		internalError(w, err.Error())
		return
	} else if !ok {
		notFound(w, "monitor not found")
		return
	}

	windows, err := h.db.ListMaintenanceWindows(r.Context(), monitorID)
	if err != nil {
		internalError(w, err.Error())
		return
	}
	out := make([]maintenanceView, 0, len(windows))
	for _, win := range windows {
		out = append(out, viewMaintenance(win))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *MaintenanceHandlers) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req maintenanceRequest
	if !decodeJSON(r, &req) {
		malformedJSON(w)
		return
	}

	starts, err := timeutil.ParseWire(req.StartsAt)
	if err != nil {
		badRequest(w, "VALIDATION_FAILED", "starts_at must be ISO-8601")
		return
	}
	ends, err := timeutil.ParseWire(req.EndsAt)
	if err != nil {
		badRequest(w, "VALIDATION_FAILED", "ends_at must be ISO-8601")
		return
	}
	if !ends.After(starts) {
		badRequest(w, "VALIDATION_FAILED", "ends_at must be after starts_at")
		return
	}

	win := &store.MaintenanceWindow{
		ID: uuid.NewString(), MonitorID: monitorIDParam(r), Title: req.Title,
		StartsAt: timeutil.ToStore(starts), EndsAt: timeutil.ToStore(ends),
	}
	if err := h.db.CreateMaintenanceWindow(r.Context(), win); err != nil {
		internalError(w, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, viewMaintenance(win))
}

func (h *MaintenanceHandlers) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.db.DeleteMaintenanceWindow(r.Context(), chi.URLParam(r, "windowID")); errors.Is(err, store.ErrNotFound) {
		notFound(w, "maintenance window not found")
		return
	} else if err != nil {
		internalError(w, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
