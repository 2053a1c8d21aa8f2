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

// DependencyHandlers serves monitor-dependency CRUD and the dependents
// listing, gated by the owning monitor's manage key on mutation (spec §3,
// §6).
type DependencyHandlers struct {
	db  *store.DB
	log zerolog.Logger
}

// NewDependencyHandlers builds a DependencyHandlers.
func NewDependencyHandlers(db *store.DB, log zerolog.Logger) *DependencyHandlers {
	return &DependencyHandlers{db: db, log: log.With().Str("component", "dependency_handlers").Logger()}
}

// RegisterRoutes mounts the dependency surface under r.
func (h *DependencyHandlers) RegisterRoutes(r chi.Router) {
	manageGate := auth.RequireMonitorManageKey(h.db, monitorIDParam)
	r.Route("/monitors/{id}/dependencies", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.With(manageGate).Post("/", h.handleCreate)
		r.With(manageGate).Delete("/{dependencyID}", h.handleDelete)
	})
	r.Get("/monitors/{id}/dependents", h.handleDependents)
}

type dependencyRequest struct {
	DependsOnID string `json:"depends_on_id"`
}

type dependencyView struct {
	ID              string `json:"id"`
	MonitorID       string `json:"monitor_id"`
	DependsOnID     string `json:"depends_on_id"`
	DependsOnName   string `json:"depends_on_name"`
	DependsOnStatus string `json:"depends_on_status"`
	CreatedAt       string `json:"created_at"`
}

func viewDependency(d *store.MonitorDependency) dependencyView {
	return dependencyView{
		ID: d.ID, MonitorID: d.MonitorID, DependsOnID: d.DependsOnID,
		DependsOnName: d.DependsOnName, DependsOnStatus: d.DependsOnStatus, CreatedAt: d.CreatedAt,
	}
}

func (h *DependencyHandlers) handleList(w http.ResponseWriter, r *http.Request) {
	deps, err := h.db.ListDependencies(r.Context(), monitorIDParam(r))
	if err != nil {
		internalError(w, err.Error())
		return
	}
	out := make([]dependencyView, 0, len(deps))
	for _, d := range deps {
		out = append(out, viewDependency(d))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *DependencyHandlers) handleDependents(w http.ResponseWriter, r *http.Request) {
	deps, err := h.db.ListDependents(r.Context(), monitorIDParam(r))
	if err != nil {
		internalError(w, err.Error())
		return
	}
	out := make([]dependencyView, 0, len(deps))
	for _, d := range deps {
		out = append(out, viewDependency(d))
	}
	writeJSON(w, http.StatusOK, out)
}

// handleCreate rejects self-dependency and any cycle the new edge would
// close, per spec §3's MonitorDependency invariant. Checks run in this
// order: self-reference, existence, duplicate, then cycle.
func (h *DependencyHandlers) handleCreate(w http.ResponseWriter, r *http.Request) {
	monitorID := monitorIDParam(r)

	var req dependencyRequest
	if !decodeJSON(r, &req) {
		malformedJSON(w)
		return
	}
	if req.DependsOnID == "" {
		badRequest(w, "VALIDATION_FAILED", "depends_on_id must not be empty")
		return
	}
	if req.DependsOnID == monitorID {
		badRequest(w, "SELF_DEPENDENCY", "a monitor cannot depend on itself")
		return
	}

	exists, err := h.db.MonitorExists(r.Context(), req.DependsOnID)
	if err != nil {
		internalError(w, err.Error())
		return
	}
	if !exists {
		notFound(w, "depends_on_id does not reference an existing monitor")
		return
	}

	dup, err := h.db.DependencyExists(r.Context(), monitorID, req.DependsOnID)
	if err != nil {
		internalError(w, err.Error())
		return
	}
	if dup {
		writeError(w, http.StatusConflict, "DUPLICATE_DEPENDENCY", "this dependency already exists")
		return
	}

	cyclic, err := h.db.HasCircularDependency(r.Context(), monitorID, req.DependsOnID)
	if err != nil {
		internalError(w, err.Error())
		return
	}
	if cyclic {
		writeError(w, http.StatusConflict, "CIRCULAR_DEPENDENCY", "this dependency would create a cycle")
		return
	}

	dep := &store.MonitorDependency{ID: uuid.NewString(), MonitorID: monitorID, DependsOnID: req.DependsOnID}
	if err := h.db.CreateDependency(r.Context(), dep); err != nil {
		internalError(w, err.Error())
		return
	}

	created, err := h.db.GetMonitor(r.Context(), req.DependsOnID)
	if err != nil {
		internalError(w, err.Error())
		return
	}
	dep.DependsOnName = created.Name
	dep.DependsOnStatus = created.CurrentStatus
	writeJSON(w, http.StatusCreated, viewDependency(dep))
}

func (h *DependencyHandlers) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.db.DeleteDependency(r.Context(), chi.URLParam(r, "dependencyID")); errors.Is(err, store.ErrNotFound) {
		notFound(w, "dependency not found")
		return
	} else if err != nil {
		internalError(w, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
