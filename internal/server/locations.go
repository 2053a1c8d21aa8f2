package server

import (
	"net/http"

	"github.com/aristath/watchpost/internal/auth"
	"github.com/aristath/watchpost/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// LocationHandlers registers remote check locations, admin-key gated
// (spec §6). The minted probe key is returned exactly once.
type LocationHandlers struct {
	db  *store.DB
	log zerolog.Logger
}

// NewLocationHandlers builds a LocationHandlers.
func NewLocationHandlers(db *store.DB, log zerolog.Logger) *LocationHandlers {
	return &LocationHandlers{db: db, log: log.With().Str("component", "location_handlers").Logger()}
}

// RegisterRoutes mounts the location surface under r, all admin-key
// gated.
func (h *LocationHandlers) RegisterRoutes(r chi.Router) {
	adminGate := auth.RequireAdminKey(h.db)
	r.Route("/locations", func(r chi.Router) {
		r.With(adminGate).Post("/", h.handleCreate)
		r.With(adminGate).Get("/", h.handleList)
	})
}

type locationRequest struct {
	Name   string `json:"name"`
	Region string `json:"region"`
}

type locationView struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Region     string `json:"region,omitempty"`
	IsActive   bool   `json:"is_active"`
	LastSeenAt string `json:"last_seen_at,omitempty"`
	CreatedAt  string `json:"created_at"`
}

func viewLocation(l *store.CheckLocation) locationView {
	return locationView{
		ID: l.ID, Name: l.Name, Region: l.Region, IsActive: l.IsActive,
		LastSeenAt: l.LastSeenAt, CreatedAt: l.CreatedAt,
	}
}

type createdLocation struct {
	Location locationView `json:"location"`
	ProbeKey string       `json:"probe_key"`
}

func (h *LocationHandlers) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req locationRequest
	if !decodeJSON(r, &req) {
		malformedJSON(w)
		return
	}
	if req.Name == "" {
		badRequest(w, "VALIDATION_FAILED", "name must not be empty")
		return
	}

	token, err := auth.Generate()
	if err != nil {
		internalError(w, err.Error())
		return
	}

	loc := &store.CheckLocation{
		ID: uuid.NewString(), Name: req.Name, Region: req.Region,
		ProbeKeyHash: auth.Hash(token), IsActive: true,
	}
	if err := h.db.CreateLocation(r.Context(), loc); err != nil {
		internalError(w, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, createdLocation{Location: viewLocation(loc), ProbeKey: token})
}

func (h *LocationHandlers) handleList(w http.ResponseWriter, r *http.Request) {
	locs, err := h.db.ListLocations(r.Context())
	if err != nil {
		internalError(w, err.Error())
		return
	}
	out := make([]locationView, 0, len(locs))
	for _, l := range locs {
		out = append(out, viewLocation(l))
	}
	writeJSON(w, http.StatusOK, out)
}
