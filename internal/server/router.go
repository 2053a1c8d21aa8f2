package server

import (
	"net/http"

	"github.com/aristath/watchpost/internal/config"
	"github.com/aristath/watchpost/internal/events"
	"github.com/aristath/watchpost/internal/notify"
	"github.com/aristath/watchpost/internal/reliability"
	"github.com/aristath/watchpost/internal/sse"
	"github.com/aristath/watchpost/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
)

// Dependencies bundles everything the router needs to mount the full
// core-relevant HTTP surface of spec §6.
type Dependencies struct {
	DB             *store.DB
	Bus            *events.Bus
	Notifier       *notify.Dispatcher
	BackupService  *reliability.R2BackupService
	RestoreService *reliability.RestoreService
	Config         *config.Config
	Log            zerolog.Logger
}

// NewRouter builds the chi router for the whole service: request IDs,
// real-IP and panic recovery (chi's own middleware, matching the teacher's
// use of the same package), CORS, the fixed-window create limiter, every
// resource handler, and the SSE mounts. No request-logging middleware is
// installed.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-API-Key"},
		MaxAge:           300,
	}))

	limit := 10
	if deps.Config != nil {
		limit = deps.Config.MonitorRateLimit
	}
	limiter := NewRateLimiter(limit)

	monitorHandlers := NewMonitorHandlers(deps.DB, limiter, deps.Log)
	incidentHandlers := NewIncidentHandlers(deps.DB, deps.Log)
	channelHandlers := NewChannelHandlers(deps.DB, deps.Log)
	alertRuleHandlers := NewAlertRuleHandlers(deps.DB, deps.Log)
	maintenanceHandlers := NewMaintenanceHandlers(deps.DB, deps.Log)
	dependencyHandlers := NewDependencyHandlers(deps.DB, deps.Log)
	locationHandlers := NewLocationHandlers(deps.DB, deps.Log)
	probeHandlers := NewProbeHandlers(deps.DB, deps.Bus, deps.Notifier, deps.Log)
	backupHandlers := NewBackupHandlers(deps.BackupService, deps.RestoreService, deps.Log)
	sseHandler := sse.NewHandler(deps.Bus, deps.Log)

	r.Route("/api/v1", func(r chi.Router) {
		monitorHandlers.RegisterRoutes(r)
		incidentHandlers.RegisterRoutes(r)
		channelHandlers.RegisterRoutes(r)
		alertRuleHandlers.RegisterRoutes(r)
		maintenanceHandlers.RegisterRoutes(r)
		dependencyHandlers.RegisterRoutes(r)
		locationHandlers.RegisterRoutes(r)
		probeHandlers.RegisterRoutes(r)

		r.Get("/events", sseHandler.ServeGlobal)
		r.Get("/monitors/{id}/events", sseHandler.ServeMonitor)

		r.Route("/admin", func(r chi.Router) {
			backupHandlers.RegisterRoutes(r)
		})
	})

	return r
}
