package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/aristath/watchpost/internal/store"
)

// ErrForbidden signals a token was present but did not match the target
// resource's stored hash.
var ErrForbidden = errors.New("forbidden")

type ctxKey string

const (
	ctxManageAuthed ctxKey = "watchpost.manage_authed"
	ctxAdminAuthed  ctxKey = "watchpost.admin_authed"
	ctxLocationID   ctxKey = "watchpost.location_id"
)

// RequireMonitorManageKey verifies the inbound token against the target
// monitor's manage_key_hash. On success it marks the request context as
// authenticated for downstream handlers that reveal extra fields to the
// owner; on failure it writes 401/403 and does not call next.
func RequireMonitorManageKey(db *store.DB, monitorIDFromPath func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			monitorID := monitorIDFromPath(r)
			m, err := db.GetMonitor(r.Context(), monitorID)
			if errors.Is(err, store.ErrNotFound) {
				http.Error(w, "not found", http.StatusNotFound)
				return
			}
			if err != nil {
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}

			tok, extractErr := Extract(r)
			if extractErr != nil {
				http.Error(w, "missing token", http.StatusUnauthorized)
				return
			}
			if !Verify(tok, m.ManageKeyHash) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}

			ctx := context.WithValue(r.Context(), ctxManageAuthed, true)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalMonitorManageKey behaves like RequireMonitorManageKey but never
// rejects the request — it only stamps the context when the supplied
// token verifies, letting a handler branch on IsManageAuthed.
func OptionalMonitorManageKey(db *store.DB, monitorIDFromPath func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if tok, ok := ExtractOptional(r); ok {
				if m, err := db.GetMonitor(ctx, monitorIDFromPath(r)); err == nil && Verify(tok, m.ManageKeyHash) {
					ctx = context.WithValue(ctx, ctxManageAuthed, true)
				}
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireStatusPageManageKey is RequireMonitorManageKey's counterpart for
// the independent status-page key space.
func RequireStatusPageManageKey(db *store.DB, slugFromPath func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			page, err := db.GetStatusPageBySlug(r.Context(), slugFromPath(r))
			if errors.Is(err, store.ErrNotFound) {
				http.Error(w, "not found", http.StatusNotFound)
				return
			}
			if err != nil {
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}

			tok, extractErr := Extract(r)
			if extractErr != nil {
				http.Error(w, "missing token", http.StatusUnauthorized)
				return
			}
			if !Verify(tok, page.ManageKeyHash) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}

			ctx := context.WithValue(r.Context(), ctxManageAuthed, true)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdminKey verifies the inbound token against the process-wide
// admin key stored under settings["admin_key_hash"].
func RequireAdminKey(db *store.DB) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hash, err := db.GetSetting(r.Context(), "admin_key_hash")
			if err != nil {
				http.Error(w, "admin key not configured", http.StatusServiceUnavailable)
				return
			}

			tok, extractErr := Extract(r)
			if extractErr != nil {
				http.Error(w, "missing token", http.StatusUnauthorized)
				return
			}
			if !Verify(tok, hash) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}

			ctx := context.WithValue(r.Context(), ctxAdminAuthed, true)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireProbeKey verifies the inbound token against an active check
// location's probe_key_hash and stamps the resolved location ID onto the
// request context for the submit-probe handler to read, touching its
// last_seen_at on success.
func RequireProbeKey(db *store.DB) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok, extractErr := Extract(r)
			if extractErr != nil {
				http.Error(w, "missing token", http.StatusUnauthorized)
				return
			}

			loc, err := db.LocationByProbeKeyHash(r.Context(), Hash(tok))
			if errors.Is(err, store.ErrNotFound) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			if err != nil {
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}

			_ = db.TouchLocationSeen(r.Context(), loc.ID)
			ctx := context.WithValue(r.Context(), ctxLocationID, loc.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IsManageAuthed reports whether the request context was stamped by
// RequireMonitorManageKey/OptionalMonitorManageKey/RequireStatusPageManageKey.
func IsManageAuthed(ctx context.Context) bool {
	v, _ := ctx.Value(ctxManageAuthed).(bool)
	return v
}

// IsAdminAuthed reports whether RequireAdminKey stamped the context.
func IsAdminAuthed(ctx context.Context) bool {
	v, _ := ctx.Value(ctxAdminAuthed).(bool)
	return v
}

// LocationIDFromContext returns the probe location ID stamped by
// RequireProbeKey, or "" if absent.
func LocationIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxLocationID).(string)
	return v
}
