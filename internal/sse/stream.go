// Package sse exposes the event bus over Server-Sent Events, per spec
// §4.I: a global stream carrying every event, and a per-monitor stream
// filtered to one monitor_id.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/aristath/watchpost/internal/events"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Handler serves the global and per-monitor SSE endpoints.
type Handler struct {
	bus *events.Bus
	log zerolog.Logger
}

// NewHandler builds a Handler backed by bus.
func NewHandler(bus *events.Bus, log zerolog.Logger) *Handler {
	return &Handler{bus: bus, log: log.With().Str("component", "sse").Logger()}
}

// frame is the JSON body written as the SSE data: line.
type frame struct {
	MonitorID string         `json:"monitor_id"`
	Data      map[string]any `json:"data"`
}

// lagFrame is the synthetic frame emitted when a subscriber has missed
// events because it failed to drain its buffer fast enough.
type lagFrame struct {
	Skipped uint64 `json:"skipped"`
}

// ServeGlobal streams every event on the bus to the client.
func (h *Handler) ServeGlobal(w http.ResponseWriter, r *http.Request) {
	h.stream(w, r, "")
}

// ServeMonitor streams only events whose monitor_id matches the
// {id} path parameter.
func (h *Handler) ServeMonitor(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	h.stream(w, r, id)
}

func (h *Handler) stream(w http.ResponseWriter, r *http.Request, filterMonitorID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := h.bus.Subscribe()
	defer sub.Unsubscribe()

	ctx := r.Context()
	var lastLag uint64
	for {
		select {
		case <-ctx.Done():
			return
		case ev, open := <-sub.C:
			if !open {
				return
			}
			if filterMonitorID != "" && ev.MonitorID != filterMonitorID {
				continue
			}
			if lag := sub.Lag(); lag != lastLag {
				writeLagFrame(w, lag-lastLag)
				lastLag = lag
				flusher.Flush()
			}
			if err := writeEvent(w, ev); err != nil {
				h.log.Debug().Err(err).Msg("sse client disconnected")
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, ev *events.Event) error {
	body, err := json.Marshal(frame{MonitorID: ev.MonitorID, Data: ev.Data})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, body)
	return err
}

func writeLagFrame(w http.ResponseWriter, skipped uint64) {
	body, _ := json.Marshal(lagFrame{Skipped: skipped})
	fmt.Fprintf(w, "event: lag\ndata: %s\n\n", body)
}
