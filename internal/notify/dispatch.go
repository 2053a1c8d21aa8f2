package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/aristath/watchpost/internal/config"
	"github.com/aristath/watchpost/internal/events"
	"github.com/aristath/watchpost/internal/store"
	"github.com/rs/zerolog"
)

// Dispatcher fans a status-engine event out to every enabled channel
// attached to a monitor, outside the store's write lock.
type Dispatcher struct {
	db     *store.DB
	cfg    *config.Config
	log    zerolog.Logger
	client *http.Client
}

// NewDispatcher builds a Dispatcher. cfg's SMTP fields are read at
// delivery time, so a cfg with SMTPConfigured()==false simply skips
// email channels.
func NewDispatcher(db *store.DB, cfg *config.Config, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		db:     db,
		cfg:    cfg,
		log:    log.With().Str("component", "notify").Logger(),
		client: &http.Client{Timeout: webhookTimeout},
	}
}

// Dispatch resolves the channels attached to m and fires webhook and
// email deliveries concurrently. suppressed corresponds to spec §4.F.3's
// dependency-suppression rule: the incident/transition is still recorded
// by the caller, but no notification is actually sent.
func (d *Dispatcher) Dispatch(ctx context.Context, eventType events.EventType, m *store.Monitor, incident *store.Incident, suppressed bool) {
	if suppressed {
		d.log.Debug().Str("monitor_id", m.ID).Str("event", string(eventType)).
			Msg("notification suppressed: a dependency is down")
		return
	}

	channels, err := d.db.ListChannelsForMonitor(ctx, m.ID)
	if err != nil {
		d.log.Error().Err(err).Str("monitor_id", m.ID).Msg("failed to list notification channels")
		return
	}

	payload := BuildPayload(eventType, m, incident)

	for _, ch := range channels {
		if !ch.IsEnabled {
			continue
		}
		ch := ch
		detached := detachedContext(ctx)
		switch ch.ChannelType {
		case "webhook":
			go deliverWebhook(detached, d.db, d.client, d.log, m.ID, ch, payload)
		case "email":
			go d.dispatchEmail(ch, payload)
		}
	}
}

func (d *Dispatcher) dispatchEmail(ch *store.NotificationChannel, payload Payload) {
	if !d.cfg.SMTPConfigured() {
		d.log.Debug().Str("channel_id", ch.ID).Msg("SMTP not configured, skipping email channel")
		return
	}
	var cfg emailConfig
	if err := json.Unmarshal([]byte(ch.Config), &cfg); err != nil {
		d.log.Warn().Str("channel_id", ch.ID).Err(err).Msg("invalid email channel config")
		return
	}
	deliverEmail(d.cfg, d.log, cfg, payload)
}

// detachedContext strips any deadline from ctx while keeping its values,
// used when a delivery must outlive the request/heartbeat cycle that
// triggered it.
func detachedContext(ctx context.Context) context.Context {
	return detachedCtx{ctx}
}

type detachedCtx struct{ context.Context }

func (detachedCtx) Deadline() (time.Time, bool) { return time.Time{}, false }
func (detachedCtx) Done() <-chan struct{}       { return nil }
func (detachedCtx) Err() error                  { return nil }
