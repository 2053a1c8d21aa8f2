// Package incident drives the acknowledgement and repeat/escalation
// lifecycle of open incidents.
package incident

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/watchpost/internal/config"
	"github.com/aristath/watchpost/internal/events"
	"github.com/aristath/watchpost/internal/notify"
	"github.com/aristath/watchpost/internal/store"
	"github.com/aristath/watchpost/internal/timeutil"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// defaultMaxRepeats applies when a monitor's alert rule leaves max_repeats
// at 0, per spec §4.G ("default 10"). A monitor with no alert rule gets
// no reminders at all.
const defaultMaxRepeats = 10

// scanSchedule is how often the ticker scans open incidents. Reminders
// and escalations fire at whatever granularity the alert rule's minute
// values resolve to; a 30s scan keeps drift well under a minute.
const scanSchedule = "@every 30s"

// retentionSchedule is how often heartbeats/webhook_deliveries past
// HEARTBEAT_RETENTION_DAYS are pruned (spec §2.N).
const retentionSchedule = "@daily"

// Ticker periodically scans open incidents and emits incident.reminder /
// incident.escalated per monitor's alert rule, and separately runs the
// retention sweep, both driven by robfig/cron schedules.
type Ticker struct {
	db       *store.DB
	bus      *events.Bus
	notifier *notify.Dispatcher
	cfg      *config.Config
	log      zerolog.Logger
	cron     *cron.Cron
}

// NewTicker builds a Ticker. Call Start to begin scanning. cfg may be nil,
// in which case the retention sweep is skipped (no retention window to
// read).
func NewTicker(db *store.DB, bus *events.Bus, notifier *notify.Dispatcher, cfg *config.Config, log zerolog.Logger) *Ticker {
	return &Ticker{
		db:       db,
		bus:      bus,
		notifier: notifier,
		cfg:      cfg,
		log:      log.With().Str("component", "incident_ticker").Logger(),
		cron:     cron.New(),
	}
}

// Start runs the scan loop on scanSchedule, and the retention sweep on
// retentionSchedule, until ctx is cancelled or Stop is called.
func (t *Ticker) Start(ctx context.Context) {
	_, err := t.cron.AddFunc(scanSchedule, func() {
		if err := t.tick(ctx); err != nil {
			t.log.Error().Err(err).Msg("incident ticker scan failed")
		}
	})
	if err != nil {
		t.log.Error().Err(err).Msg("failed to schedule incident ticker")
		return
	}

	if t.cfg != nil && t.cfg.HeartbeatRetentionDays > 0 {
		_, err := t.cron.AddFunc(retentionSchedule, func() { t.sweepRetention(ctx) })
		if err != nil {
			t.log.Error().Err(err).Msg("failed to schedule retention sweep")
		}
	}

	t.cron.Start()

	go func() {
		<-ctx.Done()
		t.cron.Stop()
	}()
}

// sweepRetention deletes heartbeats and webhook deliveries older than
// HEARTBEAT_RETENTION_DAYS.
func (t *Ticker) sweepRetention(ctx context.Context) {
	cutoff := timeutil.ToStore(timeutil.Now().AddDate(0, 0, -t.cfg.HeartbeatRetentionDays))

	heartbeats, err := t.db.PruneHeartbeatsOlderThan(ctx, cutoff)
	if err != nil {
		t.log.Error().Err(err).Msg("retention sweep: prune heartbeats failed")
	} else if heartbeats > 0 {
		t.log.Info().Int64("rows", heartbeats).Msg("retention sweep: pruned heartbeats")
	}

	deliveries, err := t.db.PruneWebhookDeliveriesOlderThan(ctx, cutoff)
	if err != nil {
		t.log.Error().Err(err).Msg("retention sweep: prune webhook deliveries failed")
	} else if deliveries > 0 {
		t.log.Info().Int64("rows", deliveries).Msg("retention sweep: pruned webhook deliveries")
	}
}

// Stop halts the scan loop and waits for any in-flight scan to finish.
func (t *Ticker) Stop() {
	<-t.cron.Stop().Done()
}

func (t *Ticker) tick(ctx context.Context) error {
	rules, err := t.db.AllAlertRules(ctx)
	if err != nil {
		return fmt.Errorf("load alert rules: %w", err)
	}

	open, err := t.db.OpenIncidentsPastThreshold(ctx, 0, false)
	if err != nil {
		return fmt.Errorf("load open incidents: %w", err)
	}

	now := timeutil.Now()
	for _, inc := range open {
		rule := rules[inc.MonitorID]
		if err := t.evaluateIncident(ctx, inc, rule, now); err != nil {
			t.log.Error().Err(err).Str("incident_id", inc.ID).Msg("failed to evaluate incident alert rule")
		}
	}
	return nil
}

func (t *Ticker) evaluateIncident(ctx context.Context, inc *store.Incident, rule *store.AlertRule, now time.Time) error {
	if inc.AcknowledgedAt != "" {
		return nil
	}

	startedAt, err := timeutil.FromStore(inc.StartedAt)
	if err != nil {
		return fmt.Errorf("parse started_at: %w", err)
	}
	elapsedSinceStart := now.Sub(startedAt)

	escalationAfter := 0
	repeatInterval := 0
	maxRepeats := defaultMaxRepeats
	if rule != nil {
		escalationAfter = rule.EscalationAfterMinutes
		repeatInterval = rule.RepeatIntervalMinutes
		if rule.MaxRepeats > 0 {
			maxRepeats = rule.MaxRepeats
		}
	}

	if escalationAfter > 0 && elapsedSinceStart >= time.Duration(escalationAfter)*time.Minute {
		if err := t.maybeEscalate(ctx, inc); err != nil {
			return err
		}
	}

	if repeatInterval > 0 {
		if err := t.maybeRemind(ctx, inc, repeatInterval, maxRepeats, startedAt, now); err != nil {
			return err
		}
	}

	return nil
}

func (t *Ticker) maybeEscalate(ctx context.Context, inc *store.Incident) error {
	count, err := t.db.CountAlertsForIncident(ctx, inc.ID, "escalation")
	if err != nil {
		return fmt.Errorf("count escalations: %w", err)
	}
	if count > 0 {
		return nil // already escalated exactly once, per spec §4.G
	}
	return t.emit(ctx, inc, "escalation", events.IncidentEscalated)
}

func (t *Ticker) maybeRemind(ctx context.Context, inc *store.Incident, repeatIntervalMinutes, maxRepeats int, startedAt, now time.Time) error {
	count, err := t.db.CountAlertsForIncident(ctx, inc.ID, "reminder")
	if err != nil {
		return fmt.Errorf("count reminders: %w", err)
	}
	if count >= maxRepeats {
		return nil
	}

	last, err := t.db.LastAlertForIncident(ctx, inc.ID)
	if err != nil {
		return fmt.Errorf("last alert for incident: %w", err)
	}

	interval := time.Duration(repeatIntervalMinutes) * time.Minute
	var due bool
	if last == nil {
		due = now.Sub(startedAt) >= interval
	} else {
		lastSent, err := timeutil.FromStore(last.SentAt)
		if err != nil {
			return fmt.Errorf("parse last alert sent_at: %w", err)
		}
		due = now.Sub(lastSent) >= interval
	}
	if !due {
		return nil
	}

	return t.emit(ctx, inc, "reminder", events.IncidentReminder)
}

func (t *Ticker) emit(ctx context.Context, inc *store.Incident, alertType string, eventType events.EventType) error {
	if err := t.db.InsertAlertLogEntry(ctx, &store.AlertLogEntry{
		ID:         uuid.NewString(),
		MonitorID:  inc.MonitorID,
		IncidentID: inc.ID,
		AlertType:  alertType,
		Event:      string(eventType),
	}); err != nil {
		return fmt.Errorf("insert alert log entry: %w", err)
	}

	m, err := t.db.GetMonitor(ctx, inc.MonitorID)
	if err != nil {
		return fmt.Errorf("load monitor for alert: %w", err)
	}

	suppressed, err := t.db.HasDependencyDown(ctx, inc.MonitorID)
	if err != nil {
		return fmt.Errorf("check dependency suppression: %w", err)
	}

	if t.bus != nil {
		t.bus.Emit(&events.Event{Type: eventType, MonitorID: inc.MonitorID, Timestamp: timeutil.Now(), Data: map[string]any{
			"incident_id": inc.ID,
		}})
	}
	if t.notifier != nil {
		t.notifier.Dispatch(ctx, eventType, m, inc, suppressed)
	}
	return nil
}
