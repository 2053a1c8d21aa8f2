package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aristath/watchpost/internal/timeutil"
)

// InsertAlertLogEntry records one reminder/escalation emission, grounded
// on original_source/src/routes/alerts.rs's get_alert_log, which reads
// from a table populated the same way.
func (db *DB) InsertAlertLogEntry(ctx context.Context, e *AlertLogEntry) error {
	e.SentAt = timeutil.ToStore(timeutil.Now())
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO alert_log (id, monitor_id, incident_id, channel_id, alert_type, event, sent_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.MonitorID, e.IncidentID, e.ChannelID, e.AlertType, e.Event, e.SentAt)
	if err != nil {
		return fmt.Errorf("insert alert log entry: %w", err)
	}
	return nil
}

// ListAlertLog returns log entries for monitorID, cursor-paginated per
// alerts.rs's get_alert_log (limit defaults to 50, capped at 200).
func (db *DB) ListAlertLog(ctx context.Context, monitorID string, p Page) ([]*AlertLogEntry, error) {
	p = p.Clamp(50, 200)
	cols := `id, monitor_id, incident_id, channel_id, alert_type, event, sent_at`

	var rows *sql.Rows
	var err error
	if p.After > 0 {
		rows, err = db.conn.QueryContext(ctx, `SELECT `+cols+` FROM alert_log WHERE monitor_id = ? AND rowid > ? ORDER BY rowid ASC LIMIT ?`, monitorID, p.After, p.Limit)
	} else {
		rows, err = db.conn.QueryContext(ctx, `SELECT `+cols+` FROM alert_log WHERE monitor_id = ? ORDER BY rowid DESC LIMIT ?`, monitorID, p.Limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list alert log: %w", err)
	}
	defer rows.Close()

	var out []*AlertLogEntry
	for rows.Next() {
		var e AlertLogEntry
		if err := rows.Scan(&e.ID, &e.MonitorID, &e.IncidentID, &e.ChannelID, &e.AlertType, &e.Event, &e.SentAt); err != nil {
			return nil, fmt.Errorf("scan alert log entry: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// LastAlertForIncident returns the most recent log entry for an incident,
// used to decide whether the repeat interval has elapsed.
func (db *DB) LastAlertForIncident(ctx context.Context, incidentID string) (*AlertLogEntry, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT id, monitor_id, incident_id, channel_id, alert_type, event, sent_at
		FROM alert_log WHERE incident_id = ? ORDER BY rowid DESC LIMIT 1`, incidentID)

	var e AlertLogEntry
	err := row.Scan(&e.ID, &e.MonitorID, &e.IncidentID, &e.ChannelID, &e.AlertType, &e.Event, &e.SentAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last alert for incident: %w", err)
	}
	return &e, nil
}

// CountAlertsForIncident returns how many times alertType has already
// been emitted for an incident, enforcing alert_rules.max_repeats.
func (db *DB) CountAlertsForIncident(ctx context.Context, incidentID, alertType string) (int, error) {
	var n int
	err := db.conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM alert_log WHERE incident_id = ? AND alert_type = ?`, incidentID, alertType).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count alerts for incident: %w", err)
	}
	return n, nil
}
