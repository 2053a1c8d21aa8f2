package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aristath/watchpost/internal/timeutil"
)

// UpsertAlertRule writes r, creating the row on first call and replacing
// it thereafter — one rule per monitor (spec §4.G), grounded on
// alerts.rs's set_alert_rules ON CONFLICT(monitor_id) DO UPDATE.
func (db *DB) UpsertAlertRule(ctx context.Context, r *AlertRule) error {
	now := timeutil.ToStore(timeutil.Now())
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO alert_rules (monitor_id, repeat_interval_minutes, max_repeats, escalation_after_minutes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(monitor_id) DO UPDATE SET
			repeat_interval_minutes = excluded.repeat_interval_minutes,
			max_repeats = excluded.max_repeats,
			escalation_after_minutes = excluded.escalation_after_minutes,
			updated_at = excluded.updated_at`,
		r.MonitorID, r.RepeatIntervalMinutes, r.MaxRepeats, r.EscalationAfterMinutes, now, now)
	if err != nil {
		return fmt.Errorf("upsert alert rule: %w", err)
	}
	return nil
}

// GetAlertRule returns the monitor's alert rule, or ErrNotFound if none
// has been configured.
func (db *DB) GetAlertRule(ctx context.Context, monitorID string) (*AlertRule, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT monitor_id, repeat_interval_minutes, max_repeats, escalation_after_minutes, created_at, updated_at
		FROM alert_rules WHERE monitor_id = ?`, monitorID)

	var r AlertRule
	err := row.Scan(&r.MonitorID, &r.RepeatIntervalMinutes, &r.MaxRepeats, &r.EscalationAfterMinutes, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get alert rule: %w", err)
	}
	return &r, nil
}

// DeleteAlertRule removes a monitor's alert rule, reverting it to the
// built-in defaults.
func (db *DB) DeleteAlertRule(ctx context.Context, monitorID string) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM alert_rules WHERE monitor_id = ?`, monitorID)
	if err != nil {
		return fmt.Errorf("delete alert rule: %w", err)
	}
	return requireAffected(res)
}

// AllAlertRules returns every configured alert rule, used by the
// reminder/escalation ticker to avoid one query per open incident.
func (db *DB) AllAlertRules(ctx context.Context) (map[string]*AlertRule, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT monitor_id, repeat_interval_minutes, max_repeats, escalation_after_minutes, created_at, updated_at
		FROM alert_rules`)
	if err != nil {
		return nil, fmt.Errorf("list alert rules: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*AlertRule)
	for rows.Next() {
		var r AlertRule
		if err := rows.Scan(&r.MonitorID, &r.RepeatIntervalMinutes, &r.MaxRepeats, &r.EscalationAfterMinutes, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan alert rule: %w", err)
		}
		out[r.MonitorID] = &r
	}
	return out, rows.Err()
}
