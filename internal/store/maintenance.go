package store

import (
	"context"
	"fmt"

	"github.com/aristath/watchpost/internal/timeutil"
)

// CreateMaintenanceWindow inserts a suppression window for a monitor.
func (db *DB) CreateMaintenanceWindow(ctx context.Context, w *MaintenanceWindow) error {
	w.CreatedAt = timeutil.ToStore(timeutil.Now())
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO maintenance_windows (id, monitor_id, title, starts_at, ends_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		w.ID, w.MonitorID, w.Title, w.StartsAt, w.EndsAt, w.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert maintenance window: %w", err)
	}
	return nil
}

func scanMaintenanceWindow(row interface {
	Scan(dest ...any) error
}) (*MaintenanceWindow, error) {
	var w MaintenanceWindow
	if err := row.Scan(&w.ID, &w.MonitorID, &w.Title, &w.StartsAt, &w.EndsAt, &w.CreatedAt); err != nil {
		return nil, err
	}
	return &w, nil
}

const maintenanceColumns = `id, monitor_id, title, starts_at, ends_at, created_at`

// ListMaintenanceWindows returns every window for a monitor, past and
// future, ordered by start time.
func (db *DB) ListMaintenanceWindows(ctx context.Context, monitorID string) ([]*MaintenanceWindow, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT `+maintenanceColumns+` FROM maintenance_windows WHERE monitor_id = ? ORDER BY starts_at ASC`, monitorID)
	if err != nil {
		return nil, fmt.Errorf("list maintenance windows: %w", err)
	}
	defer rows.Close()

	var out []*MaintenanceWindow
	for rows.Next() {
		w, err := scanMaintenanceWindow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan maintenance window: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// DeleteMaintenanceWindow removes a window.
func (db *DB) DeleteMaintenanceWindow(ctx context.Context, id string) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM maintenance_windows WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete maintenance window: %w", err)
	}
	return requireAffected(res)
}

// InMaintenanceWindow reports whether now falls within any maintenance
// window registered for monitorID — used by the status engine to suppress
// incident creation (spec §4.F) without suppressing the heartbeat write.
func (db *DB) InMaintenanceWindow(ctx context.Context, monitorID, now string) (bool, error) {
	var n int
	err := db.conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM maintenance_windows
		WHERE monitor_id = ? AND starts_at <= ? AND ends_at > ?`, monitorID, now, now).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check maintenance window: %w", err)
	}
	return n > 0, nil
}
