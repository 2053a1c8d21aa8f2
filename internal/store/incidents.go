package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/watchpost/internal/timeutil"
)

// OpenIncident inserts a new incident for monitorID. Callers must have
// already verified there is no open incident for this monitor (spec §3's
// at-most-one-open-incident invariant) — this is enforced by running under
// WithWriteLock alongside the status transition that triggers it.
func (db *DB) OpenIncident(ctx context.Context, id, monitorID, cause string) (*Incident, error) {
	now := timeutil.ToStore(timeutil.Now())
	var seq int64
	err := db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM incidents`).Scan(&seq); err != nil {
			return fmt.Errorf("allocate incident seq: %w", err)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO incidents (id, monitor_id, started_at, cause, seq)
			VALUES (?, ?, ?, ?, ?)`, id, monitorID, now, cause, seq)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("open incident: %w", err)
	}
	return &Incident{ID: id, MonitorID: monitorID, StartedAt: now, Cause: cause, Seq: seq}, nil
}

// ResolveOpenIncidents closes every open incident for monitorID (normally
// exactly one, per the invariant) and returns their IDs.
func (db *DB) ResolveOpenIncidents(ctx context.Context, monitorID string) ([]string, error) {
	now := timeutil.ToStore(timeutil.Now())
	var ids []string
	err := db.WithTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT id FROM incidents WHERE monitor_id = ? AND resolved_at IS NULL`, monitorID)
		if err != nil {
			return err
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			ids = append(ids, id)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		_, err = tx.ExecContext(ctx, `UPDATE incidents SET resolved_at = ? WHERE monitor_id = ? AND resolved_at IS NULL`, now, monitorID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("resolve incidents: %w", err)
	}
	return ids, nil
}

// GetOpenIncident returns the monitor's single open incident, or nil if
// none is open.
func (db *DB) GetOpenIncident(ctx context.Context, monitorID string) (*Incident, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT id, monitor_id, started_at, resolved_at, cause, acknowledgement, acknowledged_by, acknowledged_at, seq
		FROM incidents WHERE monitor_id = ? AND resolved_at IS NULL`, monitorID)
	inc, err := scanIncident(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get open incident: %w", err)
	}
	return inc, nil
}

// HasOpenIncident is a cheap existence check, grounded on
// original_source/src/routes/dependencies.rs's has_open_incident.
func (db *DB) HasOpenIncident(ctx context.Context, monitorID string) (bool, error) {
	var n int
	err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM incidents WHERE monitor_id = ? AND resolved_at IS NULL`, monitorID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("has open incident: %w", err)
	}
	return n > 0, nil
}

// GetIncident fetches a single incident by ID.
func (db *DB) GetIncident(ctx context.Context, id string) (*Incident, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT id, monitor_id, started_at, resolved_at, cause, acknowledgement, acknowledged_by, acknowledged_at, seq
		FROM incidents WHERE id = ?`, id)
	inc, err := scanIncident(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get incident: %w", err)
	}
	return inc, nil
}

func scanIncident(row interface {
	Scan(dest ...any) error
}) (*Incident, error) {
	var inc Incident
	var resolvedAt, ack, ackBy, ackAt sql.NullString
	if err := row.Scan(&inc.ID, &inc.MonitorID, &inc.StartedAt, &resolvedAt, &inc.Cause, &ack, &ackBy, &ackAt, &inc.Seq); err != nil {
		return nil, err
	}
	inc.ResolvedAt = resolvedAt.String
	inc.Acknowledgement = ack.String
	inc.AcknowledgedBy = ackBy.String
	inc.AcknowledgedAt = ackAt.String
	return &inc, nil
}

// AcknowledgeIncident sets the acknowledgement fields. Idempotent: calling
// it again overwrites the previous acknowledgement (spec §4.G).
func (db *DB) AcknowledgeIncident(ctx context.Context, id, by, note string) error {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE incidents SET acknowledgement = ?, acknowledged_by = ?, acknowledged_at = ?
		WHERE id = ?`, note, by, timeutil.ToStore(timeutil.Now()), id)
	if err != nil {
		return fmt.Errorf("acknowledge incident: %w", err)
	}
	return requireAffected(res)
}

// ListIncidents returns incidents for monitorID, cursor-paginated the same
// way as heartbeats.
func (db *DB) ListIncidents(ctx context.Context, monitorID string, p Page) ([]*Incident, error) {
	p = p.Clamp(50, 200)

	var rows *sql.Rows
	var err error
	cols := `id, monitor_id, started_at, resolved_at, cause, acknowledgement, acknowledged_by, acknowledged_at, seq`
	if p.After > 0 {
		rows, err = db.conn.QueryContext(ctx, `SELECT `+cols+` FROM incidents WHERE monitor_id = ? AND seq > ? ORDER BY seq ASC LIMIT ?`, monitorID, p.After, p.Limit)
	} else {
		rows, err = db.conn.QueryContext(ctx, `SELECT `+cols+` FROM incidents WHERE monitor_id = ? ORDER BY seq DESC LIMIT ?`, monitorID, p.Limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	defer rows.Close()

	var out []*Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		out = append(out, inc)
	}
	return out, rows.Err()
}

// OpenIncidentsPastThreshold returns open incidents whose started_at is at
// least minutesAgo minutes old, limited to unacknowledged ones when
// onlyUnacknowledged is set — candidates for reminders and escalation.
func (db *DB) OpenIncidentsPastThreshold(ctx context.Context, minutesAgo int, onlyUnacknowledged bool) ([]*Incident, error) {
	cutoff := timeutil.ToStore(timeutil.Now().Add(-time.Duration(minutesAgo) * time.Minute))
	query := `
		SELECT id, monitor_id, started_at, resolved_at, cause, acknowledgement, acknowledged_by, acknowledged_at, seq
		FROM incidents WHERE resolved_at IS NULL AND started_at <= ?`
	if onlyUnacknowledged {
		query += ` AND acknowledged_at IS NULL`
	}
	rows, err := db.conn.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("open incidents past threshold: %w", err)
	}
	defer rows.Close()

	var out []*Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		out = append(out, inc)
	}
	return out, rows.Err()
}
