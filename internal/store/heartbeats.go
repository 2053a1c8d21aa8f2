package store

import (
	"context"
	"database/sql"
	"fmt"
)

// InsertHeartbeat writes hb with the next seq for the heartbeats table and
// returns the assigned seq, taking the write lock itself. Callers that also
// need to run the status engine atomically with the heartbeat write (the
// scheduler, the remote probe submission endpoint) must use
// InsertHeartbeatLocked under their own db.WithWriteLock instead, since
// WithWriteLock is not reentrant.
func (db *DB) InsertHeartbeat(ctx context.Context, hb *Heartbeat) (int64, error) {
	var seq int64
	err := db.WithWriteLock(func() error {
		var err error
		seq, err = db.insertHeartbeatTx(ctx, hb)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("insert heartbeat: %w", err)
	}
	return seq, nil
}

// InsertHeartbeatLocked is InsertHeartbeat without acquiring the write
// lock; the caller must already hold it (via db.WithWriteLock).
func (db *DB) InsertHeartbeatLocked(ctx context.Context, hb *Heartbeat) (int64, error) {
	seq, err := db.insertHeartbeatTx(ctx, hb)
	if err != nil {
		return 0, fmt.Errorf("insert heartbeat: %w", err)
	}
	return seq, nil
}

func (db *DB) insertHeartbeatTx(ctx context.Context, hb *Heartbeat) (int64, error) {
	var seq int64
	err := db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM heartbeats`).Scan(&seq); err != nil {
			return fmt.Errorf("allocate heartbeat seq: %w", err)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO heartbeats (id, monitor_id, location_id, status, response_time_ms, status_code, error_message, checked_at, seq)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			hb.ID, hb.MonitorID, nullable(hb.LocationID), hb.Status, hb.ResponseTimeMs, hb.StatusCode, nullable(hb.ErrorMessage), hb.CheckedAt, seq)
		return err
	})
	if err != nil {
		return 0, err
	}
	hb.Seq = seq
	return seq, nil
}

func scanHeartbeat(rows *sql.Rows) (*Heartbeat, error) {
	var hb Heartbeat
	var locationID, errMsg sql.NullString
	if err := rows.Scan(&hb.ID, &hb.MonitorID, &locationID, &hb.Status, &hb.ResponseTimeMs, &hb.StatusCode, &errMsg, &hb.CheckedAt, &hb.Seq); err != nil {
		return nil, err
	}
	hb.LocationID = locationID.String
	hb.ErrorMessage = errMsg.String
	return &hb, nil
}

// ListHeartbeats returns heartbeats for monitorID, cursor-paginated per
// spec §4.A: ascending from After when set, else descending newest-first.
func (db *DB) ListHeartbeats(ctx context.Context, monitorID string, p Page) ([]*Heartbeat, error) {
	p = p.Clamp(50, 200)

	var rows *sql.Rows
	var err error
	if p.After > 0 {
		rows, err = db.conn.QueryContext(ctx, `
			SELECT id, monitor_id, location_id, status, response_time_ms, status_code, error_message, checked_at, seq
			FROM heartbeats WHERE monitor_id = ? AND seq > ? ORDER BY seq ASC LIMIT ?`, monitorID, p.After, p.Limit)
	} else {
		rows, err = db.conn.QueryContext(ctx, `
			SELECT id, monitor_id, location_id, status, response_time_ms, status_code, error_message, checked_at, seq
			FROM heartbeats WHERE monitor_id = ? ORDER BY seq DESC LIMIT ?`, monitorID, p.Limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list heartbeats: %w", err)
	}
	defer rows.Close()

	var out []*Heartbeat
	for rows.Next() {
		hb, err := scanHeartbeat(rows)
		if err != nil {
			return nil, fmt.Errorf("scan heartbeat: %w", err)
		}
		out = append(out, hb)
	}
	return out, rows.Err()
}

// LatestPerLocation returns, for each location that has ever reported for
// monitorID, its single most recent heartbeat. A null location_id (local
// scheduler) is treated as its own distinct location, per spec §4.F.2.
func (db *DB) LatestPerLocation(ctx context.Context, monitorID string) ([]*Heartbeat, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT h.id, h.monitor_id, h.location_id, h.status, h.response_time_ms, h.status_code, h.error_message, h.checked_at, h.seq
		FROM heartbeats h
		JOIN (
			SELECT COALESCE(location_id, '') AS loc_key, MAX(seq) AS max_seq
			FROM heartbeats WHERE monitor_id = ?
			GROUP BY loc_key
		) latest ON COALESCE(h.location_id, '') = latest.loc_key AND h.seq = latest.max_seq
		WHERE h.monitor_id = ?`, monitorID, monitorID)
	if err != nil {
		return nil, fmt.Errorf("latest per location: %w", err)
	}
	defer rows.Close()

	var out []*Heartbeat
	for rows.Next() {
		hb, err := scanHeartbeat(rows)
		if err != nil {
			return nil, fmt.Errorf("scan heartbeat: %w", err)
		}
		out = append(out, hb)
	}
	return out, rows.Err()
}

// LastErrorMessage returns the most recent non-empty error_message for
// monitorID, used as an incident's opening cause (spec §4.G).
func (db *DB) LastErrorMessage(ctx context.Context, monitorID string) (string, error) {
	var msg sql.NullString
	err := db.conn.QueryRowContext(ctx, `
		SELECT error_message FROM heartbeats
		WHERE monitor_id = ? AND error_message IS NOT NULL AND error_message != ''
		ORDER BY seq DESC LIMIT 1`, monitorID).Scan(&msg)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("last error message: %w", err)
	}
	return msg.String, nil
}

// PruneHeartbeatsOlderThan deletes heartbeats with checked_at before the
// given store-formatted cutoff. Used by the retention sweep.
func (db *DB) PruneHeartbeatsOlderThan(ctx context.Context, cutoff string) (int64, error) {
	var affected int64
	err := db.WithWriteLock(func() error {
		res, err := db.conn.ExecContext(ctx, `DELETE FROM heartbeats WHERE checked_at < ?`, cutoff)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("prune heartbeats: %w", err)
	}
	return affected, nil
}
