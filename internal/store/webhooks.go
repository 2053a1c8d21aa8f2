package store

import (
	"context"
	"database/sql"
	"fmt"
)

// InsertWebhookDelivery records one webhook attempt (success or failure)
// for audit, allocating the next seq under WithWriteLock.
func (db *DB) InsertWebhookDelivery(ctx context.Context, d *WebhookDelivery) (int64, error) {
	var seq int64
	err := db.WithWriteLock(func() error {
		return db.WithTx(ctx, func(tx *sql.Tx) error {
			if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM webhook_deliveries`).Scan(&seq); err != nil {
				return fmt.Errorf("allocate webhook delivery seq: %w", err)
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO webhook_deliveries (id, delivery_group, monitor_id, event, url, attempt, status, status_code, error_message, response_time_ms, seq)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				d.ID, d.DeliveryGroup, d.MonitorID, d.Event, d.URL, d.Attempt, d.Status, d.StatusCode, nullable(d.ErrorMessage), d.ResponseTimeMs, seq)
			return err
		})
	})
	if err != nil {
		return 0, fmt.Errorf("insert webhook delivery: %w", err)
	}
	d.Seq = seq
	return seq, nil
}

func scanWebhookDelivery(rows *sql.Rows) (*WebhookDelivery, error) {
	var d WebhookDelivery
	var errMsg sql.NullString
	if err := rows.Scan(&d.ID, &d.DeliveryGroup, &d.MonitorID, &d.Event, &d.URL, &d.Attempt, &d.Status, &d.StatusCode, &errMsg, &d.ResponseTimeMs, &d.Seq); err != nil {
		return nil, err
	}
	d.ErrorMessage = errMsg.String
	return &d, nil
}

// ListWebhookDeliveries returns delivery attempts for monitorID,
// cursor-paginated the same way as heartbeats.
func (db *DB) ListWebhookDeliveries(ctx context.Context, monitorID string, p Page) ([]*WebhookDelivery, error) {
	p = p.Clamp(50, 200)
	cols := `id, delivery_group, monitor_id, event, url, attempt, status, status_code, error_message, response_time_ms, seq`

	var rows *sql.Rows
	var err error
	if p.After > 0 {
		rows, err = db.conn.QueryContext(ctx, `SELECT `+cols+` FROM webhook_deliveries WHERE monitor_id = ? AND seq > ? ORDER BY seq ASC LIMIT ?`, monitorID, p.After, p.Limit)
	} else {
		rows, err = db.conn.QueryContext(ctx, `SELECT `+cols+` FROM webhook_deliveries WHERE monitor_id = ? ORDER BY seq DESC LIMIT ?`, monitorID, p.Limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list webhook deliveries: %w", err)
	}
	defer rows.Close()

	var out []*WebhookDelivery
	for rows.Next() {
		d, err := scanWebhookDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("scan webhook delivery: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// PruneWebhookDeliveriesOlderThan deletes webhook delivery attempts
// recorded before the given store-formatted cutoff. Used by the retention
// sweep alongside PruneHeartbeatsOlderThan.
func (db *DB) PruneWebhookDeliveriesOlderThan(ctx context.Context, cutoff string) (int64, error) {
	var affected int64
	err := db.WithWriteLock(func() error {
		res, err := db.conn.ExecContext(ctx, `DELETE FROM webhook_deliveries WHERE created_at < ?`, cutoff)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("prune webhook deliveries: %w", err)
	}
	return affected, nil
}

// ListWebhookDeliveriesByGroup returns every attempt sharing a delivery
// group, used to render one fan-out event's full retry trail.
func (db *DB) ListWebhookDeliveriesByGroup(ctx context.Context, group string) ([]*WebhookDelivery, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, delivery_group, monitor_id, event, url, attempt, status, status_code, error_message, response_time_ms, seq
		FROM webhook_deliveries WHERE delivery_group = ? ORDER BY attempt ASC`, group)
	if err != nil {
		return nil, fmt.Errorf("list webhook deliveries by group: %w", err)
	}
	defer rows.Close()

	var out []*WebhookDelivery
	for rows.Next() {
		d, err := scanWebhookDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("scan webhook delivery: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
