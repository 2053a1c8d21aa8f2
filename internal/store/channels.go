package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aristath/watchpost/internal/timeutil"
)

// CreateChannel inserts a notification channel for a monitor.
func (db *DB) CreateChannel(ctx context.Context, c *NotificationChannel) error {
	now := timeutil.ToStore(timeutil.Now())
	c.CreatedAt, c.UpdatedAt = now, now
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO notification_channels (id, monitor_id, name, channel_type, config, is_enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.MonitorID, c.Name, c.ChannelType, c.Config, boolToInt(c.IsEnabled), c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert notification channel: %w", err)
	}
	return nil
}

func scanChannel(row interface {
	Scan(dest ...any) error
}) (*NotificationChannel, error) {
	var c NotificationChannel
	var isEnabled int
	if err := row.Scan(&c.ID, &c.MonitorID, &c.Name, &c.ChannelType, &c.Config, &isEnabled, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.IsEnabled = isEnabled != 0
	return &c, nil
}

const channelColumns = `id, monitor_id, name, channel_type, config, is_enabled, created_at, updated_at`

// GetChannel fetches a channel by ID.
func (db *DB) GetChannel(ctx context.Context, id string) (*NotificationChannel, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+channelColumns+` FROM notification_channels WHERE id = ?`, id)
	c, err := scanChannel(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get notification channel: %w", err)
	}
	return c, nil
}

// ListChannelsForMonitor returns every channel attached to a monitor,
// including disabled ones (the notify fan-out filters on IsEnabled itself).
func (db *DB) ListChannelsForMonitor(ctx context.Context, monitorID string) ([]*NotificationChannel, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT `+channelColumns+` FROM notification_channels WHERE monitor_id = ? ORDER BY created_at ASC`, monitorID)
	if err != nil {
		return nil, fmt.Errorf("list notification channels: %w", err)
	}
	defer rows.Close()

	var out []*NotificationChannel
	for rows.Next() {
		c, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification channel: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateChannel persists the mutable fields of a channel.
func (db *DB) UpdateChannel(ctx context.Context, c *NotificationChannel) error {
	c.UpdatedAt = timeutil.ToStore(timeutil.Now())
	res, err := db.conn.ExecContext(ctx, `
		UPDATE notification_channels SET name = ?, config = ?, is_enabled = ?, updated_at = ?
		WHERE id = ?`, c.Name, c.Config, boolToInt(c.IsEnabled), c.UpdatedAt, c.ID)
	if err != nil {
		return fmt.Errorf("update notification channel: %w", err)
	}
	return requireAffected(res)
}

// DeleteChannel removes a channel.
func (db *DB) DeleteChannel(ctx context.Context, id string) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM notification_channels WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete notification channel: %w", err)
	}
	return requireAffected(res)
}
