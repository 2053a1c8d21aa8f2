package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aristath/watchpost/internal/timeutil"
)

// GetSetting returns the value stored under key, or ErrNotFound.
func (db *DB) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := db.conn.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get setting %q: %w", key, err)
	}
	return value, nil
}

// SetSetting upserts a key/value pair, used for the admin key hash and
// any other singleton piece of runtime-mutable configuration.
func (db *DB) SetSetting(ctx context.Context, key, value string) error {
	now := timeutil.ToStore(timeutil.Now())
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now)
	if err != nil {
		return fmt.Errorf("set setting %q: %w", key, err)
	}
	return nil
}

// CreateStatusPage inserts a minimal named-status-page record, giving the
// token service a table to hash an independent manage key against.
func (db *DB) CreateStatusPage(ctx context.Context, p *StatusPage) error {
	p.CreatedAt = timeutil.ToStore(timeutil.Now())
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO status_pages (id, slug, name, manage_key_hash, created_at)
		VALUES (?, ?, ?, ?, ?)`, p.ID, p.Slug, p.Name, p.ManageKeyHash, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert status page: %w", err)
	}
	return nil
}

// GetStatusPageBySlug fetches a status page by its public slug.
func (db *DB) GetStatusPageBySlug(ctx context.Context, slug string) (*StatusPage, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT id, slug, name, manage_key_hash, created_at FROM status_pages WHERE slug = ?`, slug)

	var p StatusPage
	err := row.Scan(&p.ID, &p.Slug, &p.Name, &p.ManageKeyHash, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get status page: %w", err)
	}
	return &p, nil
}
