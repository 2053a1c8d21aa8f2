package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aristath/watchpost/internal/timeutil"
)

// CreateLocation registers a remote probe location. l.ID and
// l.ProbeKeyHash must already be set by the caller.
func (db *DB) CreateLocation(ctx context.Context, l *CheckLocation) error {
	l.CreatedAt = timeutil.ToStore(timeutil.Now())
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO check_locations (id, name, region, probe_key_hash, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		l.ID, l.Name, nullable(l.Region), l.ProbeKeyHash, boolToInt(l.IsActive), l.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert check location: %w", err)
	}
	return nil
}

func scanLocation(row interface {
	Scan(dest ...any) error
}) (*CheckLocation, error) {
	var l CheckLocation
	var region, lastSeen sql.NullString
	var isActive int
	if err := row.Scan(&l.ID, &l.Name, &region, &l.ProbeKeyHash, &isActive, &lastSeen, &l.CreatedAt); err != nil {
		return nil, err
	}
	l.Region = region.String
	l.LastSeenAt = lastSeen.String
	l.IsActive = isActive != 0
	return &l, nil
}

const locationColumns = `id, name, region, probe_key_hash, is_active, last_seen_at, created_at`

// GetLocation fetches a location by ID.
func (db *DB) GetLocation(ctx context.Context, id string) (*CheckLocation, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+locationColumns+` FROM check_locations WHERE id = ?`, id)
	l, err := scanLocation(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get check location: %w", err)
	}
	return l, nil
}

// LocationByProbeKeyHash looks up the active location owning a probe key,
// used by the auth middleware to authenticate remote probe submissions.
func (db *DB) LocationByProbeKeyHash(ctx context.Context, hash string) (*CheckLocation, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+locationColumns+` FROM check_locations WHERE probe_key_hash = ? AND is_active = 1`, hash)
	l, err := scanLocation(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get check location by probe key: %w", err)
	}
	return l, nil
}

// ListLocations returns every registered location.
func (db *DB) ListLocations(ctx context.Context) ([]*CheckLocation, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT `+locationColumns+` FROM check_locations ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list check locations: %w", err)
	}
	defer rows.Close()

	var out []*CheckLocation
	for rows.Next() {
		l, err := scanLocation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan check location: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// TouchLocationSeen stamps last_seen_at to now, called whenever a probe
// key is used successfully.
func (db *DB) TouchLocationSeen(ctx context.Context, id string) error {
	_, err := db.conn.ExecContext(ctx, `UPDATE check_locations SET last_seen_at = ? WHERE id = ?`,
		timeutil.ToStore(timeutil.Now()), id)
	if err != nil {
		return fmt.Errorf("touch location seen: %w", err)
	}
	return nil
}

// SetLocationActive enables or disables a location without deleting its
// history.
func (db *DB) SetLocationActive(ctx context.Context, id string, active bool) error {
	res, err := db.conn.ExecContext(ctx, `UPDATE check_locations SET is_active = ? WHERE id = ?`, boolToInt(active), id)
	if err != nil {
		return fmt.Errorf("set location active: %w", err)
	}
	return requireAffected(res)
}

// DeleteLocation removes a location registration.
func (db *DB) DeleteLocation(ctx context.Context, id string) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM check_locations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete check location: %w", err)
	}
	return requireAffected(res)
}
