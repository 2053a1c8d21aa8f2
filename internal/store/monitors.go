package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aristath/watchpost/internal/timeutil"
)

// CreateMonitor inserts m, stamping created_at/updated_at. m.ID and
// m.ManageKeyHash must already be set by the caller.
func (db *DB) CreateMonitor(ctx context.Context, m *Monitor) error {
	now := timeutil.ToStore(timeutil.Now())
	m.CreatedAt, m.UpdatedAt = now, now
	if m.CurrentStatus == "" {
		m.CurrentStatus = "unknown"
	}

	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO monitors (
			id, manage_key_hash, name, slug, url, monitor_type, method, headers,
			body_contains, follow_redirects, dns_record_type, dns_expected,
			interval_seconds, timeout_ms, expected_status, confirmation_threshold,
			response_time_threshold_ms, consecutive_failures, consensus_threshold,
			is_public, is_paused, tags, group_name, sla_target, sla_period_days,
			current_status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ManageKeyHash, m.Name, m.Slug, m.URL, m.MonitorType, m.Method, m.Headers,
		nullable(m.BodyContains), boolToInt(m.FollowRedirects), nullable(m.DNSRecordType), nullable(m.DNSExpected),
		m.IntervalSeconds, m.TimeoutMs, m.ExpectedStatus, m.ConfirmationThreshold,
		m.ResponseTimeThreshold, m.ConsecutiveFailures, m.ConsensusThreshold,
		boolToInt(m.IsPublic), boolToInt(m.IsPaused), m.Tags, nullable(m.GroupName), m.SLATarget, m.SLAPeriodDays,
		m.CurrentStatus, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert monitor: %w", err)
	}
	return nil
}

func monitorColumns() string {
	return `id, manage_key_hash, name, slug, url, monitor_type, method, headers,
		body_contains, follow_redirects, dns_record_type, dns_expected,
		interval_seconds, timeout_ms, expected_status, confirmation_threshold,
		response_time_threshold_ms, consecutive_failures, consensus_threshold,
		is_public, is_paused, tags, group_name, sla_target, sla_period_days,
		current_status, last_checked_at, created_at, updated_at`
}

func scanMonitor(row interface {
	Scan(dest ...any) error
}) (*Monitor, error) {
	var m Monitor
	var followRedirects, isPublic, isPaused int
	var bodyContains, dnsRecordType, dnsExpected, groupName, lastCheckedAt sql.NullString
	err := row.Scan(
		&m.ID, &m.ManageKeyHash, &m.Name, &m.Slug, &m.URL, &m.MonitorType, &m.Method, &m.Headers,
		&bodyContains, &followRedirects, &dnsRecordType, &dnsExpected,
		&m.IntervalSeconds, &m.TimeoutMs, &m.ExpectedStatus, &m.ConfirmationThreshold,
		&m.ResponseTimeThreshold, &m.ConsecutiveFailures, &m.ConsensusThreshold,
		&isPublic, &isPaused, &m.Tags, &groupName, &m.SLATarget, &m.SLAPeriodDays,
		&m.CurrentStatus, &lastCheckedAt, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	m.BodyContains = bodyContains.String
	m.DNSRecordType = dnsRecordType.String
	m.DNSExpected = dnsExpected.String
	m.GroupName = groupName.String
	m.LastCheckedAt = lastCheckedAt.String
	m.FollowRedirects = followRedirects != 0
	m.IsPublic = isPublic != 0
	m.IsPaused = isPaused != 0
	return &m, nil
}

// GetMonitor fetches a monitor by ID.
func (db *DB) GetMonitor(ctx context.Context, id string) (*Monitor, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+monitorColumns()+` FROM monitors WHERE id = ?`, id)
	m, err := scanMonitor(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get monitor: %w", err)
	}
	return m, nil
}

// GetMonitorBySlug fetches a monitor by its unique slug.
func (db *DB) GetMonitorBySlug(ctx context.Context, slug string) (*Monitor, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+monitorColumns()+` FROM monitors WHERE slug = ?`, slug)
	m, err := scanMonitor(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get monitor by slug: %w", err)
	}
	return m, nil
}

// SlugExists reports whether a monitor with the given slug already exists.
func (db *DB) SlugExists(ctx context.Context, slug string) (bool, error) {
	var n int
	err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM monitors WHERE slug = ?`, slug).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check slug exists: %w", err)
	}
	return n > 0, nil
}

// MonitorExists reports whether a monitor with the given ID exists.
func (db *DB) MonitorExists(ctx context.Context, id string) (bool, error) {
	var n int
	err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM monitors WHERE id = ?`, id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check monitor exists: %w", err)
	}
	return n > 0, nil
}

// UpdateMonitor persists the mutable fields of m (identity, schedule,
// target, presentation) and bumps updated_at. current_status and
// consecutive_failures are NOT touched here — those are owned exclusively
// by the status engine's transition path (spec §3 invariant).
func (db *DB) UpdateMonitor(ctx context.Context, m *Monitor) error {
	m.UpdatedAt = timeutil.ToStore(timeutil.Now())
	res, err := db.conn.ExecContext(ctx, `
		UPDATE monitors SET
			name = ?, url = ?, monitor_type = ?, method = ?, headers = ?,
			body_contains = ?, follow_redirects = ?, dns_record_type = ?, dns_expected = ?,
			interval_seconds = ?, timeout_ms = ?, expected_status = ?, confirmation_threshold = ?,
			response_time_threshold_ms = ?, consensus_threshold = ?,
			is_public = ?, tags = ?, group_name = ?, sla_target = ?, sla_period_days = ?,
			updated_at = ?
		WHERE id = ?`,
		m.Name, m.URL, m.MonitorType, m.Method, m.Headers,
		nullable(m.BodyContains), boolToInt(m.FollowRedirects), nullable(m.DNSRecordType), nullable(m.DNSExpected),
		m.IntervalSeconds, m.TimeoutMs, m.ExpectedStatus, m.ConfirmationThreshold,
		m.ResponseTimeThreshold, m.ConsensusThreshold,
		boolToInt(m.IsPublic), m.Tags, nullable(m.GroupName), m.SLATarget, m.SLAPeriodDays,
		m.UpdatedAt, m.ID,
	)
	if err != nil {
		return fmt.Errorf("update monitor: %w", err)
	}
	return requireAffected(res)
}

// SetPaused sets is_paused and returns ErrNotFound if the monitor doesn't
// exist.
func (db *DB) SetPaused(ctx context.Context, id string, paused bool) error {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE monitors SET is_paused = ?, updated_at = ? WHERE id = ?`,
		boolToInt(paused), timeutil.ToStore(timeutil.Now()), id)
	if err != nil {
		return fmt.Errorf("set paused: %w", err)
	}
	return requireAffected(res)
}

// DeleteMonitor removes the monitor; ON DELETE CASCADE handles every
// child table named in spec §3's invariant.
func (db *DB) DeleteMonitor(ctx context.Context, id string) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM monitors WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete monitor: %w", err)
	}
	return requireAffected(res)
}

// NextDueMonitor returns the monitor that should be checked next: not
// paused, and either never checked or past its interval, ordered so that
// the longest-waiting monitor goes first (spec §4.D fairness ordering).
// Returns (nil, nil) if nothing is due.
func (db *DB) NextDueMonitor(ctx context.Context, now string) (*Monitor, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT `+monitorColumns()+`
		FROM monitors
		WHERE is_paused = 0
		  AND (last_checked_at IS NULL OR datetime(last_checked_at, '+' || interval_seconds || ' seconds') <= datetime(?))
		ORDER BY (last_checked_at IS NOT NULL), last_checked_at ASC
		LIMIT 1`, now)
	m, err := scanMonitor(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next due monitor: %w", err)
	}
	return m, nil
}

// ApplyTransition atomically writes the result of the status engine's
// decision: the new current_status, consecutive_failures counter, and
// last_checked_at stamp. This is the ONLY write path for current_status
// (spec §3 invariant).
func (db *DB) ApplyTransition(ctx context.Context, monitorID, status string, consecutiveFailures int, checkedAt string) error {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE monitors
		SET current_status = ?, consecutive_failures = ?, last_checked_at = ?, updated_at = ?
		WHERE id = ?`,
		status, consecutiveFailures, checkedAt, timeutil.ToStore(timeutil.Now()), monitorID)
	if err != nil {
		return fmt.Errorf("apply transition: %w", err)
	}
	return requireAffected(res)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
