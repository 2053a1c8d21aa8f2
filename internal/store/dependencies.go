package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aristath/watchpost/internal/timeutil"
)

// CreateDependency inserts a directed monitorID -> dependsOnID edge.
// Callers must validate existence, self-reference, cycles, and duplicates
// beforehand (DependencyExists and HasCircularDependency back those
// checks; the table has no unique index on the edge) — grounded on
// original_source/src/routes/dependencies.rs's add_dependency.
func (db *DB) CreateDependency(ctx context.Context, d *MonitorDependency) error {
	d.CreatedAt = timeutil.ToStore(timeutil.Now())
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO monitor_dependencies (id, monitor_id, depends_on_id, created_at)
		VALUES (?, ?, ?, ?)`, d.ID, d.MonitorID, d.DependsOnID, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert monitor dependency: %w", err)
	}
	return nil
}

// DependencyExists reports whether monitorID already depends directly on
// dependsOnID (spec's DUPLICATE_DEPENDENCY case).
func (db *DB) DependencyExists(ctx context.Context, monitorID, dependsOnID string) (bool, error) {
	var n int
	err := db.conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM monitor_dependencies WHERE monitor_id = ? AND depends_on_id = ?`, monitorID, dependsOnID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check dependency exists: %w", err)
	}
	return n > 0, nil
}

// ListDependencies returns monitorID's direct dependencies, denormalized
// with the depended-on monitor's name and current status for display.
func (db *DB) ListDependencies(ctx context.Context, monitorID string) ([]*MonitorDependency, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT d.id, d.monitor_id, d.depends_on_id, m.name, m.current_status, d.created_at
		FROM monitor_dependencies d
		JOIN monitors m ON m.id = d.depends_on_id
		WHERE d.monitor_id = ?
		ORDER BY d.created_at ASC`, monitorID)
	if err != nil {
		return nil, fmt.Errorf("list dependencies: %w", err)
	}
	defer rows.Close()
	return scanDependencies(rows)
}

// ListDependents returns every monitor that directly depends on
// monitorID, grounded on dependencies.rs's list_dependents.
func (db *DB) ListDependents(ctx context.Context, monitorID string) ([]*MonitorDependency, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT d.id, d.monitor_id, d.depends_on_id, m.name, m.current_status, d.created_at
		FROM monitor_dependencies d
		JOIN monitors m ON m.id = d.monitor_id
		WHERE d.depends_on_id = ?
		ORDER BY d.created_at ASC`, monitorID)
	if err != nil {
		return nil, fmt.Errorf("list dependents: %w", err)
	}
	defer rows.Close()
	return scanDependencies(rows)
}

func scanDependencies(rows *sql.Rows) ([]*MonitorDependency, error) {
	var out []*MonitorDependency
	for rows.Next() {
		var d MonitorDependency
		if err := rows.Scan(&d.ID, &d.MonitorID, &d.DependsOnID, &d.DependsOnName, &d.DependsOnStatus, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan dependency: %w", err)
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

// DeleteDependency removes an edge.
func (db *DB) DeleteDependency(ctx context.Context, id string) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM monitor_dependencies WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete dependency: %w", err)
	}
	return requireAffected(res)
}

// allDependencyEdges loads the whole monitor_dependencies table as an
// adjacency map, monitor_id -> []depends_on_id. Cheap enough for the
// modest monitor counts this service targets, and lets HasCircularDependency
// walk in memory instead of issuing one query per hop.
func (db *DB) allDependencyEdges(ctx context.Context) (map[string][]string, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT monitor_id, depends_on_id FROM monitor_dependencies`)
	if err != nil {
		return nil, fmt.Errorf("load dependency edges: %w", err)
	}
	defer rows.Close()

	edges := make(map[string][]string)
	for rows.Next() {
		var from, to string
		if err := rows.Scan(&from, &to); err != nil {
			return nil, fmt.Errorf("scan dependency edge: %w", err)
		}
		edges[from] = append(edges[from], to)
	}
	return edges, rows.Err()
}

// HasCircularDependency reports whether adding the edge fromID -> targetID
// would create a cycle: true if targetID can already reach fromID by
// following existing depends_on edges. Ported from
// original_source/src/routes/dependencies.rs's has_circular_dependency,
// which walks a stack-based DFS from the prospective target toward the
// prospective source.
func (db *DB) HasCircularDependency(ctx context.Context, fromID, targetID string) (bool, error) {
	edges, err := db.allDependencyEdges(ctx)
	if err != nil {
		return false, err
	}

	visited := map[string]bool{}
	stack := []string{targetID}
	for len(stack) > 0 {
		n := len(stack) - 1
		current := stack[n]
		stack = stack[:n]

		if current == fromID {
			return true, nil
		}
		if visited[current] {
			continue
		}
		visited[current] = true

		stack = append(stack, edges[current]...)
	}
	return false, nil
}

// HasDependencyDown reports whether any of monitorID's direct dependencies
// is currently down, used by the status engine to suppress notifications
// for cascading failures (spec §4.F).
func (db *DB) HasDependencyDown(ctx context.Context, monitorID string) (bool, error) {
	var n int
	err := db.conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM monitor_dependencies d
		JOIN monitors m ON m.id = d.depends_on_id
		WHERE d.monitor_id = ? AND m.current_status = 'down'`, monitorID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check dependency down: %w", err)
	}
	return n > 0, nil
}
