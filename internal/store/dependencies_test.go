package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasCircularDependencyDirect(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	insertTestMonitor(t, db, "mon-x")
	insertTestMonitor(t, db, "mon-y")

	require.NoError(t, db.CreateDependency(ctx, &MonitorDependency{ID: "dep-1", MonitorID: "mon-y", DependsOnID: "mon-x"}))

	circular, err := db.HasCircularDependency(ctx, "mon-x", "mon-y")
	require.NoError(t, err)
	assert.True(t, circular, "mon-x depending on mon-y would close a 2-node cycle")
}

func TestHasCircularDependencyTransitive(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	insertTestMonitor(t, db, "mon-a")
	insertTestMonitor(t, db, "mon-b")
	insertTestMonitor(t, db, "mon-c")

	require.NoError(t, db.CreateDependency(ctx, &MonitorDependency{ID: "dep-1", MonitorID: "mon-a", DependsOnID: "mon-b"}))
	require.NoError(t, db.CreateDependency(ctx, &MonitorDependency{ID: "dep-2", MonitorID: "mon-b", DependsOnID: "mon-c"}))

	circular, err := db.HasCircularDependency(ctx, "mon-c", "mon-a")
	require.NoError(t, err)
	assert.True(t, circular, "mon-c depending on mon-a would close a 3-node cycle via mon-b")
}

func TestHasCircularDependencyFalseForIndependentMonitors(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	insertTestMonitor(t, db, "mon-p")
	insertTestMonitor(t, db, "mon-q")

	circular, err := db.HasCircularDependency(ctx, "mon-p", "mon-q")
	require.NoError(t, err)
	assert.False(t, circular)
}

func TestDependencyExists(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	insertTestMonitor(t, db, "mon-e1")
	insertTestMonitor(t, db, "mon-e2")
	require.NoError(t, db.CreateDependency(ctx, &MonitorDependency{ID: "dep-e", MonitorID: "mon-e1", DependsOnID: "mon-e2"}))

	exists, err := db.DependencyExists(ctx, "mon-e1", "mon-e2")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = db.DependencyExists(ctx, "mon-e2", "mon-e1")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestHasDependencyDown(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	insertTestMonitor(t, db, "mon-dep1")
	insertTestMonitor(t, db, "mon-dep2")
	require.NoError(t, db.CreateDependency(ctx, &MonitorDependency{ID: "dep-d", MonitorID: "mon-dep1", DependsOnID: "mon-dep2"}))

	down, err := db.HasDependencyDown(ctx, "mon-dep1")
	require.NoError(t, err)
	assert.False(t, down)

	require.NoError(t, db.ApplyTransition(ctx, "mon-dep2", "down", 1, "2026-01-01 00:00:00"))

	down, err = db.HasDependencyDown(ctx, "mon-dep1")
	require.NoError(t, err)
	assert.True(t, down)
}

func TestListDependenciesAndDependents(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	insertTestMonitor(t, db, "mon-f1")
	insertTestMonitor(t, db, "mon-f2")
	require.NoError(t, db.CreateDependency(ctx, &MonitorDependency{ID: "dep-f", MonitorID: "mon-f1", DependsOnID: "mon-f2"}))

	deps, err := db.ListDependencies(ctx, "mon-f1")
	require.NoError(t, err)
	require.Len(t, deps, 1)
	assert.Equal(t, "mon-f2", deps[0].DependsOnID)
	assert.Equal(t, "Example", deps[0].DependsOnName)

	dependents, err := db.ListDependents(ctx, "mon-f2")
	require.NoError(t, err)
	require.Len(t, dependents, 1)
	assert.Equal(t, "mon-f1", dependents[0].MonitorID)
}
