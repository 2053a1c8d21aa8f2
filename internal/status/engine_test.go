package status

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/aristath/watchpost/internal/events"
	"github.com/aristath/watchpost/internal/store"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *store.DB {
	t.Helper()
	dir := t.TempDir()
	db, err := store.Open(store.Config{Path: filepath.Join(dir, "watchpost.sqlite"), Profile: store.ProfileLedger})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func sampleMonitor(id string) *store.Monitor {
	return &store.Monitor{
		ID:                    id,
		ManageKeyHash:         "hash-" + id,
		Name:                  "Example",
		Slug:                  id + "-slug",
		URL:                   "https://example.com",
		MonitorType:           "http",
		Method:                "GET",
		Headers:               "{}",
		FollowRedirects:       true,
		IntervalSeconds:       60,
		TimeoutMs:             10000,
		ExpectedStatus:        200,
		ConfirmationThreshold: 2,
		IsPublic:              true,
	}
}

func insertMonitor(t *testing.T, db *store.DB, id string) *store.Monitor {
	t.Helper()
	m := sampleMonitor(id)
	require.NoError(t, db.CreateMonitor(context.Background(), m))
	return m
}

func reloadMonitor(t *testing.T, db *store.DB, id string) *store.Monitor {
	t.Helper()
	m, err := db.GetMonitor(context.Background(), id)
	require.NoError(t, err)
	return m
}

func TestEvaluateSingleLocationKeepsStatusUntilThreshold(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	m := insertMonitor(t, db, "m1")

	hb := &store.Heartbeat{ID: "hb1", MonitorID: m.ID, Status: "down", CheckedAt: "2026-01-01 00:00:00"}
	seq, err := db.InsertHeartbeat(ctx, hb)
	require.NoError(t, err)
	hb.Seq = seq

	result, err := Evaluate(ctx, db, nil, m, hb)
	require.NoError(t, err)
	assert.Equal(t, "unknown", result.Effective) // threshold 2, first failure doesn't trip it
	assert.Equal(t, 1, result.ConsecutiveFailures)
	assert.Nil(t, result.IncidentOpened)
}

func TestEvaluateSingleLocationOpensIncidentAtThreshold(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	m := insertMonitor(t, db, "m2")

	var hb *store.Heartbeat
	for i := 0; i < 2; i++ {
		hb = &store.Heartbeat{ID: "hb" + string(rune('a'+i)), MonitorID: m.ID, Status: "down", ErrorMessage: "connection refused", CheckedAt: "2026-01-01 00:00:00"}
		_, err := db.InsertHeartbeat(ctx, hb)
		require.NoError(t, err)
		m = reloadMonitor(t, db, m.ID)
		_, err = Evaluate(ctx, db, nil, m, hb)
		require.NoError(t, err)
		m = reloadMonitor(t, db, m.ID)
	}

	assert.Equal(t, "down", m.CurrentStatus)

	open, err := db.GetOpenIncident(ctx, m.ID)
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, "connection refused", open.Cause)
}

func TestEvaluateResolvesIncidentOnRecovery(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	m := insertMonitor(t, db, "m3")
	m.ConfirmationThreshold = 1

	hbDown := &store.Heartbeat{ID: "hbd", MonitorID: m.ID, Status: "down", CheckedAt: "2026-01-01 00:00:00"}
	_, err := db.InsertHeartbeat(ctx, hbDown)
	require.NoError(t, err)
	_, err = Evaluate(ctx, db, nil, m, hbDown)
	require.NoError(t, err)
	m = reloadMonitor(t, db, m.ID)
	require.Equal(t, "down", m.CurrentStatus)

	hbUp := &store.Heartbeat{ID: "hbu", MonitorID: m.ID, Status: "up", CheckedAt: "2026-01-01 00:01:00"}
	_, err = db.InsertHeartbeat(ctx, hbUp)
	require.NoError(t, err)
	result, err := Evaluate(ctx, db, nil, m, hbUp)
	require.NoError(t, err)

	assert.Equal(t, "up", result.Effective)
	assert.Len(t, result.IncidentsResolved, 1)

	open, err := db.GetOpenIncident(ctx, m.ID)
	require.NoError(t, err)
	assert.Nil(t, open)
}

func TestEvaluateSuppressesIncidentsDuringMaintenance(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	m := insertMonitor(t, db, "m4")
	m.ConfirmationThreshold = 1

	require.NoError(t, db.CreateMaintenanceWindow(ctx, &store.MaintenanceWindow{
		ID: "w1", MonitorID: m.ID, Title: "planned",
		StartsAt: "2000-01-01 00:00:00", EndsAt: "2999-01-01 00:00:00",
	}))

	hb := &store.Heartbeat{ID: "hbm", MonitorID: m.ID, Status: "down", CheckedAt: "2026-01-01 00:00:00"}
	_, err := db.InsertHeartbeat(ctx, hb)
	require.NoError(t, err)

	result, err := Evaluate(ctx, db, nil, m, hb)
	require.NoError(t, err)
	assert.True(t, result.Suppressed)
	assert.Equal(t, "maintenance", result.Effective)
	assert.Nil(t, result.IncidentOpened)

	open, err := db.GetOpenIncident(ctx, m.ID)
	require.NoError(t, err)
	assert.Nil(t, open)
}

func TestEvaluateConsensusDownWhenThresholdMet(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	m := insertMonitor(t, db, "m5")
	threshold := 2
	m.ConsensusThreshold = &threshold
	require.NoError(t, db.UpdateMonitor(ctx, m))

	loc1 := &store.CheckLocation{ID: "loc1", Name: "eu", ProbeKeyHash: "h1", IsActive: true}
	loc2 := &store.CheckLocation{ID: "loc2", Name: "us", ProbeKeyHash: "h2", IsActive: true}
	require.NoError(t, db.CreateLocation(ctx, loc1))
	require.NoError(t, db.CreateLocation(ctx, loc2))

	_, err := db.InsertHeartbeat(ctx, &store.Heartbeat{ID: "c1", MonitorID: m.ID, LocationID: "loc1", Status: "down", CheckedAt: "2026-01-01 00:00:00"})
	require.NoError(t, err)
	hb2 := &store.Heartbeat{ID: "c2", MonitorID: m.ID, LocationID: "loc2", Status: "down", CheckedAt: "2026-01-01 00:00:01"}
	_, err = db.InsertHeartbeat(ctx, hb2)
	require.NoError(t, err)

	result, err := Evaluate(ctx, db, nil, m, hb2)
	require.NoError(t, err)
	assert.Equal(t, "down", result.Effective)

	open, err := db.GetOpenIncident(ctx, m.ID)
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, "Consensus: 2/2 locations report down (threshold: 2)", open.Cause)
}

func TestEvaluateEmitsEvents(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	m := insertMonitor(t, db, "m6")
	m.ConfirmationThreshold = 1

	bus := events.NewBus(zerolog.Nop(), 16)
	sub := bus.Subscribe()
	defer sub.Unsubscribe()

	hb := &store.Heartbeat{ID: "hbe", MonitorID: m.ID, Status: "down", CheckedAt: "2026-01-01 00:00:00"}
	_, err := db.InsertHeartbeat(ctx, hb)
	require.NoError(t, err)

	_, err = Evaluate(ctx, db, bus, m, hb)
	require.NoError(t, err)

	select {
	case ev := <-sub.C:
		assert.Equal(t, events.IncidentCreated, ev.Type)
		assert.Equal(t, m.ID, ev.MonitorID)
	default:
		t.Fatal("expected an incident.created event")
	}
}
