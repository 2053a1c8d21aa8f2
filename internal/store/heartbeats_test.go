package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func insertTestMonitor(t *testing.T, db *DB, id string) *Monitor {
	t.Helper()
	m := sampleMonitor(id)
	require.NoError(t, db.CreateMonitor(context.Background(), m))
	return m
}

func TestInsertHeartbeatAssignsIncreasingSeq(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	insertTestMonitor(t, db, "mon-hb")

	hb1 := &Heartbeat{ID: "hb-1", MonitorID: "mon-hb", Status: "up", CheckedAt: "2026-01-01 00:00:00"}
	hb2 := &Heartbeat{ID: "hb-2", MonitorID: "mon-hb", Status: "up", CheckedAt: "2026-01-01 00:01:00"}

	seq1, err := db.InsertHeartbeat(ctx, hb1)
	require.NoError(t, err)
	seq2, err := db.InsertHeartbeat(ctx, hb2)
	require.NoError(t, err)

	assert.Greater(t, seq2, seq1)
}

func TestListHeartbeatsDescendingByDefault(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	insertTestMonitor(t, db, "mon-hb2")

	for i := 0; i < 3; i++ {
		_, err := db.InsertHeartbeat(ctx, &Heartbeat{
			ID: "hb-" + string(rune('a'+i)), MonitorID: "mon-hb2", Status: "up", CheckedAt: "2026-01-01 00:00:00",
		})
		require.NoError(t, err)
	}

	list, err := db.ListHeartbeats(ctx, "mon-hb2", Page{})
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.True(t, list[0].Seq > list[1].Seq && list[1].Seq > list[2].Seq, "default listing must be newest-first")
}

func TestListHeartbeatsCursorAscending(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	insertTestMonitor(t, db, "mon-hb3")

	var seqs []int64
	for i := 0; i < 3; i++ {
		seq, err := db.InsertHeartbeat(ctx, &Heartbeat{
			ID: "hb-c" + string(rune('a'+i)), MonitorID: "mon-hb3", Status: "up", CheckedAt: "2026-01-01 00:00:00",
		})
		require.NoError(t, err)
		seqs = append(seqs, seq)
	}

	list, err := db.ListHeartbeats(ctx, "mon-hb3", Page{After: seqs[0]})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, seqs[1], list[0].Seq)
	assert.Equal(t, seqs[2], list[1].Seq)
}

func TestLatestPerLocation(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	insertTestMonitor(t, db, "mon-hb4")

	locA := "loc-a"
	require.NoError(t, db.CreateLocation(ctx, &CheckLocation{ID: locA, Name: "eu", ProbeKeyHash: "h-a", IsActive: true}))
	_, err := db.InsertHeartbeat(ctx, &Heartbeat{ID: "hb-1", MonitorID: "mon-hb4", LocationID: locA, Status: "up", CheckedAt: "2026-01-01 00:00:00"})
	require.NoError(t, err)
	_, err = db.InsertHeartbeat(ctx, &Heartbeat{ID: "hb-2", MonitorID: "mon-hb4", LocationID: locA, Status: "down", CheckedAt: "2026-01-01 00:01:00"})
	require.NoError(t, err)
	_, err = db.InsertHeartbeat(ctx, &Heartbeat{ID: "hb-3", MonitorID: "mon-hb4", Status: "up", CheckedAt: "2026-01-01 00:00:30"})
	require.NoError(t, err)

	latest, err := db.LatestPerLocation(ctx, "mon-hb4")
	require.NoError(t, err)
	require.Len(t, latest, 2, "one row for loc-a, one for the null/local location")

	byLoc := map[string]*Heartbeat{}
	for _, hb := range latest {
		byLoc[hb.LocationID] = hb
	}
	assert.Equal(t, "down", byLoc[locA].Status, "must return loc-a's most recent report, not its first")
	assert.Equal(t, "up", byLoc[""].Status)
}

func TestLastErrorMessage(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	insertTestMonitor(t, db, "mon-hb5")

	_, err := db.InsertHeartbeat(ctx, &Heartbeat{ID: "hb-1", MonitorID: "mon-hb5", Status: "up", CheckedAt: "2026-01-01 00:00:00"})
	require.NoError(t, err)
	_, err = db.InsertHeartbeat(ctx, &Heartbeat{ID: "hb-2", MonitorID: "mon-hb5", Status: "down", ErrorMessage: "connection refused", CheckedAt: "2026-01-01 00:01:00"})
	require.NoError(t, err)

	msg, err := db.LastErrorMessage(ctx, "mon-hb5")
	require.NoError(t, err)
	assert.Equal(t, "connection refused", msg)
}

func TestPruneHeartbeatsOlderThan(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	insertTestMonitor(t, db, "mon-hb6")

	_, err := db.InsertHeartbeat(ctx, &Heartbeat{ID: "hb-old", MonitorID: "mon-hb6", Status: "up", CheckedAt: "2020-01-01 00:00:00"})
	require.NoError(t, err)
	_, err = db.InsertHeartbeat(ctx, &Heartbeat{ID: "hb-new", MonitorID: "mon-hb6", Status: "up", CheckedAt: "2026-01-01 00:00:00"})
	require.NoError(t, err)

	affected, err := db.PruneHeartbeatsOlderThan(ctx, "2025-01-01 00:00:00")
	require.NoError(t, err)
	assert.EqualValues(t, 1, affected)

	list, err := db.ListHeartbeats(ctx, "mon-hb6", Page{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "hb-new", list[0].ID)
}
