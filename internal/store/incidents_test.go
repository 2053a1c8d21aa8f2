package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAndResolveIncident(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	insertTestMonitor(t, db, "mon-inc1")

	inc, err := db.OpenIncident(ctx, "inc-1", "mon-inc1", "connection refused")
	require.NoError(t, err)
	assert.Equal(t, "mon-inc1", inc.MonitorID)

	has, err := db.HasOpenIncident(ctx, "mon-inc1")
	require.NoError(t, err)
	assert.True(t, has)

	ids, err := db.ResolveOpenIncidents(ctx, "mon-inc1")
	require.NoError(t, err)
	assert.Equal(t, []string{"inc-1"}, ids)

	has, err = db.HasOpenIncident(ctx, "mon-inc1")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestGetOpenIncidentNilWhenNone(t *testing.T) {
	db := openTestDB(t)
	insertTestMonitor(t, db, "mon-inc2")

	inc, err := db.GetOpenIncident(context.Background(), "mon-inc2")
	require.NoError(t, err)
	assert.Nil(t, inc)
}

func TestAcknowledgeIncidentIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	insertTestMonitor(t, db, "mon-inc3")
	_, err := db.OpenIncident(ctx, "inc-3", "mon-inc3", "timeout")
	require.NoError(t, err)

	require.NoError(t, db.AcknowledgeIncident(ctx, "inc-3", "alice", "looking into it"))
	require.NoError(t, db.AcknowledgeIncident(ctx, "inc-3", "bob", "still looking"))

	got, err := db.GetIncident(ctx, "inc-3")
	require.NoError(t, err)
	assert.Equal(t, "bob", got.AcknowledgedBy)
	assert.Equal(t, "still looking", got.Acknowledgement)
}

func TestListIncidentsPagination(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	insertTestMonitor(t, db, "mon-inc4")

	for i := 0; i < 3; i++ {
		id := "inc-" + string(rune('a'+i))
		_, err := db.OpenIncident(ctx, id, "mon-inc4", "cause")
		require.NoError(t, err)
		_, err = db.ResolveOpenIncidents(ctx, "mon-inc4")
		require.NoError(t, err)
	}

	list, err := db.ListIncidents(ctx, "mon-inc4", Page{})
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.True(t, list[0].Seq > list[1].Seq)
}
