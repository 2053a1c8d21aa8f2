package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

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

func insertMonitor(t *testing.T, db *store.DB, id string) *store.Monitor {
	t.Helper()
	m := &store.Monitor{
		ID: id, ManageKeyHash: "h", Name: "Example", Slug: id, URL: "https://example.com",
		MonitorType: "http", Method: "GET", Headers: "{}", ExpectedStatus: 200,
		ConfirmationThreshold: 1, IntervalSeconds: 60, TimeoutMs: 5000,
	}
	require.NoError(t, db.CreateMonitor(context.Background(), m))
	return m
}

func TestDeliverWebhookSucceedsFirstAttempt(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	db := openTestDB(t)
	insertMonitor(t, db, "m1")

	ch := &store.NotificationChannel{ID: "c1", MonitorID: "m1", ChannelType: "webhook", Config: `{"url":"` + srv.URL + `","payload_format":"json"}`, IsEnabled: true}
	payload := BuildPayload(events.IncidentCreated, &store.Monitor{ID: "m1", Name: "Example", URL: "https://example.com"}, nil)

	deliverWebhook(context.Background(), db, &http.Client{}, zerolog.Nop(), "m1", ch, payload)

	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))

	deliveries, err := db.ListWebhookDeliveries(context.Background(), "m1", store.Page{})
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	assert.Equal(t, "success", deliveries[0].Status)
}

func TestDeliverWebhookRetriesThenFails(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	db := openTestDB(t)
	insertMonitor(t, db, "m2")

	ch := &store.NotificationChannel{ID: "c2", MonitorID: "m2", ChannelType: "webhook", Config: `{"url":"` + srv.URL + `"}`, IsEnabled: true}
	payload := BuildPayload(events.IncidentCreated, &store.Monitor{ID: "m2", Name: "Example", URL: "https://example.com"}, nil)

	// The 2s/4s backoff schedule cannot be overridden, so this test runs the
	// real retry sequence (about 6s) under a 7s context that bounds it, and
	// checks that all three attempts were made and logged as failed.
	ctx, cancel := context.WithTimeout(context.Background(), 7*time.Second)
	defer cancel()

	deliverWebhook(ctx, db, &http.Client{}, zerolog.Nop(), "m2", ch, payload)

	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))

	deliveries, err := db.ListWebhookDeliveries(context.Background(), "m2", store.Page{})
	require.NoError(t, err)
	require.Len(t, deliveries, 3)
	for _, d := range deliveries {
		assert.Equal(t, "failed", d.Status)
	}
}

func TestDeliverWebhookSkipsMissingURL(t *testing.T) {
	db := openTestDB(t)
	insertMonitor(t, db, "m3")

	ch := &store.NotificationChannel{ID: "c3", MonitorID: "m3", ChannelType: "webhook", Config: `{}`, IsEnabled: true}
	payload := BuildPayload(events.IncidentCreated, &store.Monitor{ID: "m3", Name: "Example"}, nil)

	deliverWebhook(context.Background(), db, &http.Client{}, zerolog.Nop(), "m3", ch, payload)

	deliveries, err := db.ListWebhookDeliveries(context.Background(), "m3", store.Page{})
	require.NoError(t, err)
	assert.Empty(t, deliveries)
}

func TestChatBodyShape(t *testing.T) {
	payload := BuildPayload(events.MonitorDegraded, &store.Monitor{ID: "m4", Name: "Example"}, nil)
	body := chatBody(payload)
	assert.Contains(t, string(body), `"sender":"Watchpost"`)
	assert.Contains(t, string(body), "Degraded")
}
