// Package ingest folds one heartbeat through the status engine and
// notification fan-out, the step common to both the local scheduler (spec
// §4.D) and remote probe submission (spec §4.E): "Remote probe submissions
// enter at the Store step and fan out identically through the Status
// engine, skipping local execution."
package ingest

import (
	"context"

	"github.com/aristath/watchpost/internal/events"
	"github.com/aristath/watchpost/internal/notify"
	"github.com/aristath/watchpost/internal/status"
	"github.com/aristath/watchpost/internal/store"
)

// Heartbeat writes hb and evaluates the status engine atomically under the
// store's write lock, then dispatches any resulting notifications outside
// it, per spec §5 Ordering/Suspension points. notifier may be nil, in
// which case no notification is attempted.
func Heartbeat(ctx context.Context, db *store.DB, bus *events.Bus, notifier *notify.Dispatcher, m *store.Monitor, hb *store.Heartbeat) (*status.Result, error) {
	var result *status.Result
	err := db.WithWriteLock(func() error {
		if _, err := db.InsertHeartbeatLocked(ctx, hb); err != nil {
			return err
		}
		var err error
		result, err = status.Evaluate(ctx, db, bus, m, hb)
		return err
	})
	if err != nil {
		return nil, err
	}

	Dispatch(ctx, db, notifier, m, result)
	return result, nil
}

// Dispatch fires the notifications implied by result, outside any lock.
func Dispatch(ctx context.Context, db *store.DB, notifier *notify.Dispatcher, m *store.Monitor, result *status.Result) {
	if notifier == nil || result == nil {
		return
	}
	if result.IncidentOpened != nil {
		notifier.Dispatch(ctx, events.IncidentCreated, m, result.IncidentOpened, result.Suppressed)
	}
	for _, id := range result.IncidentsResolved {
		// A failed lookup still notifies, without the incident summary.
		inc, _ := db.GetIncident(ctx, id)
		notifier.Dispatch(ctx, events.IncidentResolved, m, inc, result.Suppressed)
	}
}
