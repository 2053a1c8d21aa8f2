package incident

import (
	"context"
	"fmt"

	"github.com/aristath/watchpost/internal/store"
)

// Acknowledge sets the acknowledgement fields on an open-or-closed
// incident. Repeating the call overwrites the previous acknowledgement,
// matching spec §4.G's idempotence requirement.
func Acknowledge(ctx context.Context, db *store.DB, incidentID, by, note string) (*store.Incident, error) {
	if _, err := db.GetIncident(ctx, incidentID); err != nil {
		return nil, fmt.Errorf("acknowledge incident: %w", err)
	}
	if err := db.AcknowledgeIncident(ctx, incidentID, by, note); err != nil {
		return nil, fmt.Errorf("acknowledge incident: %w", err)
	}
	return db.GetIncident(ctx, incidentID)
}
