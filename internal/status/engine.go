// Package status evaluates the current_status transition for a monitor
// after a heartbeat is written, and drives the incident lifecycle and
// event emission that follow from it.
package status

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/watchpost/internal/events"
	"github.com/aristath/watchpost/internal/store"
	"github.com/aristath/watchpost/internal/timeutil"
	"github.com/google/uuid"
)

// Result describes what the engine decided and did.
type Result struct {
	Previous            string
	Effective           string
	ConsecutiveFailures int
	IncidentOpened      *store.Incident
	IncidentsResolved   []string
	Suppressed          bool // true when the monitor is in a maintenance window
}

// Evaluate applies the status engine to monitor m given a freshly-written
// heartbeat hb, writing the resulting transition and incident records and
// emitting the corresponding events on bus. It must be called while the
// store's write lock is held by the caller (heartbeat insertion and status
// evaluation share one critical section so the at-most-one-open-incident
// invariant holds).
func Evaluate(ctx context.Context, db *store.DB, bus *events.Bus, m *store.Monitor, hb *store.Heartbeat) (*Result, error) {
	now := timeutil.Now()
	nowStore := timeutil.ToStore(now)

	inMaintenance, err := db.InMaintenanceWindow(ctx, m.ID, nowStore)
	if err != nil {
		return nil, fmt.Errorf("check maintenance window: %w", err)
	}

	var effective string
	var consecutive int
	var consensus consensusCounts

	if m.ConsensusThreshold != nil {
		effective, consensus, err = evaluateConsensus(ctx, db, m, *m.ConsensusThreshold)
		if err != nil {
			return nil, fmt.Errorf("evaluate consensus: %w", err)
		}
		if hb.Status == "down" {
			consecutive = m.ConsecutiveFailures + 1
		} else {
			consecutive = 0
		}
	} else {
		effective, consecutive = evaluateSingleLocation(m, hb)
	}

	// Consensus mode only rewrites current_status when it actually
	// changes (spec §4.F.2); the single-location path always rewrites
	// consecutive_failures/last_checked_at regardless.
	prev := m.CurrentStatus
	presented := effective
	if inMaintenance {
		presented = "maintenance"
	} else if m.ConsensusThreshold != nil && effective == prev {
		presented = prev
	}

	if err := db.ApplyTransition(ctx, m.ID, presented, consecutive, nowStore); err != nil {
		return nil, fmt.Errorf("apply transition: %w", err)
	}

	result := &Result{Previous: prev, Effective: presented, ConsecutiveFailures: consecutive, Suppressed: inMaintenance}

	if inMaintenance {
		// Heartbeats are still recorded, but incidents never open while a
		// monitor is within a maintenance window. A transition out of the
		// window re-evaluates from fresh heartbeats on the next check.
		return result, nil
	}

	suppressNotify, err := db.HasDependencyDown(ctx, m.ID)
	if err != nil {
		return nil, fmt.Errorf("check dependency state: %w", err)
	}

	switch {
	case prev != "down" && prev != "maintenance" && effective == "down":
		cause, err := incidentCause(ctx, db, m, hb, consensus)
		if err != nil {
			return nil, fmt.Errorf("determine incident cause: %w", err)
		}
		inc, err := openIncident(ctx, db, bus, m, cause, suppressNotify, now)
		if err != nil {
			return nil, err
		}
		result.IncidentOpened = inc

	case prev == "down" && effective != "down" && effective != "maintenance":
		resolved, err := resolveIncidents(ctx, db, bus, m, effective, suppressNotify, now)
		if err != nil {
			return nil, err
		}
		result.IncidentsResolved = resolved

	case prev != "degraded" && effective == "degraded":
		emit(bus, events.MonitorDegraded, m.ID, now, nil)

	case prev == "degraded" && effective == "up":
		emit(bus, events.MonitorRecovered, m.ID, now, nil)
	}

	return result, nil
}

// evaluateSingleLocation implements spec §4.F.1: confirmation-threshold
// debounce with no multi-region consensus configured.
func evaluateSingleLocation(m *store.Monitor, hb *store.Heartbeat) (effective string, consecutive int) {
	if hb.Status == "down" {
		consecutive = m.ConsecutiveFailures + 1
		if consecutive >= m.ConfirmationThreshold {
			return "down", consecutive
		}
		return m.CurrentStatus, consecutive
	}
	return hb.Status, 0
}

// consensusCounts records the per-status tally evaluateConsensus saw across
// locations, kept around so a down-transition can render the "d/n locations
// report down" incident cause without re-querying heartbeats.
type consensusCounts struct {
	down, total, threshold int
}

// evaluateConsensus implements spec §4.F.2: the effective status across
// the latest heartbeat per location (local heartbeats, with a null
// location_id, count as one distinct location), ported from
// original_source/src/consensus.rs's evaluate_and_apply.
func evaluateConsensus(ctx context.Context, db *store.DB, m *store.Monitor, threshold int) (string, consensusCounts, error) {
	latest, err := db.LatestPerLocation(ctx, m.ID)
	if err != nil {
		return "", consensusCounts{}, err
	}

	var up, down, degraded int
	for _, hb := range latest {
		switch hb.Status {
		case "up":
			up++
		case "down":
			down++
		case "degraded":
			degraded++
		}
	}
	counts := consensusCounts{down: down, total: len(latest), threshold: threshold}

	switch {
	case down >= threshold:
		return "down", counts, nil
	case degraded > 0 && down+degraded >= threshold:
		return "degraded", counts, nil
	case up > 0:
		return "up", counts, nil
	case degraded > 0:
		return "degraded", counts, nil
	default:
		return "unknown", counts, nil
	}
}

// incidentCause resolves the cause string an opening incident is recorded
// with (spec §4.G): the last non-empty heartbeat error message in
// single-location mode, or a canonical "d/n locations report down" summary
// when a consensus threshold is configured.
func incidentCause(ctx context.Context, db *store.DB, m *store.Monitor, hb *store.Heartbeat, consensus consensusCounts) (string, error) {
	if m.ConsensusThreshold == nil {
		msg, err := db.LastErrorMessage(ctx, m.ID)
		if err != nil {
			return "", err
		}
		if msg != "" {
			return msg, nil
		}
		if hb.ErrorMessage != "" {
			return hb.ErrorMessage, nil
		}
		return fmt.Sprintf("%s transitioned to down", m.Name), nil
	}
	return fmt.Sprintf("Consensus: %d/%d locations report down (threshold: %d)", consensus.down, consensus.total, consensus.threshold), nil
}

func openIncident(ctx context.Context, db *store.DB, bus *events.Bus, m *store.Monitor, cause string, suppressNotify bool, now time.Time) (*store.Incident, error) {
	inc, err := db.OpenIncident(ctx, uuid.NewString(), m.ID, cause)
	if err != nil {
		return nil, fmt.Errorf("open incident: %w", err)
	}

	emit(bus, events.IncidentCreated, m.ID, now, map[string]any{
		"incident_id": inc.ID,
		"cause":       inc.Cause,
		"suppressed":  suppressNotify,
	})
	return inc, nil
}

func resolveIncidents(ctx context.Context, db *store.DB, bus *events.Bus, m *store.Monitor, effective string, suppressNotify bool, now time.Time) ([]string, error) {
	ids, err := db.ResolveOpenIncidents(ctx, m.ID)
	if err != nil {
		return nil, fmt.Errorf("resolve incidents: %w", err)
	}

	for _, id := range ids {
		emit(bus, events.IncidentResolved, m.ID, now, map[string]any{
			"incident_id": id,
			"suppressed":  suppressNotify,
		})
	}
	return ids, nil
}

func emit(bus *events.Bus, t events.EventType, monitorID string, now time.Time, data map[string]any) {
	if bus == nil {
		return
	}
	bus.Emit(&events.Event{Type: t, MonitorID: monitorID, Timestamp: now, Data: data})
}
