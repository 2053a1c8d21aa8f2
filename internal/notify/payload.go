// Package notify fans a status-engine event out to every enabled
// webhook and email channel attached to a monitor.
package notify

import (
	"fmt"

	"github.com/aristath/watchpost/internal/events"
	"github.com/aristath/watchpost/internal/store"
	"github.com/aristath/watchpost/internal/timeutil"
)

// WebhookMonitor is the monitor summary embedded in an event payload.
type WebhookMonitor struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	URL           string `json:"url"`
	CurrentStatus string `json:"current_status"`
}

// WebhookIncident is the incident summary embedded in an event payload,
// present for incident events (created, resolved, reminder, escalated)
// and absent when the event carries no incident.
type WebhookIncident struct {
	ID         string `json:"id"`
	Cause      string `json:"cause"`
	StartedAt  string `json:"started_at"`
	ResolvedAt string `json:"resolved_at,omitempty"`
}

// Payload is the structured event delivered to json-format webhook
// channels and used to derive the chat/email renderings.
type Payload struct {
	Event     string           `json:"event"`
	Monitor   WebhookMonitor   `json:"monitor"`
	Incident  *WebhookIncident `json:"incident,omitempty"`
	Timestamp string           `json:"timestamp"`
}

// eventLabel and eventEmoji are fixed per event type, ported from
// original_source/src/notifications.rs's format_chat_message/email_subject
// match arms.
var eventEmoji = map[events.EventType]string{
	events.IncidentCreated:   "🔴",
	events.IncidentResolved:  "🟢",
	events.MonitorDegraded:   "🟡",
	events.MonitorRecovered:  "🟢",
	events.IncidentReminder:  "🔔",
	events.IncidentEscalated: "🚨",
}

var eventLabel = map[events.EventType]string{
	events.IncidentCreated:   "DOWN",
	events.IncidentResolved:  "Recovered",
	events.MonitorDegraded:   "Degraded",
	events.MonitorRecovered:  "Recovered",
	events.IncidentReminder:  "Still down",
	events.IncidentEscalated: "ESCALATED",
}

func emoji(t events.EventType) string {
	if e, ok := eventEmoji[t]; ok {
		return e
	}
	return "ℹ️"
}

func label(t events.EventType) string {
	if l, ok := eventLabel[t]; ok {
		return l
	}
	return string(t)
}

// BuildPayload assembles the structured event payload for monitor m.
// incident is nil for events that carry no incident summary.
func BuildPayload(eventType events.EventType, m *store.Monitor, incident *store.Incident) Payload {
	p := Payload{
		Event: string(eventType),
		Monitor: WebhookMonitor{
			ID: m.ID, Name: m.Name, URL: m.URL, CurrentStatus: m.CurrentStatus,
		},
		Timestamp: timeutil.ToWire(timeutil.Now()),
	}
	if incident != nil {
		p.Incident = &WebhookIncident{
			ID:         incident.ID,
			Cause:      incident.Cause,
			StartedAt:  timeutil.StoreToWire(incident.StartedAt),
			ResolvedAt: timeutil.StoreToWire(incident.ResolvedAt),
		}
	}
	return p
}

// chatMessage renders the payload as the human-readable line used by
// chat-format webhook channels.
func chatMessage(p Payload) string {
	t := events.EventType(p.Event)
	msg := fmt.Sprintf("%s **%s** — %s", emoji(t), p.Monitor.Name, label(t))
	if p.Incident != nil {
		if p.Incident.Cause != "" {
			msg += fmt.Sprintf("\nCause: %s", p.Incident.Cause)
		}
		if p.Incident.ResolvedAt != "" {
			msg += fmt.Sprintf("\nResolved: %s", p.Incident.ResolvedAt)
		}
	}
	return msg
}

// emailSubject renders the fixed subject template for email delivery.
func emailSubject(p Payload) string {
	t := events.EventType(p.Event)
	return fmt.Sprintf("%s [Watchpost] %s — %s", emoji(t), label(t), p.Monitor.Name)
}
