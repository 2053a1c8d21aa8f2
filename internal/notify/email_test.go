package notify

import (
	"strings"
	"testing"

	"github.com/aristath/watchpost/internal/events"
	"github.com/aristath/watchpost/internal/store"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestEmailBodyTextIncludesIncidentDetail(t *testing.T) {
	inc := &store.Incident{ID: "inc-1", Cause: "DNS resolution failed", StartedAt: "2026-01-01 00:00:00"}
	p := BuildPayload(events.IncidentCreated, sampleMonitor(), inc)
	body := emailBodyText(p)
	assert.Contains(t, body, "DNS resolution failed")
	assert.Contains(t, body, "Monitor: API")
}

func TestEmailBodyHTMLEscapesMonitorName(t *testing.T) {
	m := sampleMonitor()
	m.Name = "<script>alert(1)</script>"
	p := BuildPayload(events.MonitorDegraded, m, nil)
	html := emailBodyHTML(p)
	assert.NotContains(t, html, "<script>alert(1)</script>")
	assert.Contains(t, html, "&lt;script&gt;")
}

func TestBuildMIMEMessageHasBothParts(t *testing.T) {
	msg := buildMIMEMessage("alerts@watchpost.test", "ops@example.com", "subject line", "plain body", "<p>html body</p>")
	s := string(msg)
	assert.True(t, strings.Contains(s, "multipart/alternative"))
	assert.True(t, strings.Contains(s, "text/plain"))
	assert.True(t, strings.Contains(s, "text/html"))
	assert.True(t, strings.Contains(s, "plain body"))
	assert.True(t, strings.Contains(s, "<p>html body</p>"))
}

func TestDeliverEmailSkipsInvalidAddress(t *testing.T) {
	p := BuildPayload(events.IncidentCreated, sampleMonitor(), nil)
	assert.NotPanics(t, func() {
		deliverEmail(nil, zerolog.Nop(), emailConfig{Address: "not-an-address"}, p)
	})
}
