package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/aristath/watchpost/internal/store"
)

// validMethods/validDNSRecordTypes/validChannelTypes fix the closed sets
// spec §4.J validates monitor fields against.
var (
	validMethods = map[string]bool{"GET": true, "HEAD": true, "POST": true}
	validDNSRecordTypes = map[string]bool{
		"A": true, "AAAA": true, "CNAME": true, "MX": true, "TXT": true, "NS": true,
	}
	validChannelTypes = map[string]bool{"webhook": true, "email": true}
)

// slugify lowercases name, replaces runs of non-alphanumerics with a
// single hyphen, and trims leading/trailing hyphens — the same shape the
// store's slug column expects for GetMonitorBySlug lookups.
func slugify(name string) string {
	var b strings.Builder
	prevHyphen := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			prevHyphen = false
		default:
			if !prevHyphen && b.Len() > 0 {
				b.WriteByte('-')
				prevHyphen = true
			}
		}
	}
	slug := strings.TrimRight(b.String(), "-")
	if slug == "" {
		slug = "monitor"
	}
	return slug
}

// uniqueSlug appends -2, -3, ... to base until db reports no conflict.
func uniqueSlug(ctx context.Context, db *store.DB, base string) (string, error) {
	slug := base
	for i := 2; ; i++ {
		exists, err := db.SlugExists(ctx, slug)
		if err != nil {
			return "", err
		}
		if !exists {
			return slug, nil
		}
		slug = fmt.Sprintf("%s-%d", base, i)
	}
}

// validationError is returned by request-shape validators; its message is
// suitable to surface verbatim in the error envelope.
type validationError struct {
	msg string
}

func (e *validationError) Error() string { return e.msg }

func invalid(format string, args ...any) error {
	return &validationError{msg: fmt.Sprintf(format, args...)}
}

// normalizeMonitor applies spec §4.J's hard-reject validation and
// clamping rules to m in place, returning an error for anything that
// cannot be silently clamped.
func normalizeMonitor(m *store.Monitor) error {
	if strings.TrimSpace(m.Name) == "" {
		return invalid("name must not be empty")
	}
	if strings.TrimSpace(m.URL) == "" {
		return invalid("url must not be empty")
	}

	switch m.MonitorType {
	case "http":
		if m.Method == "" {
			m.Method = "GET"
		}
		if !validMethods[m.Method] {
			return invalid("method must be one of GET, HEAD, POST")
		}
		u, err := url.Parse(m.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return invalid("url must be an http(s) URL for an http monitor")
		}
	case "tcp":
		target := strings.TrimPrefix(m.URL, "tcp://")
		if !strings.Contains(target, ":") {
			return invalid("url must be host:port for a tcp monitor")
		}
	case "dns":
		if m.DNSRecordType == "" {
			m.DNSRecordType = "A"
		}
		if !validDNSRecordTypes[m.DNSRecordType] {
			return invalid("dns_record_type must be one of A, AAAA, CNAME, MX, TXT, NS")
		}
	default:
		return invalid("monitor_type must be one of http, tcp, dns")
	}

	if m.Headers == "" {
		m.Headers = "{}"
	}
	var headerObj map[string]any
	if err := json.Unmarshal([]byte(m.Headers), &headerObj); err != nil {
		return invalid("headers must be a JSON object")
	}

	if m.IntervalSeconds < 600 {
		return invalid("interval_seconds must be >= 600")
	}

	if m.TimeoutMs < 1000 {
		m.TimeoutMs = 1000
	}
	if m.TimeoutMs > 60000 {
		m.TimeoutMs = 60000
	}

	if m.ConfirmationThreshold < 1 {
		m.ConfirmationThreshold = 1
	}
	if m.ConfirmationThreshold > 10 {
		m.ConfirmationThreshold = 10
	}

	if m.ResponseTimeThreshold != nil && *m.ResponseTimeThreshold < 100 {
		return invalid("response_time_threshold_ms must be >= 100 when set")
	}

	if m.ConsensusThreshold != nil && *m.ConsensusThreshold < 1 {
		return invalid("consensus_threshold must be >= 1 when set")
	}

	if m.SLATarget < 0 || m.SLATarget > 100 {
		return invalid("sla_target must be between 0 and 100")
	}
	if m.SLAPeriodDays == 0 {
		m.SLAPeriodDays = 30
	}
	if m.SLAPeriodDays < 1 || m.SLAPeriodDays > 365 {
		return invalid("sla_period_days must be between 1 and 365")
	}

	m.Tags = normalizeTags(m.Tags)
	return nil
}

// normalizeTags lowercases and deduplicates a comma-joined tag string,
// preserving first-seen order (spec §3: "a lowercase comma-separated
// string" on disk).
func normalizeTags(raw string) string {
	if raw == "" {
		return ""
	}
	seen := map[string]bool{}
	var out []string
	for _, t := range strings.Split(raw, ",") {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return strings.Join(out, ",")
}

const maxBulkMonitors = 50

// validateChannel applies the fixed-set/shape checks for a notification
// channel's config (spec §3 NotificationChannel).
func validateChannel(c *store.NotificationChannel) error {
	if strings.TrimSpace(c.Name) == "" {
		return invalid("name must not be empty")
	}
	if !validChannelTypes[c.ChannelType] {
		return invalid("channel_type must be one of webhook, email")
	}
	var cfg map[string]any
	if err := json.Unmarshal([]byte(c.Config), &cfg); err != nil {
		return invalid("config must be a JSON object")
	}
	switch c.ChannelType {
	case "webhook":
		if _, ok := cfg["url"].(string); !ok {
			return invalid("webhook config requires a url")
		}
		if pf, ok := cfg["payload_format"].(string); ok && pf != "json" && pf != "chat" {
			return invalid("payload_format must be json or chat")
		}
	case "email":
		if _, ok := cfg["address"].(string); !ok {
			return invalid("email config requires an address")
		}
	}
	return nil
}

// validateAlertRule enforces spec §6's PUT /alert-rules rule: each of
// repeat_interval_minutes/escalation_after_minutes is either 0 (disabled)
// or at least 5.
func validateAlertRule(r *store.AlertRule) error {
	if r.RepeatIntervalMinutes != 0 && r.RepeatIntervalMinutes < 5 {
		return invalid("repeat_interval_minutes must be 0 or >= 5")
	}
	if r.EscalationAfterMinutes != 0 && r.EscalationAfterMinutes < 5 {
		return invalid("escalation_after_minutes must be 0 or >= 5")
	}
	return nil
}
