package notify

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/aristath/watchpost/internal/config"
	"github.com/aristath/watchpost/internal/events"
	"github.com/rs/zerolog"
)

type emailConfig struct {
	Address string `json:"address"`
}

// statusColor and the HTML table are ported from
// original_source/src/notifications.rs's email_body_html, kept close to
// the original's inline-styled dark theme.
var statusColor = map[string]string{
	"incident.created":   "#e74c3c",
	"incident.resolved":  "#2ecc71",
	"monitor.recovered":  "#2ecc71",
	"monitor.degraded":   "#f39c12",
	"incident.reminder":  "#f39c12",
	"incident.escalated": "#e74c3c",
}

// deliverEmail sends payload as a multipart/alternative message to one
// email channel's address. SMTP errors are logged per-recipient and never
// block delivery to the remaining channels, matching
// original_source/src/notifications.rs's per-message error handling.
func deliverEmail(cfg *config.Config, log zerolog.Logger, channel emailConfig, payload Payload) {
	if channel.Address == "" || !strings.Contains(channel.Address, "@") {
		log.Warn().Str("address", channel.Address).Msg("invalid email address, skipping")
		return
	}

	msg := buildMIMEMessage(cfg.SMTPFrom, channel.Address, emailSubject(payload), emailBodyText(payload), emailBodyHTML(payload))

	addr := fmt.Sprintf("%s:%d", cfg.SMTPHost, cfg.SMTPPort)
	var auth smtp.Auth
	if cfg.SMTPUsername != "" {
		auth = smtp.PlainAuth("", cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPHost)
	}

	var err error
	switch cfg.SMTPTLS {
	case config.SMTPTLSDirect:
		err = sendTLS(addr, cfg.SMTPHost, auth, cfg.SMTPFrom, channel.Address, msg)
	default:
		// StartTLS and None both dial plaintext first; smtp.SendMail
		// itself negotiates STARTTLS when the server advertises it, and
		// is a no-op upgrade when SMTPTLSNone is configured against a
		// server that never offers it.
		err = smtp.SendMail(addr, auth, cfg.SMTPFrom, []string{channel.Address}, msg)
	}
	if err != nil {
		log.Error().Err(err).Str("to", channel.Address).Msg("failed to send alert email")
	}
}

func sendTLS(addr, host string, auth smtp.Auth, from, to string, msg []byte) error {
	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: host})
	if err != nil {
		return fmt.Errorf("tls dial: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, host)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	defer client.Close()

	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := client.Mail(from); err != nil {
		return err
	}
	if err := client.Rcpt(to); err != nil {
		return err
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}

func buildMIMEMessage(from, to, subject, text, html string) []byte {
	boundary := "watchpost-boundary"
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&b, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", boundary)

	fmt.Fprintf(&b, "--%s\r\n", boundary)
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(text)
	b.WriteString("\r\n\r\n")

	fmt.Fprintf(&b, "--%s\r\n", boundary)
	b.WriteString("Content-Type: text/html; charset=utf-8\r\n\r\n")
	b.WriteString(html)
	b.WriteString("\r\n\r\n")

	fmt.Fprintf(&b, "--%s--\r\n", boundary)
	return []byte(b.String())
}

func emailBodyText(p Payload) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Monitor: %s\n", p.Monitor.Name)
	fmt.Fprintf(&b, "URL: %s\n", p.Monitor.URL)
	fmt.Fprintf(&b, "Status: %s\n", p.Monitor.CurrentStatus)
	fmt.Fprintf(&b, "Event: %s\n", p.Event)
	fmt.Fprintf(&b, "Time: %s\n", p.Timestamp)

	if p.Incident != nil {
		b.WriteString("\n--- Incident ---\n")
		fmt.Fprintf(&b, "ID: %s\n", p.Incident.ID)
		fmt.Fprintf(&b, "Cause: %s\n", p.Incident.Cause)
		fmt.Fprintf(&b, "Started: %s\n", p.Incident.StartedAt)
		if p.Incident.ResolvedAt != "" {
			fmt.Fprintf(&b, "Resolved: %s\n", p.Incident.ResolvedAt)
		}
	}

	b.WriteString("\n--\nSent by Watchpost\n")
	return b.String()
}

func emailBodyHTML(p Payload) string {
	color := statusColor[p.Event]
	if color == "" {
		color = "#95a5a6"
	}

	var b strings.Builder
	fmt.Fprintf(&b, `<!DOCTYPE html><html><body style="font-family:sans-serif;background:#1a1a2e;color:#e0e0e0;padding:24px;">`)
	fmt.Fprintf(&b, `<div style="max-width:560px;margin:0 auto;">`)
	fmt.Fprintf(&b, `<div style="background:%s;color:#fff;padding:16px 20px;border-radius:8px 8px 0 0;font-size:18px;font-weight:600;">%s — %s</div>`,
		color, label(events.EventType(p.Event)), htmlEscape(p.Monitor.Name))
	b.WriteString(`<div style="background:#16213e;padding:20px;border-radius:0 0 8px 8px;border:1px solid #0f3460;border-top:none;">`)
	b.WriteString(`<table style="width:100%;border-collapse:collapse;color:#e0e0e0;">`)
	fmt.Fprintf(&b, `<tr><td style="padding:6px 0;color:#8899aa;">Monitor</td><td style="padding:6px 0;">%s</td></tr>`, htmlEscape(p.Monitor.Name))
	fmt.Fprintf(&b, `<tr><td style="padding:6px 0;color:#8899aa;">URL</td><td style="padding:6px 0;"><a href="%s" style="color:#5dade2;">%s</a></td></tr>`, htmlEscape(p.Monitor.URL), htmlEscape(p.Monitor.URL))
	fmt.Fprintf(&b, `<tr><td style="padding:6px 0;color:#8899aa;">Status</td><td style="padding:6px 0;font-weight:600;color:%s;">%s</td></tr>`, color, p.Monitor.CurrentStatus)
	fmt.Fprintf(&b, `<tr><td style="padding:6px 0;color:#8899aa;">Time</td><td style="padding:6px 0;">%s</td></tr>`, p.Timestamp)
	b.WriteString(`</table>`)

	if p.Incident != nil {
		b.WriteString(`<hr style="border:none;border-top:1px solid #0f3460;margin:16px 0;">`)
		b.WriteString(`<table style="width:100%;border-collapse:collapse;color:#e0e0e0;">`)
		idShort := p.Incident.ID
		if len(idShort) > 8 {
			idShort = idShort[:8]
		}
		fmt.Fprintf(&b, `<tr><td style="padding:6px 0;color:#8899aa;">Incident</td><td style="padding:6px 0;font-family:monospace;font-size:13px;">%s</td></tr>`, idShort)
		fmt.Fprintf(&b, `<tr><td style="padding:6px 0;color:#8899aa;">Cause</td><td style="padding:6px 0;">%s</td></tr>`, htmlEscape(p.Incident.Cause))
		fmt.Fprintf(&b, `<tr><td style="padding:6px 0;color:#8899aa;">Started</td><td style="padding:6px 0;">%s</td></tr>`, p.Incident.StartedAt)
		if p.Incident.ResolvedAt != "" {
			fmt.Fprintf(&b, `<tr><td style="padding:6px 0;color:#8899aa;">Resolved</td><td style="padding:6px 0;color:#2ecc71;">%s</td></tr>`, p.Incident.ResolvedAt)
		}
		b.WriteString(`</table>`)
	}

	b.WriteString(`</div><div style="text-align:center;margin-top:16px;color:#555;font-size:12px;">Sent by Watchpost &middot; Agent-Native Monitoring</div></div></body></html>`)
	return b.String()
}

func htmlEscape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
	return r.Replace(s)
}
