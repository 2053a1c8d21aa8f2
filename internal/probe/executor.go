// Package probe executes a single HTTP, TCP, or DNS check for a monitor
// and maps the outcome to the heartbeat shape the store persists.
package probe

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/watchpost/internal/store"
)

// defaultDegradationThresholdMs is the hardcoded degradation threshold
// used when a monitor has no response_time_threshold_ms configured.
// Ported from original_source/src/checker.rs's run_check, which compares
// against this literal constant.
const defaultDegradationThresholdMs = 5000

// Outcome is the result of one check, ready to become a Heartbeat.
type Outcome struct {
	Status         string // up, down, degraded
	ResponseTimeMs int
	StatusCode     *int
	ErrorMessage   string
}

// Run executes the check described by m and returns its outcome. The
// context's deadline, if any, is not itself the per-request timeout —
// each check applies m.TimeoutMs independently, per spec §4.E.
func Run(ctx context.Context, m *store.Monitor) Outcome {
	switch m.MonitorType {
	case "http":
		return runHTTP(ctx, m)
	case "tcp":
		return runTCP(ctx, m)
	case "dns":
		return runDNS(ctx, m)
	default:
		return Outcome{Status: "down", ErrorMessage: fmt.Sprintf("unknown monitor type %q", m.MonitorType)}
	}
}

func degradationThresholdMs(m *store.Monitor) int {
	if m.ResponseTimeThreshold != nil {
		return *m.ResponseTimeThreshold
	}
	return defaultDegradationThresholdMs
}

func runHTTP(ctx context.Context, m *store.Monitor) Outcome {
	timeout := time.Duration(m.TimeoutMs) * time.Millisecond
	client := &http.Client{
		Timeout: timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if !m.FollowRedirects {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, m.Method, m.URL, nil)
	if err != nil {
		return Outcome{Status: "down", ErrorMessage: "invalid request: " + err.Error()}
	}
	for _, h := range parseHeaders(m.Headers) {
		req.Header.Set(h[0], h[1])
	}

	start := time.Now()
	resp, err := client.Do(req)
	elapsed := time.Since(start)
	rt := int(elapsed.Milliseconds())

	if err != nil {
		return Outcome{Status: "down", ResponseTimeMs: rt, ErrorMessage: normalizeHTTPError(err)}
	}
	defer resp.Body.Close()

	code := resp.StatusCode
	if code != m.ExpectedStatus {
		return Outcome{
			Status: "down", ResponseTimeMs: rt, StatusCode: &code,
			ErrorMessage: fmt.Sprintf("Expected %d, got %d", m.ExpectedStatus, code),
		}
	}

	if m.BodyContains != "" {
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if readErr != nil || !strings.Contains(string(body), m.BodyContains) {
			return Outcome{Status: "down", ResponseTimeMs: rt, StatusCode: &code, ErrorMessage: "Body match failed"}
		}
	}

	if rt > degradationThresholdMs(m) {
		return Outcome{Status: "degraded", ResponseTimeMs: rt, StatusCode: &code}
	}
	return Outcome{Status: "up", ResponseTimeMs: rt, StatusCode: &code}
}

func normalizeHTTPError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "Request timed out"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "Request timed out"
	}
	msg := err.Error()
	if strings.Contains(msg, "connection refused") {
		return "Connection refused"
	}
	return msg
}

func parseHeaders(raw string) [][2]string {
	// Headers are stored as a JSON object on the monitor; parsed here
	// without importing encoding/json's full decoder ceremony since the
	// shape is a flat string map.
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "{}" {
		return nil
	}
	var out [][2]string
	inner := strings.TrimSuffix(strings.TrimPrefix(raw, "{"), "}")
	for _, pair := range splitTopLevel(inner) {
		k, v, ok := strings.Cut(pair, ":")
		if !ok {
			continue
		}
		out = append(out, [2]string{unquote(k), unquote(v)})
	}
	return out
}

func splitTopLevel(s string) []string {
	var parts []string
	depth := 0
	start := 0
	inStr := false
	for i, r := range s {
		switch r {
		case '"':
			inStr = !inStr
		case '{', '[':
			if !inStr {
				depth++
			}
		case '}', ']':
			if !inStr {
				depth--
			}
		case ',':
			if !inStr && depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	if start < len(s) {
		parts = append(parts, s[start:])
	}
	return parts
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, `"`)
	s = strings.TrimSuffix(s, `"`)
	return s
}

func runTCP(ctx context.Context, m *store.Monitor) Outcome {
	target := strings.TrimPrefix(m.URL, "tcp://")
	host, portStr, err := net.SplitHostPort(target)
	if err != nil {
		return Outcome{Status: "down", ErrorMessage: "invalid host:port: " + err.Error()}
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return Outcome{Status: "down", ErrorMessage: "invalid port"}
	}

	timeout := time.Duration(m.TimeoutMs) * time.Millisecond
	start := time.Now()
	conn, err := (&net.Dialer{Timeout: timeout}).DialContext(ctx, "tcp", net.JoinHostPort(host, portStr))
	rt := int(time.Since(start).Milliseconds())
	if err != nil {
		return Outcome{Status: "down", ResponseTimeMs: rt, ErrorMessage: normalizeHTTPError(err)}
	}
	_ = conn.Close()
	return Outcome{Status: "up", ResponseTimeMs: rt}
}

func runDNS(ctx context.Context, m *store.Monitor) Outcome {
	host := strings.TrimPrefix(m.URL, "dns://")
	recordType := strings.ToUpper(m.DNSRecordType)
	if recordType == "" {
		recordType = "A"
	}

	timeout := time.Duration(m.TimeoutMs) * time.Millisecond
	resolveCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resolver := net.DefaultResolver
	start := time.Now()

	var answers []string
	var err error
	switch recordType {
	case "CNAME":
		var cname string
		cname, err = resolver.LookupCNAME(resolveCtx, host)
		if err == nil {
			answers = []string{strings.TrimSuffix(cname, ".")}
		}
	case "MX":
		var mxs []*net.MX
		mxs, err = resolver.LookupMX(resolveCtx, host)
		for _, mx := range mxs {
			answers = append(answers, strings.TrimSuffix(mx.Host, "."))
		}
	case "NS":
		var nss []*net.NS
		nss, err = resolver.LookupNS(resolveCtx, host)
		for _, ns := range nss {
			answers = append(answers, strings.TrimSuffix(ns.Host, "."))
		}
	case "TXT":
		answers, err = resolver.LookupTXT(resolveCtx, host)
	case "AAAA":
		var ips []net.IP
		ips, err = resolver.LookupIP(resolveCtx, "ip6", host)
		for _, ip := range ips {
			answers = append(answers, ip.String())
		}
	default: // A
		var ips []net.IP
		ips, err = resolver.LookupIP(resolveCtx, "ip4", host)
		for _, ip := range ips {
			answers = append(answers, ip.String())
		}
	}
	rt := int(time.Since(start).Milliseconds())

	if err != nil {
		return Outcome{Status: "down", ResponseTimeMs: rt, ErrorMessage: normalizeDNSError(err)}
	}
	if len(answers) == 0 {
		return Outcome{Status: "down", ResponseTimeMs: rt, ErrorMessage: "No DNS answer"}
	}

	if m.DNSExpected != "" {
		found := false
		for _, a := range answers {
			if a == m.DNSExpected {
				found = true
				break
			}
		}
		if !found {
			return Outcome{Status: "down", ResponseTimeMs: rt, ErrorMessage: "Expected answer not found"}
		}
	}

	return Outcome{Status: "up", ResponseTimeMs: rt}
}

func normalizeDNSError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "Request timed out"
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsNotFound {
			return "NXDOMAIN"
		}
		if dnsErr.IsTimeout {
			return "Request timed out"
		}
		return "SERVFAIL: " + dnsErr.Err
	}
	return err.Error()
}

// verify tls import is exercised: HTTP client intentionally uses the
// default transport's TLS config (no certificate pinning in scope), but
// the package imports crypto/tls to document that default verification
// is never disabled here.
var _ = tls.Config{}
