package probe

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aristath/watchpost/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleHTTPMonitor(url string) *store.Monitor {
	return &store.Monitor{
		ID:             "m1",
		MonitorType:    "http",
		Method:         http.MethodGet,
		URL:            url,
		Headers:        "{}",
		ExpectedStatus: http.StatusOK,
		TimeoutMs:      2000,
	}
}

func TestRunHTTPUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	out := Run(context.Background(), sampleHTTPMonitor(srv.URL))
	assert.Equal(t, "up", out.Status)
	require.NotNil(t, out.StatusCode)
	assert.Equal(t, http.StatusOK, *out.StatusCode)
	assert.Empty(t, out.ErrorMessage)
}

func TestRunHTTPStatusMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	out := Run(context.Background(), sampleHTTPMonitor(srv.URL))
	assert.Equal(t, "down", out.Status)
	assert.Equal(t, "Expected 200, got 500", out.ErrorMessage)
}

func TestRunHTTPBodyContainsMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("status: healthy"))
	}))
	defer srv.Close()

	m := sampleHTTPMonitor(srv.URL)
	m.BodyContains = "healthy"
	out := Run(context.Background(), m)
	assert.Equal(t, "up", out.Status)
}

func TestRunHTTPBodyContainsMiss(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("status: degraded"))
	}))
	defer srv.Close()

	m := sampleHTTPMonitor(srv.URL)
	m.BodyContains = "healthy"
	out := Run(context.Background(), m)
	assert.Equal(t, "down", out.Status)
	assert.Equal(t, "Body match failed", out.ErrorMessage)
}

func TestRunHTTPDegradedOverThreshold(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(30 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := sampleHTTPMonitor(srv.URL)
	threshold := 10
	m.ResponseTimeThreshold = &threshold
	out := Run(context.Background(), m)
	assert.Equal(t, "degraded", out.Status)
}

func TestRunHTTPConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	m := sampleHTTPMonitor("http://" + addr)
	out := Run(context.Background(), m)
	assert.Equal(t, "down", out.Status)
	assert.Equal(t, "Connection refused", out.ErrorMessage)
}

func TestRunHTTPTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := sampleHTTPMonitor(srv.URL)
	m.TimeoutMs = 10
	out := Run(context.Background(), m)
	assert.Equal(t, "down", out.Status)
	assert.Equal(t, "Request timed out", out.ErrorMessage)
}

func TestRunHTTPFollowRedirects(t *testing.T) {
	var target string
	mux := http.NewServeMux()
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target, http.StatusFound)
	})
	mux.HandleFunc("/end", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	target = srv.URL + "/end"

	m := sampleHTTPMonitor(srv.URL + "/start")
	m.FollowRedirects = true
	out := Run(context.Background(), m)
	assert.Equal(t, "up", out.Status)

	m.FollowRedirects = false
	out = Run(context.Background(), m)
	assert.Equal(t, "down", out.Status)
	assert.Equal(t, "Expected 200, got 302", out.ErrorMessage)
}

func TestRunTCPUp(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	m := &store.Monitor{MonitorType: "tcp", URL: ln.Addr().String(), TimeoutMs: 1000}
	out := Run(context.Background(), m)
	assert.Equal(t, "up", out.Status)
}

func TestRunTCPPrefixStripped(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	m := &store.Monitor{MonitorType: "tcp", URL: "tcp://" + ln.Addr().String(), TimeoutMs: 1000}
	out := Run(context.Background(), m)
	assert.Equal(t, "up", out.Status)
}

func TestRunTCPRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	m := &store.Monitor{MonitorType: "tcp", URL: addr, TimeoutMs: 500}
	out := Run(context.Background(), m)
	assert.Equal(t, "down", out.Status)
}

func TestRunTCPInvalidPort(t *testing.T) {
	m := &store.Monitor{MonitorType: "tcp", URL: "example.com:999999", TimeoutMs: 500}
	out := Run(context.Background(), m)
	assert.Equal(t, "down", out.Status)
	assert.Equal(t, "invalid port", out.ErrorMessage)
}

func TestRunDNSResolvesLocalhost(t *testing.T) {
	m := &store.Monitor{MonitorType: "dns", URL: "localhost", DNSRecordType: "A", TimeoutMs: 2000}
	out := Run(context.Background(), m)
	assert.Equal(t, "up", out.Status)
}

func TestRunDNSExpectedMismatch(t *testing.T) {
	m := &store.Monitor{MonitorType: "dns", URL: "localhost", DNSRecordType: "A", DNSExpected: "203.0.113.99", TimeoutMs: 2000}
	out := Run(context.Background(), m)
	assert.Equal(t, "down", out.Status)
	assert.Equal(t, "Expected answer not found", out.ErrorMessage)
}

func TestRunUnknownMonitorType(t *testing.T) {
	m := &store.Monitor{MonitorType: "carrier-pigeon"}
	out := Run(context.Background(), m)
	assert.Equal(t, "down", out.Status)
}

func TestParseHeaders(t *testing.T) {
	headers := parseHeaders(`{"X-Api-Key":"abc123","Accept":"application/json"}`)
	assert.Len(t, headers, 2)
	assert.Contains(t, headers, [2]string{"X-Api-Key", "abc123"})
	assert.Contains(t, headers, [2]string{"Accept", "application/json"})
}

func TestParseHeadersEmpty(t *testing.T) {
	assert.Nil(t, parseHeaders(""))
	assert.Nil(t, parseHeaders("{}"))
}
