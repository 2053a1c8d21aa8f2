// Package auth implements the token service: opaque bearer credentials
// for monitor/status-page manage keys, the process-wide admin key, and
// per-location probe keys. Every credential is generated once, returned
// to the caller, and never stored — only its SHA-256 hash is persisted.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrMissingToken is returned when no credential was found in any of the
// three supported transports.
var ErrMissingToken = errors.New("missing token")

// tokenPrefix marks every minted token so misdirected copy/paste of a
// non-token string is obvious at a glance, matching
// original_source/src/auth.rs's generate_key.
const tokenPrefix = "wp_"

// Generate mints a new opaque token: 16 random bytes, hex-encoded,
// prefixed "wp_". The caller must show this value to the operator
// immediately — it is never recoverable once the hash is stored.
func Generate() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return tokenPrefix + hex.EncodeToString(buf), nil
}

// Hash returns the hex-encoded SHA-256 digest of a token, the form
// persisted at rest.
func Hash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Verify reports whether token hashes to the stored hash, using a
// constant-time comparison so a failed match never leaks timing
// information about how many hash bytes matched.
func Verify(token, storedHash string) bool {
	if token == "" || storedHash == "" {
		return false
	}
	got := Hash(token)
	return subtle.ConstantTimeCompare([]byte(got), []byte(storedHash)) == 1
}

// Extract pulls a credential from an inbound request, trying each
// transport in the order spec §4.B fixes: Authorization: Bearer header,
// then X-API-Key header, then ?key= query parameter. Returns
// ErrMissingToken if none is present.
func Extract(r *http.Request) (string, error) {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if tok, ok := strings.CutPrefix(auth, "Bearer "); ok && tok != "" {
			return tok, nil
		}
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key, nil
	}
	if key := r.URL.Query().Get("key"); key != "" {
		return key, nil
	}
	return "", ErrMissingToken
}

// ExtractOptional is Extract without the error: it returns ("", false)
// instead of failing, for routes that behave differently for
// authenticated vs. anonymous callers (e.g. a public monitor's detail
// view revealing more fields to its manage-key holder).
func ExtractOptional(r *http.Request) (string, bool) {
	tok, err := Extract(r)
	if err != nil {
		return "", false
	}
	return tok, true
}

// ClientIP extracts the caller's address for rate limiting, preferring
// X-Forwarded-For / X-Real-Ip over the socket address so the limiter
// works correctly behind a reverse proxy — ported from
// original_source/src/auth.rs's ClientIp extractor.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if first, _, ok := strings.Cut(xff, ","); ok {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(xff)
	}
	if real := r.Header.Get("X-Real-Ip"); real != "" {
		return real
	}
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx != -1 && !strings.Contains(host[idx+1:], "]") {
		return host[:idx]
	}
	return host
}
