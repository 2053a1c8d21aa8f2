// Package timeutil converts between the store's UTC timestamp representation
// and the ISO-8601 wire format clients see.
package timeutil

import (
	"fmt"
	"time"
)

// storeLayout matches SQLite's datetime('now') output: "YYYY-MM-DD HH:MM:SS".
const storeLayout = "2006-01-02 15:04:05"

// wireLayout is the ISO-8601 UTC form used on the wire: "YYYY-MM-DDTHH:MM:SSZ".
const wireLayout = "2006-01-02T15:04:05Z"

// Now returns the current instant, truncated to whole seconds, matching the
// store's own time resolution.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

// ToStore formats t the way the store persists timestamps.
func ToStore(t time.Time) string {
	return t.UTC().Format(storeLayout)
}

// FromStore parses a timestamp read back from the store.
func FromStore(s string) (time.Time, error) {
	t, err := time.Parse(storeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid store timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

// ToWire formats t as ISO-8601 UTC for API responses.
func ToWire(t time.Time) string {
	return t.UTC().Format(wireLayout)
}

// StoreToWire converts a store-formatted timestamp directly to wire format.
// Empty input passes through as empty (used for nullable timestamp columns).
func StoreToWire(s string) string {
	if s == "" {
		return ""
	}
	t, err := FromStore(s)
	if err != nil {
		return s
	}
	return ToWire(t)
}

// ParseWire accepts the two ISO-8601 shapes the original service tolerated:
// with and without a trailing "Z".
func ParseWire(s string) (time.Time, error) {
	if t, err := time.Parse(wireLayout, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02T15:04:05", s); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("invalid ISO-8601 timestamp %q", s)
}
