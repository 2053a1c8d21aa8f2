// Package config resolves process configuration from the environment,
// optionally loading a .env file first.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// SMTPTLSMode selects how the email notifier secures its SMTP connection.
type SMTPTLSMode string

const (
	SMTPTLSStartTLS SMTPTLSMode = "starttls"
	SMTPTLSDirect   SMTPTLSMode = "tls"
	SMTPTLSNone     SMTPTLSMode = "none"
)

// Config is the fully resolved process configuration.
type Config struct {
	// Addr is the HTTP listen address ("PORT" env var, prefixed with ":").
	Addr string

	DatabasePath string

	// MonitorRateLimit is the per-IP creates/hour ceiling (spec §4.J).
	MonitorRateLimit int

	// ProbeStaleMinutes marks a check location's last_seen_at as stale if
	// it's older than this.
	ProbeStaleMinutes int

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPTLS      SMTPTLSMode

	R2AccountID       string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2Bucket          string
	BackupIntervalMin int

	HeartbeatRetentionDays int

	AdminKey string

	LogLevel string
	LogPretty bool
}

// Load reads a .env file if present (missing is not an error) and then
// resolves Config from the environment, applying spec §6's defaults.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{
		Addr:                   ":" + envOr("PORT", "8080"),
		DatabasePath:           envOr("DATABASE_PATH", "watchpost.sqlite"),
		MonitorRateLimit:       envIntOr("MONITOR_RATE_LIMIT", 10),
		ProbeStaleMinutes:      envIntOr("PROBE_STALE_MINUTES", 30),
		SMTPHost:               os.Getenv("SMTP_HOST"),
		SMTPPort:               envIntOr("SMTP_PORT", 587),
		SMTPUsername:           os.Getenv("SMTP_USERNAME"),
		SMTPPassword:           os.Getenv("SMTP_PASSWORD"),
		SMTPFrom:               os.Getenv("SMTP_FROM"),
		SMTPTLS:                SMTPTLSMode(envOr("SMTP_TLS", string(SMTPTLSStartTLS))),
		R2AccountID:            os.Getenv("R2_ACCOUNT_ID"),
		R2AccessKeyID:          os.Getenv("R2_ACCESS_KEY_ID"),
		R2SecretAccessKey:      os.Getenv("R2_SECRET_ACCESS_KEY"),
		R2Bucket:               os.Getenv("R2_BUCKET"),
		BackupIntervalMin:      envIntOr("BACKUP_INTERVAL_MINUTES", 60),
		HeartbeatRetentionDays: envIntOr("HEARTBEAT_RETENTION_DAYS", 90),
		AdminKey:               os.Getenv("ADMIN_KEY"),
		LogLevel:               envOr("LOG_LEVEL", "info"),
		LogPretty:              envBoolOr("LOG_PRETTY", false),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.MonitorRateLimit < 1 {
		return fmt.Errorf("MONITOR_RATE_LIMIT must be >= 1, got %d", c.MonitorRateLimit)
	}
	switch c.SMTPTLS {
	case SMTPTLSStartTLS, SMTPTLSDirect, SMTPTLSNone:
	default:
		return fmt.Errorf("SMTP_TLS must be one of starttls, tls, none; got %q", c.SMTPTLS)
	}
	return nil
}

// R2Configured reports whether enough R2 credentials are present to run
// the backup subsystem; absence is a valid no-op configuration.
func (c *Config) R2Configured() bool {
	return c.R2AccountID != "" && c.R2AccessKeyID != "" && c.R2SecretAccessKey != "" && c.R2Bucket != ""
}

// SMTPConfigured reports whether enough SMTP settings are present to
// send email notifications.
func (c *Config) SMTPConfigured() bool {
	return c.SMTPHost != "" && c.SMTPFrom != ""
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOr(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
