// Package logger constructs the process-wide zerolog logger.
package logger

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config selects the logger's verbosity and output format.
type Config struct {
	// Level is one of zerolog's level names: trace, debug, info, warn,
	// error, fatal, panic. Unrecognized values fall back to info.
	Level string
	// Pretty enables zerolog's human-readable console writer; when false,
	// output is newline-delimited JSON suitable for log aggregation.
	Pretty bool
}

// New builds a base logger at cfg.Level/cfg.Pretty. Callers derive
// component loggers from it with log.With().Str("component", name).Logger().
func New(cfg Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}

	var writer = os.Stdout
	logger := zerolog.New(writer).With().Timestamp().Logger().Level(level)

	if cfg.Pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: writer, TimeFormat: time.RFC3339}).
			With().Timestamp().Logger().Level(level)
	}

	return logger
}
