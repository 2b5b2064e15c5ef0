// Package logging configures the process-wide zerolog logger.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init sets the global level and replaces log.Logger with a JSON logger on
// stderr tagged with service. Unknown levels fall back to info.
func Init(level, service string) zerolog.Logger {
	return InitWriter(os.Stderr, level, service)
}

// InitConsole is Init with human-readable output, for interactive CLI use.
func InitConsole(level, service string) zerolog.Logger {
	return InitWriter(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}, level, service)
}

// InitWriter is Init writing to w.
func InitWriter(w io.Writer, level, service string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.DurationFieldUnit = time.Millisecond
	zerolog.DurationFieldInteger = true

	log.Logger = zerolog.New(w).With().
		Timestamp().
		Str("service", service).
		Logger()
	return log.Logger
}
