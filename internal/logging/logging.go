// Package logging configures the process-wide zerolog logger.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process logger. Components default to it when no logger is
// injected.
var Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

// Init sets up Logger with structured JSON output on w (stderr when nil).
// Level is parsed from the given string ("debug", "info", "warn", "error").
// With console set, output is the human-readable console format instead.
func Init(w io.Writer, level, service string, console bool) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.DurationFieldUnit = time.Millisecond
	zerolog.DurationFieldInteger = true

	if console {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}

	Logger = zerolog.New(w).With().
		Timestamp().
		Str("service", service).
		Logger()
	return Logger
}
