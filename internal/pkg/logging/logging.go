// Package logging provides the process-wide structured logger, built on
// zerolog, with PII redaction applied to any field that looks like it
// carries an email address.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide structured logger. It starts as an
// info-level logger on stderr; Init replaces it.
var Logger zerolog.Logger

func init() {
	Logger = New(os.Stderr, zerolog.InfoLevel)
}

// New builds a zerolog.Logger writing to w at the given minimum level,
// with the redaction hook installed.
func New(w io.Writer, level zerolog.Level) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	return zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Logger().
		Hook(redactHook{})
}

// Init replaces the process-wide Logger, e.g. to lower verbosity or
// switch to a pretty console writer in local development.
func Init(w io.Writer, level zerolog.Level) {
	Logger = New(w, level)
}

// Component returns a child logger tagged with a "component" field, the
// idiom every package in this module uses to scope its own log lines.
func Component(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}
