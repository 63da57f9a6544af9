// Package telemetry provides logging and metrics for hostctl.
package telemetry

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SetupLogging configures the global zerolog logger from the repeatable
// --debug flag. Verbosity 0 surfaces only warnings and errors; 1 adds
// per-step progress lines; 2 adds command invocations; 3 adds captured
// subprocess output.
func SetupLogging(verbosity int) {
	writer := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}

	level := zerolog.WarnLevel
	switch {
	case verbosity >= 3:
		level = zerolog.TraceLevel
	case verbosity == 2:
		level = zerolog.DebugLevel
	case verbosity == 1:
		level = zerolog.InfoLevel
	}

	log.Logger = zerolog.New(writer).With().Timestamp().Logger().Level(level)
}

// NewComponentLogger returns a child of the global logger tagged with a
// component name.
func NewComponentLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}
