// Package logging configures the process-wide zerolog logger.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// New builds the application logger and installs it as the global logger.
// format is "json" for machine-readable output; anything else writes to a
// console writer.
func New(app, level, format string) zerolog.Logger {
	var out io.Writer = os.Stdout
	if !strings.EqualFold(format, "json") {
		out = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
	}
	return install(zerolog.New(out), app, level)
}

// NewWriter is New with an explicit destination, used by tests.
func NewWriter(w io.Writer, app, level string) zerolog.Logger {
	return install(zerolog.New(w), app, level)
}

func install(base zerolog.Logger, app, level string) zerolog.Logger {
	logger := base.Level(ParseLevel(level)).With().Timestamp().Str("app", app).Logger()
	log.Logger = logger
	return logger
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || level == "" {
		return zerolog.InfoLevel
	}
	return lvl
}
