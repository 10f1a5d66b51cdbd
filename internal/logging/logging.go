// Package logging configures the bridge's zerolog root logger.
package logging

import (
	"os"

	"github.com/rs/zerolog"
)

// New builds the root logger. level is any zerolog.ParseLevel-accepted
// string ("debug", "info", "warn", "error"); an unrecognized value falls
// back to info. pretty selects a human-readable console writer instead of
// newline-delimited JSON, for local/foreground use.
func New(level string, pretty bool) zerolog.Logger {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		parsed = zerolog.InfoLevel
	}

	var writer = os.Stderr
	logger := zerolog.New(writer).Level(parsed).With().Timestamp().Logger()
	if pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: writer, TimeFormat: "15:04:05"}).Level(parsed).With().Timestamp().Logger()
	}
	return logger
}
