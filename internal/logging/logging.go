// Package logging installs zerolog as the backend of log/slog for the
// streamer binaries. Library packages only ever see *slog.Logger.
package logging

import (
	"io"
	"log/slog"
	"time"

	"github.com/phsym/zeroslog"
	"github.com/rs/zerolog"
)

// New builds a slog logger that writes through zerolog. The console format
// renders human readable lines, any other format writes JSON.
func New(w io.Writer, format string, level slog.Level) *slog.Logger {
	if format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Stamp}
	}
	zl := zerolog.New(w).With().Timestamp().Logger()
	return slog.New(zeroslog.NewHandler(zl, &zeroslog.HandlerOptions{Level: level}))
}

// Install builds a logger with New and makes it the slog default.
func Install(w io.Writer, format string, level slog.Level) *slog.Logger {
	logger := New(w, format, level)
	slog.SetDefault(logger)
	return logger
}
