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

// New builds a logger writing to w. DEV gets a human readable console writer, everything else JSON.
func New(w io.Writer, env, level string) zerolog.Logger {
	if w == nil {
		w = os.Stdout
	}
	if strings.EqualFold(env, "DEV") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// Setup replaces the global logger used through github.com/rs/zerolog/log
func Setup(w io.Writer, env, level string) zerolog.Logger {
	logger := New(w, env, level)
	log.Logger = logger
	zerolog.DefaultContextLogger = &log.Logger
	return logger
}
