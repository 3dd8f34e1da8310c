// Package logging builds the zerolog loggers used by the binaries.
package logging

import (
	"io"

	"github.com/rs/zerolog"

	"github.com/aivmlib-go/aivmlib/internal/config"
)

// New returns a logger writing to w. Format "text" selects the console writer;
// anything else produces JSON lines. Unknown levels fall back to info.
func New(cfg config.LoggingConfig, w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	if cfg.Format == "text" {
		w = zerolog.ConsoleWriter{Out: w}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}
