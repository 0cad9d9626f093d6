// Package logging builds the zerolog loggers shared by all components.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// TimeFormat is the console timestamp layout.
const TimeFormat = "2006-01-02 15:04:05"

// ParseLevel accepts debug, info, warn, warning and error.
func ParseLevel(s string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zerolog.DebugLevel, nil
	case "", "info":
		return zerolog.InfoLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.NoLevel, fmt.Errorf("unknown log level %q", s)
	}
}

// New returns a console logger writing to w at the given level.
// Colors are enabled only when w is stderr or stdout.
func New(w io.Writer, level zerolog.Level) zerolog.Logger {
	noColor := w != os.Stderr && w != os.Stdout
	out := zerolog.ConsoleWriter{Out: w, TimeFormat: TimeFormat, NoColor: noColor}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// Component derives a sub-logger tagged with the component name.
func Component(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}
