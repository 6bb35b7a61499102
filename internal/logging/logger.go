// Package logging builds the loggers of the binaries.
package logging

import (
	"io"
	"runtime/debug"

	"github.com/rs/zerolog"
)

// New creates a new logger with the given app name.  Debug loggers write
// human-readable lines and include debug messages.  All other loggers write
// JSON and start at the info level.
func New(appName string, w io.Writer, debugMode bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if debugMode {
		w = zerolog.ConsoleWriter{Out: w, NoColor: true}
		level = zerolog.DebugLevel
	}

	logger := zerolog.New(w).Level(level).With().Timestamp().Str("app", appName).Logger()
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" && len(s.Value) == 40 {
				logger = logger.With().Str("commit", s.Value[:7]).Logger()
				break
			}
		}
	}
	return logger
}
