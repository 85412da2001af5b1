// Package logging provides the process-wide zerolog logger and batch progress events.
package logging

import (
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

var (
	logger     *zerolog.Logger
	prettyMode atomic.Bool
)

func init() {
	l := zerolog.New(os.Stderr).With().Timestamp().Logger()
	logger = &l
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// InitWriter configures the global logger writing to w.
// If debug is true, sets log level to Debug.
// If human is true, uses a console writer and adds human-readable companion fields.
func InitWriter(w io.Writer, debug, human bool) {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	prettyMode.Store(human)

	var output zerolog.LevelWriter
	if human {
		output = zerolog.LevelWriterAdapter{Writer: zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.RFC3339,
		}}
	} else {
		output = zerolog.LevelWriterAdapter{Writer: w}
	}

	l := zerolog.New(output).With().Timestamp().Logger()
	logger = &l
}

// L returns the base logger.
func L() *zerolog.Logger {
	return logger
}

// WithPhase returns a logger with the phase field set.
func WithPhase(phase string) zerolog.Logger {
	return logger.With().Str("phase", phase).Logger()
}

// SetLogger overrides the global logger (useful for testing).
func SetLogger(l zerolog.Logger) {
	logger = &l
}

// SetPrettyMode toggles the *_h companion fields on completion events.
func SetPrettyMode(on bool) {
	prettyMode.Store(on)
}

// IsPrettyMode reports whether companion fields are emitted.
func IsPrettyMode() bool {
	return prettyMode.Load()
}
