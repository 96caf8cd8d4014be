// Package telemetry wires up structured logging for the simulator.
//
// Logger construction is the only process-wide side effect this
// module performs (spec.md §9: "Global mutable state... Logger
// initialisation is the only process-wide side effect and should be
// an explicit parameter"). There is no package-level logger; every
// caller constructs one with New and threads it explicitly through
// internal/runner and cmd/simrunner.
//
// Grounded on the teacher's config-struct-with-defaults idiom, wired
// to github.com/rs/zerolog -- the corpus's structured logging library.
package telemetry

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Config controls logger construction.
type Config struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string
	// Pretty enables zerolog's human-readable console writer instead
	// of newline-delimited JSON; useful for interactive `simrunner run`
	// invocations, off by default for batch/CI use.
	Pretty bool
	// Output defaults to os.Stderr when nil.
	Output io.Writer
}

// New constructs a zerolog.Logger per cfg. It never touches a package
// global; the caller owns the returned value.
func New(cfg Config) zerolog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}
