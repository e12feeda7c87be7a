package obslog

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Options controls logger construction.
type Options struct {
	// Writer receives log output; defaults to os.Stderr.
	Writer io.Writer
	// Level sets the minimum level logged; zerolog.NoLevel selects
	// zerolog.InfoLevel. The zero value is zerolog.DebugLevel.
	Level zerolog.Level
	// Pretty selects a human-readable console writer instead of JSON,
	// intended for interactive (non-daemonized) runs.
	Pretty bool
}

// New builds a zerolog.Logger per opts, stamping every record with the
// component's name under the "component" field.
func New(component string, opts Options) zerolog.Logger {
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	if opts.Pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05.000"}
	}

	level := opts.Level
	if level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	return zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}
