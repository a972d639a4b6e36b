// Package logging centralizes zerolog.Logger construction so every
// checkpoint-core daemon logs in the same shape (component name, level,
// structured fields) instead of ad-hoc fmt.Printf calls.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// New returns a logger tagged with component, writing JSON to w. Pass nil
// for w to log to os.Stderr.
func New(component string, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	return zerolog.New(w).With().Timestamp().Str("component", component).Logger()
}

// NewConsole returns a human-readable console logger, useful in tests and
// for local development the way the teacher's fmt.Println output was.
func NewConsole(component string) zerolog.Logger {
	cw := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	return zerolog.New(cw).With().Timestamp().Str("component", component).Logger()
}

// Nop returns a logger that discards everything, for tests that don't want
// output noise.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
