// Package flogging wires github.com/joeycumines/logiface to
// github.com/rs/zerolog (via github.com/joeycumines/izerolog), and is the
// one place every other package in this module constructs a logger from.
// No package-level global logger is kept here (contrast with eventloop's
// logging.go, which does use one — see DESIGN.md for why that choice was
// not carried forward): a *Logger is passed in explicitly where a package
// logs at all (reactor.WithLogger, handle.WithLogger, plugin.Load's log
// argument); the other packages take no logger and do not log.
package flogging

import (
	"io"
	"os"

	"github.com/joeycumines/izerolog"
	"github.com/joeycumines/logiface"
	"github.com/rs/zerolog"
)

// Logger is the façade every package in this module logs through.
type Logger = logiface.Logger[*izerolog.Event]

// New builds a Logger writing newline-delimited JSON to w at the given
// minimum level. Pass os.Stderr for w to match the teacher's default
// (eventloop's NewDefaultLogger writes to stderr).
func New(w io.Writer, level logiface.Level) *Logger {
	zl := zerolog.New(w).With().Timestamp().Logger()
	return logiface.New[*izerolog.Event](
		izerolog.WithZerolog(zl),
		logiface.WithLevel[*izerolog.Event](level),
	)
}

// Discard builds a Logger that drops everything, for tests and for callers
// that pass no *Logger to a constructor.
func Discard() *Logger {
	return New(io.Discard, logiface.LevelDisabled)
}

// Default returns a Logger at LevelInformational writing to stderr, the
// module's out-of-the-box choice when a caller wants logging but doesn't
// want to configure it.
func Default() *Logger {
	return New(os.Stderr, logiface.LevelInformational)
}

// OrDiscard returns l if non-nil, else a discarding Logger. Every
// constructor in this module that accepts an optional *Logger calls this
// so internal code never needs a nil check.
func OrDiscard(l *Logger) *Logger {
	if l != nil {
		return l
	}
	return Discard()
}
