// Package logger wraps zerolog.Logger with the constructors used by the
// keeptower engine and CLI.
//
// Logger embeds zerolog.Logger so the full zerolog API (Debug, Info, Warn,
// Error...) is available directly. Components receive a *Logger through
// their options and derive child loggers tagged with a component name.
package logger

import (
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/rs/zerolog"
)

// Logger is a thin wrapper around zerolog.Logger.
type Logger struct {
	zerolog.Logger
}

// NewLogger returns a JSON logger writing to stderr at info level with a
// "role" field, a timestamp and the calling function name.
func NewLogger(role string) *Logger {
	return New(os.Stderr, role, zerolog.InfoLevel)
}

// New builds a logger writing to w at the given level.
func New(w io.Writer, role string, level zerolog.Level) *Logger {
	zerolog.CallerMarshalFunc = func(pc uintptr, file string, line int) string {
		return runtime.FuncForPC(pc).Name()
	}
	zerolog.CallerFieldName = "func"

	logger := zerolog.New(w).Level(level).With().
		Str("role", role).
		Timestamp().
		Caller().
		Logger()

	return &Logger{logger}
}

// Nop returns a *Logger that discards all output.
func Nop() *Logger {
	return &Logger{zerolog.Nop()}
}

// Component returns a child logger carrying a "component" field.
func (l *Logger) Component(name string) *Logger {
	return &Logger{l.With().Str("component", name).Logger()}
}

// ParseLevel maps a configuration string to a level. Unknown values fall
// back to warn.
func ParseLevel(s string) zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || level == zerolog.NoLevel {
		return zerolog.WarnLevel
	}
	return level
}
