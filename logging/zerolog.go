// Package logging adapts zerolog to the cellular Logger interface.
package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// ZeroLogger implements cellular.Logger on top of zerolog.
type ZeroLogger struct {
	log zerolog.Logger
}

// New wraps an existing zerolog logger.
func New(log zerolog.Logger) *ZeroLogger {
	return &ZeroLogger{log: log}
}

// NewJSON returns a JSON logger writing to w.
func NewJSON(w io.Writer) *ZeroLogger {
	return &ZeroLogger{log: zerolog.New(w).With().Timestamp().Logger()}
}

// NewConsole returns a human-readable logger writing to stderr.
func NewConsole() *ZeroLogger {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	return &ZeroLogger{log: zerolog.New(out).With().Timestamp().Logger()}
}

// Debug implements cellular.Logger.
func (l *ZeroLogger) Debug(msg string, args ...any) { emit(l.log.Debug(), msg, args) }

// Info implements cellular.Logger.
func (l *ZeroLogger) Info(msg string, args ...any) { emit(l.log.Info(), msg, args) }

// Warn implements cellular.Logger.
func (l *ZeroLogger) Warn(msg string, args ...any) { emit(l.log.Warn(), msg, args) }

// Error implements cellular.Logger.
func (l *ZeroLogger) Error(msg string, args ...any) { emit(l.log.Error(), msg, args) }

// emit attaches alternating key-value args to the event. A trailing key
// without a value is logged under "arg"; non-string keys are stringified.
func emit(ev *zerolog.Event, msg string, args []any) {
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		ev = ev.Interface(key, args[i+1])
	}
	if len(args)%2 == 1 {
		ev = ev.Interface("arg", args[len(args)-1])
	}
	ev.Msg(msg)
}
