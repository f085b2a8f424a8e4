// Package logger is a small facade over zerolog. Key/value pairs are passed as
// alternating arguments.
package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu  sync.RWMutex
	log = zerolog.New(os.Stderr).With().Timestamp().Logger().Level(zerolog.InfoLevel)
)

// Init configures the global logger. "production" logs JSON, anything else a
// human-readable console format.
func Init(environment string, debug bool) {
	var w io.Writer = os.Stderr
	if environment != "production" {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}
	}
	SetOutput(w, debug)
}

// SetOutput replaces the sink. Used by Init and by tests.
func SetOutput(w io.Writer, debug bool) {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	mu.Lock()
	log = zerolog.New(w).With().Timestamp().Logger().Level(level)
	mu.Unlock()
}

func get() *zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	l := log
	return &l
}

func Debug(msg string, kv ...any) {
	fields(get().Debug(), kv).Msg(msg)
}

func Info(msg string, kv ...any) {
	fields(get().Info(), kv).Msg(msg)
}

func Warn(msg string, kv ...any) {
	fields(get().Warn(), kv).Msg(msg)
}

func Error(msg string, err error, kv ...any) {
	fields(get().Error().Err(err), kv).Msg(msg)
}

// Fatal logs and exits with status 1.
func Fatal(msg string, err error, kv ...any) {
	fields(get().Error().Err(err), kv).Msg(msg)
	os.Exit(1)
}

func fields(e *zerolog.Event, kv []any) *zerolog.Event {
	for i := 0; i < len(kv); i += 2 {
		key := fmt.Sprint(kv[i])
		if i+1 == len(kv) {
			e = e.Str(key, "MISSING")
			break
		}
		e = e.Interface(key, kv[i+1])
	}
	return e
}
