// Soilsense - Geolocated Sensor Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/soilsense

// Package logging provides the zerolog-based global logger used across Soilsense.
//
// The datahub feed, the REST API and the supervisor tree all log through the
// same facade so a single LOG_LEVEL / LOG_FORMAT pair controls the process.
//
//	logging.Init(logging.Config{Level: "info", Format: "json"})
//	logging.Info().Str("url", wsURL).Msg("Connecting to datahub feed")
//	logging.Ctx(ctx).Warn().Err(err).Msg("Request failed")
//
// Always terminate an event with Msg or Send; an unterminated event is never written.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config holds logging configuration.
type Config struct {
	// Level is the minimum log level: trace, debug, info, warn, error, fatal, panic.
	Level string

	// Format is the output format: json or console.
	Format string

	// Caller includes caller file and line number in logs.
	Caller bool

	// Output is the writer for log output. Defaults to os.Stderr.
	Output io.Writer
}

// DefaultConfig returns the default logging configuration.
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: "json",
		Output: os.Stderr,
	}
}

var (
	log zerolog.Logger
	mu  sync.RWMutex
)

//nolint:gochecknoinits // logging must work before main calls Init
func init() {
	initLogger(DefaultConfig())
}

// Init configures the global logger. It is safe to call more than once.
func Init(cfg Config) {
	mu.Lock()
	defer mu.Unlock()
	initLogger(cfg)
}

// initLogger must be called with mu held.
func initLogger(cfg Config) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.TimestampFieldName = "time"
	zerolog.LevelFieldName = "level"
	zerolog.MessageFieldName = "message"
	zerolog.ErrorFieldName = "error"
	zerolog.CallerFieldName = "caller"

	output := cfg.Output
	if strings.EqualFold(cfg.Format, "console") {
		output = zerolog.ConsoleWriter{
			Out:        cfg.Output,
			TimeFormat: "15:04:05",
		}
	}

	logCtx := zerolog.New(output).With().Timestamp()
	if cfg.Caller {
		logCtx = logCtx.Caller()
	}

	log = logCtx.Logger().Level(parseLevel(cfg.Level))
	zerolog.SetGlobalLevel(zerolog.TraceLevel)
}

// parseLevel maps a level name to a zerolog level, falling back to info.
func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// Logger returns a copy of the global logger.
func Logger() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

// SetLogger replaces the global logger. Tests use it to capture output.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func SetLogger(l zerolog.Logger) {
	mu.Lock()
	defer mu.Unlock()
	log = l
}

// With starts a child logger context from the global logger.
func With() zerolog.Context {
	l := Logger()
	return l.With()
}

// Trace starts a trace-level event.
func Trace() *zerolog.Event {
	l := Logger()
	return l.Trace()
}

// Debug starts a debug-level event.
func Debug() *zerolog.Event {
	l := Logger()
	return l.Debug()
}

// Info starts an info-level event.
func Info() *zerolog.Event {
	l := Logger()
	return l.Info()
}

// Warn starts a warn-level event.
func Warn() *zerolog.Event {
	l := Logger()
	return l.Warn()
}

// Error starts an error-level event.
func Error() *zerolog.Event {
	l := Logger()
	return l.Error()
}

// Fatal starts a fatal-level event; os.Exit(1) follows once the message is written.
func Fatal() *zerolog.Event {
	l := Logger()
	return l.Fatal()
}

// Err starts an error-level event with err attached, or info-level when err is nil.
func Err(err error) *zerolog.Event {
	l := Logger()
	return l.Err(err)
}

// GetLevel returns the level of the global logger.
func GetLevel() zerolog.Level {
	l := Logger()
	return l.GetLevel()
}

// SetLevelString changes the global logger level at runtime.
func SetLevelString(level string) {
	mu.Lock()
	defer mu.Unlock()
	log = log.Level(parseLevel(level))
}

// NewTestLogger returns a JSON logger writing to w at debug level.
func NewTestLogger(w io.Writer) zerolog.Logger {
	return zerolog.New(w).With().Timestamp().Logger().Level(zerolog.DebugLevel)
}
