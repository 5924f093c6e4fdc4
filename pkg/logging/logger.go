// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ServiceName is attached to every log line.
const ServiceName = "copytrade-orders"

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// FromSettings builds a Config from the LOG_LEVEL / LOG_PRETTY settings.
func FromSettings(level string, pretty bool) Config {
	cfg := DefaultConfig()
	if level != "" {
		cfg.Level = LogLevel(level)
	}
	cfg.Pretty = pretty
	return cfg
}

// Setup configures the global zerolog logger. Component loggers created
// with NewLogger after this call inherit its writer and fields.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	logger := zerolog.New(output).With().
		Timestamp().
		Str("service", ServiceName).
		Logger()

	log.Logger = logger

	return logger
}

// parseLevel converts LogLevel to zerolog.Level.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(string(level))) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: per-attempt and per-page detail
//   - Upstream call finished (endpoint, status, outcome, duration)
//   - Page fetched (uid, page, records, index_value)
//   - Host status writes
//
// Info: normal operation events
//   - Batch complete (window, identifier errors)
//   - Upstream call succeeded after retry
//   - Server startup/shutdown
//
// Warn: degraded but continuing
//   - Upstream refused access (403/451), endpoint abandoned
//   - Falling back to the proxy endpoint
//   - Identifier walk failed, partial records kept
//   - Host status write failed
//
// Error: needs attention
//   - Unhandled request fault (500)
//   - Configuration errors at start-up
//
// Context Fields:
//   - component: upstream-caller, upstream-client, pagination, batch, server, completion, hoststatus, main
//   - endpoint: upstream endpoint name (primary, fallback)
//   - uid: lead portfolio identifier
//   - status: upstream HTTP status code
//   - error_class: transport, status, malformed, business, blocked, cancelled
//   - duration: call or batch duration
