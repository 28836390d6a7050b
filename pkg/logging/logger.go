// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs transitions, suppressed triggers and request flow.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs exhaustion, reloads and startup.
	LevelInfo LogLevel = "info"

	// LevelWarn logs failed fetches and rate limit throttling.
	LevelWarn LogLevel = "warn"

	// LevelError logs rate limit blocks and fatal setup errors.
	LevelError LogLevel = "error"

	// LevelDisabled silences all output.
	LevelDisabled LogLevel = "disabled"
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

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	var output io.Writer = out
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: out}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()
	log.Logger = logger

	return logger
}

// ParseLevel validates a user-supplied level name.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	case "disabled", "off", "none":
		return LevelDisabled, nil
	default:
		return "", fmt.Errorf("unknown log level %q", s)
	}
}

// parseLevel converts LogLevel to zerolog.Level, defaulting to info.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled":
		return zerolog.Disabled
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
// Debug: Detailed information for debugging
//   - Fetch issued (page, size, generation)
//   - Triggers suppressed by the loading/exhausted guard
//   - Stale results discarded after reload or close
//   - Sentinel attach/detach
//
// Info: Normal operation events
//   - List exhausted
//   - Page size changes
//   - CLI startup/shutdown
//
// Warn: Conditions that end one fetch but not the controller
//   - Failed page fetches (transport, status, malformed body)
//   - Rate limit throttling
//
// Error: Conditions requiring attention
//   - Requests blocked by an exhausted upstream budget
//   - Configuration errors
//
// Context Fields:
//   - component: page-loader, scroll-controller, rate-limit, scrollfeed
//   - controller_id: per-controller uuid
//   - host / endpoint: upstream host and list path
//   - page / size: page request
//   - records: accumulated record count
//   - error_class: client, server, rate_limit, network, decode
