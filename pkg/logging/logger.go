// Package logging configures the global zerolog logger for crawl runs.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum level: debug, info, warn or error.
	Level string

	// Pretty enables human-readable console output instead of JSON lines.
	Pretty bool

	// Output defaults to os.Stderr.
	Output io.Writer
}

// DefaultConfig returns JSON logging at info level to stderr.
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Output: os.Stderr,
	}
}

// Setup installs the global logger and returns it. Unknown levels fall back
// to info; use ParseLevel to reject them up front.
func Setup(cfg Config) zerolog.Logger {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.TimeOnly}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()
	log.Logger = logger
	return logger
}

// ParseLevel converts a level name to a zerolog level. The empty string
// means info.
func ParseLevel(level string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel, nil
	case "info", "":
		return zerolog.InfoLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
}

// NewLogger creates a child of the global logger tagged with component.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// ForTarget creates a child of the global logger for one crawl target.
func ForTarget(component, target string) zerolog.Logger {
	return log.With().Str("component", component).Str("target", target).Logger()
}

// Level guidelines:
//
// Debug: per-request flow
//   - page fetched, detail route fallthrough, cache hit/revalidation
//
// Info: phase boundaries and progress
//   - walk/enrich started and finished, resume from checkpoint
//   - progress every N pages or completions
//
// Warn: recoverable trouble
//   - retry scheduled, page or detail job failed after retries
//   - checkpoint save failed
//
// Error: the run aborts
//   - expired session, invalid configuration, sink failure
//
// Context fields:
//   - target, listing: crawl target and listing name
//   - page, key, url: unit of work
//   - status, error_class, attempt, backoff: retry decisions
//   - zero_streak, records: walker progress
//   - attempted, succeeded, skipped, failed: phase counters
