package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ComponentLogger provides structured logging for the ETL service
type ComponentLogger struct {
	logger zerolog.Logger
}

// NewComponentLogger creates a component-specific logger with consistent context
func NewComponentLogger(componentName, version string) *ComponentLogger {
	// Configure zerolog globally
	zerolog.TimeFieldFormat = time.RFC3339

	// Set log level from environment
	SetLevel(os.Getenv("LOG_LEVEL"))

	// Console output for development
	if os.Getenv("ENVIRONMENT") != "production" {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
			NoColor:    false,
		})
	}

	// Create component-specific logger
	logger := log.With().
		Str("component", componentName).
		Str("version", version).
		Logger()

	return &ComponentLogger{
		logger: logger,
	}
}

// SetLevel adjusts the global log level ("debug", "info", "warn", "error")
func SetLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

func (cl *ComponentLogger) Info() *zerolog.Event {
	return cl.logger.Info()
}

func (cl *ComponentLogger) Error() *zerolog.Event {
	return cl.logger.Error()
}

func (cl *ComponentLogger) Warn() *zerolog.Event {
	return cl.logger.Warn()
}

func (cl *ComponentLogger) Debug() *zerolog.Event {
	return cl.logger.Debug()
}

func (cl *ComponentLogger) Fatal() *zerolog.Event {
	return cl.logger.Fatal()
}

// WithProcess returns a logger scoped to a single ETL process name
func (cl *ComponentLogger) WithProcess(process string) *ComponentLogger {
	return &ComponentLogger{
		logger: cl.logger.With().Str("process", process).Logger(),
	}
}

// LogRunStart logs the beginning of an extraction run
func (cl *ComponentLogger) LogRunStart(process string, runID string, startOffset int, windowStart time.Time) {
	evt := cl.Info().
		Str("process", process).
		Str("run_id", runID).
		Int("start_offset", startOffset)
	if !windowStart.IsZero() {
		evt = evt.Time("window_start", windowStart)
	}
	evt.Msg("Starting ETL run")
}

// LogPageFetched logs a completed page fetch
func (cl *ComponentLogger) LogPageFetched(process string, offset, count int, duration time.Duration) {
	cl.Debug().
		Str("process", process).
		Int("offset", offset).
		Int("records", count).
		Dur("fetch_time", duration).
		Msg("Fetched source page")
}
