/*
Package logx provides a structured logging wrapper based on zerolog.

It initializes the global logger once at startup, switching between a
human-readable console writer in development and plain JSON in production,
and exposes small level helpers for call sites that do not need a child
logger of their own.
*/
package logx

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitGlobalLogger configures the process-wide zerolog instance.
// Development mode uses a colored ConsoleWriter at Debug level; everything
// else logs JSON at Info level. Timestamps are Unix seconds.
func InitGlobalLogger(isDevelopment bool) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	if isDevelopment {
		logger = logger.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
		}).Level(zerolog.DebugLevel)
	} else {
		logger = logger.Level(zerolog.InfoLevel)
	}

	log.Logger = logger.With().Caller().Logger()
}

// Logger returns the global zerolog.Logger. Components derive their own
// child loggers from it via With().
func Logger() *zerolog.Logger {
	return &log.Logger
}

// evenFields guards against an odd key-value list, which would make zerolog
// panic. Offending field lists are dropped, not truncated.
func evenFields(fields []any) []any {
	if len(fields)%2 != 0 {
		Logger().Warn().
			Int("fields_count", len(fields)).
			Msg("logx called with an odd number of fields; fields ignored")
		return nil
	}
	return fields
}

// Info logs at Info level with optional key-value fields.
func Info(msg string, fields ...any) {
	Logger().Info().Fields(evenFields(fields)).CallerSkipFrame(1).Msg(msg)
}

// Warn logs at Warn level with optional key-value fields.
func Warn(msg string, fields ...any) {
	Logger().Warn().Fields(evenFields(fields)).CallerSkipFrame(1).Msg(msg)
}

// Error logs err at Error level with optional key-value fields.
func Error(err error, msg string, fields ...any) {
	Logger().Error().Err(err).Fields(evenFields(fields)).CallerSkipFrame(1).Msg(msg)
}

// Fatal logs err at Fatal level and exits the process.
func Fatal(err error, msg string, fields ...any) {
	Logger().Fatal().Err(err).Fields(evenFields(fields)).CallerSkipFrame(1).Msg(msg)
}
