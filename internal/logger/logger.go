package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Setup initializes the global zerolog logger based on environment configuration.
//   - level: log level string (trace, debug, info, warn, error, fatal, panic)
//   - format: "json" for production, "pretty" for human-readable dev output
//   - service: stamped on every line so shipped logs can be told apart
//
// Returns the configured logger instance.
func Setup(level, format, service string) zerolog.Logger {
	var writer io.Writer = os.Stdout
	if format == "pretty" {
		writer = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
	}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.DurationFieldUnit = time.Millisecond

	ctx := zerolog.New(writer).With().Timestamp()
	if service != "" {
		ctx = ctx.Str("service", service)
	}
	// Caller info is noise at debug volume in production JSON.
	if format == "pretty" || lvl > zerolog.DebugLevel {
		ctx = ctx.Caller()
	}
	return ctx.Logger()
}
