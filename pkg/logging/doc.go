// Package logging builds the slog loggers used across polyd.
//
// Create a logger from the configuration:
//
//	logger := logging.New(logging.Config{
//	    Level:  logging.LevelInfo,
//	    Format: logging.FormatJSON,
//	})
//
//	logger.Info("listening", "addr", ":8080")
//
// Components accept a *slog.Logger through an option and fall back to
// logging.Nop() when none is given. Per-component loggers carry a
// "component" attribute, see Component.
//
// Fanout duplicates records to several handlers, which the serve command
// uses to log to stderr and a file at once.
//
// Handlers built here add trace_id and span_id to records logged with a
// context holding an OpenTelemetry span.
package logging
