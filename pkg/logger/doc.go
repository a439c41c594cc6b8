// Package logger builds the structured loggers used across the work queue.
//
// New returns a *slog.Logger configured through Option functions: output format
// (text or JSON), minimum level, static attributes and ContextExtractor callbacks
// that copy values out of a context.Context on every record. Environment presets
// (WithEnvironment, WithDevelopment, WithProduction) pick sensible defaults for
// each deployment stage.
//
// The attribute helpers in attr.go keep key names consistent between the queue,
// its stores and the worker command:
//
//	log.InfoContext(ctx, "work finished",
//	    logger.WorkID(w.ID),
//	    logger.WorkType(w.Type),
//	    logger.Duration(d),
//	)
//
// Error and Errors return an empty attribute for nil errors, so callers can log
// an optional error without a nil check.
package logger
