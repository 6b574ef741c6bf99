package soma

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with soma-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithURI adds an array URI field to the logger.
func (l *Logger) WithURI(uri string) *Logger {
	return &Logger{
		Logger: l.Logger.With("uri", uri),
	}
}

// WithQueryName adds a query name field to the logger (useful for tagging
// the queries of one caller).
func (l *Logger) WithQueryName(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("query_name", name),
	}
}

// LogOpen logs an array open operation.
func (l *Logger) LogOpen(ctx context.Context, uri string, mode Mode, start, end uint64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "open failed",
			"uri", uri,
			"mode", mode.String(),
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "open completed",
			"uri", uri,
			"mode", mode.String(),
			"timestamp_start", start,
			"timestamp_end", end,
		)
	}
}

// LogQuery logs one query round: a write submit or a read batch.
func (l *Logger) LogQuery(ctx context.Context, op string, rows int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "query failed",
			"op", op,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "query completed",
			"op", op,
			"rows", rows,
		)
	}
}

// LogNNZ logs a non-zero count operation.
func (l *Logger) LogNNZ(ctx context.Context, nnz uint64, fastPath bool, err error) {
	if err != nil {
		l.ErrorContext(ctx, "nnz failed",
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "nnz completed",
			"nnz", nnz,
			"fast_path", fastPath,
		)
	}
}

// LogMetadataFlush logs the metadata flush that runs on close or reopen.
func (l *Logger) LogMetadataFlush(ctx context.Context, records int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "metadata flush failed",
			"records", records,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "metadata flushed",
			"records", records,
		)
	}
}

// LogClose logs an array close operation.
func (l *Logger) LogClose(ctx context.Context, uri string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "close failed",
			"uri", uri,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "close completed",
			"uri", uri,
		)
	}
}
