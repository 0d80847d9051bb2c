// Package logging provides structured logging infrastructure for the datasync engine.
// It wraps Go's standard log/slog package with context-aware logging, correlation IDs,
// and domain-specific log attributes.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

// contextKey is used for storing logger-related values in context.
type contextKey string

const (
	// CorrelationIDKey is the context key for correlation IDs.
	CorrelationIDKey contextKey = "correlation_id"
	// EntityTypeKey is the context key for the entity type being synchronized.
	EntityTypeKey contextKey = "entity_type"
	// QueryIDKey is the context key for pull query IDs.
	QueryIDKey contextKey = "query_id"
	// OperationIDKey is the context key for queued operation IDs.
	OperationIDKey contextKey = "operation_id"
)

// Level represents log levels.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Format represents log output formats.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Config holds logging configuration.
type Config struct {
	Level      Level
	Format     Format
	Output     io.Writer
	AddSource  bool
	TimeFormat string
}

// DefaultConfig returns sensible default logging configuration.
func DefaultConfig() Config {
	return Config{
		Level:      LevelInfo,
		Format:     FormatText,
		Output:     os.Stderr,
		AddSource:  false,
		TimeFormat: time.RFC3339,
	}
}

// Logger wraps slog.Logger and adds the sync context of a call to every
// record.
type Logger struct {
	slogger *slog.Logger
}

var defaultLogger = sync.OnceValue(func() *Logger { return New(DefaultConfig()) })

// Default returns a process-wide logger with the default configuration.
func Default() *Logger {
	return defaultLogger()
}

// New creates a new Logger with the provided configuration.
func New(cfg Config) *Logger {
	level := parseLevel(cfg.Level)

	var handler slog.Handler
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.AddSource,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Customize time format
			if a.Key == slog.TimeKey && cfg.TimeFormat != "" {
				if t, ok := a.Value.Any().(time.Time); ok {
					return slog.String(slog.TimeKey, t.Format(cfg.TimeFormat))
				}
			}
			return a
		},
	}

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}

	switch cfg.Format {
	case FormatJSON:
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return &Logger{slogger: slog.New(handler)}
}

// parseLevel converts a Level to slog.Level.
func parseLevel(l Level) slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a Logger that adds args to every record.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{slogger: l.slogger.With(args...)}
}

// DebugContext logs at debug level with context.
func (l *Logger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.slogger.DebugContext(ctx, msg, l.enrichArgs(ctx, args)...)
}

// InfoContext logs at info level with context.
func (l *Logger) InfoContext(ctx context.Context, msg string, args ...any) {
	l.slogger.InfoContext(ctx, msg, l.enrichArgs(ctx, args)...)
}

// WarnContext logs at warn level with context.
func (l *Logger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.slogger.WarnContext(ctx, msg, l.enrichArgs(ctx, args)...)
}

// ErrorContext logs at error level with context.
func (l *Logger) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.slogger.ErrorContext(ctx, msg, l.enrichArgs(ctx, args)...)
}

// enrichArgs extracts context values and adds them as log attributes.
func (l *Logger) enrichArgs(ctx context.Context, args []any) []any {
	enriched := make([]any, 0, len(args)+10)

	// Extract standard context values
	if v := ctx.Value(CorrelationIDKey); v != nil {
		enriched = append(enriched, "correlation_id", v)
	}
	if v := ctx.Value(EntityTypeKey); v != nil {
		enriched = append(enriched, "entity_type", v)
	}
	if v := ctx.Value(QueryIDKey); v != nil {
		enriched = append(enriched, "query_id", v)
	}
	if v := ctx.Value(OperationIDKey); v != nil {
		enriched = append(enriched, "operation_id", v)
	}

	enriched = append(enriched, args...)
	return enriched
}

// --- Context helpers ---

// WithCorrelationID adds a correlation ID to the context.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CorrelationIDKey, id)
}

// WithEntityType adds an entity type to the context.
func WithEntityType(ctx context.Context, entityType string) context.Context {
	return context.WithValue(ctx, EntityTypeKey, entityType)
}

// WithQueryID adds a pull query ID to the context.
func WithQueryID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, QueryIDKey, id)
}

// WithOperationID adds a queued operation ID to the context.
func WithOperationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, OperationIDKey, id)
}

// CorrelationID extracts the correlation ID from context.
func CorrelationID(ctx context.Context) string {
	if v := ctx.Value(CorrelationIDKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// --- Domain-specific logging helpers ---

// LogPushStart logs the start of a push.
func LogPushStart(ctx context.Context, logger *Logger, entityTypes []string, pending int) {
	logger.InfoContext(ctx, "push started",
		"entity_types", entityTypes,
		"pending_operations", pending,
	)
}

// LogPushComplete logs the end of a push.
func LogPushComplete(ctx context.Context, logger *Logger, additions, replacements, deletions, failures int, duration time.Duration) {
	logger.InfoContext(ctx, "push completed",
		"additions", additions,
		"replacements", replacements,
		"deletions", deletions,
		"failures", failures,
		"duration_ms", duration.Milliseconds(),
	)
}

// LogOperationSent logs one executed operation.
func LogOperationSent(ctx context.Context, logger *Logger, kind, itemID string, status int, latency time.Duration) {
	logger.DebugContext(ctx, "operation sent",
		"kind", kind,
		"item_id", itemID,
		"status", status,
		"latency_ms", latency.Milliseconds(),
	)
}

// LogOperationFailed logs an operation that stays queued.
func LogOperationFailed(ctx context.Context, logger *Logger, itemID string, status int, err error) {
	args := []any{"item_id", itemID, "status", status}
	if err != nil {
		args = append(args, "error", err.Error())
	}
	logger.WarnContext(ctx, "operation failed", args...)
}

// LogConflict logs a conflict and how it was resolved.
func LogConflict(ctx context.Context, logger *Logger, itemID string, status int, decision string) {
	logger.InfoContext(ctx, "conflict resolved",
		"item_id", itemID,
		"status", status,
		"decision", decision,
	)
}

// LogPullStart logs the start of a pull for one query.
func LogPullStart(ctx context.Context, logger *Logger, queryID string, since time.Time) {
	logger.DebugContext(ctx, "pull started",
		"query_id", queryID,
		"since", since.UTC().Format(time.RFC3339Nano),
	)
}

// LogPageApplied logs a pull page that was written to the local store.
func LogPageApplied(ctx context.Context, logger *Logger, page, rows, skipped int, token time.Time) {
	logger.DebugContext(ctx, "page applied",
		"page", page,
		"rows", rows,
		"skipped", skipped,
		"delta_token", token.UTC().Format(time.RFC3339Nano),
	)
}

// LogPullComplete logs the end of a pull.
func LogPullComplete(ctx context.Context, logger *Logger, additions, replacements, deletions, failures int, duration time.Duration) {
	logger.InfoContext(ctx, "pull completed",
		"additions", additions,
		"replacements", replacements,
		"deletions", deletions,
		"failures", failures,
		"duration_ms", duration.Milliseconds(),
	)
}

// LogPullFailed logs a query whose pull stopped early.
func LogPullFailed(ctx context.Context, logger *Logger, queryID string, err error) {
	logger.ErrorContext(ctx, "pull failed",
		"query_id", queryID,
		"error", err.Error(),
	)
}
