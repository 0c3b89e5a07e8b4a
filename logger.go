package offline

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with subsystem-specific context.
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
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithProduct adds a product id field to the logger.
func (l *Logger) WithProduct(id int64) *Logger {
	return &Logger{
		Logger: l.Logger.With("product_id", id),
	}
}

// WithDraft adds a draft session id field to the logger.
func (l *Logger) WithDraft(id string) *Logger {
	return &Logger{
		Logger: l.Logger.With("draft_id", id),
	}
}

// WithGeneration adds a cache generation field to the logger.
func (l *Logger) WithGeneration(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("generation", name),
	}
}

// LogRefresh logs a reference-data refresh.
func (l *Logger) LogRefresh(ctx context.Context, products, categories int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "reference refresh failed",
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "reference refresh completed",
			"products", products,
			"categories", categories,
		)
	}
}

// LogEnqueue logs a queued mutation.
func (l *Logger) LogEnqueue(ctx context.Context, productID int64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "enqueue failed",
			"product_id", productID,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "mutation queued",
			"product_id", productID,
		)
	}
}

// LogDrain logs a queue drain.
func (l *Logger) LogDrain(ctx context.Context, applied, remaining int, err error) {
	if err != nil {
		l.WarnContext(ctx, "drain stopped",
			"applied", applied,
			"remaining", remaining,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "drain completed",
			"applied", applied,
		)
	}
}

// LogDraftSave logs a draft line save.
func (l *Logger) LogDraftSave(ctx context.Context, lines int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "draft save failed",
			"lines", lines,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "draft saved",
			"lines", lines,
		)
	}
}

// LogPromotion logs a draft promotion.
func (l *Logger) LogPromotion(ctx context.Context, localID string, sessionID int64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "draft promotion failed",
			"draft_id", localID,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "draft promoted",
			"draft_id", localID,
			"session_id", sessionID,
		)
	}
}
