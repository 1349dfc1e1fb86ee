package logger

import (
	"context"
	"io"
	"log/slog"
	"os"

	"tradingEngine/internal/ports"
)

// JSONLogger implements ports.Logger on log/slog with one JSON object per line.
type JSONLogger struct {
	logger *slog.Logger
}

// NewJSONLogger creates a JSON logger writing to w, or os.Stderr when w is nil.
func NewJSONLogger(level LogLevel, w io.Writer) *JSONLogger {
	if w == nil {
		w = os.Stderr
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level.slogLevel()})
	return &JSONLogger{logger: slog.New(handler)}
}

var _ ports.Logger = (*JSONLogger)(nil)

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (l *JSONLogger) log(ctx context.Context, level slog.Level, msg string, err error, fields []ports.Fields) {
	if !l.logger.Enabled(ctx, level) {
		return
	}
	merged := mergeFields(fields)
	attrs := make([]slog.Attr, 0, len(merged)+1)
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	for _, k := range sortedKeys(merged) {
		attrs = append(attrs, slog.Any(k, merged[k]))
	}
	l.logger.LogAttrs(ctx, level, msg, attrs...)
}

// Debug logs a message at Debug level.
func (l *JSONLogger) Debug(ctx context.Context, msg string, fields ...ports.Fields) {
	l.log(ctx, slog.LevelDebug, msg, nil, fields)
}

// Info logs a message at Info level.
func (l *JSONLogger) Info(ctx context.Context, msg string, fields ...ports.Fields) {
	l.log(ctx, slog.LevelInfo, msg, nil, fields)
}

// Warn logs a message at Warning level.
func (l *JSONLogger) Warn(ctx context.Context, msg string, fields ...ports.Fields) {
	l.log(ctx, slog.LevelWarn, msg, nil, fields)
}

// Error logs an error message at Error level.
func (l *JSONLogger) Error(ctx context.Context, err error, msg string, fields ...ports.Fields) {
	l.log(ctx, slog.LevelError, msg, err, fields)
}
