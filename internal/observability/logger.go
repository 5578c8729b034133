package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
)

type ctxKey string

const (
	ctxKeyRecordID ctxKey = "record_id"
)

var logger atomic.Pointer[slog.Logger]

func init() {
	logger.Store(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
}

// Configure replaces the process logger. Debug output is enabled outside production.
func Configure(w io.Writer, environment string) {
	level := slog.LevelInfo
	if environment != "production" {
		level = slog.LevelDebug
	}
	logger.Store(slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})))
}

func Logger() *slog.Logger {
	return logger.Load()
}

// WithFields returns a logger with additional fields.
func WithFields(kv ...any) *slog.Logger {
	return Logger().With(kv...)
}

// WithRecordID stores the id of the queue record being handled in the context.
func WithRecordID(ctx context.Context, recordID string) context.Context {
	return context.WithValue(ctx, ctxKeyRecordID, recordID)
}

// LoggerFromContext adds record_id if present.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	recordID, _ := ctx.Value(ctxKeyRecordID).(string)
	if recordID == "" {
		return Logger()
	}
	return Logger().With("record_id", recordID)
}
