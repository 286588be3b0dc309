// Package logger configures the application's structured logging and carries
// per-request loggers through the request context.
package logger

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/lmittmann/tint"
)

// LevelNone disables all logging output.
const LevelNone = slog.Level(127)

// ParseLogLevel converts a config string to a slog level. Unknown values fall
// back to info.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "none":
		return LevelNone
	default:
		return slog.LevelInfo
	}
}

// InitLogger creates the application logger and installs it as the slog
// default. Dev environments get colorized console output, everything else
// JSON.
func InitLogger(level slog.Level, environment string) *slog.Logger {
	var handler slog.Handler
	if environment == "dev" {
		handler = tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	appLogger := slog.New(handler)
	slog.SetDefault(appLogger)
	return appLogger
}

type contextKey struct{}

// requestLog is the mutable per-request logging state stored in the context.
// Middleware and handlers append attrs that the final request log picks up.
type requestLog struct {
	logger *slog.Logger

	mu    sync.Mutex
	attrs []slog.Attr
}

// ContextWithRequestLogger returns a context carrying a request-scoped logger.
func ContextWithRequestLogger(ctx context.Context, reqLogger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, &requestLog{logger: reqLogger})
}

// ContextRequestLogger returns the request-scoped logger, or the default
// logger when the context has none.
func ContextRequestLogger(ctx context.Context) *slog.Logger {
	if rl, ok := ctx.Value(contextKey{}).(*requestLog); ok {
		return rl.logger
	}
	return slog.Default()
}

// ContextWithLogAttrs records attrs on the request's logging state so they
// appear on the final request log line.
func ContextWithLogAttrs(ctx context.Context, attrs ...slog.Attr) {
	rl, ok := ctx.Value(contextKey{}).(*requestLog)
	if !ok {
		return
	}
	rl.mu.Lock()
	rl.attrs = append(rl.attrs, attrs...)
	rl.mu.Unlock()
}

// ContextLogAttrs returns the attrs accumulated for the request.
func ContextLogAttrs(ctx context.Context) []slog.Attr {
	rl, ok := ctx.Value(contextKey{}).(*requestLog)
	if !ok {
		return nil
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	attrs := make([]slog.Attr, len(rl.attrs))
	copy(attrs, rl.attrs)
	return attrs
}
