// Package logging provides the gateway's structured logger.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"time"
)

// ContextKey is the type used for context values this package reads.
type ContextKey string

const (
	RequestIDKey ContextKey = "request_id"
	UsernameKey  ContextKey = "username"
)

// Logger wraps *slog.Logger with the gateway's component tag and
// chainable With* helpers.
type Logger struct {
	*slog.Logger
	component string
}

// Config controls how New builds a Logger.
type Config struct {
	Level     string `json:"level"`
	Format    string `json:"format"` // json or text
	Output    string `json:"output"` // stdout, stderr, or file path
	Component string `json:"component"`
}

// New builds a Logger from an explicit Config.
func New(cfg Config) *Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var output io.Writer
	switch cfg.Output {
	case "stdout", "":
		output = os.Stdout
	case "stderr":
		output = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			output = os.Stdout
		} else {
			output = f
		}
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(output, opts)
	} else {
		handler = slog.NewJSONHandler(output, opts)
	}

	return &Logger{
		Logger:    slog.New(handler).With(slog.String("component", cfg.Component)),
		component: cfg.Component,
	}
}

// Default builds a Logger from LOG_LEVEL/LOG_FORMAT environment variables.
func Default(component string) *Logger {
	return New(Config{
		Level:     os.Getenv("LOG_LEVEL"),
		Format:    os.Getenv("LOG_FORMAT"),
		Output:    "stdout",
		Component: component,
	})
}

func (l *Logger) with(attrs ...any) *Logger {
	return &Logger{Logger: l.Logger.With(attrs...), component: l.component}
}

// WithContext pulls the request ID / username carried on ctx, if any.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	var attrs []any
	if v, ok := ctx.Value(RequestIDKey).(string); ok && v != "" {
		attrs = append(attrs, slog.String("request_id", v))
	}
	if v, ok := ctx.Value(UsernameKey).(string); ok && v != "" {
		attrs = append(attrs, slog.String("username", v))
	}
	if len(attrs) == 0 {
		return l
	}
	return l.with(attrs...)
}

// WithUsername attaches the resolved request subject.
func (l *Logger) WithUsername(username string) *Logger {
	return l.with(slog.String("username", username))
}

// WithRequestID attaches a correlation ID.
func (l *Logger) WithRequestID(id string) *Logger {
	return l.with(slog.String("request_id", id))
}

// WithError attaches an error, a no-op if err is nil.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.with(slog.String("error", err.Error()))
}

// WithDuration attaches an elapsed time in milliseconds.
func (l *Logger) WithDuration(d time.Duration) *Logger {
	return l.with(slog.Float64("duration_ms", float64(d.Milliseconds())))
}

// HTTPRequestLog records one completed HTTP request.
func (l *Logger) HTTPRequestLog(method, path string, status int, duration time.Duration) {
	l.Logger.Info("http request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", status),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)
}

// UpstreamCallLog records one upstream invocation outcome.
func (l *Logger) UpstreamCallLog(interfaceName string, attempt int, duration time.Duration, err error) {
	attrs := []any{
		slog.String("interface", interfaceName),
		slog.Int("attempt", attempt),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
		l.Logger.Warn("upstream call failed", attrs...)
		return
	}
	l.Logger.Debug("upstream call ok", attrs...)
}

// CacheLog records a cache hit/miss/eviction event.
func (l *Logger) CacheLog(event, key string, stale bool) {
	l.Logger.Debug("cache event",
		slog.String("event", event),
		slog.String("key", key),
		slog.Bool("stale", stale),
	)
}

// GetCaller returns "file:line" for the caller `skip` frames up the
// stack, for ad-hoc diagnostic logging outside the slog pipeline.
func GetCaller(skip int) string {
	_, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return "unknown"
	}
	short := file
	for i := len(file) - 1; i > 0; i-- {
		if file[i] == '/' {
			short = file[i+1:]
			break
		}
	}
	return fmt.Sprintf("%s:%d", short, line)
}
