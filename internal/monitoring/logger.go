package monitoring

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// Logger provides enhanced structured logging with context
type Logger struct {
	*slog.Logger
}

// Log output formats
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// NewLogger creates a logger writing to stdout in the given format
func NewLogger(level, format string) *Logger {
	return NewLoggerWithWriter(os.Stdout, level, format)
}

// NewLoggerWithWriter creates a logger writing to w. Unknown formats fall back to JSON.
func NewLoggerWithWriter(w io.Writer, level, format string) *Logger {
	lvl := ParseLevel(level)

	var handler slog.Handler
	if strings.EqualFold(format, FormatConsole) {
		handler = tint.NewHandler(w, &tint.Options{
			Level:      lvl,
			TimeFormat: time.Kitchen,
		})
	} else {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level:     lvl,
			AddSource: true,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				// Add timestamp in RFC3339 format
				if a.Key == slog.TimeKey && len(groups) == 0 {
					return slog.Attr{
						Key:   "timestamp",
						Value: slog.StringValue(a.Value.Time().Format(time.RFC3339)),
					}
				}
				return a
			},
		})
	}

	return &Logger{
		Logger: slog.New(handler),
	}
}

// ParseLevel maps debug|info|warn|error to a slog level, defaulting to info
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// RequestLogger logs HTTP request details
func (l *Logger) RequestLogger(requestID, method, path, ip string, statusCode int, duration time.Duration) {
	l.Info("HTTP Request",
		"request_id", requestID,
		"method", method,
		"path", path,
		"ip", ip,
		"status_code", statusCode,
		"duration_ms", duration.Milliseconds(),
	)
}

// PredictionLogger logs the outcome of one prediction
func (l *Logger) PredictionLogger(userID, modelVersion, decision string, probability float64, duration time.Duration, cacheHit bool) {
	level := slog.LevelInfo
	if modelVersion == "error" {
		level = slog.LevelWarn
	}

	l.Log(context.Background(), level, "Prediction Completed",
		"user_id", userID,
		"model_version", modelVersion,
		"decision", decision,
		"probability", probability,
		"duration_ms", duration.Milliseconds(),
		"cache_hit", cacheHit,
	)
}

// ArtifactLogger logs the load outcome of one artifact slot
func (l *Logger) ArtifactLogger(slot, path, kind string, loaded bool, loadErr string) {
	if loaded {
		l.Info("Artifact Slot", "slot", slot, "path", path, "kind", kind, "loaded", true)
		return
	}
	l.Warn("Artifact Slot", "slot", slot, "path", path, "loaded", false, "error", loadErr)
}

// APIErrorLogger logs API errors with context
func (l *Logger) APIErrorLogger(err error, method, path, ip string, statusCode int) {
	// Get caller information for better debugging
	_, file, line, ok := runtime.Caller(2)
	caller := "unknown"
	if ok {
		caller = fmt.Sprintf("%s:%d", file, line)
	}

	l.Error("API Error",
		"error", err.Error(),
		"method", method,
		"path", path,
		"ip", ip,
		"status_code", statusCode,
		"caller", caller,
	)
}

// SystemLogger logs system-level events
func (l *Logger) SystemLogger(event, details string) {
	l.Info("System Event",
		"event", event,
		"details", details,
		"uptime", time.Since(startTime).String(),
	)
}

// SecurityLogger logs security-related events
func (l *Logger) SecurityLogger(event, ip string, details map[string]interface{}) {
	attrs := []any{
		"event", event,
		"ip", ip,
	}
	for key, value := range details {
		attrs = append(attrs, key, value)
	}

	l.Warn("Security Event", attrs...)
}

var startTime = time.Now()
