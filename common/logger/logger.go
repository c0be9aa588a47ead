package logger

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// Logger wraps slog with the conventions every agentflow binary shares:
// tint console output for humans, JSON for log pipelines, and error
// entries that carry a compact stack so failures inside worker
// goroutines can be placed without a debugger.
type Logger struct {
	*slog.Logger
}

// New creates a logger. Format "json" selects machine-readable output;
// anything else gets colored console lines with short timestamps.
func New(level, format string) *Logger {
	lvl := parseLevel(level)

	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      lvl,
			TimeFormat: time.TimeOnly,
		})
	}

	return &Logger{Logger: slog.New(handler)}
}

// Named tags every entry with the component emitting it
func (l *Logger) Named(component string) *Logger {
	return &Logger{Logger: l.With("component", component)}
}

// WithExecutionID tags every entry with the execution being processed
func (l *Logger) WithExecutionID(executionID string) *Logger {
	return &Logger{Logger: l.With("execution_id", executionID)}
}

// Error logs at error level with the caller stack appended
func (l *Logger) Error(msg string, args ...any) {
	l.Logger.Error(msg, append(args, "stack", callerStack())...)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// callerStack renders the frames above the logging call, skipping the
// runtime and logger frames themselves.
func callerStack() string {
	pc := make([]uintptr, 16)
	n := runtime.Callers(3, pc)
	if n == 0 {
		return ""
	}

	var b strings.Builder
	frames := runtime.CallersFrames(pc[:n])
	for {
		frame, more := frames.Next()
		fmt.Fprintf(&b, "%s\n\t%s:%d\n", frame.Function, frame.File, frame.Line)
		if !more {
			break
		}
	}
	return b.String()
}
