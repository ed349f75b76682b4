// Package logger provides the process-wide service logger. Every line carries the
// service prefix, and slow calls can be reported with DeferLogDuration.
package logger

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

const slowCallThreshold = 100 * time.Millisecond

var (
	mu     sync.RWMutex
	prefix string
	level  = new(slog.LevelVar)
	base   = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
)

// SetPrefix sets the service tag added to all subsequent lines.
func SetPrefix(p string) {
	mu.Lock()
	defer mu.Unlock()
	prefix = p
}

// SetLevel accepts debug, info, warn or error. Unknown values fall back to info.
func SetLevel(l string) {
	switch strings.ToLower(strings.TrimSpace(l)) {
	case "debug", "trace":
		level.Set(slog.LevelDebug)
	case "warn", "warning":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}
}

// DebugEnabled reports whether debug lines are emitted.
func DebugEnabled() bool {
	return level.Level() <= slog.LevelDebug
}

func logger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if prefix == "" {
		return base
	}
	return base.With("service", prefix)
}

func Info(v ...any) {
	logger().Info(fmt.Sprint(v...))
}

func Infof(format string, v ...any) {
	logger().Info(fmt.Sprintf(format, v...))
}

func Debugf(format string, v ...any) {
	if !DebugEnabled() {
		return
	}
	logger().Debug(fmt.Sprintf(format, v...))
}

func Warnf(format string, v ...any) {
	logger().Warn(fmt.Sprintf(format, v...))
}

func Error(v ...any) {
	logger().Error(fmt.Sprint(v...))
}

func Errorf(format string, v ...any) {
	logger().Error(fmt.Sprintf(format, v...))
}

// LogDuration logs fn and its elapsed time. Outside debug level only calls slower
// than 100ms are reported.
func LogDuration(fn string, start time.Time) {
	elapsed := time.Since(start)
	if DebugEnabled() || elapsed >= slowCallThreshold {
		logger().Info("call finished", "fn", fn, "duration_ms", elapsed.Milliseconds())
	}
}

// DeferLogDuration is meant for defer: defer logger.DeferLogDuration("Name", time.Now())().
func DeferLogDuration(fn string, start time.Time) func() {
	return func() { LogDuration(fn, start) }
}
