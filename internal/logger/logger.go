// Package logger is the leveled, printf-style logger used across cookiebridge.
// Output goes to a log file (or stderr when the path is "-"); when logging is
// not initialised every call is discarded.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Level represents a logging level
type Level int

const (
	// LevelDebug is the most verbose logging level
	LevelDebug Level = iota
	// LevelInfo logs informational messages
	LevelInfo
	// LevelWarn logs warnings
	LevelWarn
	// LevelError logs errors
	LevelError
	// LevelNone disables all logging
	LevelNone
)

// StderrPath selects stderr instead of a log file.
const StderrPath = "-"

var levelNames = map[Level]string{
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
	LevelNone:  "NONE",
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "UNKNOWN"
}

// ParseLevel parses a level name. Unknown names fall back to LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "none", "off":
		return LevelNone
	default:
		return LevelInfo
	}
}

// Logger writes timestamped, leveled lines to a single sink.
type Logger struct {
	mu       sync.RWMutex
	level    Level
	out      *log.Logger
	prefix   string
	closer   io.Closer
	disabled bool
}

var (
	globalMu     sync.RWMutex
	globalLogger *Logger
)

// Init installs the global logger. Calling it again replaces (and closes)
// the previous one, which lets the host re-apply a changed log level.
func Init(level Level, logPath string) error {
	l, err := New(level, logPath, "")
	if err != nil {
		return err
	}

	globalMu.Lock()
	prev := globalLogger
	globalLogger = l
	globalMu.Unlock()

	if prev != nil {
		_ = prev.Close()
	}
	return nil
}

// New creates a Logger writing to logPath. An empty path or LevelNone gives
// a disabled logger.
func New(level Level, logPath string, prefix string) (*Logger, error) {
	if level == LevelNone || logPath == "" {
		return discard(prefix), nil
	}

	if logPath == StderrPath {
		return NewWriter(level, os.Stderr, prefix), nil
	}

	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	l := NewWriter(level, file, prefix)
	l.closer = file
	return l, nil
}

// NewWriter creates a Logger that writes to w. The caller keeps ownership of w.
func NewWriter(level Level, w io.Writer, prefix string) *Logger {
	return &Logger{
		level:  level,
		out:    log.New(w, "", 0),
		prefix: prefix,
	}
}

func discard(prefix string) *Logger {
	return &Logger{
		level:    LevelNone,
		out:      log.New(io.Discard, "", 0),
		prefix:   prefix,
		disabled: true,
	}
}

// Global returns the global logger, or a discarding one before Init.
func Global() *Logger {
	globalMu.RLock()
	l := globalLogger
	globalMu.RUnlock()
	if l != nil {
		return l
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		globalLogger = discard("")
	}
	return globalLogger
}

// WithPrefix returns a logger sharing the same sink with prefix appended.
func (l *Logger) WithPrefix(prefix string) *Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()

	newPrefix := prefix
	if l.prefix != "" {
		newPrefix = l.prefix + ":" + prefix
	}

	return &Logger{
		level:    l.level,
		out:      l.out,
		prefix:   newPrefix,
		disabled: l.disabled,
	}
}

// SetLevel sets the logging level
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// GetLevel returns the current logging level
func (l *Logger) GetLevel() Level {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.level
}

func (l *Logger) enabled(level Level) bool {
	return !l.disabled && level >= l.level && level != LevelNone
}

func (l *Logger) log(level Level, format string, args ...interface{}) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if !l.enabled(level) {
		return
	}

	var b strings.Builder
	b.WriteString(time.Now().Format("2006-01-02 15:04:05.000"))
	b.WriteString(" [")
	b.WriteString(level.String())
	b.WriteString("] ")
	if l.prefix != "" {
		b.WriteString("[")
		b.WriteString(l.prefix)
		b.WriteString("] ")
	}
	fmt.Fprintf(&b, format, args...)
	l.out.Println(b.String())
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(LevelDebug, format, args...)
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) {
	l.log(LevelInfo, format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(LevelWarn, format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.log(LevelError, format, args...)
}

// Close closes the underlying file, if the logger owns one.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closer == nil {
		return nil
	}
	err := l.closer.Close()
	l.closer = nil
	l.disabled = true
	return err
}

// Debug logs a debug message using the global logger
func Debug(format string, args ...interface{}) {
	Global().Debug(format, args...)
}

// Info logs an informational message using the global logger
func Info(format string, args ...interface{}) {
	Global().Info(format, args...)
}

// Warn logs a warning message using the global logger
func Warn(format string, args ...interface{}) {
	Global().Warn(format, args...)
}

// Error logs an error message using the global logger
func Error(format string, args ...interface{}) {
	Global().Error(format, args...)
}
