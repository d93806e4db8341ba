// Package logging provides categorized file-based logging for Seven.
// Logs are written to .seven/logs/ with separate files per category.
// When debug mode is off, every logger is a silent no-op.
package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Category represents a log category/subsystem.
type Category string

const (
	CategoryBoot     Category = "boot"     // Startup and wiring
	CategoryWake     Category = "wake"     // Wake-word detector lifecycle
	CategoryConvo    Category = "convo"    // Conversation orchestrator
	CategoryAPI      Category = "api"      // Model completion calls
	CategoryPlugins  Category = "plugins"  // Plugin registry and execution
	CategoryDispatch Category = "dispatch" // Action routing decisions
	CategoryBackend  Category = "backend"  // Memory backend calls
	CategoryStore    Category = "store"    // Local session store
)

// Log levels.
const (
	LevelDebug = 0
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

// Logger wraps a standard logger with category and file output.
type Logger struct {
	category Category
	logger   *log.Logger
	file     *os.File
}

var (
	loggers   = make(map[Category]*Logger)
	loggersMu sync.RWMutex
	logsDir   string
	debugMode bool
	logLevel  = LevelInfo
)

// Initialize sets up the logging directory. Should be called once at startup
// with the workspace path. A silent no-op when debug is false.
func Initialize(workspace string, debug bool, level string) error {
	if workspace == "" {
		return fmt.Errorf("workspace path required")
	}

	debugMode = debug
	switch level {
	case "debug":
		logLevel = LevelDebug
	case "info":
		logLevel = LevelInfo
	case "warn", "warning":
		logLevel = LevelWarn
	case "error":
		logLevel = LevelError
	default:
		logLevel = LevelInfo
	}

	if !debugMode {
		return nil
	}

	logsDir = filepath.Join(workspace, ".seven", "logs")
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	Boot("=== Seven logging initialized ===")
	Boot("Workspace: %s", workspace)
	Boot("Log level: %s", level)
	return nil
}

// Get returns (or creates) a logger for the given category.
// Returns a no-op logger if debug mode is disabled.
func Get(category Category) *Logger {
	if !debugMode || logsDir == "" {
		return &Logger{category: category}
	}

	loggersMu.RLock()
	if l, ok := loggers[category]; ok {
		loggersMu.RUnlock()
		return l
	}
	loggersMu.RUnlock()

	loggersMu.Lock()
	defer loggersMu.Unlock()

	if l, ok := loggers[category]; ok {
		return l
	}

	// Date prefix keeps rotation trivial.
	date := time.Now().Format("2006-01-02")
	logPath := filepath.Join(logsDir, fmt.Sprintf("%s_%s.log", date, category))

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] Warning: could not open log file %s: %v\n", logPath, err)
		return &Logger{category: category}
	}

	l := &Logger{
		category: category,
		file:     file,
		logger:   log.New(file, "", log.Ldate|log.Ltime|log.Lmicroseconds),
	}
	loggers[category] = l
	return l
}

// Debug logs a debug message (only if level <= debug).
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelDebug {
		return
	}
	l.logger.Printf("[DEBUG] %s", fmt.Sprintf(format, args...))
}

// Info logs an informational message (only if level <= info).
func (l *Logger) Info(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelInfo {
		return
	}
	l.logger.Printf("[INFO] %s", fmt.Sprintf(format, args...))
}

// Warn logs a warning message (only if level <= warn).
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelWarn {
		return
	}
	l.logger.Printf("[WARN] %s", fmt.Sprintf(format, args...))
}

// Error logs an error message (always logged if the logger exists).
func (l *Logger) Error(format string, args ...interface{}) {
	if l.logger == nil {
		return
	}
	l.logger.Printf("[ERROR] %s", fmt.Sprintf(format, args...))
}

// CloseAll closes all open log files (call at shutdown).
func CloseAll() {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	for _, l := range loggers {
		if l.file != nil {
			l.file.Close()
		}
	}
	loggers = make(map[Category]*Logger)
}

// Timer helps measure operation duration.
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation.
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, op: operation, start: time.Now()}
}

// Stop ends the timer and logs the duration at debug level.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// Convenience functions. No-ops if debug mode is disabled.

// Boot logs to the boot category.
func Boot(format string, args ...interface{}) {
	Get(CategoryBoot).Info(format, args...)
}

// Wake logs to the wake category.
func Wake(format string, args ...interface{}) {
	Get(CategoryWake).Info(format, args...)
}

// WakeDebug logs debug to the wake category.
func WakeDebug(format string, args ...interface{}) {
	Get(CategoryWake).Debug(format, args...)
}

// WakeWarn logs warning to the wake category.
func WakeWarn(format string, args ...interface{}) {
	Get(CategoryWake).Warn(format, args...)
}

// Convo logs to the convo category.
func Convo(format string, args ...interface{}) {
	Get(CategoryConvo).Info(format, args...)
}

// ConvoDebug logs debug to the convo category.
func ConvoDebug(format string, args ...interface{}) {
	Get(CategoryConvo).Debug(format, args...)
}

// API logs to the api category.
func API(format string, args ...interface{}) {
	Get(CategoryAPI).Info(format, args...)
}

// APIDebug logs debug to the api category.
func APIDebug(format string, args ...interface{}) {
	Get(CategoryAPI).Debug(format, args...)
}

// Plugins logs to the plugins category.
func Plugins(format string, args ...interface{}) {
	Get(CategoryPlugins).Info(format, args...)
}

// PluginsDebug logs debug to the plugins category.
func PluginsDebug(format string, args ...interface{}) {
	Get(CategoryPlugins).Debug(format, args...)
}

// PluginsWarn logs warning to the plugins category.
func PluginsWarn(format string, args ...interface{}) {
	Get(CategoryPlugins).Warn(format, args...)
}

// Dispatch logs to the dispatch category.
func Dispatch(format string, args ...interface{}) {
	Get(CategoryDispatch).Info(format, args...)
}

// DispatchDebug logs debug to the dispatch category.
func DispatchDebug(format string, args ...interface{}) {
	Get(CategoryDispatch).Debug(format, args...)
}

// DispatchWarn logs warning to the dispatch category.
func DispatchWarn(format string, args ...interface{}) {
	Get(CategoryDispatch).Warn(format, args...)
}

// Backend logs to the backend category.
func Backend(format string, args ...interface{}) {
	Get(CategoryBackend).Info(format, args...)
}

// Store logs to the store category.
func Store(format string, args ...interface{}) {
	Get(CategoryStore).Info(format, args...)
}

// StoreDebug logs debug to the store category.
func StoreDebug(format string, args ...interface{}) {
	Get(CategoryStore).Debug(format, args...)
}
