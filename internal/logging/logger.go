// Package logging provides config-driven categorized file-based logging for
// the ralph loop hooks. Logs are written to runtime-state/logs/ with separate
// files per category. Logging is controlled by debug_mode in server/config.json;
// when false, no logs are written. Hooks run on the host's stdin/stdout
// protocol, so nothing here may ever write to stdout.
package logging

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Category represents a log category/system.
type Category string

const (
	CategoryBoot    Category = "boot"    // Startup and configuration
	CategoryLoop    Category = "loop"    // Verification loop controller
	CategorySpawn   Category = "spawn"   // CLI spawning, retry, batches
	CategoryBreaker Category = "breaker" // Circuit breaker transitions
	CategorySession Category = "session" // Session ledger persistence
	CategoryTasks   Category = "tasks"   // Task/result document protocol
	CategoryStore   Category = "store"   // Archive store operations
	CategoryHooks   Category = "hooks"   // Hook input/output protocol
)

// loggingConfig mirrors the relevant parts of config.Config to avoid
// circular imports.
type loggingConfig struct {
	DebugMode  bool            `json:"debug_mode"`
	Categories map[string]bool `json:"categories"`
	Level      string          `json:"level"`
}

type configFile struct {
	Logging loggingConfig `json:"logging"`
}

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
	config    loggingConfig
	configMu  sync.RWMutex
	logLevel  int
)

// Log levels.
const (
	LevelDebug = 0
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

// Initialize sets up the logging directory and loads config.
// Call once at startup with the plugin root. Silent no-op when debug
// mode is off.
func Initialize(root string) error {
	if root == "" {
		return fmt.Errorf("plugin root required")
	}

	logsDir = filepath.Join(root, "runtime-state", "logs")

	loadConfig(filepath.Join(root, "server", "config.json"))

	configMu.RLock()
	enabled := config.DebugMode
	configMu.RUnlock()
	if !enabled {
		return nil
	}

	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	Boot("=== ralph logging initialized (level: %s) ===", config.Level)
	return nil
}

func loadConfig(path string) {
	configMu.Lock()
	defer configMu.Unlock()

	config = loggingConfig{Level: "info"}
	data, err := os.ReadFile(path)
	if err == nil {
		var cf configFile
		if err := json.Unmarshal(data, &cf); err == nil {
			config = cf.Logging
		}
	}

	switch config.Level {
	case "debug":
		logLevel = LevelDebug
	case "warn":
		logLevel = LevelWarn
	case "error":
		logLevel = LevelError
	default:
		logLevel = LevelInfo
	}
}

// enabled reports whether a category should emit at the given level.
func enabled(cat Category, level int) bool {
	configMu.RLock()
	defer configMu.RUnlock()

	if !config.DebugMode || level < logLevel {
		return false
	}
	if config.Categories != nil {
		if on, ok := config.Categories[string(cat)]; ok {
			return on
		}
	}
	return true
}

// Get returns the logger for a category, creating it on first use.
func Get(cat Category) *Logger {
	loggersMu.RLock()
	l, ok := loggers[cat]
	loggersMu.RUnlock()
	if ok {
		return l
	}

	loggersMu.Lock()
	defer loggersMu.Unlock()
	if l, ok := loggers[cat]; ok {
		return l
	}

	l = &Logger{category: cat}
	if logsDir != "" {
		path := filepath.Join(logsDir, string(cat)+".log")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err == nil {
			l.file = f
			l.logger = log.New(f, "", 0)
		}
	}
	loggers[cat] = l
	return l
}

func (l *Logger) write(level int, levelName, format string, args ...interface{}) {
	if l.logger == nil || !enabled(l.category, level) {
		return
	}
	ts := time.Now().Format("2006-01-02 15:04:05.000")
	l.logger.Printf("[%s] [%s] %s", ts, levelName, fmt.Sprintf(format, args...))
}

// Debug logs at debug level.
func (l *Logger) Debug(format string, args ...interface{}) {
	l.write(LevelDebug, "DEBUG", format, args...)
}

// Info logs at info level.
func (l *Logger) Info(format string, args ...interface{}) {
	l.write(LevelInfo, "INFO", format, args...)
}

// Warn logs at warn level.
func (l *Logger) Warn(format string, args ...interface{}) {
	l.write(LevelWarn, "WARN", format, args...)
}

// Error logs at error level.
func (l *Logger) Error(format string, args ...interface{}) {
	l.write(LevelError, "ERROR", format, args...)
}

// Close flushes and closes all category log files.
func Close() {
	loggersMu.Lock()
	defer loggersMu.Unlock()
	for _, l := range loggers {
		if l.file != nil {
			_ = l.file.Close()
		}
	}
	loggers = make(map[Category]*Logger)
}

// Convenience helpers, one pair per category.

func Boot(format string, args ...interface{})    { Get(CategoryBoot).Info(format, args...) }
func Loop(format string, args ...interface{})    { Get(CategoryLoop).Info(format, args...) }
func Spawn(format string, args ...interface{})   { Get(CategorySpawn).Info(format, args...) }
func Breaker(format string, args ...interface{}) { Get(CategoryBreaker).Info(format, args...) }
func Session(format string, args ...interface{}) { Get(CategorySession).Info(format, args...) }
func Tasks(format string, args ...interface{})   { Get(CategoryTasks).Info(format, args...) }
func Store(format string, args ...interface{})   { Get(CategoryStore).Info(format, args...) }
func Hooks(format string, args ...interface{})   { Get(CategoryHooks).Info(format, args...) }

func LoopDebug(format string, args ...interface{})    { Get(CategoryLoop).Debug(format, args...) }
func SpawnDebug(format string, args ...interface{})   { Get(CategorySpawn).Debug(format, args...) }
func BreakerDebug(format string, args ...interface{}) { Get(CategoryBreaker).Debug(format, args...) }
func SessionDebug(format string, args ...interface{}) { Get(CategorySession).Debug(format, args...) }
func TasksDebug(format string, args ...interface{})   { Get(CategoryTasks).Debug(format, args...) }
