// Package logging provides config-driven categorized file-based logging for
// ada. Logs are written to <data-dir>/logs/ with a separate file per
// category. Logging is controlled by debug_mode in the runtime config; when
// false, no logs are written.
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
	CategoryBoot       Category = "boot"       // startup/shutdown sequencing
	CategoryRouter     Category = "router"     // tier decisions, classifier calls
	CategoryBrain      Category = "brain"      // message handling, context assembly
	CategoryStore      Category = "store"      // SQLite operations
	CategoryEmbedding  Category = "embedding"  // embedding engine and worker
	CategoryExtraction Category = "extraction" // fact extraction worker
	CategoryRetrieval  Category = "retrieval"  // hybrid retrieval
	CategoryCache      Category = "cache"      // response cache
	CategoryHealth     Category = "health"     // health monitor, memory pressure
	CategoryModels     Category = "models"     // model lifecycle manager
	CategoryScheduler  Category = "scheduler"  // reminder scheduler
	CategoryProactive  Category = "proactive"  // spontaneous message loop
	CategoryMetrics    Category = "metrics"    // router metrics
	CategoryContext    Category = "context"    // context guard
	CategoryAPI        Category = "api"        // remote LLM calls
)

// Log levels.
const (
	LevelDebug = 0
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

// Options controls logger behavior; it mirrors config.LoggingConfig to
// avoid a circular import.
type Options struct {
	DebugMode  bool
	Level      string
	Categories map[string]bool
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
	opts      Options
	optsMu    sync.RWMutex
	logLevel  int
)

// Initialize sets up the logging directory. Should be called once at startup
// with the data directory path. A no-op when debug mode is off.
func Initialize(dataDir string, o Options) error {
	optsMu.Lock()
	opts = o
	switch o.Level {
	case "debug":
		logLevel = LevelDebug
	case "warn", "warning":
		logLevel = LevelWarn
	case "error":
		logLevel = LevelError
	default:
		logLevel = LevelInfo
	}
	optsMu.Unlock()

	if !o.DebugMode {
		return nil
	}
	if dataDir == "" {
		return fmt.Errorf("data dir required")
	}

	logsDir = filepath.Join(dataDir, "logs")
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	boot := Get(CategoryBoot)
	boot.Info("=== ada logging initialized ===")
	boot.Info("Logs directory: %s", logsDir)
	boot.Info("Log level: %s", o.Level)
	return nil
}

// IsCategoryEnabled returns whether a specific category is enabled.
func IsCategoryEnabled(category Category) bool {
	optsMu.RLock()
	defer optsMu.RUnlock()

	if !opts.DebugMode {
		return false
	}
	if opts.Categories == nil {
		return true
	}
	enabled, exists := opts.Categories[string(category)]
	if !exists {
		return true
	}
	return enabled
}

// Get returns (or creates) a logger for the given category. Returns a no-op
// logger when debug mode or the category is disabled.
func Get(category Category) *Logger {
	if !IsCategoryEnabled(category) || logsDir == "" {
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

	// Date prefix for easy rotation.
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

// Debug logs a debug message.
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelDebug {
		return
	}
	l.logger.Printf("[DEBUG] %s", fmt.Sprintf(format, args...))
}

// Info logs an informational message.
func (l *Logger) Info(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelInfo {
		return
	}
	l.logger.Printf("[INFO] %s", fmt.Sprintf(format, args...))
}

// Warn logs a warning message.
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

// =============================================================================
// CONVENIENCE FUNCTIONS - quick logging without getting a logger first.
// No-ops when the category is disabled.
// =============================================================================

// Boot logs to the boot category.
func Boot(format string, args ...interface{}) { Get(CategoryBoot).Info(format, args...) }

// Router logs to the router category.
func Router(format string, args ...interface{}) { Get(CategoryRouter).Info(format, args...) }

// RouterDebug logs debug to the router category.
func RouterDebug(format string, args ...interface{}) { Get(CategoryRouter).Debug(format, args...) }

// Brain logs to the brain category.
func Brain(format string, args ...interface{}) { Get(CategoryBrain).Info(format, args...) }

// BrainDebug logs debug to the brain category.
func BrainDebug(format string, args ...interface{}) { Get(CategoryBrain).Debug(format, args...) }

// Store logs to the store category.
func Store(format string, args ...interface{}) { Get(CategoryStore).Info(format, args...) }

// StoreDebug logs debug to the store category.
func StoreDebug(format string, args ...interface{}) { Get(CategoryStore).Debug(format, args...) }

// Embedding logs to the embedding category.
func Embedding(format string, args ...interface{}) { Get(CategoryEmbedding).Info(format, args...) }

// Extraction logs to the extraction category.
func Extraction(format string, args ...interface{}) { Get(CategoryExtraction).Info(format, args...) }

// Retrieval logs to the retrieval category.
func Retrieval(format string, args ...interface{}) { Get(CategoryRetrieval).Info(format, args...) }

// CacheLog logs to the cache category.
func CacheLog(format string, args ...interface{}) { Get(CategoryCache).Info(format, args...) }

// Health logs to the health category.
func Health(format string, args ...interface{}) { Get(CategoryHealth).Info(format, args...) }

// Models logs to the models category.
func Models(format string, args ...interface{}) { Get(CategoryModels).Info(format, args...) }

// Scheduler logs to the scheduler category.
func Scheduler(format string, args ...interface{}) { Get(CategoryScheduler).Info(format, args...) }

// Proactive logs to the proactive category.
func Proactive(format string, args ...interface{}) { Get(CategoryProactive).Info(format, args...) }

// Metrics logs to the metrics category.
func Metrics(format string, args ...interface{}) { Get(CategoryMetrics).Info(format, args...) }

// Context logs to the context category.
func Context(format string, args ...interface{}) { Get(CategoryContext).Info(format, args...) }

// API logs to the api category.
func API(format string, args ...interface{}) { Get(CategoryAPI).Info(format, args...) }

// =============================================================================
// TIMING HELPERS
// =============================================================================

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

// StopWithThreshold logs a warning if duration exceeds threshold.
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}
