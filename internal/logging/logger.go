// Package logging provides config-driven categorized logging for reportlens.
// Each pipeline stage logs under its own category so one turn can be traced
// end to end; categories can be enabled or disabled individually. Loggers are
// zap-backed and become no-ops when debug mode is off.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category, one per pipeline stage.
type Category string

const (
	CategoryBoot     Category = "boot"     // Startup and configuration
	CategoryOracle   Category = "oracle"   // Semantic extraction calls
	CategorySpec     Category = "spec"     // Spec normalization
	CategoryCatalog  Category = "catalog"  // Capability index builds and refreshes
	CategoryResolver Category = "resolver" // Candidate scoring and selection
	CategoryMemory   Category = "memory"   // Topic memory reads/writes
	CategoryGate     Category = "gate"     // Quality gate evaluation
	CategoryShaper   Category = "shaper"   // Response shaping and transforms
	CategoryEngine   Category = "engine"   // Turn orchestration
	CategoryBackend  Category = "backend"  // Report execution and writes
	CategoryStore    Category = "store"    // SQLite store operations
)

// Options mirror the relevant parts of config.LoggingConfig to avoid a
// circular import.
type Options struct {
	DebugMode  bool
	Level      string
	Categories map[string]bool
	Directory  string
}

// Logger wraps a zap sugared logger bound to one category.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
}

var (
	loggers   = make(map[Category]*Logger)
	loggersMu sync.RWMutex
	opts      Options
	optsMu    sync.RWMutex
	level     zap.AtomicLevel = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// Initialize configures the logging system. Safe to call once at startup;
// with DebugMode false every category logger is a silent no-op.
func Initialize(o Options) error {
	optsMu.Lock()
	opts = o
	optsMu.Unlock()

	switch o.Level {
	case "debug":
		level.SetLevel(zapcore.DebugLevel)
	case "warn", "warning":
		level.SetLevel(zapcore.WarnLevel)
	case "error":
		level.SetLevel(zapcore.ErrorLevel)
	default:
		level.SetLevel(zapcore.InfoLevel)
	}

	if !o.DebugMode {
		return nil
	}
	if o.Directory != "" {
		if err := os.MkdirAll(o.Directory, 0755); err != nil {
			return fmt.Errorf("failed to create logs directory: %w", err)
		}
	}

	boot := Get(CategoryBoot)
	boot.Info("logging initialized, level=%s dir=%s", o.Level, o.Directory)
	return nil
}

// IsDebugMode reports whether debug logging is enabled.
func IsDebugMode() bool {
	optsMu.RLock()
	defer optsMu.RUnlock()
	return opts.DebugMode
}

// IsCategoryEnabled reports whether a category should log.
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

// Get returns (or creates) the logger for a category. Disabled categories
// get a no-op logger.
func Get(category Category) *Logger {
	if !IsCategoryEnabled(category) {
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

	l := &Logger{category: category, sugar: newZapSugar(category)}
	loggers[category] = l
	return l
}

func newZapSugar(category Category) *zap.SugaredLogger {
	optsMu.RLock()
	dir := opts.Directory
	optsMu.RUnlock()

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encCfg)

	sink := zapcore.AddSync(os.Stderr)
	if dir != "" {
		date := time.Now().Format("2006-01-02")
		path := filepath.Join(dir, fmt.Sprintf("%s_%s.log", date, category))
		if f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644); err == nil {
			sink = zapcore.AddSync(f)
		} else {
			fmt.Fprintf(os.Stderr, "[logging] could not open %s: %v\n", path, err)
		}
	}

	core := zapcore.NewCore(encoder, sink, level)
	return zap.New(core).Sugar().With("category", string(category))
}

// Debug logs a debug message.
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Debugf(format, args...)
}

// Info logs an informational message.
func (l *Logger) Info(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Infof(format, args...)
}

// Warn logs a warning message.
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Warnf(format, args...)
}

// Error logs an error message.
func (l *Logger) Error(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Errorf(format, args...)
}

// With returns a logger carrying an extra structured field, e.g. a turn ID.
func (l *Logger) With(key string, value interface{}) *Logger {
	if l.sugar == nil {
		return l
	}
	return &Logger{category: l.category, sugar: l.sugar.With(key, value)}
}

// Sync flushes buffered entries for all open loggers.
func Sync() {
	loggersMu.RLock()
	defer loggersMu.RUnlock()
	for _, l := range loggers {
		if l.sugar != nil {
			_ = l.sugar.Sync()
		}
	}
}

// Reset tears down all loggers, for tests.
func Reset() {
	Sync()
	loggersMu.Lock()
	loggers = make(map[Category]*Logger)
	loggersMu.Unlock()
}

// =============================================================================
// TIMERS
// =============================================================================

// Timer measures the duration of an operation within a category.
type Timer struct {
	logger *Logger
	name   string
	start  time.Time
}

// StartTimer begins timing an operation.
func StartTimer(category Category, name string) *Timer {
	return &Timer{logger: Get(category), name: name, start: time.Now()}
}

// Stop logs the elapsed time and returns it.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	t.logger.Debug("%s took %s", t.name, elapsed)
	return elapsed
}

// =============================================================================
// CONVENIENCE WRAPPERS
// =============================================================================

// Oracle logs to the oracle category at info level.
func Oracle(format string, args ...interface{}) { Get(CategoryOracle).Info(format, args...) }

// Spec logs to the spec category at info level.
func Spec(format string, args ...interface{}) { Get(CategorySpec).Info(format, args...) }

// Catalog logs to the catalog category at info level.
func Catalog(format string, args ...interface{}) { Get(CategoryCatalog).Info(format, args...) }

// Resolver logs to the resolver category at info level.
func Resolver(format string, args ...interface{}) { Get(CategoryResolver).Info(format, args...) }

// Memory logs to the memory category at info level.
func Memory(format string, args ...interface{}) { Get(CategoryMemory).Info(format, args...) }

// Gate logs to the gate category at info level.
func Gate(format string, args ...interface{}) { Get(CategoryGate).Info(format, args...) }

// Shaper logs to the shaper category at info level.
func Shaper(format string, args ...interface{}) { Get(CategoryShaper).Info(format, args...) }

// Engine logs to the engine category at info level.
func Engine(format string, args ...interface{}) { Get(CategoryEngine).Info(format, args...) }

// EngineDebug logs to the engine category at debug level.
func EngineDebug(format string, args ...interface{}) { Get(CategoryEngine).Debug(format, args...) }

// Backend logs to the backend category at info level.
func Backend(format string, args ...interface{}) { Get(CategoryBackend).Info(format, args...) }

// Store logs to the store category at info level.
func Store(format string, args ...interface{}) { Get(CategoryStore).Info(format, args...) }
