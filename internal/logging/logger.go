// Package logging provides categorized logging for insightminer, backed by
// zap. Each subsystem logs through its own named category so a run's output
// can be filtered down to the layer under investigation (batch retries,
// validator verdicts, orchestrator scheduling, ...).
//
// Before Initialize is called every logger is a no-op, which keeps library
// consumers quiet by default.
package logging

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/subsystem.
type Category string

const (
	CategoryBoot         Category = "boot"         // Startup, config resolution
	CategoryAPI          Category = "api"          // Generator calls, retries, rate limits
	CategoryBatch        Category = "batch"        // Bounded batch runner
	CategoryPipeline     Category = "pipeline"     // Per-task stage progression
	CategoryValidate     Category = "validate"     // Verbatim excerpt validation
	CategoryOrchestrator Category = "orchestrator" // Fan-out scheduling, aggregation
	CategoryIngest       Category = "ingest"       // Input loading, column detection
	CategoryStore        Category = "store"        // Run-history persistence
	CategoryReport       Category = "report"       // Report rendering
)

// Config controls logger construction. Zero value means everything enabled
// at info level.
type Config struct {
	Level      string          // debug, info, warn, error (default info)
	JSONFormat bool            // structured JSON instead of console encoding
	Categories map[string]bool // per-category enablement; unlisted categories stay on
}

// Logger wraps a zap sugared logger for one category with printf-style
// methods, matching how call sites across the codebase log.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
	enabled  bool
}

var (
	mu          sync.RWMutex
	root        *zap.Logger
	cfg         Config
	initialized bool
	loggers     = make(map[Category]*Logger)
)

// Initialize builds the zap backend. Safe to call once at process start;
// subsequent calls replace the backend (used by tests).
func Initialize(c Config) error {
	level, err := parseLevel(c.Level)
	if err != nil {
		return err
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.LowercaseLevelEncoder

	var encoder zapcore.Encoder
	if c.JSONFormat {
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.ConsoleSeparator = "  "
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(os.Stderr)), level)

	mu.Lock()
	defer mu.Unlock()
	root = zap.New(core)
	cfg = c
	initialized = true
	loggers = make(map[Category]*Logger)
	return nil
}

// InitializeNop installs a no-op backend. Useful for tests that want the
// logging package initialized but silent.
func InitializeNop() {
	mu.Lock()
	defer mu.Unlock()
	root = zap.NewNop()
	cfg = Config{}
	initialized = true
	loggers = make(map[Category]*Logger)
}

// Get returns the logger for a category, creating it on first use.
func Get(category Category) *Logger {
	mu.RLock()
	if l, ok := loggers[category]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}
	l := &Logger{
		category: category,
		enabled:  initialized && categoryEnabled(category),
	}
	if l.enabled {
		l.sugar = root.Named(string(category)).Sugar()
	}
	loggers[category] = l
	return l
}

func categoryEnabled(category Category) bool {
	if len(cfg.Categories) == 0 {
		return true
	}
	enabled, listed := cfg.Categories[string(category)]
	if !listed {
		return true
	}
	return enabled
}

func parseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
}

// Debug logs at debug level with printf formatting.
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.enabled {
		l.sugar.Debugf(format, args...)
	}
}

// Info logs at info level with printf formatting.
func (l *Logger) Info(format string, args ...interface{}) {
	if l.enabled {
		l.sugar.Infof(format, args...)
	}
}

// Warn logs at warn level with printf formatting.
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.enabled {
		l.sugar.Warnf(format, args...)
	}
}

// Error logs at error level with printf formatting.
func (l *Logger) Error(format string, args ...interface{}) {
	if l.enabled {
		l.sugar.Errorf(format, args...)
	}
}

// Convenience helpers for the chattiest categories.

// API logs generator-call activity at info level.
func API(format string, args ...interface{}) { Get(CategoryAPI).Info(format, args...) }

// APIDebug logs generator-call activity at debug level.
func APIDebug(format string, args ...interface{}) { Get(CategoryAPI).Debug(format, args...) }

// Batch logs batch-runner activity at info level.
func Batch(format string, args ...interface{}) { Get(CategoryBatch).Info(format, args...) }

// BatchDebug logs batch-runner activity at debug level.
func BatchDebug(format string, args ...interface{}) { Get(CategoryBatch).Debug(format, args...) }

// Pipeline logs stage progression at info level.
func Pipeline(format string, args ...interface{}) { Get(CategoryPipeline).Info(format, args...) }

// PipelineDebug logs stage progression at debug level.
func PipelineDebug(format string, args ...interface{}) { Get(CategoryPipeline).Debug(format, args...) }

// Orchestrator logs fan-out activity at info level.
func Orchestrator(format string, args ...interface{}) {
	Get(CategoryOrchestrator).Info(format, args...)
}

// OrchestratorDebug logs fan-out activity at debug level.
func OrchestratorDebug(format string, args ...interface{}) {
	Get(CategoryOrchestrator).Debug(format, args...)
}

// Validate logs validator verdicts. Verdict detail also lands on the task
// result, so the log stream stays at debug.
func Validate(format string, args ...interface{}) { Get(CategoryValidate).Debug(format, args...) }

// Ingest logs input loading and column detection at info level.
func Ingest(format string, args ...interface{}) { Get(CategoryIngest).Info(format, args...) }

// Store logs run-history persistence at debug level.
func Store(format string, args ...interface{}) { Get(CategoryStore).Debug(format, args...) }

// Report logs report rendering at info level.
func Report(format string, args ...interface{}) { Get(CategoryReport).Info(format, args...) }
