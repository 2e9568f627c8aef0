// Package logging provides categorized structured logging for ariadne.
// Each subsystem logs through a named zap logger; level and format are
// controlled by ARIADNE_LOG_LEVEL and ARIADNE_LOG_FORMAT.
package logging

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category names one logging subsystem. Logger names show up as the
// "logger" field so external collectors can route per category.
type Category string

const (
	CategoryStore       Category = "store"
	CategoryVector      Category = "vector"
	CategoryDualWrite   Category = "dualwrite"
	CategoryRebuild     Category = "rebuild"
	CategoryJobs        Category = "jobs"
	CategoryTracker     Category = "tracker"
	CategorySummarizer  Category = "summarizer"
	CategoryIncremental Category = "incremental"
	CategoryImpact      Category = "impact"
	CategoryTrace       Category = "trace"
	CategoryRules       Category = "rules"
	CategoryIngestor    Category = "ingestor"
	CategoryServer      Category = "server"
	CategoryWatch       Category = "watch"
	CategoryEmbedding   Category = "embedding"
	CategoryLLM         Category = "llm"
)

var (
	mu      sync.RWMutex
	root    *zap.Logger
	loggers = map[Category]*zap.SugaredLogger{}
)

// Init configures the process-wide logger. level is one of
// debug/info/warn/error; format is json or text. Safe to call more than
// once; later calls replace the root logger.
func Init(level, format string) error {
	lvl := zapcore.InfoLevel
	if level != "" {
		if err := lvl.Set(strings.ToLower(level)); err != nil {
			return err
		}
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if strings.EqualFold(format, "text") {
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	l, err := cfg.Build(zap.AddCallerSkip(0))
	if err != nil {
		return err
	}

	mu.Lock()
	defer mu.Unlock()
	root = l
	loggers = map[Category]*zap.SugaredLogger{}
	return nil
}

// Get returns the sugared logger for a category, creating it on first use.
// Before Init is called a no-op logger is returned so library code never
// panics in tests.
func Get(cat Category) *zap.SugaredLogger {
	mu.RLock()
	if l, ok := loggers[cat]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[cat]; ok {
		return l
	}
	base := root
	if base == nil {
		base = zap.NewNop()
	}
	l := base.Named(string(cat)).Sugar()
	loggers[cat] = l
	return l
}

// Sync flushes buffered log entries. Called on shutdown.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	if root != nil {
		_ = root.Sync()
	}
}

// Timer measures one operation and logs it on Stop when it was slow.
type Timer struct {
	cat   Category
	op    string
	start time.Time
}

// slowThreshold is the duration past which an operation is logged at warn.
const slowThreshold = 500 * time.Millisecond

// StartTimer begins timing an operation within a category.
func StartTimer(cat Category, op string) *Timer {
	return &Timer{cat: cat, op: op, start: time.Now()}
}

// Stop ends the timer. Slow operations are warned about, everything else is
// visible at debug level.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	l := Get(t.cat)
	if elapsed >= slowThreshold {
		l.Warnw("slow operation", "op", t.op, "elapsed", elapsed)
	} else {
		l.Debugw("operation complete", "op", t.op, "elapsed", elapsed)
	}
	return elapsed
}
