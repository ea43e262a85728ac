// Package logging builds the zap loggers used by xmt.
// Every subsystem logs through a named child logger for its Category, so
// output can be filtered per subsystem. Loggers are passed explicitly; this
// package keeps no global state.
package logging

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system
type Category string

const (
	CategoryEngine    Category = "engine"    // Stage runs, buffering, flushes
	CategoryProcessor Category = "processor" // External processor lifecycle and traffic
	CategoryProfile   Category = "profile"   // Profile store reads and writes
	CategoryConfig    Category = "config"    // Configuration cascade
	CategoryWorkspace Category = "workspace" // Workspace init and item import
	CategoryCoverage  Category = "coverage"  // Coverage statistics
	CategoryJournal   Category = "journal"   // Run history database
)

// Options controls logger construction.
type Options struct {
	// Verbosity is the number of -v flags given on the command line.
	Verbosity int

	// JSON selects the production JSON encoder instead of the console encoder.
	JSON bool

	// OutputPaths defaults to stderr.
	OutputPaths []string

	// Categories disables individual categories when mapped to false.
	// Categories absent from the map are enabled.
	Categories map[string]bool
}

// LevelForVerbosity maps a -v count to a level: no flag shows warnings,
// -v adds info and -vv adds debug output.
func LevelForVerbosity(v int) zapcore.Level {
	switch {
	case v <= 0:
		return zapcore.WarnLevel
	case v == 1:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}

// New builds a root logger from opts.
func New(opts Options) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if !opts.JSON {
		cfg.Encoding = "console"
		cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(LevelForVerbosity(opts.Verbosity))
	cfg.Sampling = nil
	cfg.DisableStacktrace = opts.Verbosity < 2
	cfg.OutputPaths = []string{"stderr"}
	if len(opts.OutputPaths) > 0 {
		cfg.OutputPaths = opts.OutputPaths
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	if len(opts.Categories) > 0 {
		logger = logger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
			return &categoryFilter{Core: core, disabled: disabledSet(opts.Categories)}
		}))
	}
	return logger, nil
}

// For returns the child logger for a category. A nil parent yields a no-op logger.
func For(parent *zap.Logger, category Category) *zap.Logger {
	if parent == nil {
		parent = zap.NewNop()
	}
	return parent.Named(string(category))
}

func disabledSet(categories map[string]bool) map[string]struct{} {
	out := make(map[string]struct{})
	for name, enabled := range categories {
		if !enabled {
			out[name] = struct{}{}
		}
	}
	return out
}

// categoryFilter drops entries whose logger name starts with a disabled category.
type categoryFilter struct {
	zapcore.Core
	disabled map[string]struct{}
}

func (c *categoryFilter) With(fields []zapcore.Field) zapcore.Core {
	return &categoryFilter{Core: c.Core.With(fields), disabled: c.disabled}
}

func (c *categoryFilter) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if _, off := c.disabled[rootName(ent.LoggerName)]; off {
		return ce
	}
	return c.Core.Check(ent, ce)
}

func rootName(name string) string {
	for i := 0; i < len(name); i++ {
		if name[i] == '.' {
			return name[:i]
		}
	}
	return name
}

// Timer measures an operation and logs its duration when stopped.
type Timer struct {
	logger *zap.Logger
	op     string
	start  time.Time
}

// StartTimer begins timing an operation
func StartTimer(logger *zap.Logger, operation string) *Timer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Timer{logger: logger, op: operation, start: time.Now()}
}

// Stop ends the timer and logs the duration
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	t.logger.Debug(t.op+" completed", zap.Duration("elapsed", elapsed))
	return elapsed
}

// StopWithInfo ends the timer and logs at info level
func (t *Timer) StopWithInfo() time.Duration {
	elapsed := time.Since(t.start)
	t.logger.Info(t.op+" completed", zap.Duration("elapsed", elapsed))
	return elapsed
}

// StopWithThreshold logs warning if duration exceeds threshold
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		t.logger.Warn(t.op+" exceeded threshold",
			zap.Duration("elapsed", elapsed), zap.Duration("threshold", threshold))
	} else {
		t.logger.Debug(t.op+" completed", zap.Duration("elapsed", elapsed))
	}
	return elapsed
}
